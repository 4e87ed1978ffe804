// Package http Webhook 服务的 HTTP 接口
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stockforge/stocksim/internal/webhook/application"
	"github.com/stockforge/stocksim/pkg/response"
)

// WebhookHandler 处理 Webhook 服务的 HTTP 请求
type WebhookHandler struct {
	svc *application.WebhookService
}

func NewWebhookHandler(svc *application.WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

func (h *WebhookHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1")
	{
		api.POST("/webhooks", h.Create)
		api.GET("/webhooks", h.List)
		api.GET("/webhooks/:id", h.Get)
		api.PATCH("/webhooks/:id", h.Update)
		api.DELETE("/webhooks/:id", h.Delete)
		api.GET("/webhooks/:id/deliveries", h.Deliveries)
		api.POST("/webhooks/test", h.TestEndpoint)
		api.POST("/events", h.IngestEvent)
		api.GET("/events/types", h.EventTypes)
	}
}

type createRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// Create 创建订阅
func (h *WebhookHandler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	w, err := h.svc.Create(c.Request.Context(), req.URL, req.Events)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, w)
}

// List 全部订阅
func (h *WebhookHandler) List(c *gin.Context) {
	hooks, err := h.svc.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, hooks)
}

// Get 查询订阅
func (h *WebhookHandler) Get(c *gin.Context) {
	w, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, w)
}

// Update 局部更新订阅
func (h *WebhookHandler) Update(c *gin.Context) {
	var req application.UpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	w, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, w)
}

// Delete 删除订阅
func (h *WebhookHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

// Deliveries 投递日志
func (h *WebhookHandler) Deliveries(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid limit")
			return
		}
		limit = n
	}
	logs, err := h.svc.Deliveries(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, logs)
}

type testRequest struct {
	URL string `json:"url" binding:"required"`
}

// TestEndpoint 对目标地址投递一条测试事件
func (h *WebhookHandler) TestEndpoint(c *gin.Context) {
	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	status, err := h.svc.TestEndpoint(c.Request.Context(), req.URL)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"status_code": status})
}

type ingestRequest struct {
	EventType string         `json:"event_type" binding:"required"`
	EventData map[string]any `json:"event_data"`
}

// IngestEvent 注入外部事件
func (h *WebhookHandler) IngestEvent(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	if err := h.svc.Ingest(c.Request.Context(), req.EventType, req.EventData); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"accepted": true})
}

// EventTypes 事件类型目录
func (h *WebhookHandler) EventTypes(c *gin.Context) {
	response.Success(c, h.svc.EventTypes())
}
