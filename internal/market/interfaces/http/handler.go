// Package http 市场服务的 HTTP/WebSocket 接口
package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/stockforge/stocksim/internal/market/application"
	"github.com/stockforge/stocksim/internal/market/domain"
	pricinghttp "github.com/stockforge/stocksim/internal/pricing/interfaces/http"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// MarketHandler 处理市场服务的 HTTP 请求
type MarketHandler struct {
	svc *application.MarketService
	bus *eventbus.Bus
}

func NewMarketHandler(svc *application.MarketService, bus *eventbus.Bus) *MarketHandler {
	return &MarketHandler{svc: svc, bus: bus}
}

func (h *MarketHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/market")
	{
		api.POST("/orders", h.PlaceOrder)
		api.GET("/orders/:id", h.GetOrderStatus)
		api.DELETE("/orders/:id", h.CancelOrder)
		api.GET("/orderbook/:symbol", h.GetOrderBook)
		api.GET("/state", h.GetState)
		api.PUT("/state", h.SetState)
		api.GET("/stream", h.Stream)
	}
}

// PlaceOrder 下单
func (h *MarketHandler) PlaceOrder(c *gin.Context) {
	var req application.PlaceOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	o, err := h.svc.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, o)
}

// GetOrderStatus 查询订单状态与成交明细
func (h *MarketHandler) GetOrderStatus(c *gin.Context) {
	view, err := h.svc.GetOrderStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// CancelOrder 撤单，investor_id 由查询参数携带
func (h *MarketHandler) CancelOrder(c *gin.Context) {
	investorID := c.Query("investor_id")
	if investorID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "investor_id is required")
		return
	}
	o, err := h.svc.CancelOrder(c.Request.Context(), c.Param("id"), investorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, o)
}

// GetOrderBook 深度快照，levels 限制每侧档位数
func (h *MarketHandler) GetOrderBook(c *gin.Context) {
	maxLevels := 0
	if v := c.Query("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid levels")
			return
		}
		maxLevels = n
	}
	snap, err := h.svc.GetOrderBook(c.Request.Context(), c.Param("symbol"), maxLevels)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snap)
}

// GetState 当前市场状态
func (h *MarketHandler) GetState(c *gin.Context) {
	response.Success(c, gin.H{"state": h.svc.MarketState()})
}

type setStateRequest struct {
	State string `json:"state" binding:"required"`
}

// SetState 切换市场状态（运营接口）
func (h *MarketHandler) SetState(c *gin.Context) {
	var req setStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	if err := h.svc.SetMarketState(c.Request.Context(), domain.MarketState(req.State)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"state": h.svc.MarketState()})
}

// Stream 推送市场事件流。kinds/symbols 查询参数为逗号分隔的过滤条件，
// 缺省推送订单与结算相关的全部事件。
func (h *MarketHandler) Stream(c *gin.Context) {
	kinds := []eventbus.Kind{
		eventbus.KindOrderPlaced,
		eventbus.KindOrderExecuted,
		eventbus.KindOrderCanceled,
		eventbus.KindSettlementFailed,
	}
	if v := c.Query("kinds"); v != "" {
		kinds = kinds[:0]
		for _, raw := range strings.Split(v, ",") {
			k := eventbus.Kind(strings.ToUpper(strings.TrimSpace(raw)))
			if !eventbus.ValidKind(k) {
				response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "unknown event kind "+string(raw))
				return
			}
			kinds = append(kinds, k)
		}
	}
	var symbols []string
	if v := c.Query("symbols"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			if s := strings.ToUpper(strings.TrimSpace(raw)); s != "" {
				symbols = append(symbols, s)
			}
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(eventbus.Filter{Kinds: kinds, Symbols: symbols})
	defer h.bus.Unsubscribe(sub)

	pricinghttp.StreamEvents(conn, sub)
}
