// Package http 分析服务的 HTTP 接口
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stockforge/stocksim/internal/analytics/application"
	"github.com/stockforge/stocksim/pkg/response"
)

// AnalyticsHandler 处理分析服务的 HTTP 请求
type AnalyticsHandler struct {
	svc *application.AnalyticsService
}

func NewAnalyticsHandler(svc *application.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

func (h *AnalyticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/analytics")
	{
		api.POST("/trades", h.RecordTrade)
		api.GET("/top-traded", h.TopTraded)
		api.GET("/most-volatile", h.MostVolatile)
		api.GET("/market-stats", h.MarketStats)
		api.GET("/investors/:id/performance", h.InvestorPerformance)
		api.GET("/predict/:symbol", h.PredictPrice)
		api.GET("/volume/:symbol", h.TradingVolume)
	}
}

// RecordTrade 记录一笔成交（结算协调器调用）
func (h *AnalyticsHandler) RecordTrade(c *gin.Context) {
	var req application.RecordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	if err := h.svc.Record(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"recorded": true})
}

// TopTraded 成交量排名，limit 与 window_min 可选
func (h *AnalyticsHandler) TopTraded(c *gin.Context) {
	limit, window, ok := rankingParams(c)
	if !ok {
		return
	}
	ranked, err := h.svc.TopTraded(c.Request.Context(), limit, window)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ranked)
}

// MostVolatile 波动率排名，limit 与 window_min 可选
func (h *AnalyticsHandler) MostVolatile(c *gin.Context) {
	limit, window, ok := rankingParams(c)
	if !ok {
		return
	}
	entries, err := h.svc.MostVolatile(c.Request.Context(), limit, window)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, entries)
}

// MarketStats 市场总览
func (h *AnalyticsHandler) MarketStats(c *gin.Context) {
	stats, err := h.svc.MarketStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// InvestorPerformance 投资者绩效
func (h *AnalyticsHandler) InvestorPerformance(c *gin.Context) {
	perf, err := h.svc.InvestorPerformance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, perf)
}

// PredictPrice 价格预测，horizon_min 默认 60
func (h *AnalyticsHandler) PredictPrice(c *gin.Context) {
	horizon := 60
	if v := c.Query("horizon_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid horizon_min")
			return
		}
		horizon = n
	}
	pred, err := h.svc.PredictPrice(c.Request.Context(), c.Param("symbol"), horizon)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, pred)
}

// TradingVolume 区间成交量，start/end 为毫秒时间戳，interval_ms 默认一小时
func (h *AnalyticsHandler) TradingVolume(c *gin.Context) {
	var start, end time.Time
	if v := c.Query("start"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid start")
			return
		}
		start = time.UnixMilli(ms)
	}
	if v := c.Query("end"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid end")
			return
		}
		end = time.UnixMilli(ms)
	}
	interval := time.Hour
	if v := c.Query("interval_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid interval_ms")
			return
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	buckets, err := h.svc.TradingVolume(c.Request.Context(), c.Param("symbol"), start, end, interval)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, buckets)
}

func rankingParams(c *gin.Context) (limit int, window time.Duration, ok bool) {
	limit = 10
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid limit")
			return 0, 0, false
		}
		limit = n
	}
	window = 24 * time.Hour
	if v := c.Query("window_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid window_min")
			return 0, 0, false
		}
		window = time.Duration(n) * time.Minute
	}
	return limit, window, true
}
