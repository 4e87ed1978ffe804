// Package http 价格引擎的 HTTP/WebSocket 接口
package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/stockforge/stocksim/internal/pricing/application"
	"github.com/stockforge/stocksim/internal/pricing/domain"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// PricingHandler 处理价格引擎的 HTTP 请求
type PricingHandler struct {
	svc *application.PricingService
	bus *eventbus.Bus
}

func NewPricingHandler(svc *application.PricingService, bus *eventbus.Bus) *PricingHandler {
	return &PricingHandler{svc: svc, bus: bus}
}

func (h *PricingHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/pricing")
	{
		api.GET("/prices", h.GetPrices)
		api.GET("/price/:symbol", h.GetPrice)
		api.PUT("/price/:symbol", h.UpdatePrice)
		api.GET("/history/:symbol", h.GetPriceHistory)
		api.POST("/apply", h.Apply)
		api.POST("/stocks", h.InitializeStock)
		api.GET("/stream", h.StreamPrices)
	}
}

// GetPrice 获取单个标的现价
func (h *PricingHandler) GetPrice(c *gin.Context) {
	stock, err := h.svc.GetPrice(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stock)
}

// GetPrices 获取全部标的现价
func (h *PricingHandler) GetPrices(c *gin.Context) {
	stocks, err := h.svc.GetPrices(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stocks)
}

// GetPriceHistory 查询价格历史，支持 start/end（RFC3339 或毫秒时间戳）与 limit
func (h *PricingHandler) GetPriceHistory(c *gin.Context) {
	q := domain.HistoryQuery{Symbol: c.Param("symbol")}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid limit")
			return
		}
		q.Limit = limit
	}
	var ok bool
	if q.Start, ok = parseTime(c.Query("start")); !ok {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid start")
		return
	}
	if q.End, ok = parseTime(c.Query("end")); !ok {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid end")
		return
	}

	points, err := h.svc.GetPriceHistory(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, points)
}

type applyRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Qty    int64  `json:"qty" binding:"required"`
	IsBuy  bool   `json:"is_buy"`
	Impact float64 `json:"impact"`
}

// Apply 按成交流调价（结算协调器调用）
func (h *PricingHandler) Apply(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	stock, err := h.svc.Apply(c.Request.Context(), req.Symbol, req.Qty, req.IsBuy, req.Impact)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stock)
}

type updatePriceRequest struct {
	Price decimal.Decimal `json:"price" binding:"required"`
}

// UpdatePrice 管理员直接设价
func (h *PricingHandler) UpdatePrice(c *gin.Context) {
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	stock, err := h.svc.UpdatePrice(c.Request.Context(), c.Param("symbol"), req.Price)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stock)
}

type initStockRequest struct {
	Symbol string          `json:"symbol" binding:"required"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price" binding:"required"`
}

// InitializeStock 登记标的
func (h *PricingHandler) InitializeStock(c *gin.Context) {
	var req initStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	stock, err := h.svc.InitializeStock(c.Request.Context(), req.Symbol, req.Name, req.Price)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stock)
}

// StreamPrices 通过 WebSocket 推送价格事件，?symbols=AAPL,GOOG 过滤标的
func (h *PricingHandler) StreamPrices(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(eventbus.Filter{
		Kinds:   []eventbus.Kind{eventbus.KindPriceUpdate, eventbus.KindPriceAlert},
		Symbols: splitSymbols(c.Query("symbols")),
	})
	defer h.bus.Unsubscribe(sub)

	StreamEvents(conn, sub)
}

// StreamEvents 将订阅事件写入 WebSocket 连接，客户端断开或队列溢出时返回
func StreamEvents(conn *websocket.Conn, sub *eventbus.Subscription) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// 只为感知断连而读
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
			if e.EventKind() == eventbus.KindOverflow {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber overflow"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}

func splitSymbols(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			symbols = append(symbols, p)
		}
	}
	return symbols
}

func parseTime(raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.UnixMilli(ms)
		return &t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, true
	}
	return nil, false
}
