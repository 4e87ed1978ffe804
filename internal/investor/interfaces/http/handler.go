// Package http 投资者服务的 HTTP 接口
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/stockforge/stocksim/internal/investor/application"
	"github.com/stockforge/stocksim/internal/investor/domain"
	"github.com/stockforge/stocksim/pkg/response"
)

// InvestorHandler 处理投资者服务的 HTTP 请求
type InvestorHandler struct {
	svc *application.InvestorService
}

func NewInvestorHandler(svc *application.InvestorService) *InvestorHandler {
	return &InvestorHandler{svc: svc}
}

func (h *InvestorHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/investors")
	{
		api.POST("", h.Register)
		api.GET("/:id", h.Get)
		api.POST("/:id/balance", h.AdjustBalance)
		api.POST("/:id/portfolio", h.GetPortfolio)
		api.GET("/:id/transactions", h.Transactions)
		api.POST("/validate", h.ValidateOrder)
		api.POST("/settlements", h.SettleExecution)
		api.POST("/trades", h.ApplyTrade)
	}
}

type registerRequest struct {
	Name           string          `json:"name" binding:"required"`
	Email          string          `json:"email" binding:"required"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// Register 开户
func (h *InvestorHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	inv, err := h.svc.Register(c.Request.Context(), req.Name, req.Email, req.InitialBalance)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, inv)
}

// Get 查询投资者
func (h *InvestorHandler) Get(c *gin.Context) {
	inv, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, inv)
}

type adjustBalanceRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Reason string          `json:"reason"`
}

// AdjustBalance 入金/出金
func (h *InvestorHandler) AdjustBalance(c *gin.Context) {
	var req adjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	inv, err := h.svc.AdjustBalance(c.Request.Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, inv)
}

type portfolioRequest struct {
	// symbol -> 现价，由调用方（通常为网关）提供
	Prices map[string]decimal.Decimal `json:"prices"`
}

// GetPortfolio 查询持仓视图。POST 以便携带现价快照。
func (h *InvestorHandler) GetPortfolio(c *gin.Context) {
	var req portfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	entries, err := h.svc.GetPortfolio(c.Request.Context(), c.Param("id"), req.Prices)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, entries)
}

type validateOrderRequest struct {
	InvestorID string          `json:"investor_id" binding:"required"`
	Symbol     string          `json:"symbol" binding:"required"`
	Side       string          `json:"side" binding:"required"`
	Qty        int64           `json:"qty" binding:"required"`
	Price      decimal.Decimal `json:"price"`
}

// ValidateOrder 订单预检
func (h *InvestorHandler) ValidateOrder(c *gin.Context) {
	var req validateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	if err := h.svc.ValidateOrder(c.Request.Context(), req.InvestorID, req.Symbol, req.Side, req.Qty, req.Price); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"valid": true})
}

type tradeLegRequest struct {
	InvestorID string          `json:"investor_id" binding:"required"`
	Symbol     string          `json:"symbol" binding:"required"`
	SignedQty  int64           `json:"signed_qty" binding:"required"`
	Price      decimal.Decimal `json:"price"`
}

type settleRequest struct {
	ExecutionID string          `json:"execution_id" binding:"required"`
	Buy         tradeLegRequest `json:"buy" binding:"required"`
	Sell        tradeLegRequest `json:"sell" binding:"required"`
}

// SettleExecution 双腿结算（结算协调器调用）
func (h *InvestorHandler) SettleExecution(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	err := h.svc.SettleExecution(c.Request.Context(), req.ExecutionID,
		application.TradeLeg{InvestorID: req.Buy.InvestorID, Symbol: req.Buy.Symbol, SignedQty: req.Buy.SignedQty, Price: req.Buy.Price},
		application.TradeLeg{InvestorID: req.Sell.InvestorID, Symbol: req.Sell.Symbol, SignedQty: req.Sell.SignedQty, Price: req.Sell.Price},
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"settled": true})
}

type applyTradeRequest struct {
	tradeLegRequest
	TxID string `json:"tx_id" binding:"required"`
}

// ApplyTrade 单腿落账（入金建仓、管理工具等场景）
func (h *InvestorHandler) ApplyTrade(c *gin.Context) {
	var req applyTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	if err := h.svc.ApplyTrade(c.Request.Context(), req.InvestorID, req.Symbol, req.SignedQty, req.Price, req.TxID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"applied": true})
}

// Transactions 查询流水，支持 limit/start/end
func (h *InvestorHandler) Transactions(c *gin.Context) {
	q := domain.TxQuery{InvestorID: c.Param("id")}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid limit")
			return
		}
		q.Limit = limit
	}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid start")
			return
		}
		q.Start = &t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "VALIDATION", "invalid end")
			return
		}
		q.End = &t
	}

	records, err := h.svc.Transactions(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, records)
}
