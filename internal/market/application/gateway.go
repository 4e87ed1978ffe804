// Package application 市场服务：撮合引擎、结算协调器与对外操作
package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TradeLeg 结算的一条腿，SignedQty 正数买入、负数卖出
type TradeLeg struct {
	InvestorID string
	Symbol     string
	SignedQty  int64
	Price      decimal.Decimal
}

// PortfolioGateway 投资者服务网关
type PortfolioGateway interface {
	// ValidateOrder 下单预检，只读
	ValidateOrder(ctx context.Context, investorID, symbol, side string, qty int64, price decimal.Decimal) error
	// SettleExecution 以 executionID 为幂等键，将买卖双腿原子落账
	SettleExecution(ctx context.Context, executionID string, buy, sell TradeLeg) error
}

// PricingGateway 价格引擎网关
type PricingGateway interface {
	// Apply 按成交流调价，impact 见价格引擎定义
	Apply(ctx context.Context, symbol string, qty int64, isBuy bool, impact float64) error
	// GetPrice 查询现价，未知标的返回 NOT_FOUND
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// TradeRecord 提交给分析服务的成交记录
type TradeRecord struct {
	ExecutionID string          `json:"execution_id"`
	Symbol      string          `json:"symbol"`
	Qty         int64           `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	Buyer       string          `json:"buyer"`
	Seller      string          `json:"seller"`
	Ts          time.Time       `json:"ts"`
}

// AnalyticsGateway 分析服务网关
type AnalyticsGateway interface {
	RecordTrade(ctx context.Context, rec TradeRecord) error
}
