// Package domain 投资者/持仓/流水的领域模型
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TxType 交易流水类型
const (
	TxTypeBuy     = "BUY"
	TxTypeSell    = "SELL"
	TxTypeDeposit = "DEPOSIT"
)

// Investor 投资者聚合根，email 全局唯一，balance 不得为负
type Investor struct {
	gorm.Model
	InvestorID string          `gorm:"column:investor_id;type:varchar(64);uniqueIndex;not null" json:"investor_id"`
	Name       string          `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Email      string          `gorm:"column:email;type:varchar(256);uniqueIndex;not null" json:"email"`
	Balance    decimal.Decimal `gorm:"column:balance;type:decimal(20,4);not null" json:"balance"`
}

func (Investor) TableName() string { return "investors" }

// Holding (investor, symbol) 持仓，qty 归零时删除
type Holding struct {
	gorm.Model
	InvestorID string          `gorm:"column:investor_id;type:varchar(64);index:idx_portfolio_investor;uniqueIndex:idx_portfolio_investor_symbol,priority:1;not null" json:"investor_id"`
	Symbol     string          `gorm:"column:symbol;type:varchar(16);uniqueIndex:idx_portfolio_investor_symbol,priority:2;not null" json:"symbol"`
	Qty        int64           `gorm:"column:qty;not null" json:"qty"`
	AvgPrice   decimal.Decimal `gorm:"column:avg_price;type:decimal(18,4);not null" json:"avg_price"`
}

func (Holding) TableName() string { return "portfolio" }

// ApplyBuy 按加权平均成本价合并买入
func (h *Holding) ApplyBuy(qty int64, price decimal.Decimal) {
	oldQty := decimal.NewFromInt(h.Qty)
	addQty := decimal.NewFromInt(qty)
	total := oldQty.Mul(h.AvgPrice).Add(addQty.Mul(price))
	h.Qty += qty
	h.AvgPrice = total.Div(decimal.NewFromInt(h.Qty)).Round(4)
}

// ApplySell 减仓，成本价不变；返回剩余数量
func (h *Holding) ApplySell(qty int64) int64 {
	h.Qty -= qty
	return h.Qty
}

// Transaction 交易流水，追加写
type Transaction struct {
	gorm.Model
	TxID       string          `gorm:"column:tx_id;type:varchar(96);uniqueIndex;not null" json:"tx_id"`
	InvestorID string          `gorm:"column:investor_id;type:varchar(64);index:idx_transactions_investor_ts,priority:1;not null" json:"investor_id"`
	Symbol     string          `gorm:"column:symbol;type:varchar(16)" json:"symbol"`
	Type       string          `gorm:"column:type;type:varchar(12);not null" json:"type"`
	Qty        int64           `gorm:"column:qty;not null" json:"qty"`
	Price      decimal.Decimal `gorm:"column:price;type:decimal(18,4);not null" json:"price"`
	Total      decimal.Decimal `gorm:"column:total;type:decimal(20,4);not null" json:"total"`
	Timestamp  time.Time       `gorm:"column:timestamp;index:idx_transactions_investor_ts,priority:2;not null" json:"timestamp"`
}

func (Transaction) TableName() string { return "transactions" }

// PortfolioEntry 对外返回的持仓视图，带市值与浮动盈亏
type PortfolioEntry struct {
	Symbol       string          `json:"symbol"`
	Qty          int64           `json:"qty"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	CurrentValue decimal.Decimal `json:"current_value"`
	ProfitLoss   decimal.Decimal `json:"profit_loss"`
}
