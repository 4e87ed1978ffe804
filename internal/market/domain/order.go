// Package domain 撮合引擎与结算协调器的领域模型
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid 判断方向枚举是否合法
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Status 订单状态
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
)

// Terminal 终态订单不再进入订单簿
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// Order 订单聚合根。LimitPrice 为零表示市价单。
// ArrivalSeq 由撮合 Worker 按到达顺序赋值，用于两个限价单之间判定攻击方。
type Order struct {
	gorm.Model
	OrderID    string          `gorm:"column:order_id;type:varchar(64);uniqueIndex;not null" json:"order_id"`
	InvestorID string          `gorm:"column:investor_id;type:varchar(64);index:idx_orders_investor_status,priority:1;not null" json:"investor_id"`
	Symbol     string          `gorm:"column:symbol;type:varchar(16);index;not null" json:"symbol"`
	Side       Side            `gorm:"column:side;type:varchar(4);not null" json:"side"`
	Qty        int64           `gorm:"column:qty;not null" json:"qty"`
	LimitPrice decimal.Decimal `gorm:"column:limit_price;type:decimal(18,4);not null" json:"limit_price"`
	Filled     int64           `gorm:"column:filled;not null;default:0" json:"filled"`
	Status     Status          `gorm:"column:status;type:varchar(20);index:idx_orders_investor_status,priority:2;not null" json:"status"`
	ArrivalSeq uint64          `gorm:"column:arrival_seq;not null;default:0" json:"arrival_seq"`
}

func (Order) TableName() string { return "orders" }

// IsMarket 市价单判定
func (o *Order) IsMarket() bool { return o.LimitPrice.IsZero() }

// Remaining 未成交数量
func (o *Order) Remaining() int64 { return o.Qty - o.Filled }

// ApplyFill 累计成交并推进状态
func (o *Order) ApplyFill(qty int64) {
	o.Filled += qty
	if o.Filled >= o.Qty {
		o.Filled = o.Qty
		o.Status = StatusFilled
	} else if o.Filled > 0 {
		o.Status = StatusPartiallyFilled
	}
}

// SettlementStatus 执行记录的结算状态
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "PENDING"
	SettlementSettled SettlementStatus = "SETTLED"
	SettlementFailed  SettlementStatus = "FAILED"
)

// Execution 撮合产生的成交记录，创建后不可变；
// 仅 settlement_status 随结算推进而更新。
type Execution struct {
	gorm.Model
	ExecutionID      string           `gorm:"column:execution_id;type:varchar(64);uniqueIndex;not null" json:"execution_id"`
	BuyOrderID       string           `gorm:"column:buy_order_id;type:varchar(64);index;not null" json:"buy_order_id"`
	SellOrderID      string           `gorm:"column:sell_order_id;type:varchar(64);index;not null" json:"sell_order_id"`
	Symbol           string           `gorm:"column:symbol;type:varchar(16);index;not null" json:"symbol"`
	Qty              int64            `gorm:"column:qty;not null" json:"qty"`
	Price            decimal.Decimal  `gorm:"column:price;type:decimal(18,4);not null" json:"price"`
	Buyer            string           `gorm:"column:buyer;type:varchar(64);not null" json:"buyer"`
	Seller           string           `gorm:"column:seller;type:varchar(64);not null" json:"seller"`
	Ts               time.Time        `gorm:"column:ts;not null" json:"ts"`
	BuyerAggressor   bool             `gorm:"column:buyer_aggressor;not null" json:"buyer_aggressor"`
	SettlementStatus SettlementStatus `gorm:"column:settlement_status;type:varchar(12);not null;default:'PENDING'" json:"settlement_status"`
}

func (Execution) TableName() string { return "executions" }

// MarketState 市场状态
type MarketState string

const (
	MarketOpen   MarketState = "OPEN"
	MarketClosed MarketState = "CLOSED"
	MarketPaused MarketState = "PAUSED"
)

// Valid 判断市场状态枚举是否合法
func (s MarketState) Valid() bool {
	return s == MarketOpen || s == MarketClosed || s == MarketPaused
}
