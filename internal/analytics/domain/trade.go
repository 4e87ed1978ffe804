// Package domain 分析服务的领域模型：只追加的成交镜像与各类统计视图
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trade 成交在某一方视角下的镜像记录，只追加、从不更新
type Trade struct {
	gorm.Model
	ExecutionID string          `gorm:"column:execution_id;type:varchar(64);index;not null" json:"execution_id"`
	Symbol      string          `gorm:"column:symbol;type:varchar(16);index:idx_analytics_trades_symbol_ts,priority:1;not null" json:"symbol"`
	Investor    string          `gorm:"column:investor;type:varchar(64);index:idx_analytics_trades_investor_ts,priority:1;not null" json:"investor"`
	Side        string          `gorm:"column:side;type:varchar(4);not null" json:"side"`
	Qty         int64           `gorm:"column:qty;not null" json:"qty"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(18,4);not null" json:"price"`
	Timestamp   time.Time       `gorm:"column:timestamp;index:idx_analytics_trades_symbol_ts,priority:2;index:idx_analytics_trades_investor_ts,priority:2;not null" json:"timestamp"`
}

func (Trade) TableName() string { return "analytics_trades" }

// SymbolVolume 按标的聚合的成交量排名项
type SymbolVolume struct {
	Symbol string `json:"symbol"`
	Volume int64  `json:"volume"`
	Trades int64  `json:"trades"`
}

// VolatilityEntry 波动率排名项，Volatility 为 (max−min)/avg·100
type VolatilityEntry struct {
	Symbol     string          `json:"symbol"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Volatility float64         `json:"volatility"`
}

// MarketStats 市场总览（近 24 小时）
type MarketStats struct {
	Trades    int64   `json:"trades"`
	Volume    int64   `json:"volume"`
	Investors int64   `json:"investors"`
	Symbols   int64   `json:"symbols"`
	Trend     float64 `json:"trend"`
	Sentiment string  `json:"sentiment"`
}

// SymbolPerformance 投资者在单一标的上的表现
type SymbolPerformance struct {
	Symbol       string          `json:"symbol"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	PositionQty  int64           `json:"position_qty"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
}

// InvestorPerformance 投资者绩效视图
type InvestorPerformance struct {
	InvestorID    string              `json:"investor_id"`
	Symbols       []SymbolPerformance `json:"symbols"`
	RealizedPnL   decimal.Decimal     `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal     `json:"unrealized_pnl"`
	TradeCount    int                 `json:"trade_count"`
	WinRate       float64             `json:"win_rate"`
	RiskLevel     string              `json:"risk_level"`
}

// Prediction 价格预测结果
type Prediction struct {
	Symbol     string          `json:"symbol"`
	Current    decimal.Decimal `json:"current"`
	Predicted  decimal.Decimal `json:"predicted"`
	HorizonMin int             `json:"horizon_min"`
	Confidence float64         `json:"confidence"`
	Trend      string          `json:"trend"`
}

// VolumeBucket 按时间区间聚合的成交量
type VolumeBucket struct {
	Ts       time.Time       `json:"ts"`
	Volume   int64           `json:"volume"`
	Count    int64           `json:"count"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// PriceSample 供统计使用的价格采样（跨属主只读于 price_history 表）
type PriceSample struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// StockQuote 供统计使用的现价快照（跨属主只读于 stocks 表）
type StockQuote struct {
	Symbol  string
	Current decimal.Decimal
	Open    decimal.Decimal
}

// TradeQuery 成交镜像查询条件
type TradeQuery struct {
	Symbol   string
	Investor string
	Start    time.Time
	End      time.Time
	// Side 过滤单一视角，聚合量时用 BUY 侧避免双计
	Side string
}
