// Package domain 价格引擎的领域模型
package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MinPrice 价格下限，任何调整后 current 不得低于该值
var MinPrice = decimal.NewFromFloat(0.01)

// Stock 标的聚合根。open 在每日重置前冻结，last_updated 单调不减。
type Stock struct {
	gorm.Model
	Symbol      string          `gorm:"column:symbol;type:varchar(16);uniqueIndex;not null" json:"symbol"`
	Name        string          `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Current     decimal.Decimal `gorm:"column:current;type:decimal(18,4);not null" json:"current"`
	Open        decimal.Decimal `gorm:"column:open;type:decimal(18,4);not null" json:"open"`
	High        decimal.Decimal `gorm:"column:high;type:decimal(18,4);not null" json:"high"`
	Low         decimal.Decimal `gorm:"column:low;type:decimal(18,4);not null" json:"low"`
	Volume      int64           `gorm:"column:volume;not null;default:0" json:"volume"`
	LastUpdated time.Time       `gorm:"column:last_updated;not null" json:"last_updated"`
}

func (Stock) TableName() string { return "stocks" }

// ChangePct 相对开盘价的涨跌幅（百分比），开盘价为零时返回零
func (s *Stock) ChangePct() decimal.Decimal {
	if s.Open.IsZero() {
		return decimal.Zero
	}
	return s.Current.Sub(s.Open).Div(s.Open).Mul(decimal.NewFromInt(100)).Round(4)
}

// SetPrice 更新现价并维护 high/low 与时间戳
func (s *Stock) SetPrice(next decimal.Decimal, now time.Time) {
	if next.LessThan(MinPrice) {
		next = MinPrice
	}
	s.Current = next
	if next.GreaterThan(s.High) {
		s.High = next
	}
	if next.LessThan(s.Low) {
		s.Low = next
	}
	if now.After(s.LastUpdated) {
		s.LastUpdated = now
	}
}

// ResetDaily 开市重置：open/high/low 对齐现价
func (s *Stock) ResetDaily(now time.Time) {
	s.Open = s.Current
	s.High = s.Current
	s.Low = s.Current
	if now.After(s.LastUpdated) {
		s.LastUpdated = now
	}
}

// PricePoint 价格历史记录，按 (symbol, timestamp) 建索引
type PricePoint struct {
	gorm.Model
	Symbol    string          `gorm:"column:symbol;type:varchar(16);index:idx_price_history_symbol_ts,priority:1;not null" json:"symbol"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(18,4);not null" json:"price"`
	Timestamp time.Time       `gorm:"column:timestamp;index:idx_price_history_symbol_ts,priority:2;not null" json:"timestamp"`
}

func (PricePoint) TableName() string { return "price_history" }

// NextPrice 根据成交流计算新价：
//
//	delta = current · volatility · dir · ln(1 + qty/100) · (1 + (r − 0.5) · 0.002) · impact
//
// r 为 [0,1) 的随机数，由调用方注入以便测试。结果不低于 MinPrice。
func NextPrice(current decimal.Decimal, volatility float64, qty int64, isBuy bool, impact float64, r float64) decimal.Decimal {
	dir := 1.0
	if !isBuy {
		dir = -1.0
	}
	cur := current.InexactFloat64()
	delta := cur * volatility * dir * math.Log(1+float64(qty)/100) * (1 + (r-0.5)*0.002) * impact
	next := decimal.NewFromFloat(cur + delta).Round(4)
	if next.LessThan(MinPrice) {
		return MinPrice
	}
	return next
}
