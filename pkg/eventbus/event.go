// Package eventbus 提供类型化的进程内发布订阅总线：
// 每个订阅者持有有界队列，发布端永不阻塞，慢消费者溢出后被剔除。
package eventbus

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind 事件类型（封闭集合，大小写敏感）
type Kind string

const (
	KindOrderPlaced         Kind = "ORDER_PLACED"
	KindOrderExecuted       Kind = "ORDER_EXECUTED"
	KindOrderCanceled       Kind = "ORDER_CANCELED"
	KindPriceUpdate         Kind = "PRICE_UPDATE"
	KindPriceAlert          Kind = "PRICE_ALERT"
	KindBalanceUpdated      Kind = "BALANCE_UPDATED"
	KindNewTransaction      Kind = "NEW_TRANSACTION"
	KindTopStocksUpdated    Kind = "TOP_STOCKS_UPDATED"
	KindPredictionAvailable Kind = "PREDICTION_AVAILABLE"
	KindSettlementFailed    Kind = "SETTLEMENT_FAILED"

	// KindOverflow 终止事件：订阅者队列溢出被剔除前收到的最后一条
	KindOverflow Kind = "OVERFLOW"

	// KindAll 通配订阅
	KindAll Kind = "*"
)

// Kinds 可被外部订阅的事件类型全集（不含 OVERFLOW 终止事件）
func Kinds() []Kind {
	return []Kind{
		KindOrderPlaced,
		KindOrderExecuted,
		KindOrderCanceled,
		KindPriceUpdate,
		KindPriceAlert,
		KindBalanceUpdated,
		KindNewTransaction,
		KindTopStocksUpdated,
		KindPredictionAvailable,
		KindSettlementFailed,
	}
}

// ValidKind 判断是否为合法的可订阅类型（含通配）
func ValidKind(k Kind) bool {
	if k == KindAll {
		return true
	}
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Event 总线事件
type Event interface {
	EventKind() Kind
	EventSymbol() string
}

// PriceEvent 价格族事件
type PriceEvent struct {
	Kind      Kind            `json:"kind"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Ts        time.Time       `json:"ts"`
}

func (e PriceEvent) EventKind() Kind     { return e.Kind }
func (e PriceEvent) EventSymbol() string { return e.Symbol }

// MarketEvent 订单族事件
type MarketEvent struct {
	Kind     Kind            `json:"kind"`
	OrderID  string          `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Qty      int64           `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	Investor string          `json:"investor"`
	Ts       time.Time       `json:"ts"`
}

func (e MarketEvent) EventKind() Kind     { return e.Kind }
func (e MarketEvent) EventSymbol() string { return e.Symbol }

// GenericEvent 任意负载事件（webhook 外部注入等场景）
type GenericEvent struct {
	Kind   Kind           `json:"kind"`
	Symbol string         `json:"symbol,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Ts     time.Time      `json:"ts"`
}

func (e GenericEvent) EventKind() Kind     { return e.Kind }
func (e GenericEvent) EventSymbol() string { return e.Symbol }

// OverflowEvent 订阅者被剔除前投递的终止事件
type OverflowEvent struct {
	// 被丢弃前成功投递的事件数
	Delivered uint64    `json:"delivered"`
	Ts        time.Time `json:"ts"`
}

func (e OverflowEvent) EventKind() Kind     { return KindOverflow }
func (e OverflowEvent) EventSymbol() string { return "" }
