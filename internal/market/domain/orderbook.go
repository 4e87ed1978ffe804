package domain

import (
	"container/list"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// priceAsc 卖盘比较器：价格升序
type priceAsc struct{}

func (priceAsc) Compare(lhs, rhs interface{}) int {
	return lhs.(decimal.Decimal).Cmp(rhs.(decimal.Decimal))
}

func (priceAsc) CalcScore(key interface{}) float64 {
	return key.(decimal.Decimal).InexactFloat64()
}

// priceDesc 买盘比较器：价格降序
type priceDesc struct{}

func (priceDesc) Compare(lhs, rhs interface{}) int {
	return rhs.(decimal.Decimal).Cmp(lhs.(decimal.Decimal))
}

func (priceDesc) CalcScore(key interface{}) float64 {
	return -key.(decimal.Decimal).InexactFloat64()
}

// priceLevel 同一价格档位的订单队列，时间优先 (FIFO)
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List // 存 *Order
}

// bookSide 订单簿的一侧。限价单按价格档位存于跳表；
// 市价单单独排队，视为无限激进、彼此间按到达时间排序。
type bookSide struct {
	levels *skiplist.SkipList
	market *list.List
}

func newBookSide(cmp skiplist.Comparable) *bookSide {
	return &bookSide{levels: skiplist.New(cmp), market: list.New()}
}

func (s *bookSide) push(o *Order) {
	if o.IsMarket() {
		s.market.PushBack(o)
		return
	}
	elem := s.levels.Get(o.LimitPrice)
	var level *priceLevel
	if elem != nil {
		level = elem.Value.(*priceLevel)
	} else {
		level = &priceLevel{price: o.LimitPrice, orders: list.New()}
		s.levels.Set(o.LimitPrice, level)
	}
	level.orders.PushBack(o)
}

// peek 返回该侧最优订单：市价队列优先，其后是最优档位的队首
func (s *bookSide) peek() *Order {
	if front := s.market.Front(); front != nil {
		return front.Value.(*Order)
	}
	if front := s.levels.Front(); front != nil {
		return front.Value.(*priceLevel).orders.Front().Value.(*Order)
	}
	return nil
}

// peekLimit 返回该侧最优限价订单，忽略市价队列
func (s *bookSide) peekLimit() *Order {
	if front := s.levels.Front(); front != nil {
		return front.Value.(*priceLevel).orders.Front().Value.(*Order)
	}
	return nil
}

// remove 从该侧移除指定订单，返回是否找到
func (s *bookSide) remove(o *Order) bool {
	if o.IsMarket() {
		for el := s.market.Front(); el != nil; el = el.Next() {
			if el.Value.(*Order).OrderID == o.OrderID {
				s.market.Remove(el)
				return true
			}
		}
		return false
	}
	elem := s.levels.Get(o.LimitPrice)
	if elem == nil {
		return false
	}
	level := elem.Value.(*priceLevel)
	for el := level.orders.Front(); el != nil; el = el.Next() {
		if el.Value.(*Order).OrderID == o.OrderID {
			level.orders.Remove(el)
			if level.orders.Len() == 0 {
				s.levels.Remove(o.LimitPrice)
			}
			return true
		}
	}
	return false
}

// DepthLevel 深度视图中的一个价格档位
type DepthLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   int64           `json:"qty"`
	Count int             `json:"count"`
}

// depth 聚合该侧深度：市价队列（如有）作为 price=0 档位排最前
func (s *bookSide) depth(maxLevels int) []DepthLevel {
	levels := make([]DepthLevel, 0, maxLevels)
	if s.market.Len() > 0 {
		var qty int64
		for el := s.market.Front(); el != nil; el = el.Next() {
			qty += el.Value.(*Order).Remaining()
		}
		levels = append(levels, DepthLevel{Price: decimal.Zero, Qty: qty, Count: s.market.Len()})
	}
	for elem := s.levels.Front(); elem != nil; elem = elem.Next() {
		if maxLevels > 0 && len(levels) >= maxLevels {
			break
		}
		level := elem.Value.(*priceLevel)
		var qty int64
		for el := level.orders.Front(); el != nil; el = el.Next() {
			qty += el.Value.(*Order).Remaining()
		}
		levels = append(levels, DepthLevel{Price: level.price, Qty: qty, Count: level.orders.Len()})
	}
	return levels
}

// OrderBook 单标的订单簿。不含内部锁：由每标的唯一的撮合 Worker 独占访问。
type OrderBook struct {
	Symbol string
	bids   *bookSide
	asks   *bookSide
}

// NewOrderBook 创建空订单簿
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   newBookSide(priceDesc{}),
		asks:   newBookSide(priceAsc{}),
	}
}

// Insert 将订单挂入对应侧
func (b *OrderBook) Insert(o *Order) {
	if o.Side == SideBuy {
		b.bids.push(o)
	} else {
		b.asks.push(o)
	}
}

// Remove 将订单从簿中摘除，返回是否找到
func (b *OrderBook) Remove(o *Order) bool {
	if o.Side == SideBuy {
		return b.bids.remove(o)
	}
	return b.asks.remove(o)
}

// BestBid 买一订单，簿空返回 nil
func (b *OrderBook) BestBid() *Order { return b.bids.peek() }

// BestAsk 卖一订单，簿空返回 nil
func (b *OrderBook) BestAsk() *Order { return b.asks.peek() }

// BestLimitBid 买侧最优限价订单，无限价单返回 nil
func (b *OrderBook) BestLimitBid() *Order { return b.bids.peekLimit() }

// BestLimitAsk 卖侧最优限价订单，无限价单返回 nil
func (b *OrderBook) BestLimitAsk() *Order { return b.asks.peekLimit() }

// Snapshot 两侧的价格聚合深度。终态订单从不在簿中，深度天然只含活跃订单。
type Snapshot struct {
	Symbol string       `json:"symbol"`
	Bids   []DepthLevel `json:"bids"`
	Asks   []DepthLevel `json:"asks"`
}

// Depth 聚合深度快照，maxLevels 为每侧最大档位数（0 表示不限）
func (b *OrderBook) Depth(maxLevels int) *Snapshot {
	return &Snapshot{
		Symbol: b.Symbol,
		Bids:   b.bids.depth(maxLevels),
		Asks:   b.asks.depth(maxLevels),
	}
}
