package eventbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marketEvent(i int) MarketEvent {
	return MarketEvent{
		Kind:    KindOrderPlaced,
		OrderID: fmt.Sprintf("ord-%d", i),
		Symbol:  "AAPL",
		Side:    "BUY",
		Qty:     10,
		Price:   decimal.NewFromInt(150),
		Ts:      time.Now(),
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := New(WithQueueSize(16))
	defer bus.Close()

	sub := bus.Subscribe(Filter{Kinds: []Kind{KindOrderPlaced}})
	for i := 0; i < 10; i++ {
		bus.Publish(marketEvent(i))
	}

	for i := 0; i < 10; i++ {
		e := <-sub.C()
		me, ok := e.(MarketEvent)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("ord-%d", i), me.OrderID)
	}
}

func TestSubscribeSeesOnlyLaterEvents(t *testing.T) {
	bus := New()
	defer bus.Close()

	bus.Publish(marketEvent(0))
	sub := bus.Subscribe(Filter{})
	bus.Publish(marketEvent(1))

	e := <-sub.C()
	assert.Equal(t, "ord-1", e.(MarketEvent).OrderID)
	assert.Empty(t, sub.C())
}

func TestFilterByKindAndSymbol(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe(Filter{Kinds: []Kind{KindPriceUpdate}, Symbols: []string{"GOOG"}})
	bus.Publish(marketEvent(0))
	bus.Publish(PriceEvent{Kind: KindPriceUpdate, Symbol: "AAPL", Price: decimal.NewFromInt(150)})
	bus.Publish(PriceEvent{Kind: KindPriceUpdate, Symbol: "GOOG", Price: decimal.NewFromInt(2800)})

	e := <-sub.C()
	assert.Equal(t, "GOOG", e.EventSymbol())
	assert.Empty(t, sub.C())
}

func TestWildcardFilter(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe(Filter{Kinds: []Kind{KindAll}})
	bus.Publish(marketEvent(0))
	bus.Publish(PriceEvent{Kind: KindPriceUpdate, Symbol: "AAPL"})

	assert.Equal(t, KindOrderPlaced, (<-sub.C()).EventKind())
	assert.Equal(t, KindPriceUpdate, (<-sub.C()).EventKind())
}

// 对应场景：100 个订阅者中 1 个停止消费，溢出后只有它被剔除，
// 其余 99 个继续按序收到全部事件。
func TestSlowSubscriberDroppedWithOverflow(t *testing.T) {
	const queueSize = 1024
	dropped := 0
	bus := New(WithQueueSize(queueSize), WithDropCallback(func() { dropped++ }))
	defer bus.Close()

	slow := bus.Subscribe(Filter{})
	fast := make([]*Subscription, 99)
	for i := range fast {
		fast[i] = bus.Subscribe(Filter{})
	}

	// 快订阅者边发边收，慢订阅者从不消费
	published := queueSize + 50
	for i := 0; i < published; i++ {
		bus.Publish(marketEvent(i))
		for _, sub := range fast {
			e := <-sub.C()
			require.Equal(t, fmt.Sprintf("ord-%d", i), e.(MarketEvent).OrderID)
		}
	}

	assert.True(t, slow.Dropped())
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 99, bus.SubscriberCount())

	// 慢订阅者通道里是 queueSize 条事件加一条 OVERFLOW 终止事件，随后关闭
	for i := 0; i < queueSize; i++ {
		e, ok := <-slow.C()
		require.True(t, ok)
		require.NotEqual(t, KindOverflow, e.EventKind())
	}
	last, ok := <-slow.C()
	require.True(t, ok)
	assert.Equal(t, KindOverflow, last.EventKind())
	assert.Equal(t, uint64(queueSize), last.(OverflowEvent).Delivered)
	_, open := <-slow.C()
	assert.False(t, open)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe(Filter{})
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-sub.C()
	assert.False(t, open)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(Filter{})
	bus.Close()
	bus.Publish(marketEvent(0))

	_, open := <-sub.C()
	assert.False(t, open)
}
