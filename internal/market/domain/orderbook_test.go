package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitOrder(id string, side Side, qty int64, price string) *Order {
	return &Order{
		OrderID:    id,
		Side:       side,
		Qty:        qty,
		LimitPrice: decimal.RequireFromString(price),
		Status:     StatusPending,
	}
}

func marketOrder(id string, side Side, qty int64) *Order {
	return &Order{OrderID: id, Side: side, Qty: qty, Status: StatusPending}
}

func TestBestBidIsHighestPrice(t *testing.T) {
	book := NewOrderBook("AAPL")
	book.Insert(limitOrder("b1", SideBuy, 10, "149"))
	book.Insert(limitOrder("b2", SideBuy, 10, "151"))
	book.Insert(limitOrder("b3", SideBuy, 10, "150"))

	require.NotNil(t, book.BestBid())
	assert.Equal(t, "b2", book.BestBid().OrderID)
}

func TestBestAskIsLowestPrice(t *testing.T) {
	book := NewOrderBook("AAPL")
	book.Insert(limitOrder("a1", SideSell, 10, "151"))
	book.Insert(limitOrder("a2", SideSell, 10, "149"))
	book.Insert(limitOrder("a3", SideSell, 10, "150"))

	require.NotNil(t, book.BestAsk())
	assert.Equal(t, "a2", book.BestAsk().OrderID)
}

func TestSamePriceKeepsArrivalOrder(t *testing.T) {
	book := NewOrderBook("AAPL")
	book.Insert(limitOrder("first", SideBuy, 10, "150"))
	book.Insert(limitOrder("second", SideBuy, 10, "150"))

	assert.Equal(t, "first", book.BestBid().OrderID)
	require.True(t, book.Remove(book.BestBid()))
	assert.Equal(t, "second", book.BestBid().OrderID)
}

func TestMarketOrderOutranksEveryLimit(t *testing.T) {
	book := NewOrderBook("AAPL")
	book.Insert(limitOrder("b1", SideBuy, 10, "999"))
	book.Insert(marketOrder("m1", SideBuy, 10))
	book.Insert(marketOrder("m2", SideBuy, 10))

	assert.Equal(t, "m1", book.BestBid().OrderID)
	assert.Equal(t, "b1", book.BestLimitBid().OrderID)

	require.True(t, book.Remove(book.BestBid()))
	assert.Equal(t, "m2", book.BestBid().OrderID)
}

func TestBestLimitNilWhenOnlyMarketOrders(t *testing.T) {
	book := NewOrderBook("AAPL")
	book.Insert(marketOrder("m1", SideBuy, 10))
	book.Insert(marketOrder("m2", SideSell, 10))

	assert.Nil(t, book.BestLimitBid())
	assert.Nil(t, book.BestLimitAsk())
	assert.NotNil(t, book.BestBid())
	assert.NotNil(t, book.BestAsk())
}

func TestRemoveUnknownOrder(t *testing.T) {
	book := NewOrderBook("AAPL")
	book.Insert(limitOrder("b1", SideBuy, 10, "150"))

	assert.False(t, book.Remove(limitOrder("ghost", SideBuy, 10, "150")))
	assert.False(t, book.Remove(marketOrder("ghost", SideSell, 10)))
	assert.True(t, book.Remove(limitOrder("b1", SideBuy, 10, "150")))
	assert.Nil(t, book.BestBid())
}

func TestRemoveDrainsEmptyLevel(t *testing.T) {
	book := NewOrderBook("AAPL")
	book.Insert(limitOrder("a1", SideSell, 10, "150"))
	book.Insert(limitOrder("a2", SideSell, 10, "151"))

	require.True(t, book.Remove(limitOrder("a1", SideSell, 10, "150")))
	snap := book.Depth(0)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.RequireFromString("151")))
}

func TestDepthAggregatesQtyAndCount(t *testing.T) {
	book := NewOrderBook("AAPL")
	book.Insert(limitOrder("b1", SideBuy, 10, "150"))
	b2 := limitOrder("b2", SideBuy, 20, "150")
	b2.Filled = 5
	book.Insert(b2)
	book.Insert(limitOrder("b3", SideBuy, 7, "149"))
	book.Insert(marketOrder("m1", SideBuy, 3))

	snap := book.Depth(0)
	require.Len(t, snap.Bids, 3)

	assert.True(t, snap.Bids[0].Price.IsZero())
	assert.Equal(t, int64(3), snap.Bids[0].Qty)
	assert.Equal(t, 1, snap.Bids[0].Count)

	assert.True(t, snap.Bids[1].Price.Equal(decimal.RequireFromString("150")))
	assert.Equal(t, int64(25), snap.Bids[1].Qty)
	assert.Equal(t, 2, snap.Bids[1].Count)

	assert.True(t, snap.Bids[2].Price.Equal(decimal.RequireFromString("149")))
	assert.Equal(t, int64(7), snap.Bids[2].Qty)
}

func TestDepthHonorsMaxLevels(t *testing.T) {
	book := NewOrderBook("AAPL")
	book.Insert(limitOrder("a1", SideSell, 10, "150"))
	book.Insert(limitOrder("a2", SideSell, 10, "151"))
	book.Insert(limitOrder("a3", SideSell, 10, "152"))

	snap := book.Depth(2)
	require.Len(t, snap.Asks, 2)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.RequireFromString("150")))
	assert.True(t, snap.Asks[1].Price.Equal(decimal.RequireFromString("151")))
}
