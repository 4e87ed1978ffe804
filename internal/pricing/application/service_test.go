package application

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockforge/stocksim/internal/pricing/domain"
	"github.com/stockforge/stocksim/internal/pricing/infrastructure/persistence"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/db"
	"github.com/stockforge/stocksim/pkg/eventbus"
)

func newService(t *testing.T) (*PricingService, *eventbus.Bus) {
	t.Helper()
	gdb, err := db.OpenInMemory()
	require.NoError(t, err)
	repo, err := persistence.NewStockRepository(gdb)
	require.NoError(t, err)
	bus := eventbus.New(eventbus.WithQueueSize(64))
	t.Cleanup(bus.Close)
	svc := NewPricingService(repo, bus, DefaultVolatility)
	svc.randFn = func() float64 { return 0.5 } // 去除抖动，保证可断言
	return svc, bus
}

func TestInitializeStockIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.InitializeStock(ctx, "aapl", "Apple", decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", first.Symbol)
	assert.True(t, first.Open.Equal(decimal.NewFromInt(150)))

	again, err := svc.InitializeStock(ctx, "AAPL", "Apple", decimal.NewFromInt(999))
	require.NoError(t, err)
	assert.True(t, again.Current.Equal(decimal.NewFromInt(150)))
}

func TestApplyBuyPressureRaisesPrice(t *testing.T) {
	svc, bus := newService(t)
	ctx := context.Background()
	_, err := svc.InitializeStock(ctx, "AAPL", "Apple", decimal.NewFromInt(150))
	require.NoError(t, err)

	sub := bus.Subscribe(eventbus.Filter{Kinds: []eventbus.Kind{eventbus.KindPriceUpdate}})

	stock, err := svc.Apply(ctx, "AAPL", 100, true, ImpactSettlement)
	require.NoError(t, err)
	assert.True(t, stock.Current.GreaterThan(decimal.NewFromInt(150)),
		"buy aggressor must push price up, got %s", stock.Current)
	assert.Equal(t, int64(100), stock.Volume)
	assert.True(t, stock.High.Equal(stock.Current))
	assert.True(t, stock.Low.Equal(decimal.NewFromInt(150)))

	e := <-sub.C()
	tick, ok := e.(eventbus.PriceEvent)
	require.True(t, ok)
	assert.Equal(t, "AAPL", tick.Symbol)
	assert.True(t, tick.Price.Equal(stock.Current))
}

func TestApplySellPressureLowersPrice(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.InitializeStock(ctx, "AAPL", "Apple", decimal.NewFromInt(150))
	require.NoError(t, err)

	stock, err := svc.Apply(ctx, "AAPL", 100, false, ImpactSettlement)
	require.NoError(t, err)
	assert.True(t, stock.Current.LessThan(decimal.NewFromInt(150)))
	assert.True(t, stock.Low.Equal(stock.Current))
}

func TestApplyRestingImpactSkipsVolume(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.InitializeStock(ctx, "AAPL", "Apple", decimal.NewFromInt(150))
	require.NoError(t, err)

	settled, err := svc.Apply(ctx, "AAPL", 50, true, ImpactResting)
	require.NoError(t, err)
	assert.Equal(t, int64(0), settled.Volume, "book pressure must not count as traded volume")
}

func TestApplyPriceFloor(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.InitializeStock(ctx, "PENNY", "Penny", decimal.NewFromFloat(0.01))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		stock, err := svc.Apply(ctx, "PENNY", 1000, false, ImpactSettlement)
		require.NoError(t, err)
		require.True(t, stock.Current.GreaterThanOrEqual(domain.MinPrice))
	}
}

func TestApplyUnknownSymbol(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Apply(context.Background(), "NOPE", 10, true, ImpactSettlement)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.InitializeStock(ctx, "AAPL", "Apple", decimal.NewFromInt(150))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = svc.Apply(ctx, "AAPL", 10, true, ImpactSettlement)
		require.NoError(t, err)
	}

	points, err := svc.GetPriceHistory(ctx, domain.HistoryQuery{Symbol: "AAPL", Limit: 10})
	require.NoError(t, err)
	require.Len(t, points, 4) // 初始化一条 + 三次调价
	for i := 1; i < len(points); i++ {
		assert.False(t, points[i-1].Timestamp.Before(points[i].Timestamp),
			"history must be newest-first")
	}

	limited, err := svc.GetPriceHistory(ctx, domain.HistoryQuery{Symbol: "AAPL", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestResetDaily(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.InitializeStock(ctx, "AAPL", "Apple", decimal.NewFromInt(150))
	require.NoError(t, err)

	_, err = svc.Apply(ctx, "AAPL", 500, true, ImpactSettlement)
	require.NoError(t, err)

	require.NoError(t, svc.ResetDaily(ctx))
	stock, err := svc.GetPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, stock.Open.Equal(stock.Current))
	assert.True(t, stock.High.Equal(stock.Current))
	assert.True(t, stock.Low.Equal(stock.Current))
}

func TestUpdatePriceValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.InitializeStock(ctx, "AAPL", "Apple", decimal.NewFromInt(150))
	require.NoError(t, err)

	_, err = svc.UpdatePrice(ctx, "AAPL", decimal.NewFromFloat(0.001))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	stock, err := svc.UpdatePrice(ctx, "AAPL", decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, stock.Current.Equal(decimal.NewFromInt(200)))
	assert.True(t, stock.High.Equal(decimal.NewFromInt(200)))
}
