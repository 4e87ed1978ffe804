package application

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockforge/stocksim/internal/market/domain"
	"github.com/stockforge/stocksim/internal/market/infrastructure/persistence"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/db"
	"github.com/stockforge/stocksim/pkg/eventbus"
)

type fakePortfolio struct {
	mu          sync.Mutex
	validateErr error
	settleErr   error
	settled     []string
	buyLegs     []TradeLeg
	sellLegs    []TradeLeg
}

func (f *fakePortfolio) ValidateOrder(context.Context, string, string, string, int64, decimal.Decimal) error {
	return f.validateErr
}

func (f *fakePortfolio) SettleExecution(_ context.Context, executionID string, buy, sell TradeLeg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settleErr != nil {
		return f.settleErr
	}
	f.settled = append(f.settled, executionID)
	f.buyLegs = append(f.buyLegs, buy)
	f.sellLegs = append(f.sellLegs, sell)
	return nil
}

type applyCall struct {
	symbol string
	qty    int64
	isBuy  bool
	impact float64
}

type fakePricing struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	applies []applyCall
}

func (f *fakePricing) Apply(_ context.Context, symbol string, qty int64, isBuy bool, impact float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies = append(f.applies, applyCall{symbol: symbol, qty: qty, isBuy: isBuy, impact: impact})
	return nil
}

func (f *fakePricing) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	if p, ok := f.prices[symbol]; ok {
		return p, nil
	}
	return decimal.Zero, apperr.Newf(apperr.KindNotFound, "stock %s not found", symbol)
}

type fakeAnalytics struct {
	mu      sync.Mutex
	records []TradeRecord
}

func (f *fakeAnalytics) RecordTrade(_ context.Context, rec TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type marketFixture struct {
	svc       *MarketService
	engine    *Engine
	repo      *persistence.OrderRepository
	bus       *eventbus.Bus
	portfolio *fakePortfolio
	pricing   *fakePricing
	analytics *fakeAnalytics
}

func newMarket(t *testing.T) *marketFixture {
	t.Helper()
	gdb, err := db.OpenInMemory()
	require.NoError(t, err)
	repo, err := persistence.NewOrderRepository(gdb)
	require.NoError(t, err)

	bus := eventbus.New(eventbus.WithQueueSize(256))
	t.Cleanup(bus.Close)

	portfolio := &fakePortfolio{}
	pricing := &fakePricing{prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)}}
	analytics := &fakeAnalytics{}

	settle := NewSettlement(repo, portfolio, pricing, analytics, bus, nil)
	engine := NewEngine(repo, settle, bus, nil)
	t.Cleanup(engine.Close)

	return &marketFixture{
		svc:       NewMarketService(repo, engine, portfolio, pricing, nil),
		engine:    engine,
		repo:      repo,
		bus:       bus,
		portfolio: portfolio,
		pricing:   pricing,
		analytics: analytics,
	}
}

func limit(investor, side string, qty int64, price string) PlaceOrderReq {
	return PlaceOrderReq{
		InvestorID: investor,
		Symbol:     "AAPL",
		Side:       side,
		Qty:        qty,
		LimitPrice: decimal.RequireFromString(price),
	}
}

func market(investor, side string, qty int64) PlaceOrderReq {
	return PlaceOrderReq{InvestorID: investor, Symbol: "AAPL", Side: side, Qty: qty}
}

func mustPlace(t *testing.T, f *marketFixture, req PlaceOrderReq) *domain.Order {
	t.Helper()
	o, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	return o
}

func settlementApplies(f *marketFixture) []applyCall {
	f.pricing.mu.Lock()
	defer f.pricing.mu.Unlock()
	var out []applyCall
	for _, c := range f.pricing.applies {
		if c.impact == 1.0 {
			out = append(out, c)
		}
	}
	return out
}

func TestLimitOrdersMatchAtAskPrice(t *testing.T) {
	f := newMarket(t)

	sell := mustPlace(t, f, limit("B", "SELL", 10, "151"))
	buy := mustPlace(t, f, limit("A", "BUY", 10, "151"))

	assert.Equal(t, domain.StatusFilled, sell.Status)
	assert.Equal(t, domain.StatusFilled, buy.Status)

	execs, err := f.repo.ExecutionsForOrder(context.Background(), buy.OrderID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Price.Equal(decimal.NewFromInt(151)))
	assert.Equal(t, int64(10), execs[0].Qty)
	assert.Equal(t, "A", execs[0].Buyer)
	assert.Equal(t, "B", execs[0].Seller)
	assert.Equal(t, domain.SettlementSettled, execs[0].SettlementStatus)

	// 双腿结算一次落账：买腿正数，卖腿负数
	require.Len(t, f.portfolio.settled, 1)
	assert.Equal(t, int64(10), f.portfolio.buyLegs[0].SignedQty)
	assert.Equal(t, int64(-10), f.portfolio.sellLegs[0].SignedQty)
	assert.True(t, f.portfolio.buyLegs[0].Price.Equal(decimal.NewFromInt(151)))

	require.Len(t, f.analytics.records, 1)
	assert.Equal(t, execs[0].ExecutionID, f.analytics.records[0].ExecutionID)
}

func TestMarketOrderSweepsBook(t *testing.T) {
	f := newMarket(t)

	mustPlace(t, f, limit("S1", "SELL", 20, "150"))
	mustPlace(t, f, limit("S2", "SELL", 30, "151"))
	buy := mustPlace(t, f, market("B", "BUY", 40))

	assert.Equal(t, domain.StatusFilled, buy.Status)
	assert.Equal(t, int64(40), buy.Filled)

	execs, err := f.repo.ExecutionsForOrder(context.Background(), buy.OrderID)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, int64(20), execs[0].Qty)
	assert.True(t, execs[0].Price.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, int64(20), execs[1].Qty)
	assert.True(t, execs[1].Price.Equal(decimal.NewFromInt(151)))

	// 151 档位剩余 10
	snap, err := f.svc.GetOrderBook(context.Background(), "AAPL", 0)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.NewFromInt(151)))
	assert.Equal(t, int64(10), snap.Asks[0].Qty)
	assert.Empty(t, snap.Bids)
}

func TestInsufficientFundsRejection(t *testing.T) {
	f := newMarket(t)
	f.portfolio.validateErr = apperr.New(apperr.KindInsufficientFunds, "balance too low")

	sub := f.bus.Subscribe(eventbus.Filter{Kinds: []eventbus.Kind{eventbus.KindAll}})
	defer f.bus.Unsubscribe(sub)

	req := limit("A", "BUY", 10, "150")
	req.OrderID = "ord-reject-1"
	_, err := f.svc.PlaceOrder(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientFunds))

	// 订单以 REJECTED 落库，但不产生任何事件，簿不变
	view, err := f.svc.GetOrderStatus(context.Background(), "ord-reject-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, view.Status)
	assert.Zero(t, len(sub.C()))

	snap, err := f.svc.GetOrderBook(context.Background(), "AAPL", 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestPartialFillThenCancel(t *testing.T) {
	f := newMarket(t)

	mustPlace(t, f, limit("S", "SELL", 30, "149"))
	buy := mustPlace(t, f, limit("A", "BUY", 100, "149"))

	assert.Equal(t, domain.StatusPartiallyFilled, buy.Status)
	assert.Equal(t, int64(30), buy.Filled)

	sub := f.bus.Subscribe(eventbus.Filter{Kinds: []eventbus.Kind{eventbus.KindOrderCanceled}})
	defer f.bus.Unsubscribe(sub)

	canceled, err := f.svc.CancelOrder(context.Background(), buy.OrderID, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)
	assert.Equal(t, int64(30), canceled.Filled)

	e := <-sub.C()
	assert.Equal(t, eventbus.KindOrderCanceled, e.EventKind())

	snap, err := f.svc.GetOrderBook(context.Background(), "AAPL", 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)

	// 撤单后不可再成交
	mustPlace(t, f, limit("S", "SELL", 70, "149"))
	view, err := f.svc.GetOrderStatus(context.Background(), buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), view.Filled)
}

func TestMarketOrderBuyerIsAggressor(t *testing.T) {
	f := newMarket(t)

	mustPlace(t, f, limit("S", "SELL", 100, "150"))
	mustPlace(t, f, market("B", "BUY", 100))

	applies := settlementApplies(f)
	require.Len(t, applies, 1)
	assert.True(t, applies[0].isBuy)
	assert.Equal(t, int64(100), applies[0].qty)
	assert.Equal(t, 1.0, applies[0].impact)
}

func TestLimitAggressorIsLaterArrival(t *testing.T) {
	f := newMarket(t)

	mustPlace(t, f, limit("B", "BUY", 10, "150"))
	mustPlace(t, f, limit("S", "SELL", 10, "150"))

	// 卖单后到，为攻击方：向下压力
	applies := settlementApplies(f)
	require.Len(t, applies, 1)
	assert.False(t, applies[0].isBuy)
}

func TestTwoMarketOrdersWaitForLimit(t *testing.T) {
	f := newMarket(t)

	buy := mustPlace(t, f, market("B", "BUY", 10))
	sell := mustPlace(t, f, market("S", "SELL", 10))
	assert.Equal(t, domain.StatusPending, buy.Status)
	assert.Equal(t, domain.StatusPending, sell.Status)

	// 限价卖单进场给出价格信号后，市价买单先成交
	mustPlace(t, f, limit("S2", "SELL", 10, "150"))
	view, err := f.svc.GetOrderStatus(context.Background(), buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, view.Status)
	assert.True(t, view.AvgPrice.Equal(decimal.NewFromInt(150)))
}

func TestRestingOrderAppliesBookPressure(t *testing.T) {
	f := newMarket(t)

	mustPlace(t, f, limit("A", "BUY", 50, "140"))

	f.pricing.mu.Lock()
	defer f.pricing.mu.Unlock()
	require.Len(t, f.pricing.applies, 1)
	assert.Equal(t, 0.3, f.pricing.applies[0].impact)
	assert.True(t, f.pricing.applies[0].isBuy)
	assert.Equal(t, int64(50), f.pricing.applies[0].qty)
}

func TestPartialFillAppliesPressureForRemainder(t *testing.T) {
	f := newMarket(t)

	mustPlace(t, f, limit("S", "SELL", 30, "149"))
	mustPlace(t, f, limit("A", "BUY", 100, "149"))

	f.pricing.mu.Lock()
	defer f.pricing.mu.Unlock()
	var resting []applyCall
	for _, c := range f.pricing.applies {
		if c.impact == ImpactResting {
			resting = append(resting, c)
		}
	}
	// 卖单自身的挂单压力 + 买单未吃完的 70
	require.Len(t, resting, 2)
	assert.Equal(t, int64(70), resting[1].qty)
	assert.True(t, resting[1].isBuy)
}

func TestSettlementFailureFlagsExecution(t *testing.T) {
	f := newMarket(t)
	f.portfolio.settleErr = apperr.New(apperr.KindInsufficientFunds, "buyer cannot pay")

	sub := f.bus.Subscribe(eventbus.Filter{Kinds: []eventbus.Kind{eventbus.KindSettlementFailed}})
	defer f.bus.Unsubscribe(sub)

	mustPlace(t, f, limit("S", "SELL", 10, "150"))
	buy := mustPlace(t, f, limit("A", "BUY", 10, "150"))

	// 成交本身不回滚，执行记录被标记失败并发布补偿事件
	assert.Equal(t, domain.StatusFilled, buy.Status)
	execs, err := f.repo.ExecutionsForOrder(context.Background(), buy.OrderID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.SettlementFailed, execs[0].SettlementStatus)

	e := <-sub.C()
	assert.Equal(t, eventbus.KindSettlementFailed, e.EventKind())

	// 下游领域错误不重试
	assert.Empty(t, f.portfolio.settled)
	assert.Empty(t, f.analytics.records)
}

func TestPlaceOrderIdempotentOnClientID(t *testing.T) {
	f := newMarket(t)

	req := limit("A", "BUY", 10, "140")
	req.OrderID = "client-42"
	first := mustPlace(t, f, req)
	second := mustPlace(t, f, req)

	assert.Equal(t, first.OrderID, second.OrderID)

	// 簿上只有一张单
	snap, err := f.svc.GetOrderBook(context.Background(), "AAPL", 0)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(10), snap.Bids[0].Qty)
	assert.Equal(t, 1, snap.Bids[0].Count)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newMarket(t)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, PlaceOrderReq{InvestorID: "A", Symbol: "AAPL", Side: "HOLD", Qty: 1})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderReq{InvestorID: "A", Symbol: "AAPL", Side: "BUY", Qty: 0})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.PlaceOrder(ctx, limit("A", "BUY", 10, "-1"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderReq{InvestorID: "A", Symbol: "NOPE", Side: "BUY", Qty: 1})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestMarketClosedRejectsOrders(t *testing.T) {
	f := newMarket(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SetMarketState(ctx, domain.MarketClosed))
	_, err := f.svc.PlaceOrder(ctx, limit("A", "BUY", 10, "150"))
	assert.True(t, apperr.Is(err, apperr.KindMarketClosed))

	require.NoError(t, f.svc.SetMarketState(ctx, domain.MarketOpen))
	mustPlace(t, f, limit("A", "BUY", 10, "150"))
}

func TestCancelGuards(t *testing.T) {
	f := newMarket(t)
	ctx := context.Background()

	_, err := f.svc.CancelOrder(ctx, "no-such-order", "A")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	o := mustPlace(t, f, limit("A", "BUY", 10, "140"))

	_, err = f.svc.CancelOrder(ctx, o.OrderID, "not-the-owner")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.CancelOrder(ctx, o.OrderID, "A")
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, o.OrderID, "A")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestDepthAggregatesPerPriceLevel(t *testing.T) {
	f := newMarket(t)

	mustPlace(t, f, limit("A", "BUY", 10, "149"))
	mustPlace(t, f, limit("B", "BUY", 20, "149"))
	mustPlace(t, f, limit("C", "BUY", 5, "148"))
	mustPlace(t, f, market("D", "BUY", 7))

	snap, err := f.svc.GetOrderBook(context.Background(), "AAPL", 0)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 3)

	// 市价队列作为 price=0 档位排最前，其后价格从优到劣
	assert.True(t, snap.Bids[0].Price.IsZero())
	assert.Equal(t, int64(7), snap.Bids[0].Qty)
	assert.True(t, snap.Bids[1].Price.Equal(decimal.NewFromInt(149)))
	assert.Equal(t, int64(30), snap.Bids[1].Qty)
	assert.Equal(t, 2, snap.Bids[1].Count)
	assert.True(t, snap.Bids[2].Price.Equal(decimal.NewFromInt(148)))
}

func TestGetOrderStatusAveragePrice(t *testing.T) {
	f := newMarket(t)

	mustPlace(t, f, limit("S1", "SELL", 20, "150"))
	mustPlace(t, f, limit("S2", "SELL", 20, "151"))
	buy := mustPlace(t, f, market("B", "BUY", 40))

	view, err := f.svc.GetOrderStatus(context.Background(), buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, view.Status)
	assert.Equal(t, int64(0), view.Remaining)
	// (20·150 + 20·151) / 40 = 150.5
	assert.True(t, view.AvgPrice.Equal(decimal.RequireFromString("150.5")))
	assert.Len(t, view.Executions, 2)
}

func TestRestoreRebuildsBook(t *testing.T) {
	f := newMarket(t)

	o := mustPlace(t, f, limit("A", "BUY", 10, "140"))
	f.engine.Close()

	// 同一仓储上重建引擎，挂单回到簿中并可继续成交
	settle := NewSettlement(f.repo, f.portfolio, f.pricing, f.analytics, f.bus, nil)
	engine2 := NewEngine(f.repo, settle, f.bus, nil)
	t.Cleanup(engine2.Close)
	require.NoError(t, engine2.Restore(context.Background()))

	snap, err := engine2.Depth(context.Background(), "AAPL", 0)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(10), snap.Bids[0].Qty)

	sell := &domain.Order{
		OrderID:    "restored-sell",
		InvestorID: "S",
		Symbol:     "AAPL",
		Side:       domain.SideSell,
		Qty:        10,
		LimitPrice: decimal.NewFromInt(140),
		Status:     domain.StatusPending,
	}
	require.NoError(t, f.repo.CreateOrder(context.Background(), sell))
	require.NoError(t, engine2.Admit(context.Background(), sell))

	view, err := f.repo.GetOrder(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, view.Status)
}
