package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stockforge/stocksim/internal/analytics/domain"
	"github.com/stockforge/stocksim/internal/analytics/infrastructure/persistence"
	pricing "github.com/stockforge/stocksim/internal/pricing/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/db"
)

type analyticsFixture struct {
	svc *AnalyticsService
	gdb *gorm.DB
}

func newAnalytics(t *testing.T) *analyticsFixture {
	t.Helper()
	gdb, err := db.OpenInMemory()
	require.NoError(t, err)
	// stocks 与 price_history 归价格引擎所有，测试中直接建表并播种
	require.NoError(t, gdb.AutoMigrate(&pricing.Stock{}, &pricing.PricePoint{}))
	repo, err := persistence.NewTradeRepository(gdb)
	require.NoError(t, err)
	return &analyticsFixture{svc: NewAnalyticsService(repo, nil), gdb: gdb}
}

func (f *analyticsFixture) seedStock(t *testing.T, symbol string, current, open float64) {
	t.Helper()
	require.NoError(t, f.gdb.Create(&pricing.Stock{
		Symbol:      symbol,
		Name:        symbol,
		Current:     decimal.NewFromFloat(current),
		Open:        decimal.NewFromFloat(open),
		High:        decimal.NewFromFloat(max(current, open)),
		Low:         decimal.NewFromFloat(min(current, open)),
		LastUpdated: time.Now(),
	}).Error)
}

func (f *analyticsFixture) seedHistory(t *testing.T, symbol string, prices []float64, step time.Duration) {
	t.Helper()
	base := time.Now().Add(-time.Duration(len(prices)) * step)
	for i, p := range prices {
		require.NoError(t, f.gdb.Create(&pricing.PricePoint{
			Symbol:    symbol,
			Price:     decimal.NewFromFloat(p),
			Timestamp: base.Add(time.Duration(i) * step),
		}).Error)
	}
}

func record(t *testing.T, f *analyticsFixture, execID, symbol string, qty int64, price float64, buyer, seller string, ts time.Time) {
	t.Helper()
	require.NoError(t, f.svc.Record(context.Background(), RecordReq{
		ExecutionID: execID,
		Symbol:      symbol,
		Qty:         qty,
		Price:       decimal.NewFromFloat(price),
		Buyer:       buyer,
		Seller:      seller,
		Ts:          ts,
	}))
}

func TestRecordWritesBothPerspectivesOnce(t *testing.T) {
	f := newAnalytics(t)
	now := time.Now()

	record(t, f, "exec-1", "AAPL", 10, 150, "A", "B", now)
	// 重复记录同一成交是幂等的
	record(t, f, "exec-1", "AAPL", 10, 150, "A", "B", now)

	var rows []domain.Trade
	require.NoError(t, f.gdb.Find(&rows).Error)
	require.Len(t, rows, 2)
	sides := map[string]string{}
	for _, r := range rows {
		sides[r.Side] = r.Investor
	}
	assert.Equal(t, "A", sides["BUY"])
	assert.Equal(t, "B", sides["SELL"])
}

func TestRecordValidation(t *testing.T) {
	f := newAnalytics(t)
	err := f.svc.Record(context.Background(), RecordReq{
		ExecutionID: "e", Symbol: "AAPL", Qty: 0,
		Price: decimal.NewFromInt(1), Buyer: "A", Seller: "B",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTopTradedRanksByVolumeThenCount(t *testing.T) {
	f := newAnalytics(t)
	now := time.Now()

	// AAPL 量 50（2 笔），MSFT 量 50（1 笔），GOOG 量 10
	record(t, f, "e1", "AAPL", 30, 150, "A", "B", now)
	record(t, f, "e2", "AAPL", 20, 151, "A", "B", now)
	record(t, f, "e3", "MSFT", 50, 300, "C", "D", now)
	record(t, f, "e4", "GOOG", 10, 2800, "A", "D", now)

	ranked, err := f.svc.TopTraded(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "AAPL", ranked[0].Symbol)
	assert.Equal(t, int64(50), ranked[0].Volume)
	assert.Equal(t, int64(2), ranked[0].Trades)
	assert.Equal(t, "MSFT", ranked[1].Symbol)
	assert.Equal(t, "GOOG", ranked[2].Symbol)

	// 窗口之外的成交不计入
	old := now.Add(-2 * time.Hour)
	record(t, f, "e5", "GOOG", 500, 2800, "A", "D", old)
	ranked, err = f.svc.TopTraded(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", ranked[0].Symbol)
}

func TestMostVolatileRanking(t *testing.T) {
	f := newAnalytics(t)
	// AAPL: (160−140)/150·100 ≈ 13.3；MSFT: (310−300)/305·100 ≈ 3.3
	f.seedHistory(t, "AAPL", []float64{140, 150, 160}, time.Minute)
	f.seedHistory(t, "MSFT", []float64{300, 305, 310}, time.Minute)

	entries, err := f.svc.MostVolatile(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "AAPL", entries[0].Symbol)
	assert.InDelta(t, 13.33, entries[0].Volatility, 0.01)
	assert.Equal(t, "MSFT", entries[1].Symbol)

	entries, err = f.svc.MostVolatile(context.Background(), 1, time.Hour)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMarketStatsSentiment(t *testing.T) {
	f := newAnalytics(t)
	now := time.Now()
	f.seedStock(t, "AAPL", 152, 150)
	f.seedStock(t, "MSFT", 301, 300)
	record(t, f, "e1", "AAPL", 30, 151, "A", "B", now)
	record(t, f, "e2", "MSFT", 20, 300.5, "C", "B", now)

	stats, err := f.svc.MarketStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Trades)
	assert.Equal(t, int64(50), stats.Volume)
	assert.Equal(t, int64(3), stats.Investors)
	assert.Equal(t, int64(2), stats.Symbols)
	// trend = ((152−150)+(301−300))/2 = 1.5 → BULLISH
	assert.InDelta(t, 1.5, stats.Trend, 1e-9)
	assert.Equal(t, "BULLISH", stats.Sentiment)
}

func TestMarketStatsNeutralWithinBand(t *testing.T) {
	f := newAnalytics(t)
	f.seedStock(t, "AAPL", 150.2, 150)

	stats, err := f.svc.MarketStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NEUTRAL", stats.Sentiment)
}

func TestInvestorPerformance(t *testing.T) {
	f := newAnalytics(t)
	now := time.Now()
	f.seedStock(t, "AAPL", 140, 150)

	// 买 10@100、买 10@200（均摊 150），卖 10@250 → 已实现 +1000
	record(t, f, "e1", "AAPL", 10, 100, "X", "Z", now.Add(-3*time.Minute))
	record(t, f, "e2", "AAPL", 10, 200, "X", "Z", now.Add(-2*time.Minute))
	record(t, f, "e3", "AAPL", 10, 250, "Z", "X", now.Add(-time.Minute))

	perf, err := f.svc.InvestorPerformance(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, 3, perf.TradeCount)
	assert.True(t, perf.RealizedPnL.Equal(decimal.NewFromInt(1000)), perf.RealizedPnL.String())
	// 剩余 10@150，现价 140 → 未实现 −100
	assert.True(t, perf.UnrealizedPnL.Equal(decimal.NewFromInt(-100)), perf.UnrealizedPnL.String())
	assert.Equal(t, 1.0, perf.WinRate)
	assert.Equal(t, "LOW", perf.RiskLevel)
	require.Len(t, perf.Symbols, 1)
	assert.Equal(t, int64(10), perf.Symbols[0].PositionQty)
	assert.True(t, perf.Symbols[0].AvgCost.Equal(decimal.NewFromInt(150)))
}

func TestInvestorPerformanceRiskBands(t *testing.T) {
	f := newAnalytics(t)
	now := time.Now()
	f.seedStock(t, "AAPL", 150, 150)

	// 单笔名义 15000 → HIGH
	record(t, f, "big", "AAPL", 100, 150, "whale", "Z", now)
	perf, err := f.svc.InvestorPerformance(context.Background(), "whale")
	require.NoError(t, err)
	assert.Equal(t, "HIGH", perf.RiskLevel)

	_, err = f.svc.InvestorPerformance(context.Background(), "nobody")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestPredictPriceLinearTrend(t *testing.T) {
	f := newAnalytics(t)
	f.seedStock(t, "AAPL", 169, 150)
	// 严格线性上升：R² = 1，置信度 100
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 150 + float64(i)
	}
	f.seedHistory(t, "AAPL", prices, time.Minute)

	pred, err := f.svc.PredictPrice(context.Background(), "AAPL", 120)
	require.NoError(t, err)
	assert.Equal(t, "UP", pred.Trend)
	assert.InDelta(t, 100, pred.Confidence, 1e-6)
	// 斜率 1/点，外推 2 步：169 + 2 = 171
	assert.True(t, pred.Predicted.Equal(decimal.NewFromInt(171)), pred.Predicted.String())
}

func TestPredictPriceGuards(t *testing.T) {
	f := newAnalytics(t)
	ctx := context.Background()

	_, err := f.svc.PredictPrice(ctx, "NOPE", 60)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	f.seedStock(t, "AAPL", 150, 150)
	_, err = f.svc.PredictPrice(ctx, "AAPL", 60)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.seedHistory(t, "AAPL", []float64{150, 151, 152}, time.Minute)
	_, err = f.svc.PredictPrice(ctx, "AAPL", 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTradingVolumeBuckets(t *testing.T) {
	f := newAnalytics(t)
	start := time.Now().Add(-time.Hour).Truncate(time.Minute)

	record(t, f, "e1", "AAPL", 10, 150, "A", "B", start.Add(30*time.Second))
	record(t, f, "e2", "AAPL", 20, 151, "A", "B", start.Add(45*time.Second))
	// 中间一个空桶
	record(t, f, "e3", "AAPL", 5, 152, "C", "B", start.Add(2*time.Minute+10*time.Second))

	buckets, err := f.svc.TradingVolume(context.Background(), "AAPL",
		start, start.Add(10*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.Equal(t, start, buckets[0].Ts)
	assert.Equal(t, int64(30), buckets[0].Volume)
	assert.Equal(t, int64(2), buckets[0].Count)
	// (10·150 + 20·151) / 30 = 150.6667
	assert.True(t, buckets[0].AvgPrice.Equal(decimal.RequireFromString("150.6667")), buckets[0].AvgPrice.String())

	assert.Equal(t, start.Add(2*time.Minute), buckets[1].Ts)
	assert.Equal(t, int64(5), buckets[1].Volume)
}

func TestTradingVolumeValidation(t *testing.T) {
	f := newAnalytics(t)
	now := time.Now()

	_, err := f.svc.TradingVolume(context.Background(), "AAPL", now, now.Add(time.Hour), 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.TradingVolume(context.Background(), "AAPL", now, now.Add(-time.Hour), time.Minute)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
