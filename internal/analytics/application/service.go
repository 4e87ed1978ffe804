// Package application 分析服务：成交镜像记录与统计/预测查询
package application

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/stockforge/stocksim/internal/analytics/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
)

const (
	// 预测回归使用的采样点数
	regressionPoints = 20
	// 情绪与趋势带宽
	sentimentBand = 0.5
	trendBandPct  = 0.5
)

// AnalyticsService 分析服务门面
type AnalyticsService struct {
	repo domain.TradeRepository
	bus  *eventbus.Bus
}

func NewAnalyticsService(repo domain.TradeRepository, bus *eventbus.Bus) *AnalyticsService {
	return &AnalyticsService{repo: repo, bus: bus}
}

// RecordReq 一笔成交的记录请求
type RecordReq struct {
	ExecutionID string          `json:"execution_id" binding:"required"`
	Symbol      string          `json:"symbol" binding:"required"`
	Qty         int64           `json:"qty" binding:"required"`
	Price       decimal.Decimal `json:"price" binding:"required"`
	Buyer       string          `json:"buyer" binding:"required"`
	Seller      string          `json:"seller" binding:"required"`
	Ts          time.Time       `json:"ts"`
}

// Record 以买卖双方视角各追加一条镜像，按 execution_id 幂等
func (s *AnalyticsService) Record(ctx context.Context, req RecordReq) error {
	if req.Qty <= 0 {
		return apperr.New(apperr.KindValidation, "qty must be positive")
	}
	if !req.Price.IsPositive() {
		return apperr.New(apperr.KindValidation, "price must be positive")
	}
	exists, err := s.repo.HasExecution(ctx, req.ExecutionID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	ts := req.Ts
	if ts.IsZero() {
		ts = time.Now()
	}
	symbol := strings.ToUpper(req.Symbol)
	return s.repo.Append(ctx, []*domain.Trade{
		{ExecutionID: req.ExecutionID, Symbol: symbol, Investor: req.Buyer, Side: "BUY", Qty: req.Qty, Price: req.Price, Timestamp: ts},
		{ExecutionID: req.ExecutionID, Symbol: symbol, Investor: req.Seller, Side: "SELL", Qty: req.Qty, Price: req.Price, Timestamp: ts},
	})
}

// TopTraded 窗口内成交量排名，并发布 TOP_STOCKS_UPDATED
func (s *AnalyticsService) TopTraded(ctx context.Context, limit int, window time.Duration) ([]domain.SymbolVolume, error) {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	ranked, err := s.repo.TopTraded(ctx, time.Now().Add(-window), limit)
	if err != nil {
		return nil, err
	}
	if s.bus != nil && len(ranked) > 0 {
		s.bus.Publish(eventbus.GenericEvent{
			Kind: eventbus.KindTopStocksUpdated,
			Data: map[string]any{"ranking": ranked},
			Ts:   time.Now(),
		})
	}
	return ranked, nil
}

// MostVolatile 窗口内按 (max−min)/avg·100 的波动率排名
func (s *AnalyticsService) MostVolatile(ctx context.Context, limit int, window time.Duration) ([]domain.VolatilityEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	samples, err := s.repo.HistorySince(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	type acc struct {
		high, low, sum decimal.Decimal
		n              int64
	}
	bySymbol := make(map[string]*acc)
	for _, p := range samples {
		a, ok := bySymbol[p.Symbol]
		if !ok {
			a = &acc{high: p.Price, low: p.Price}
			bySymbol[p.Symbol] = a
		}
		if p.Price.GreaterThan(a.high) {
			a.high = p.Price
		}
		if p.Price.LessThan(a.low) {
			a.low = p.Price
		}
		a.sum = a.sum.Add(p.Price)
		a.n++
	}

	entries := make([]domain.VolatilityEntry, 0, len(bySymbol))
	for symbol, a := range bySymbol {
		avg := a.sum.Div(decimal.NewFromInt(a.n))
		if avg.IsZero() {
			continue
		}
		vol, _ := a.high.Sub(a.low).Div(avg).Mul(decimal.NewFromInt(100)).Float64()
		entries = append(entries, domain.VolatilityEntry{
			Symbol:     symbol,
			High:       a.high,
			Low:        a.low,
			Volatility: vol,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Volatility != entries[j].Volatility {
			return entries[i].Volatility > entries[j].Volatility
		}
		return entries[i].Symbol < entries[j].Symbol
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// MarketStats 近 24 小时总览与市场情绪
func (s *AnalyticsService) MarketStats(ctx context.Context) (*domain.MarketStats, error) {
	since := time.Now().Add(-24 * time.Hour)
	trades, volume, err := s.repo.TotalsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	investors, symbols, err := s.repo.DistinctSince(ctx, since)
	if err != nil {
		return nil, err
	}
	quotes, err := s.repo.Quotes(ctx)
	if err != nil {
		return nil, err
	}

	trend := 0.0
	if len(quotes) > 0 {
		sum := decimal.Zero
		for _, q := range quotes {
			sum = sum.Add(q.Current.Sub(q.Open))
		}
		trend, _ = sum.Div(decimal.NewFromInt(int64(len(quotes)))).Float64()
	}
	sentiment := "NEUTRAL"
	switch {
	case trend > sentimentBand:
		sentiment = "BULLISH"
	case trend < -sentimentBand:
		sentiment = "BEARISH"
	}

	return &domain.MarketStats{
		Trades:    trades,
		Volume:    volume,
		Investors: investors,
		Symbols:   symbols,
		Trend:     trend,
		Sentiment: sentiment,
	}, nil
}

// InvestorPerformance 投资者绩效：均摊成本法的已实现/未实现盈亏、
// 胜率与风险档位
func (s *AnalyticsService) InvestorPerformance(ctx context.Context, investorID string) (*domain.InvestorPerformance, error) {
	trades, err := s.repo.Trades(ctx, domain.TradeQuery{Investor: investorID})
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, apperr.Newf(apperr.KindNotFound, "no trades for investor %s", investorID)
	}

	type position struct {
		qty      int64
		avg      decimal.Decimal
		realized decimal.Decimal
	}
	positions := make(map[string]*position)
	var wins, losses int
	notional := decimal.Zero

	for _, t := range trades {
		notional = notional.Add(t.Price.Mul(decimal.NewFromInt(t.Qty)))
		pos, ok := positions[t.Symbol]
		if !ok {
			pos = &position{}
			positions[t.Symbol] = pos
		}
		if t.Side == "BUY" {
			total := pos.avg.Mul(decimal.NewFromInt(pos.qty)).
				Add(t.Price.Mul(decimal.NewFromInt(t.Qty)))
			pos.qty += t.Qty
			pos.avg = total.Div(decimal.NewFromInt(pos.qty)).Round(4)
			continue
		}
		// 卖出以均摊成本结转已实现盈亏；无对应买入的卖出按零成本计
		qty := t.Qty
		pnl := t.Price.Sub(pos.avg).Mul(decimal.NewFromInt(qty))
		pos.realized = pos.realized.Add(pnl)
		pos.qty -= qty
		if pos.qty <= 0 {
			pos.qty = max(pos.qty, 0)
			pos.avg = decimal.Zero
		}
		if pnl.IsPositive() {
			wins++
		} else if pnl.IsNegative() {
			losses++
		}
	}

	perf := &domain.InvestorPerformance{
		InvestorID:  investorID,
		TradeCount:  len(trades),
		RealizedPnL: decimal.Zero,
	}
	perf.UnrealizedPnL = decimal.Zero
	for symbol, pos := range positions {
		unrealized := decimal.Zero
		if pos.qty > 0 {
			if q, err := s.repo.Quote(ctx, symbol); err == nil {
				unrealized = q.Current.Sub(pos.avg).Mul(decimal.NewFromInt(pos.qty))
			} else if !apperr.Is(err, apperr.KindNotFound) {
				return nil, err
			}
		}
		perf.Symbols = append(perf.Symbols, domain.SymbolPerformance{
			Symbol:        symbol,
			RealizedPnL:   pos.realized,
			UnrealizedPnL: unrealized,
			PositionQty:   pos.qty,
			AvgCost:       pos.avg,
		})
		perf.RealizedPnL = perf.RealizedPnL.Add(pos.realized)
		perf.UnrealizedPnL = perf.UnrealizedPnL.Add(unrealized)
	}
	sort.Slice(perf.Symbols, func(i, j int) bool {
		return perf.Symbols[i].Symbol < perf.Symbols[j].Symbol
	})

	if wins+losses > 0 {
		perf.WinRate = float64(wins) / float64(wins+losses)
	}
	avgTrade, _ := notional.Div(decimal.NewFromInt(int64(len(trades)))).Float64()
	switch {
	case avgTrade >= 10000 || len(trades) > 50:
		perf.RiskLevel = "HIGH"
	case avgTrade >= 5000 || len(trades) > 20:
		perf.RiskLevel = "MEDIUM"
	default:
		perf.RiskLevel = "LOW"
	}
	return perf, nil
}

// PredictPrice 基于最近价格采样的线性回归外推，置信度取 R²
func (s *AnalyticsService) PredictPrice(ctx context.Context, symbol string, horizonMin int) (*domain.Prediction, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if horizonMin <= 0 {
		return nil, apperr.New(apperr.KindValidation, "horizon must be positive")
	}
	quote, err := s.repo.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	samples, err := s.repo.LastPrices(ctx, symbol, regressionPoints)
	if err != nil {
		return nil, err
	}
	if len(samples) < 2 {
		return nil, apperr.Newf(apperr.KindValidation, "not enough price history for %s", symbol)
	}

	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, p := range samples {
		xs[i] = float64(i)
		ys[i], _ = p.Price.Float64()
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)
	if math.IsNaN(r2) {
		r2 = 0
	}

	steps := float64(horizonMin) / 60.0
	predicted := alpha + beta*(float64(len(samples)-1)+steps)
	if predicted < 0.01 {
		predicted = 0.01
	}

	confidence := r2 * 100
	confidence = math.Max(0, math.Min(confidence, 100))

	current, _ := quote.Current.Float64()
	trend := "STABLE"
	if current > 0 {
		changePct := (predicted - current) / current * 100
		switch {
		case changePct > trendBandPct:
			trend = "UP"
		case changePct < -trendBandPct:
			trend = "DOWN"
		}
	}

	pred := &domain.Prediction{
		Symbol:     symbol,
		Current:    quote.Current,
		Predicted:  decimal.NewFromFloat(predicted).Round(4),
		HorizonMin: horizonMin,
		Confidence: confidence,
		Trend:      trend,
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.GenericEvent{
			Kind:   eventbus.KindPredictionAvailable,
			Symbol: symbol,
			Data: map[string]any{
				"predicted":  pred.Predicted.String(),
				"confidence": pred.Confidence,
				"trend":      pred.Trend,
			},
			Ts: time.Now(),
		})
	}
	logger.Debug(ctx, "price predicted",
		"symbol", symbol, "predicted", pred.Predicted, "confidence", confidence)
	return pred, nil
}

// TradingVolume 按固定区间聚合成交量，只返回非空桶
func (s *AnalyticsService) TradingVolume(ctx context.Context, symbol string, start, end time.Time, interval time.Duration) ([]domain.VolumeBucket, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if interval <= 0 {
		return nil, apperr.New(apperr.KindValidation, "interval must be positive")
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}
	if !end.After(start) {
		return nil, apperr.New(apperr.KindValidation, "end must be after start")
	}

	trades, err := s.repo.Trades(ctx, domain.TradeQuery{
		Symbol: symbol, Side: "BUY", Start: start, End: end,
	})
	if err != nil {
		return nil, err
	}

	type bucket struct {
		volume   int64
		count    int64
		notional decimal.Decimal
	}
	buckets := make(map[int64]*bucket)
	for _, t := range trades {
		idx := int64(t.Timestamp.Sub(start) / interval)
		b, ok := buckets[idx]
		if !ok {
			b = &bucket{}
			buckets[idx] = b
		}
		b.volume += t.Qty
		b.count++
		b.notional = b.notional.Add(t.Price.Mul(decimal.NewFromInt(t.Qty)))
	}

	indexes := make([]int64, 0, len(buckets))
	for idx := range buckets {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	out := make([]domain.VolumeBucket, 0, len(indexes))
	for _, idx := range indexes {
		b := buckets[idx]
		out = append(out, domain.VolumeBucket{
			Ts:       start.Add(time.Duration(idx) * interval),
			Volume:   b.volume,
			Count:    b.count,
			AvgPrice: b.notional.Div(decimal.NewFromInt(b.volume)).Round(4),
		})
	}
	return out, nil
}
