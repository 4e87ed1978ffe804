// Package application 价格引擎应用服务
package application

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockforge/stocksim/internal/pricing/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/syncx"
)

// DefaultVolatility 默认波动系数
const DefaultVolatility = 0.001

// ImpactResting 挂单未立即成交时的盘口压力系数
const ImpactResting = 0.3

// ImpactSettlement 成交结算时的冲击系数
const ImpactSettlement = 1.0

// PricingService 价格引擎。同一标的的价格变更串行化，读操作可并发。
type PricingService struct {
	repo       domain.StockRepository
	bus        *eventbus.Bus
	volatility float64
	locks      *syncx.KeyedMutex
	// 随机抖动源，测试可注入固定值
	randFn func() float64
}

// NewPricingService 创建价格引擎
func NewPricingService(repo domain.StockRepository, bus *eventbus.Bus, volatility float64) *PricingService {
	if volatility <= 0 {
		volatility = DefaultVolatility
	}
	return &PricingService{
		repo:       repo,
		bus:        bus,
		volatility: volatility,
		locks:      syncx.NewKeyedMutex(),
		randFn:     rand.Float64,
	}
}

// InitializeStock 登记标的。重复登记同一 symbol 幂等地返回已有记录。
func (s *PricingService) InitializeStock(ctx context.Context, symbol, name string, price decimal.Decimal) (*domain.Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, apperr.New(apperr.KindValidation, "symbol is required")
	}
	if price.LessThan(domain.MinPrice) {
		return nil, apperr.Newf(apperr.KindValidation, "initial price must be at least %s", domain.MinPrice)
	}

	unlock := s.locks.Lock(symbol)
	defer unlock()

	if existing, err := s.repo.Get(ctx, symbol); err == nil {
		return existing, nil
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	now := time.Now()
	stock := &domain.Stock{
		Symbol:      symbol,
		Name:        name,
		Current:     price,
		Open:        price,
		High:        price,
		Low:         price,
		LastUpdated: now,
	}
	if err := s.repo.Create(ctx, stock); err != nil {
		return nil, err
	}
	if err := s.repo.AppendHistory(ctx, &domain.PricePoint{Symbol: symbol, Price: price, Timestamp: now}); err != nil {
		return nil, err
	}
	logger.Info(ctx, "stock initialized", "symbol", symbol, "price", price)
	return stock, nil
}

// GetPrice 查询单个标的
func (s *PricingService) GetPrice(ctx context.Context, symbol string) (*domain.Stock, error) {
	return s.repo.Get(ctx, strings.ToUpper(symbol))
}

// GetPrices 查询全部标的
func (s *PricingService) GetPrices(ctx context.Context) ([]*domain.Stock, error) {
	return s.repo.List(ctx)
}

// GetPriceHistory 按时间倒序查询价格历史
func (s *PricingService) GetPriceHistory(ctx context.Context, q domain.HistoryQuery) ([]*domain.PricePoint, error) {
	q.Symbol = strings.ToUpper(q.Symbol)
	if _, err := s.repo.Get(ctx, q.Symbol); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, q)
}

// Apply 按成交流调整价格。isBuy 表示买方向压力，impact 取
// ImpactResting（挂单盘口压力）或 ImpactSettlement（成交）。
// 每次调用追加一条价格历史并发布 PRICE_UPDATE。
func (s *PricingService) Apply(ctx context.Context, symbol string, qty int64, isBuy bool, impact float64) (*domain.Stock, error) {
	if qty <= 0 {
		return nil, apperr.New(apperr.KindValidation, "qty must be positive")
	}
	if impact <= 0 {
		impact = ImpactSettlement
	}
	symbol = strings.ToUpper(symbol)

	unlock := s.locks.Lock(symbol)
	defer unlock()

	stock, err := s.repo.Get(ctx, symbol)
	if err != nil {
		return nil, err
	}

	next := domain.NextPrice(stock.Current, s.volatility, qty, isBuy, impact, s.randFn())
	now := time.Now()
	stock.SetPrice(next, now)
	if impact >= ImpactSettlement {
		stock.Volume += qty
	}

	if err := s.repo.Save(ctx, stock); err != nil {
		return nil, err
	}
	if err := s.repo.AppendHistory(ctx, &domain.PricePoint{Symbol: symbol, Price: stock.Current, Timestamp: now}); err != nil {
		return nil, err
	}

	s.publishTick(stock)
	return stock, nil
}

// UpdatePrice 管理员直接设价
func (s *PricingService) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal) (*domain.Stock, error) {
	if price.LessThan(domain.MinPrice) {
		return nil, apperr.Newf(apperr.KindValidation, "price must be at least %s", domain.MinPrice)
	}
	symbol = strings.ToUpper(symbol)

	unlock := s.locks.Lock(symbol)
	defer unlock()

	stock, err := s.repo.Get(ctx, symbol)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	stock.SetPrice(price, now)
	if err := s.repo.Save(ctx, stock); err != nil {
		return nil, err
	}
	if err := s.repo.AppendHistory(ctx, &domain.PricePoint{Symbol: symbol, Price: stock.Current, Timestamp: now}); err != nil {
		return nil, err
	}
	s.publishTick(stock)
	return stock, nil
}

// ResetDaily 开市重置：每个标的 open=high=low=current
func (s *PricingService) ResetDaily(ctx context.Context) error {
	stocks, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, stock := range stocks {
		unlock := s.locks.Lock(stock.Symbol)
		stock.ResetDaily(now)
		err := s.repo.Save(ctx, stock)
		unlock()
		if err != nil {
			return err
		}
	}
	logger.Info(ctx, "daily price reset done", "stocks", len(stocks))
	return nil
}

func (s *PricingService) publishTick(stock *domain.Stock) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.PriceEvent{
		Kind:      eventbus.KindPriceUpdate,
		Symbol:    stock.Symbol,
		Price:     stock.Current,
		ChangePct: stock.ChangePct(),
		Ts:        stock.LastUpdated,
	})
}
