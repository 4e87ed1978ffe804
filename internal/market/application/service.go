package application

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockforge/stocksim/internal/market/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/metrics"
)

// ImpactResting 未立即成交的余量对价格施加的挂单压力系数
const ImpactResting = 0.3

// MarketService 市场服务门面：下单、撤单、查单、深度与市场状态
type MarketService struct {
	orders    domain.OrderRepository
	engine    *Engine
	portfolio PortfolioGateway
	pricing   PricingGateway
	metrics   *metrics.Metrics

	stateMu sync.RWMutex
	state   domain.MarketState
}

// NewMarketService 创建市场服务，初始为开市状态
func NewMarketService(orders domain.OrderRepository, engine *Engine, portfolio PortfolioGateway, pricing PricingGateway, m *metrics.Metrics) *MarketService {
	return &MarketService{
		orders:    orders,
		engine:    engine,
		portfolio: portfolio,
		pricing:   pricing,
		metrics:   m,
		state:     domain.MarketOpen,
	}
}

// PlaceOrderReq 下单请求。OrderID 可由客户端提供以实现幂等重试，
// 留空时由服务端生成；LimitPrice 为零表示市价单。
type PlaceOrderReq struct {
	OrderID    string          `json:"order_id"`
	InvestorID string          `json:"investor_id" binding:"required"`
	Symbol     string          `json:"symbol" binding:"required"`
	Side       string          `json:"side" binding:"required"`
	Qty        int64           `json:"qty" binding:"required"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// PlaceOrder 下单。预检失败的订单以 REJECTED 落库但不发布任何事件；
// 通过预检的订单立即进入撮合，返回时反映撮合后的状态。
// 未立即吃完的余量作为挂单压力驱动一次弱价格调整。
func (s *MarketService) PlaceOrder(ctx context.Context, req PlaceOrderReq) (*domain.Order, error) {
	if state := s.MarketState(); state != domain.MarketOpen {
		s.countOrder("rejected_closed")
		return nil, apperr.Newf(apperr.KindMarketClosed, "market is %s", state)
	}

	side := domain.Side(strings.ToUpper(req.Side))
	if !side.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "invalid side %q", req.Side)
	}
	if req.Qty <= 0 {
		return nil, apperr.New(apperr.KindValidation, "qty must be positive")
	}
	if req.LimitPrice.IsNegative() {
		return nil, apperr.New(apperr.KindValidation, "limit price must not be negative")
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, apperr.New(apperr.KindValidation, "symbol is required")
	}

	// 幂等：客户端携带的 order_id 重复时返回既有订单
	if req.OrderID != "" {
		if existing, err := s.orders.GetOrder(ctx, req.OrderID); err == nil {
			return existing, nil
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
	}

	// 未知标的直接拒绝，不落订单行
	if _, err := s.pricing.GetPrice(ctx, symbol); err != nil {
		return nil, err
	}

	o := &domain.Order{
		OrderID:    req.OrderID,
		InvestorID: req.InvestorID,
		Symbol:     symbol,
		Side:       side,
		Qty:        req.Qty,
		LimitPrice: req.LimitPrice.Round(4),
		Status:     domain.StatusPending,
	}
	if o.OrderID == "" {
		o.OrderID = uuid.NewString()
	}

	if err := s.portfolio.ValidateOrder(ctx, o.InvestorID, symbol, string(side), o.Qty, o.LimitPrice); err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindInsufficientFunds, apperr.KindInsufficientShares, apperr.KindNotFound, apperr.KindValidation:
			o.Status = domain.StatusRejected
			if perr := s.orders.CreateOrder(ctx, o); perr != nil {
				logger.Error(ctx, "failed to persist rejected order", "order_id", o.OrderID, "error", perr)
			}
			s.countOrder("rejected")
		}
		return nil, err
	}

	if err := s.orders.CreateOrder(ctx, o); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			// 与并发重试竞争落库：返回先到者
			return s.orders.GetOrder(ctx, o.OrderID)
		}
		return nil, err
	}

	if err := s.engine.Admit(ctx, o); err != nil {
		return nil, err
	}
	s.countOrder("accepted")

	if rest := o.Remaining(); rest > 0 {
		if err := s.pricing.Apply(ctx, symbol, rest, side == domain.SideBuy, ImpactResting); err != nil {
			logger.Warn(ctx, "resting pressure not applied", "symbol", symbol, "error", err)
		}
	}
	return o, nil
}

// CancelOrder 撤单。停牌与闭市期间同样允许撤单。
func (s *MarketService) CancelOrder(ctx context.Context, orderID, investorID string) (*domain.Order, error) {
	o, err := s.engine.Cancel(ctx, orderID, investorID)
	if err != nil {
		return nil, err
	}
	s.countOrder("canceled")
	return o, nil
}

// OrderStatusView 订单状态视图
type OrderStatusView struct {
	OrderID    string              `json:"order_id"`
	InvestorID string              `json:"investor_id"`
	Symbol     string              `json:"symbol"`
	Side       domain.Side         `json:"side"`
	Status     domain.Status       `json:"status"`
	Qty        int64               `json:"qty"`
	Filled     int64               `json:"filled"`
	Remaining  int64               `json:"remaining"`
	LimitPrice decimal.Decimal     `json:"limit_price"`
	AvgPrice   decimal.Decimal     `json:"avg_price"`
	Executions []*domain.Execution `json:"executions"`
}

// GetOrderStatus 查询订单与其全部成交，均价按成交额加权
func (s *MarketService) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatusView, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	execs, err := s.orders.ExecutionsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	avg := decimal.Zero
	if o.Filled > 0 {
		notional := decimal.Zero
		for _, e := range execs {
			notional = notional.Add(e.Price.Mul(decimal.NewFromInt(e.Qty)))
		}
		avg = notional.Div(decimal.NewFromInt(o.Filled)).Round(4)
	}

	return &OrderStatusView{
		OrderID:    o.OrderID,
		InvestorID: o.InvestorID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Status:     o.Status,
		Qty:        o.Qty,
		Filled:     o.Filled,
		Remaining:  o.Remaining(),
		LimitPrice: o.LimitPrice,
		AvgPrice:   avg,
		Executions: execs,
	}, nil
}

// GetOrderBook 标的深度快照。未知标的返回 NOT_FOUND。
func (s *MarketService) GetOrderBook(ctx context.Context, symbol string, maxLevels int) (*domain.Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if _, err := s.pricing.GetPrice(ctx, symbol); err != nil {
		return nil, err
	}
	return s.engine.Depth(ctx, symbol, maxLevels)
}

// MarketState 当前市场状态
func (s *MarketService) MarketState() domain.MarketState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// SetMarketState 切换市场状态
func (s *MarketService) SetMarketState(ctx context.Context, next domain.MarketState) error {
	next = domain.MarketState(strings.ToUpper(string(next)))
	if !next.Valid() {
		return apperr.Newf(apperr.KindValidation, "invalid market state %q", next)
	}
	s.stateMu.Lock()
	prev := s.state
	s.state = next
	s.stateMu.Unlock()
	if prev != next {
		logger.Info(ctx, "market state changed", "from", prev, "to", next)
	}
	return nil
}

func (s *MarketService) countOrder(outcome string) {
	if s.metrics != nil {
		s.metrics.OrdersTotal.WithLabelValues(outcome).Inc()
	}
}
