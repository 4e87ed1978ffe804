package application

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stockforge/stocksim/internal/market/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/metrics"
)

// Settlement 结算协调器：对每笔成交依次完成资金/持仓落账、价格调整、
// 分析记录与事件发布。同一标的上，结算在撮合 Worker 内同步完成，
// 下一笔进单前必然已结束。
type Settlement struct {
	orders    domain.OrderRepository
	portfolio PortfolioGateway
	pricing   PricingGateway
	analytics AnalyticsGateway
	bus       *eventbus.Bus
	metrics   *metrics.Metrics
	// 传输类错误的最大重试次数
	maxRetries uint64
}

// NewSettlement 创建结算协调器
func NewSettlement(orders domain.OrderRepository, portfolio PortfolioGateway, pricing PricingGateway, analytics AnalyticsGateway, bus *eventbus.Bus, m *metrics.Metrics) *Settlement {
	return &Settlement{
		orders:     orders,
		portfolio:  portfolio,
		pricing:    pricing,
		analytics:  analytics,
		bus:        bus,
		metrics:    m,
		maxRetries: 2,
	}
}

// Settle 结算一笔成交。资金与持仓双腿由投资者服务在单事务内落账；
// 传输类错误以 execution_id 为幂等键重试，领域错误不重试。
// 任何一步最终失败时，成交被标记 FAILED 并发布 SETTLEMENT_FAILED 补偿事件。
func (s *Settlement) Settle(ctx context.Context, exec *domain.Execution) error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
		}
	}()

	err := s.retry(ctx, func() error {
		return s.portfolio.SettleExecution(ctx, exec.ExecutionID,
			TradeLeg{InvestorID: exec.Buyer, Symbol: exec.Symbol, SignedQty: exec.Qty, Price: exec.Price},
			TradeLeg{InvestorID: exec.Seller, Symbol: exec.Symbol, SignedQty: -exec.Qty, Price: exec.Price},
		)
	})
	if err != nil {
		return s.fail(ctx, exec, err)
	}

	// 攻击方方向决定价格压力：买方攻击推涨，卖方攻击压跌
	if err := s.retry(ctx, func() error {
		return s.pricing.Apply(ctx, exec.Symbol, exec.Qty, exec.BuyerAggressor, 1.0)
	}); err != nil {
		return s.fail(ctx, exec, err)
	}

	if err := s.retry(ctx, func() error {
		return s.analytics.RecordTrade(ctx, TradeRecord{
			ExecutionID: exec.ExecutionID,
			Symbol:      exec.Symbol,
			Qty:         exec.Qty,
			Price:       exec.Price,
			Buyer:       exec.Buyer,
			Seller:      exec.Seller,
			Ts:          exec.Ts,
		})
	}); err != nil {
		return s.fail(ctx, exec, err)
	}

	exec.SettlementStatus = domain.SettlementSettled
	if err := s.orders.SaveExecution(ctx, exec); err != nil {
		return s.fail(ctx, exec, err)
	}

	s.publishExecuted(exec)
	return nil
}

// retry 仅重试传输/内部类错误；封闭分类中的领域错误立即失败
func (s *Settlement) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindDeadlineExceeded:
		return true
	default:
		return false
	}
}

func (s *Settlement) fail(ctx context.Context, exec *domain.Execution, cause error) error {
	logger.Error(ctx, "settlement failed",
		"execution_id", exec.ExecutionID, "symbol", exec.Symbol, "error", cause)
	if s.metrics != nil {
		s.metrics.SettlementFailures.Inc()
	}

	exec.SettlementStatus = domain.SettlementFailed
	if err := s.orders.SaveExecution(ctx, exec); err != nil {
		logger.Error(ctx, "failed to flag execution", "execution_id", exec.ExecutionID, "error", err)
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.GenericEvent{
			Kind:   eventbus.KindSettlementFailed,
			Symbol: exec.Symbol,
			Data: map[string]any{
				"execution_id": exec.ExecutionID,
				"buy_order":    exec.BuyOrderID,
				"sell_order":   exec.SellOrderID,
				"qty":          exec.Qty,
				"price":        exec.Price.String(),
				"reason":       cause.Error(),
			},
			Ts: time.Now(),
		})
	}
	return apperr.Wrap(apperr.KindSettlementFailed, "execution "+exec.ExecutionID, cause)
}

// publishExecuted 买卖双方各发布一条 ORDER_EXECUTED
func (s *Settlement) publishExecuted(exec *domain.Execution) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.MarketEvent{
		Kind:     eventbus.KindOrderExecuted,
		OrderID:  exec.BuyOrderID,
		Symbol:   exec.Symbol,
		Side:     string(domain.SideBuy),
		Qty:      exec.Qty,
		Price:    exec.Price,
		Investor: exec.Buyer,
		Ts:       exec.Ts,
	})
	s.bus.Publish(eventbus.MarketEvent{
		Kind:     eventbus.KindOrderExecuted,
		OrderID:  exec.SellOrderID,
		Symbol:   exec.Symbol,
		Side:     string(domain.SideSell),
		Qty:      exec.Qty,
		Price:    exec.Price,
		Investor: exec.Seller,
		Ts:       exec.Ts,
	})
}
