// Package application 投资者服务：开户、余额、持仓、流水与订单预检
package application

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockforge/stocksim/internal/investor/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/syncx"
)

// InvestorService 投资者应用服务。
// 同一投资者的写操作经按键锁串行化，读操作可并发。
type InvestorService struct {
	repo  domain.Repository
	bus   *eventbus.Bus
	locks *syncx.KeyedMutex
}

// NewInvestorService 创建投资者服务
func NewInvestorService(repo domain.Repository, bus *eventbus.Bus) *InvestorService {
	return &InvestorService{repo: repo, bus: bus, locks: syncx.NewKeyedMutex()}
}

// Register 开户。邮箱唯一性冲突返回 CONFLICT。
func (s *InvestorService) Register(ctx context.Context, name, email string, initialBalance decimal.Decimal) (*domain.Investor, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || !strings.Contains(email, "@") {
		return nil, apperr.New(apperr.KindValidation, "name and valid email are required")
	}
	if initialBalance.IsNegative() {
		return nil, apperr.New(apperr.KindValidation, "initial balance must not be negative")
	}

	inv := &domain.Investor{
		InvestorID: uuid.NewString(),
		Name:       name,
		Email:      email,
		Balance:    initialBalance,
	}
	if err := s.repo.CreateInvestor(ctx, inv); err != nil {
		return nil, err
	}
	logger.Info(ctx, "investor registered", "investor_id", inv.InvestorID, "email", email)
	return inv, nil
}

// Get 查询投资者
func (s *InvestorService) Get(ctx context.Context, investorID string) (*domain.Investor, error) {
	return s.repo.GetInvestor(ctx, investorID)
}

// AdjustBalance 调整余额（入金/出金），结果为负时返回 INSUFFICIENT_FUNDS
func (s *InvestorService) AdjustBalance(ctx context.Context, investorID string, amount decimal.Decimal, reason string) (*domain.Investor, error) {
	unlock := s.locks.Lock(investorID)
	defer unlock()

	inv, err := s.repo.GetInvestor(ctx, investorID)
	if err != nil {
		return nil, err
	}
	next := inv.Balance.Add(amount)
	if next.IsNegative() {
		return nil, apperr.Newf(apperr.KindInsufficientFunds,
			"balance %s insufficient for adjustment %s", inv.Balance, amount)
	}
	inv.Balance = next
	if err := s.repo.SaveInvestor(ctx, inv); err != nil {
		return nil, err
	}
	s.publishBalance(inv, reason)
	return inv, nil
}

// GetPortfolio 返回带市值与浮动盈亏的持仓视图，价格由调用方提供
func (s *InvestorService) GetPortfolio(ctx context.Context, investorID string, prices map[string]decimal.Decimal) ([]*domain.PortfolioEntry, error) {
	if _, err := s.repo.GetInvestor(ctx, investorID); err != nil {
		return nil, err
	}
	holdings, err := s.repo.ListHoldings(ctx, investorID)
	if err != nil {
		return nil, err
	}
	entries := make([]*domain.PortfolioEntry, 0, len(holdings))
	for _, h := range holdings {
		entry := &domain.PortfolioEntry{
			Symbol:   h.Symbol,
			Qty:      h.Qty,
			AvgPrice: h.AvgPrice,
		}
		if price, ok := prices[h.Symbol]; ok {
			qty := decimal.NewFromInt(h.Qty)
			entry.CurrentPrice = price
			entry.CurrentValue = price.Mul(qty).Round(4)
			entry.ProfitLoss = price.Sub(h.AvgPrice).Mul(qty).Round(4)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ApplyTrade 落一笔已成交的买卖：现金、持仓、流水一并变更。
// signedQty > 0 买入，< 0 卖出。txID 作为幂等键，重复调用不再生效。
func (s *InvestorService) ApplyTrade(ctx context.Context, investorID, symbol string, signedQty int64, price decimal.Decimal, txID string) error {
	unlock := s.locks.Lock(investorID)
	defer unlock()

	err := s.repo.InTx(ctx, func(repo domain.Repository) error {
		return applyTradeLeg(ctx, repo, investorID, symbol, signedQty, price, txID)
	})
	if err != nil {
		return err
	}
	s.publishTrade(ctx, investorID, symbol, signedQty, price, txID)
	return nil
}

// TradeLeg 结算的一条腿
type TradeLeg struct {
	InvestorID string
	Symbol     string
	// 正数买入，负数卖出
	SignedQty int64
	Price     decimal.Decimal
}

// SettleExecution 将一笔撮合的买卖双腿落账：两腿在同一个存储事务内生效，
// 任何一腿失败则双腿全部回滚。以 executionID 为幂等键，可安全重试。
func (s *InvestorService) SettleExecution(ctx context.Context, executionID string, buy, sell TradeLeg) error {
	if buy.SignedQty <= 0 || sell.SignedQty >= 0 {
		return apperr.New(apperr.KindValidation, "buy leg must be positive and sell leg negative")
	}

	unlock := s.locks.LockAll(buy.InvestorID, sell.InvestorID)
	defer unlock()

	buyTxID := executionID + ":BUY"
	sellTxID := executionID + ":SELL"

	done, err := s.repo.TransactionExists(ctx, buyTxID)
	if err != nil {
		return err
	}
	if done {
		logger.Info(ctx, "execution already settled, skipping", "execution_id", executionID)
		return nil
	}

	err = s.repo.InTx(ctx, func(repo domain.Repository) error {
		if err := applyTradeLeg(ctx, repo, buy.InvestorID, buy.Symbol, buy.SignedQty, buy.Price, buyTxID); err != nil {
			return err
		}
		return applyTradeLeg(ctx, repo, sell.InvestorID, sell.Symbol, sell.SignedQty, sell.Price, sellTxID)
	})
	if err != nil {
		return err
	}

	s.publishTrade(ctx, buy.InvestorID, buy.Symbol, buy.SignedQty, buy.Price, buyTxID)
	s.publishTrade(ctx, sell.InvestorID, sell.Symbol, sell.SignedQty, sell.Price, sellTxID)
	return nil
}

// applyTradeLeg 在给定仓储（通常绑定事务）上落一条腿
func applyTradeLeg(ctx context.Context, repo domain.Repository, investorID, symbol string, signedQty int64, price decimal.Decimal, txID string) error {
	if signedQty == 0 {
		return apperr.New(apperr.KindValidation, "qty must not be zero")
	}
	if price.IsNegative() {
		return apperr.New(apperr.KindValidation, "price must not be negative")
	}
	symbol = strings.ToUpper(symbol)

	if done, err := repo.TransactionExists(ctx, txID); err != nil {
		return err
	} else if done {
		return nil
	}

	inv, err := repo.GetInvestor(ctx, investorID)
	if err != nil {
		return err
	}

	qty := signedQty
	txType := domain.TxTypeBuy
	if signedQty < 0 {
		qty = -signedQty
		txType = domain.TxTypeSell
	}
	total := decimal.NewFromInt(qty).Mul(price).Round(4)

	if txType == domain.TxTypeBuy {
		next := inv.Balance.Sub(total)
		if next.IsNegative() {
			return apperr.Newf(apperr.KindInsufficientFunds,
				"balance %s insufficient for %d %s at %s", inv.Balance, qty, symbol, price)
		}
		inv.Balance = next

		holding, err := repo.GetHolding(ctx, investorID, symbol)
		if apperr.Is(err, apperr.KindNotFound) {
			holding = &domain.Holding{InvestorID: investorID, Symbol: symbol, AvgPrice: decimal.Zero}
		} else if err != nil {
			return err
		}
		holding.ApplyBuy(qty, price)
		if err := repo.SaveHolding(ctx, holding); err != nil {
			return err
		}
	} else {
		holding, err := repo.GetHolding(ctx, investorID, symbol)
		if apperr.Is(err, apperr.KindNotFound) || (err == nil && holding.Qty < qty) {
			return apperr.Newf(apperr.KindInsufficientShares,
				"investor %s holds too few %s shares to sell %d", investorID, symbol, qty)
		} else if err != nil {
			return err
		}
		if remaining := holding.ApplySell(qty); remaining == 0 {
			if err := repo.DeleteHolding(ctx, holding); err != nil {
				return err
			}
		} else if err := repo.SaveHolding(ctx, holding); err != nil {
			return err
		}
		inv.Balance = inv.Balance.Add(total)
	}

	if err := repo.SaveInvestor(ctx, inv); err != nil {
		return err
	}
	return repo.AppendTransaction(ctx, &domain.Transaction{
		TxID:       txID,
		InvestorID: investorID,
		Symbol:     symbol,
		Type:       txType,
		Qty:        qty,
		Price:      price,
		Total:      total,
		Timestamp:  time.Now(),
	})
}

// ValidateOrder 订单预检，只读：买方校验余额，卖方校验持仓
func (s *InvestorService) ValidateOrder(ctx context.Context, investorID, symbol, side string, qty int64, price decimal.Decimal) error {
	if qty <= 0 {
		return apperr.New(apperr.KindValidation, "qty must be positive")
	}
	if price.IsNegative() {
		return apperr.New(apperr.KindValidation, "price must not be negative")
	}
	inv, err := s.repo.GetInvestor(ctx, investorID)
	if err != nil {
		return err
	}

	switch side {
	case domain.TxTypeBuy:
		needed := decimal.NewFromInt(qty).Mul(price)
		if inv.Balance.LessThan(needed) {
			return apperr.Newf(apperr.KindInsufficientFunds,
				"balance %s insufficient for %d %s at %s", inv.Balance, qty, symbol, price)
		}
	case domain.TxTypeSell:
		holding, err := s.repo.GetHolding(ctx, investorID, strings.ToUpper(symbol))
		if apperr.Is(err, apperr.KindNotFound) || (err == nil && holding.Qty < qty) {
			return apperr.Newf(apperr.KindInsufficientShares,
				"investor %s holds too few %s shares to sell %d", investorID, symbol, qty)
		} else if err != nil {
			return err
		}
	default:
		return apperr.Newf(apperr.KindValidation, "invalid side %q", side)
	}
	return nil
}

// Transactions 按时间倒序查询流水
func (s *InvestorService) Transactions(ctx context.Context, q domain.TxQuery) ([]*domain.Transaction, error) {
	if _, err := s.repo.GetInvestor(ctx, q.InvestorID); err != nil {
		return nil, err
	}
	return s.repo.Transactions(ctx, q)
}

func (s *InvestorService) publishBalance(inv *domain.Investor, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.GenericEvent{
		Kind: eventbus.KindBalanceUpdated,
		Data: map[string]any{
			"investor": inv.InvestorID,
			"balance":  inv.Balance.String(),
			"reason":   reason,
		},
		Ts: time.Now(),
	})
}

func (s *InvestorService) publishTrade(ctx context.Context, investorID, symbol string, signedQty int64, price decimal.Decimal, txID string) {
	if s.bus == nil {
		return
	}
	txType := domain.TxTypeBuy
	qty := signedQty
	if signedQty < 0 {
		txType = domain.TxTypeSell
		qty = -signedQty
	}
	s.bus.Publish(eventbus.GenericEvent{
		Kind:   eventbus.KindNewTransaction,
		Symbol: strings.ToUpper(symbol),
		Data: map[string]any{
			"tx_id":    txID,
			"investor": investorID,
			"type":     txType,
			"qty":      qty,
			"price":    price.String(),
		},
		Ts: time.Now(),
	})
}
