// Package persistence 投资者仓储的 GORM 实现
package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/stockforge/stocksim/internal/investor/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
)

// InvestorRepository 基于共享 sqlite 文件的投资者仓储
type InvestorRepository struct {
	db *gorm.DB
}

// NewInvestorRepository 创建仓储并迁移投资者侧拥有的表
func NewInvestorRepository(db *gorm.DB) (*InvestorRepository, error) {
	if err := db.AutoMigrate(&domain.Investor{}, &domain.Holding{}, &domain.Transaction{}); err != nil {
		return nil, fmt.Errorf("migrate investor tables: %w", err)
	}
	return &InvestorRepository{db: db}, nil
}

func (r *InvestorRepository) CreateInvestor(ctx context.Context, inv *domain.Investor) error {
	if err := r.db.WithContext(ctx).Create(inv).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Newf(apperr.KindConflict, "email %s already registered", inv.Email)
		}
		return fmt.Errorf("create investor: %w", err)
	}
	return nil
}

func (r *InvestorRepository) GetInvestor(ctx context.Context, investorID string) (*domain.Investor, error) {
	var inv domain.Investor
	err := r.db.WithContext(ctx).Where("investor_id = ?", investorID).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.KindNotFound, "investor %s not found", investorID)
		}
		return nil, fmt.Errorf("get investor %s: %w", investorID, err)
	}
	return &inv, nil
}

func (r *InvestorRepository) SaveInvestor(ctx context.Context, inv *domain.Investor) error {
	if err := r.db.WithContext(ctx).Save(inv).Error; err != nil {
		return fmt.Errorf("save investor %s: %w", inv.InvestorID, err)
	}
	return nil
}

func (r *InvestorRepository) GetHolding(ctx context.Context, investorID, symbol string) (*domain.Holding, error) {
	var h domain.Holding
	err := r.db.WithContext(ctx).
		Where("investor_id = ? AND symbol = ?", investorID, symbol).First(&h).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.KindNotFound, "no %s holding for investor %s", symbol, investorID)
		}
		return nil, fmt.Errorf("get holding %s/%s: %w", investorID, symbol, err)
	}
	return &h, nil
}

func (r *InvestorRepository) ListHoldings(ctx context.Context, investorID string) ([]*domain.Holding, error) {
	var holdings []*domain.Holding
	err := r.db.WithContext(ctx).
		Where("investor_id = ?", investorID).Order("symbol asc").Find(&holdings).Error
	if err != nil {
		return nil, fmt.Errorf("list holdings %s: %w", investorID, err)
	}
	return holdings, nil
}

func (r *InvestorRepository) SaveHolding(ctx context.Context, h *domain.Holding) error {
	if err := r.db.WithContext(ctx).Save(h).Error; err != nil {
		return fmt.Errorf("save holding %s/%s: %w", h.InvestorID, h.Symbol, err)
	}
	return nil
}

func (r *InvestorRepository) DeleteHolding(ctx context.Context, h *domain.Holding) error {
	if err := r.db.WithContext(ctx).Unscoped().Delete(h).Error; err != nil {
		return fmt.Errorf("delete holding %s/%s: %w", h.InvestorID, h.Symbol, err)
	}
	return nil
}

func (r *InvestorRepository) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Newf(apperr.KindConflict, "transaction %s already recorded", tx.TxID)
		}
		return fmt.Errorf("append transaction %s: %w", tx.TxID, err)
	}
	return nil
}

func (r *InvestorRepository) TransactionExists(ctx context.Context, txID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("tx_id = ?", txID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check transaction %s: %w", txID, err)
	}
	return count > 0, nil
}

func (r *InvestorRepository) Transactions(ctx context.Context, q domain.TxQuery) ([]*domain.Transaction, error) {
	tx := r.db.WithContext(ctx).Where("investor_id = ?", q.InvestorID)
	if q.Start != nil {
		tx = tx.Where("timestamp >= ?", *q.Start)
	}
	if q.End != nil {
		tx = tx.Where("timestamp <= ?", *q.End)
	}
	tx = tx.Order("timestamp desc, id desc")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var records []*domain.Transaction
	if err := tx.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query transactions %s: %w", q.InvestorID, err)
	}
	return records, nil
}

// InTx 在单个存储事务内执行 fn，fn 收到绑定事务的仓储
func (r *InvestorRepository) InTx(ctx context.Context, fn func(repo domain.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&InvestorRepository{db: tx})
	})
}
