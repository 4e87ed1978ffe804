// Package persistence 价格引擎的 GORM 仓储实现
package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/stockforge/stocksim/internal/pricing/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
)

// StockRepository 基于共享 sqlite 文件的标的仓储
type StockRepository struct {
	db *gorm.DB
}

// NewStockRepository 创建仓储并迁移价格引擎拥有的表
func NewStockRepository(db *gorm.DB) (*StockRepository, error) {
	if err := db.AutoMigrate(&domain.Stock{}, &domain.PricePoint{}); err != nil {
		return nil, fmt.Errorf("migrate pricing tables: %w", err)
	}
	return &StockRepository{db: db}, nil
}

func (r *StockRepository) Create(ctx context.Context, stock *domain.Stock) error {
	if err := r.db.WithContext(ctx).Create(stock).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Newf(apperr.KindConflict, "stock %s already exists", stock.Symbol)
		}
		return fmt.Errorf("create stock %s: %w", stock.Symbol, err)
	}
	return nil
}

func (r *StockRepository) Save(ctx context.Context, stock *domain.Stock) error {
	if err := r.db.WithContext(ctx).Save(stock).Error; err != nil {
		return fmt.Errorf("save stock %s: %w", stock.Symbol, err)
	}
	return nil
}

func (r *StockRepository) Get(ctx context.Context, symbol string) (*domain.Stock, error) {
	var stock domain.Stock
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&stock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.KindNotFound, "stock %s not found", symbol)
		}
		return nil, fmt.Errorf("get stock %s: %w", symbol, err)
	}
	return &stock, nil
}

func (r *StockRepository) List(ctx context.Context) ([]*domain.Stock, error) {
	var stocks []*domain.Stock
	if err := r.db.WithContext(ctx).Order("symbol asc").Find(&stocks).Error; err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	return stocks, nil
}

func (r *StockRepository) AppendHistory(ctx context.Context, point *domain.PricePoint) error {
	if err := r.db.WithContext(ctx).Create(point).Error; err != nil {
		return fmt.Errorf("append price history %s: %w", point.Symbol, err)
	}
	return nil
}

func (r *StockRepository) History(ctx context.Context, q domain.HistoryQuery) ([]*domain.PricePoint, error) {
	tx := r.db.WithContext(ctx).Where("symbol = ?", q.Symbol)
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
	var points []*domain.PricePoint
	if err := tx.Find(&points).Error; err != nil {
		return nil, fmt.Errorf("query price history %s: %w", q.Symbol, err)
	}
	return points, nil
}
