// Package persistence 分析服务仓储的 GORM 实现
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stockforge/stocksim/internal/analytics/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
)

// TradeRepository 成交镜像仓储。stocks 与 price_history 表归价格引擎所有，
// 这里只做跨属主只读查询。
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository 创建仓储并迁移分析服务拥有的表
func NewTradeRepository(db *gorm.DB) (*TradeRepository, error) {
	if err := db.AutoMigrate(&domain.Trade{}); err != nil {
		return nil, fmt.Errorf("migrate analytics tables: %w", err)
	}
	return &TradeRepository{db: db}, nil
}

func (r *TradeRepository) Append(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(trades).Error; err != nil {
		return fmt.Errorf("append analytics trades: %w", err)
	}
	return nil
}

func (r *TradeRepository) HasExecution(ctx context.Context, executionID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Trade{}).
		Where("execution_id = ?", executionID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check execution %s: %w", executionID, err)
	}
	return n > 0, nil
}

func (r *TradeRepository) TopTraded(ctx context.Context, since time.Time, limit int) ([]domain.SymbolVolume, error) {
	var out []domain.SymbolVolume
	err := r.db.WithContext(ctx).Model(&domain.Trade{}).
		Select("symbol, SUM(qty) AS volume, COUNT(*) AS trades").
		Where("side = ? AND timestamp >= ?", "BUY", since).
		Group("symbol").
		Order("volume DESC, trades DESC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("rank top traded: %w", err)
	}
	return out, nil
}

func (r *TradeRepository) Trades(ctx context.Context, q domain.TradeQuery) ([]*domain.Trade, error) {
	tx := r.db.WithContext(ctx).Model(&domain.Trade{})
	if q.Symbol != "" {
		tx = tx.Where("symbol = ?", q.Symbol)
	}
	if q.Investor != "" {
		tx = tx.Where("investor = ?", q.Investor)
	}
	if q.Side != "" {
		tx = tx.Where("side = ?", q.Side)
	}
	if !q.Start.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Start)
	}
	if !q.End.IsZero() {
		tx = tx.Where("timestamp <= ?", q.End)
	}
	var trades []*domain.Trade
	if err := tx.Order("timestamp asc, id asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("query analytics trades: %w", err)
	}
	return trades, nil
}

func (r *TradeRepository) TotalsSince(ctx context.Context, since time.Time) (int64, int64, error) {
	var row struct {
		Trades int64
		Volume int64
	}
	err := r.db.WithContext(ctx).Model(&domain.Trade{}).
		Select("COUNT(*) AS trades, COALESCE(SUM(qty), 0) AS volume").
		Where("side = ? AND timestamp >= ?", "BUY", since).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("aggregate trade totals: %w", err)
	}
	return row.Trades, row.Volume, nil
}

func (r *TradeRepository) DistinctSince(ctx context.Context, since time.Time) (int64, int64, error) {
	var investors, symbols int64
	err := r.db.WithContext(ctx).Model(&domain.Trade{}).
		Where("timestamp >= ?", since).
		Distinct("investor").Count(&investors).Error
	if err != nil {
		return 0, 0, fmt.Errorf("count distinct investors: %w", err)
	}
	err = r.db.WithContext(ctx).Model(&domain.Trade{}).
		Where("timestamp >= ?", since).
		Distinct("symbol").Count(&symbols).Error
	if err != nil {
		return 0, 0, fmt.Errorf("count distinct symbols: %w", err)
	}
	return investors, symbols, nil
}

func (r *TradeRepository) Quotes(ctx context.Context) ([]domain.StockQuote, error) {
	var out []domain.StockQuote
	err := r.db.WithContext(ctx).Table("stocks").
		Select("symbol, current, open").
		Where("deleted_at IS NULL").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("read stock quotes: %w", err)
	}
	return out, nil
}

func (r *TradeRepository) Quote(ctx context.Context, symbol string) (*domain.StockQuote, error) {
	var q domain.StockQuote
	err := r.db.WithContext(ctx).Table("stocks").
		Select("symbol, current, open").
		Where("symbol = ? AND deleted_at IS NULL", symbol).
		Take(&q).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.KindNotFound, "stock %s not found", symbol)
		}
		return nil, fmt.Errorf("read quote %s: %w", symbol, err)
	}
	return &q, nil
}

func (r *TradeRepository) HistorySince(ctx context.Context, since time.Time) ([]domain.PriceSample, error) {
	var out []domain.PriceSample
	err := r.db.WithContext(ctx).Table("price_history").
		Select("symbol, price, timestamp").
		Where("timestamp >= ? AND deleted_at IS NULL", since).
		Order("timestamp asc, id asc").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("read price history window: %w", err)
	}
	return out, nil
}

func (r *TradeRepository) LastPrices(ctx context.Context, symbol string, n int) ([]domain.PriceSample, error) {
	var recent []domain.PriceSample
	err := r.db.WithContext(ctx).Table("price_history").
		Select("symbol, price, timestamp").
		Where("symbol = ? AND deleted_at IS NULL", symbol).
		Order("timestamp desc, id desc").
		Limit(n).
		Scan(&recent).Error
	if err != nil {
		return nil, fmt.Errorf("read last prices %s: %w", symbol, err)
	}
	// 查询按新到旧取最近 n 条，回归拟合要求时间升序
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}
