// Package persistence 撮合引擎侧仓储的 GORM 实现
package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/stockforge/stocksim/internal/market/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
)

// OrderRepository 基于共享 sqlite 文件的订单/成交仓储
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建仓储并迁移撮合引擎拥有的表
func NewOrderRepository(db *gorm.DB) (*OrderRepository, error) {
	if err := db.AutoMigrate(&domain.Order{}, &domain.Execution{}); err != nil {
		return nil, fmt.Errorf("migrate market tables: %w", err)
	}
	return &OrderRepository{db: db}, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, o *domain.Order) error {
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Newf(apperr.KindConflict, "order %s already exists", o.OrderID)
		}
		return fmt.Errorf("create order %s: %w", o.OrderID, err)
	}
	return nil
}

func (r *OrderRepository) SaveOrder(ctx context.Context, o *domain.Order) error {
	if err := r.db.WithContext(ctx).Save(o).Error; err != nil {
		return fmt.Errorf("save order %s: %w", o.OrderID, err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var o domain.Order
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.KindNotFound, "order %s not found", orderID)
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return &o, nil
}

func (r *OrderRepository) OpenOrders(ctx context.Context) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.Status{domain.StatusPending, domain.StatusPartiallyFilled}).
		Order("arrival_seq asc").Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("load open orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) CreateExecution(ctx context.Context, e *domain.Execution) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Newf(apperr.KindConflict, "execution %s already exists", e.ExecutionID)
		}
		return fmt.Errorf("create execution %s: %w", e.ExecutionID, err)
	}
	return nil
}

func (r *OrderRepository) SaveExecution(ctx context.Context, e *domain.Execution) error {
	if err := r.db.WithContext(ctx).Save(e).Error; err != nil {
		return fmt.Errorf("save execution %s: %w", e.ExecutionID, err)
	}
	return nil
}

func (r *OrderRepository) ExecutionsForOrder(ctx context.Context, orderID string) ([]*domain.Execution, error) {
	var execs []*domain.Execution
	err := r.db.WithContext(ctx).
		Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("ts asc, id asc").Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("executions for order %s: %w", orderID, err)
	}
	return execs, nil
}
