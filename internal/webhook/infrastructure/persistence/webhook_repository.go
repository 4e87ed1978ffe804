// Package persistence Webhook 仓储的 GORM 实现
package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/stockforge/stocksim/internal/webhook/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
)

// WebhookRepository 订阅与投递日志仓储
type WebhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository 创建仓储并迁移 webhook 服务拥有的表
func NewWebhookRepository(db *gorm.DB) (*WebhookRepository, error) {
	if err := db.AutoMigrate(&domain.Webhook{}, &domain.Delivery{}); err != nil {
		return nil, fmt.Errorf("migrate webhook tables: %w", err)
	}
	return &WebhookRepository{db: db}, nil
}

func (r *WebhookRepository) Create(ctx context.Context, w *domain.Webhook) error {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Newf(apperr.KindConflict, "webhook %s already exists", w.WebhookID)
		}
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepository) Get(ctx context.Context, webhookID string) (*domain.Webhook, error) {
	var w domain.Webhook
	err := r.db.WithContext(ctx).Where("webhook_id = ?", webhookID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.KindNotFound, "webhook %s not found", webhookID)
		}
		return nil, fmt.Errorf("get webhook %s: %w", webhookID, err)
	}
	return &w, nil
}

func (r *WebhookRepository) List(ctx context.Context) ([]*domain.Webhook, error) {
	var hooks []*domain.Webhook
	if err := r.db.WithContext(ctx).Order("id asc").Find(&hooks).Error; err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return hooks, nil
}

func (r *WebhookRepository) ListActive(ctx context.Context) ([]*domain.Webhook, error) {
	var hooks []*domain.Webhook
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("id asc").Find(&hooks).Error
	if err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}
	return hooks, nil
}

func (r *WebhookRepository) Save(ctx context.Context, w *domain.Webhook) error {
	if err := r.db.WithContext(ctx).Save(w).Error; err != nil {
		return fmt.Errorf("save webhook %s: %w", w.WebhookID, err)
	}
	return nil
}

func (r *WebhookRepository) Delete(ctx context.Context, webhookID string) error {
	res := r.db.WithContext(ctx).Where("webhook_id = ?", webhookID).Delete(&domain.Webhook{})
	if res.Error != nil {
		return fmt.Errorf("delete webhook %s: %w", webhookID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.KindNotFound, "webhook %s not found", webhookID)
	}
	return nil
}

func (r *WebhookRepository) AppendDelivery(ctx context.Context, d *domain.Delivery) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("append delivery: %w", err)
	}
	return nil
}

func (r *WebhookRepository) Deliveries(ctx context.Context, webhookID string, limit int) ([]*domain.Delivery, error) {
	tx := r.db.WithContext(ctx).Where("webhook_id = ?", webhookID).Order("ts desc, id desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var out []*domain.Delivery
	if err := tx.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list deliveries %s: %w", webhookID, err)
	}
	return out, nil
}
