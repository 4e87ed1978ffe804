package domain

import "context"

// WebhookRepository 订阅与投递日志仓储
type WebhookRepository interface {
	Create(ctx context.Context, w *Webhook) error
	Get(ctx context.Context, webhookID string) (*Webhook, error)
	List(ctx context.Context) ([]*Webhook, error)
	// ListActive 全部启用中的订阅（投递端使用）
	ListActive(ctx context.Context) ([]*Webhook, error)
	Save(ctx context.Context, w *Webhook) error
	Delete(ctx context.Context, webhookID string) error

	AppendDelivery(ctx context.Context, d *Delivery) error
	// Deliveries 某一订阅的投递日志，新到旧
	Deliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error)
}
