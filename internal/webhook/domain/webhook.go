// Package domain Webhook 订阅与投递日志的领域模型
package domain

import (
	"time"

	"gorm.io/gorm"

	"github.com/stockforge/stocksim/pkg/eventbus"
)

// Webhook 外部回调订阅。Events 为事件类型集合，"*" 订阅全部。
type Webhook struct {
	gorm.Model
	WebhookID string   `gorm:"column:webhook_id;type:varchar(64);uniqueIndex;not null" json:"webhook_id"`
	URL       string   `gorm:"column:url;type:varchar(512);not null" json:"url"`
	Events    []string `gorm:"column:events;type:text;serializer:json;not null" json:"events"`
	Active    bool     `gorm:"column:active;not null;default:true" json:"active"`
}

func (Webhook) TableName() string { return "webhooks" }

// Matches 事件类型是否命中该订阅
func (w *Webhook) Matches(kind eventbus.Kind) bool {
	if !w.Active {
		return false
	}
	for _, e := range w.Events {
		if e == string(eventbus.KindAll) || e == string(kind) {
			return true
		}
	}
	return false
}

// Delivery 单次投递记录（含全部重试后的最终结果）
type Delivery struct {
	gorm.Model
	WebhookID  string    `gorm:"column:webhook_id;type:varchar(64);index;not null" json:"webhook_id"`
	EventKind  string    `gorm:"column:event_kind;type:varchar(32);not null" json:"event_kind"`
	StatusCode int       `gorm:"column:status_code;not null;default:0" json:"status_code"`
	Success    bool      `gorm:"column:success;not null" json:"success"`
	Attempts   int       `gorm:"column:attempts;not null" json:"attempts"`
	Error      string    `gorm:"column:error;type:varchar(512)" json:"error,omitempty"`
	Ts         time.Time `gorm:"column:ts;not null" json:"ts"`
}

func (Delivery) TableName() string { return "webhook_deliveries" }
