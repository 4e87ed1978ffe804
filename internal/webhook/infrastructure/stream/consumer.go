// Package stream Kafka 镜像流的消费端：独立部署的 webhook 服务
// 不在事件总线进程内时，从镜像 topic 获取事件。
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"

	"github.com/stockforge/stocksim/internal/webhook/application"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
)

// Consumer 消费事件镜像并驱动 webhook 分发
type Consumer struct {
	reader *kafka.Reader
	svc    *application.WebhookService
}

func NewConsumer(brokers []string, topic, groupID string, svc *application.WebhookService) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		svc: svc,
	}
}

// Run 消费循环，ctx 取消后退出。解析失败的消息跳过不阻塞。
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var env eventbus.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			logger.Warn(ctx, "skipping malformed event envelope", "error", err)
			continue
		}
		var data map[string]any
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &data); err != nil {
				logger.Warn(ctx, "skipping malformed event payload", "kind", env.Kind, "error", err)
				continue
			}
		}
		c.svc.Dispatch(ctx, eventbus.GenericEvent{
			Kind:   env.Kind,
			Symbol: env.Symbol,
			Data:   data,
			Ts:     env.Ts,
		})
	}
}
