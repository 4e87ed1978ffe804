package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/stockforge/stocksim/pkg/logger"
)

// Envelope Kafka 消息体，kind 冗余一份便于消费端不解包过滤
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Symbol  string          `json:"symbol,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Ts      time.Time       `json:"ts"`
}

// Forwarder 将总线事件镜像转发到 Kafka topic。
// 它本身只是一个订阅者，溢出被剔除时自动重订阅，不影响发布端。
type Forwarder struct {
	bus    *Bus
	writer *kafka.Writer
}

// NewForwarder 创建 Kafka 事件镜像
func NewForwarder(bus *Bus, brokers []string, topic string) *Forwarder {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &Forwarder{bus: bus, writer: writer}
}

// Run 持续转发直到 ctx 结束
func (f *Forwarder) Run(ctx context.Context) error {
	defer f.writer.Close()

	for {
		sub := f.bus.Subscribe(Filter{})
		if err := f.drain(ctx, sub); err != nil {
			f.bus.Unsubscribe(sub)
			return err
		}
		// 队列溢出被剔除，丢弃积压后重订阅
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn(ctx, "kafka forwarder overflowed, resubscribing")
	}
}

func (f *Forwarder) drain(ctx context.Context, sub *Subscription) error {
	for {
		select {
		case <-ctx.Done():
			f.bus.Unsubscribe(sub)
			return ctx.Err()
		case e, ok := <-sub.C():
			if !ok || e.EventKind() == KindOverflow {
				return nil
			}
			if err := f.forward(ctx, e); err != nil {
				logger.Error(ctx, "kafka forward failed", "kind", e.EventKind(), "error", err)
			}
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	env := Envelope{Kind: e.EventKind(), Symbol: e.EventSymbol(), Payload: payload, Ts: time.Now()}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.EventSymbol()),
		Value: value,
	})
}
