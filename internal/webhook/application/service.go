// Package application Webhook 服务：订阅管理与事件投递
package application

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/stockforge/stocksim/internal/webhook/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/metrics"
)

// Options Webhook 服务配置
type Options struct {
	// 单次投递超时
	DeliverTimeout time.Duration
	// 最大投递尝试次数（含首次）
	MaxAttempts int
}

// WebhookService 订阅 CRUD 与事件分发
type WebhookService struct {
	repo    domain.WebhookRepository
	bus     *eventbus.Bus
	client  *resty.Client
	metrics *metrics.Metrics
	opts    Options

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewWebhookService(repo domain.WebhookRepository, bus *eventbus.Bus, m *metrics.Metrics, opts Options) *WebhookService {
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &WebhookService{
		repo:     repo,
		bus:      bus,
		client:   resty.New().SetTimeout(opts.DeliverTimeout).SetHeader("Content-Type", "application/json"),
		metrics:  m,
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.Newf(apperr.KindValidation, "invalid webhook url %q", raw)
	}
	return nil
}

func validateEvents(events []string) error {
	if len(events) == 0 {
		return apperr.New(apperr.KindValidation, "events must not be empty")
	}
	for _, e := range events {
		if !eventbus.ValidKind(eventbus.Kind(e)) {
			return apperr.Newf(apperr.KindValidation, "unknown event type %q", e)
		}
	}
	return nil
}

// Create 创建订阅
func (s *WebhookService) Create(ctx context.Context, rawURL string, events []string) (*domain.Webhook, error) {
	if err := validateTarget(rawURL); err != nil {
		return nil, err
	}
	if err := validateEvents(events); err != nil {
		return nil, err
	}
	w := &domain.Webhook{
		WebhookID: uuid.NewString(),
		URL:       rawURL,
		Events:    events,
		Active:    true,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	logger.Info(ctx, "webhook registered", "webhook_id", w.WebhookID, "url", w.URL, "events", events)
	return w, nil
}

// Get 查询订阅
func (s *WebhookService) Get(ctx context.Context, webhookID string) (*domain.Webhook, error) {
	return s.repo.Get(ctx, webhookID)
}

// List 全部订阅
func (s *WebhookService) List(ctx context.Context) ([]*domain.Webhook, error) {
	return s.repo.List(ctx)
}

// UpdateReq 局部更新，nil 字段保持不变
type UpdateReq struct {
	URL    *string   `json:"url"`
	Events *[]string `json:"events"`
	Active *bool     `json:"active"`
}

// Update 局部更新订阅
func (s *WebhookService) Update(ctx context.Context, webhookID string, req UpdateReq) (*domain.Webhook, error) {
	w, err := s.repo.Get(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if req.URL != nil {
		if err := validateTarget(*req.URL); err != nil {
			return nil, err
		}
		w.URL = *req.URL
	}
	if req.Events != nil {
		if err := validateEvents(*req.Events); err != nil {
			return nil, err
		}
		w.Events = *req.Events
	}
	if req.Active != nil {
		w.Active = *req.Active
	}
	if err := s.repo.Save(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Delete 删除订阅
func (s *WebhookService) Delete(ctx context.Context, webhookID string) error {
	return s.repo.Delete(ctx, webhookID)
}

// Deliveries 订阅的投递日志
func (s *WebhookService) Deliveries(ctx context.Context, webhookID string, limit int) ([]*domain.Delivery, error) {
	if _, err := s.repo.Get(ctx, webhookID); err != nil {
		return nil, err
	}
	return s.repo.Deliveries(ctx, webhookID, limit)
}

// EventTypes 可订阅的事件类型目录
func (s *WebhookService) EventTypes() []eventbus.Kind {
	return eventbus.Kinds()
}

// Ingest 外部注入一个事件：校验类型后进入总线，由分发循环送达订阅者
func (s *WebhookService) Ingest(ctx context.Context, kind string, data map[string]any) error {
	k := eventbus.Kind(strings.ToUpper(strings.TrimSpace(kind)))
	if k == eventbus.KindAll || !eventbus.ValidKind(k) {
		return apperr.Newf(apperr.KindValidation, "unknown event type %q", kind)
	}
	symbol := ""
	if v, ok := data["symbol"].(string); ok {
		symbol = v
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.GenericEvent{Kind: k, Symbol: symbol, Data: data, Ts: time.Now()})
	}
	return nil
}

// TestEndpoint 单次投递一条测试事件，不重试、不记日志
func (s *WebhookService) TestEndpoint(ctx context.Context, rawURL string) (int, error) {
	if err := validateTarget(rawURL); err != nil {
		return 0, err
	}
	resp, err := s.client.R().SetContext(ctx).
		SetBody(map[string]any{
			"event_type": "TEST",
			"event_data": map[string]any{"message": "stocksim webhook test"},
			"ts":         time.Now(),
		}).
		Post(rawURL)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "test delivery failed", err)
	}
	return resp.StatusCode(), nil
}

// Dispatch 将一个事件分发给全部命中的启用订阅，逐个订阅并发投递
func (s *WebhookService) Dispatch(ctx context.Context, e eventbus.Event) {
	hooks, err := s.repo.ListActive(ctx)
	if err != nil {
		logger.Error(ctx, "cannot list webhooks for dispatch", "error", err)
		return
	}
	kind := e.EventKind()
	var wg sync.WaitGroup
	for _, hook := range hooks {
		if !hook.Matches(kind) {
			continue
		}
		wg.Add(1)
		go func(h *domain.Webhook) {
			defer wg.Done()
			s.deliver(ctx, h, e)
		}(hook)
	}
	wg.Wait()
}

// deliver 带指数退避重试与端点熔断的单订阅投递，最终结果写入投递日志
func (s *WebhookService) deliver(ctx context.Context, hook *domain.Webhook, e eventbus.Event) {
	body := map[string]any{
		"event_type": e.EventKind(),
		"event_data": e,
		"ts":         time.Now(),
	}

	attempts := 0
	statusCode := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.opts.MaxAttempts-1)), ctx)
	err := backoff.Retry(func() error {
		attempts++
		_, cerr := s.breakerFor(hook.URL).Execute(func() (any, error) {
			resp, rerr := s.client.R().SetContext(ctx).SetBody(body).Post(hook.URL)
			if rerr != nil {
				return nil, rerr
			}
			statusCode = resp.StatusCode()
			if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
				return nil, nil
			}
			return nil, fmt.Errorf("endpoint returned %d", statusCode)
		})
		if cerr == gobreaker.ErrOpenState || cerr == gobreaker.ErrTooManyRequests {
			// 熔断打开时不再消耗剩余重试
			return backoff.Permanent(cerr)
		}
		return cerr
	}, policy)

	d := &domain.Delivery{
		WebhookID:  hook.WebhookID,
		EventKind:  string(e.EventKind()),
		StatusCode: statusCode,
		Success:    err == nil,
		Attempts:   attempts,
		Ts:         time.Now(),
	}
	outcome := "delivered"
	if err != nil {
		d.Error = err.Error()
		outcome = "failed"
		logger.Warn(ctx, "webhook delivery failed",
			"webhook_id", hook.WebhookID, "kind", e.EventKind(), "attempts", attempts, "error", err)
	}
	if s.metrics != nil {
		s.metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
	if perr := s.repo.AppendDelivery(context.WithoutCancel(ctx), d); perr != nil {
		logger.Error(ctx, "cannot record delivery", "webhook_id", hook.WebhookID, "error", perr)
	}
}

func (s *WebhookService) breakerFor(endpoint string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[endpoint]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	s.breakers[endpoint] = cb
	return cb
}

// Run 分发循环：订阅总线全部事件并投递，ctx 取消后退出。
// 自身队列溢出被剔除时重新订阅，丢失的事件不补投。
func (s *WebhookService) Run(ctx context.Context) {
	for {
		sub := s.bus.Subscribe(eventbus.Filter{Kinds: []eventbus.Kind{eventbus.KindAll}})
	drain:
		for {
			select {
			case <-ctx.Done():
				s.bus.Unsubscribe(sub)
				return
			case e, ok := <-sub.C():
				if !ok {
					break drain
				}
				if e.EventKind() == eventbus.KindOverflow {
					logger.Warn(ctx, "webhook dispatcher overflowed, resubscribing")
					break drain
				}
				s.Dispatch(ctx, e)
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
