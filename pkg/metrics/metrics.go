// Package metrics 提供 Prometheus 指标集合与 /metrics 暴露端点
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 交易核心指标集合
type Metrics struct {
	registry *prometheus.Registry

	// 接单计数（按结果区分）
	OrdersTotal *prometheus.CounterVec
	// 成交计数
	ExecutionsTotal *prometheus.CounterVec
	// 单笔结算耗时
	SettlementDuration prometheus.Histogram
	// 结算失败计数
	SettlementFailures prometheus.Counter
	// 事件发布计数
	EventsPublished *prometheus.CounterVec
	// 因队列溢出被剔除的订阅者计数
	SubscribersDropped prometheus.Counter
	// Webhook 投递计数（按结果区分）
	WebhookDeliveries *prometheus.CounterVec
}

// New 创建并注册指标集合
func New(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: reg,
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stocksim_orders_total",
			Help:        "Orders received, labelled by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stocksim_executions_total",
			Help:        "Executions produced by the matching engine.",
			ConstLabels: labels,
		}, []string{"symbol"}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "stocksim_settlement_duration_seconds",
			Help:        "Wall time to settle one execution.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		SettlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "stocksim_settlement_failures_total",
			Help:        "Executions flagged SETTLEMENT_FAILED.",
			ConstLabels: labels,
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stocksim_events_published_total",
			Help:        "Events published on the bus, labelled by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "stocksim_subscribers_dropped_total",
			Help:        "Subscribers dropped after queue overflow.",
			ConstLabels: labels,
		}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stocksim_webhook_deliveries_total",
			Help:        "Webhook delivery attempts, labelled by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.OrdersTotal,
		m.ExecutionsTotal,
		m.SettlementDuration,
		m.SettlementFailures,
		m.EventsPublished,
		m.SubscribersDropped,
		m.WebhookDeliveries,
	)
	return m
}

// Handler 返回 gin 的 /metrics 处理函数
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
