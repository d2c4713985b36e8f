// Package metrics 定义订单与库存相关的 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "motoshop"

// Metrics 聚合业务指标。零值指针可安全调用，所有记录方法均为空操作。
type Metrics struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	adjustments     *prometheus.CounterVec
	lowStock        prometheus.Counter
	redemptions     *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	refundAmount    prometheus.Counter
	txRetries       *prometheus.CounterVec
	paymentDuration *prometheus.HistogramVec
	httpDuration    *prometheus.HistogramVec
}

// New 创建指标并注册到独立的 Registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions.",
		}, []string{"from", "to"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_adjustments_total",
			Help:      "Stock adjustments recorded, by reason.",
		}, []string{"reason"}),
		lowStock: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_stock_events_total",
			Help:      "Low-stock events emitted.",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_redemptions_total",
			Help:      "Discount redemption attempts, by result.",
		}, []string{"result"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund attempts, by result.",
		}, []string{"result"}),
		refundAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunded_amount_total",
			Help:      "Sum of succeeded refund amounts.",
		}),
		txRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Transactions retried after a lock conflict, by operation.",
		}, []string{"operation"}),
		paymentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_gateway_duration_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.adjustments,
		m.lowStock,
		m.redemptions,
		m.refunds,
		m.refundAmount,
		m.txRetries,
		m.paymentDuration,
		m.httpDuration,
	)
	return m
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 Registry，测试中用于读取指标
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) StockAdjusted(reason string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(reason).Inc()
}

func (m *Metrics) LowStock() {
	if m == nil {
		return
	}
	m.lowStock.Inc()
}

// DiscountRedemption result: redeemed | exhausted | released
func (m *Metrics) DiscountRedemption(result string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
}

// Refund result: succeeded | rejected | gateway_failed
func (m *Metrics) Refund(result string, amount float64) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(result).Inc()
	if result == "succeeded" {
		m.refundAmount.Add(amount)
	}
}

func (m *Metrics) TxRetry(operation string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(operation).Inc()
}

func (m *Metrics) PaymentCall(operation, result string, seconds float64) {
	if m == nil {
		return
	}
	m.paymentDuration.WithLabelValues(operation, result).Observe(seconds)
}

// HTTPRequest 记录一次 HTTP 请求，route 为路由模板而非原始路径
func (m *Metrics) HTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
