package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.OrderTransition("pending", "paid")
	m.OrderTransition("pending", "paid")
	m.StockAdjusted("sale")
	m.LowStock()
	m.DiscountRedemption("redeemed")
	m.Refund("succeeded", 600)
	m.Refund("rejected", 0)
	m.TxRetry("confirm_payment")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("pending", "paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.adjustments.WithLabelValues("sale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lowStock))
	assert.Equal(t, 600.0, testutil.ToFloat64(m.refundAmount))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refunds.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.txRetries.WithLabelValues("confirm_payment")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderTransition("a", "b")
		m.StockAdjusted("sale")
		m.LowStock()
		m.DiscountRedemption("redeemed")
		m.Refund("succeeded", 1)
		m.TxRetry("x")
		m.PaymentCall("capture", "ok", 0.1)
		m.HTTPRequest("GET", "/healthz", 200, 0.01)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.LowStock()
	m.HTTPRequest(http.MethodPost, "/api/v1/orders/:id/pay", http.StatusPaymentRequired, 0.2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "motoshop_low_stock_events_total 1"))
	assert.Contains(t, rec.Body.String(), `route="/api/v1/orders/:id/pay",status="402"`)
}
