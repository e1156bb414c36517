package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guidy/internal/commission"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(zap.NewNop(), reg, reg)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics(t *testing.T) {
	m := newTestMetrics()

	// Test high-level methods
	m.RecordPayout(commission.OutcomePaid, decimal.NewFromInt(500))
	m.RecordPayout(commission.OutcomePaid, decimal.RequireFromString("1500.5"))
	m.RecordPayout(commission.OutcomeFailed, decimal.NewFromInt(10))
	m.RecordEarningCreated("OR", decimal.NewFromInt(75))
	m.RecordWebhookEvent("payment.succeeded", "ok")
	m.ObserveBatch(1500*time.Millisecond, 4)

	body := scrape(t, m)
	assert.Contains(t, body, `commission_payouts_total{status="paid"} 2`)
	assert.Contains(t, body, `commission_payouts_total{status="failed"} 1`)
	assert.Contains(t, body, `wallet_credited_amount_total 2000.5`)
	assert.Contains(t, body, `referral_earnings_created_total{level="OR"} 1`)
	assert.Contains(t, body, `payment_webhook_events_total{event="payment.succeeded",status="ok"} 1`)
	assert.Contains(t, body, `commission_pending_earnings 4`)
	assert.Contains(t, body, `commission_batch_duration_seconds_count 1`)

	// Неизвестные имена не паникуют
	m.IncrementCounter("unknown_total")
	m.SetGauge("unknown", 1)
	m.ObserveHistogram("unknown", 1)
}

func TestHandlers(t *testing.T) {
	m := newTestMetrics()
	m.RecordPayout(commission.OutcomeSkipped, decimal.Zero)
	h := NewHandler(m, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `commission_payouts_total{status="skipped"} 1`)

	rec = httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"guidy"}`, rec.Body.String())
}

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(ctx context.Context) error {
	return p.err
}

func TestHealthHandlerDatabase(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		code     int
		expected string
	}{
		{"база доступна", nil, http.StatusOK, `{"status":"ok","service":"guidy","database":"ok"}`},
		{"база недоступна", errors.New("connection refused"), http.StatusServiceUnavailable, `{"status":"unavailable","service":"guidy","database":"unavailable"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(newTestMetrics(), fakePinger{err: tt.pingErr}, zap.NewNop())

			rec := httptest.NewRecorder()
			h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.JSONEq(t, tt.expected, rec.Body.String())
		})
	}
}
