package metrics

import (
	"net/http"
	"sync"
	"time"

	"guidy/internal/commission"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Metrics содержит все метрики реферальной программы
type Metrics struct {
	logger   *zap.Logger
	gatherer prometheus.Gatherer

	// Счетчики
	commissionPayouts *prometheus.CounterVec
	earningsCreated   *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	walletCredited    prometheus.Counter

	// Гистограммы
	batchDuration prometheus.Histogram

	// Gauge метрики
	pendingEarnings prometheus.Gauge

	// Мьютекс для thread-safety
	mu sync.RWMutex
}

// New создает метрики в глобальном реестре Prometheus
func New(logger *zap.Logger) *Metrics {
	return NewWithRegistry(logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry создает метрики в переданном реестре
func NewWithRegistry(logger *zap.Logger, registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		logger:   logger,
		gatherer: gatherer,

		// Счетчики выплат
		commissionPayouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_payouts_total",
				Help: "Количество обработанных начислений по результату",
			},
			[]string{"status"}, // paid, failed, skipped
		),

		// Счетчики новых начислений
		earningsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_earnings_created_total",
				Help: "Количество созданных реферальных начислений",
			},
			[]string{"level"}, // ARGENT, OR, DIAMANT
		),

		// Счетчики webhook событий
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhook_events_total",
				Help: "Количество webhook событий платежных шлюзов",
			},
			[]string{"event", "status"}, // status: ok, rejected, error
		),

		walletCredited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_credited_amount_total",
				Help: "Сумма, зачисленная в кошельки",
			},
		),

		// Гистограмма длительности прохода
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "commission_batch_duration_seconds",
				Help:    "Длительность прохода выплаты комиссий в секундах",
				Buckets: prometheus.DefBuckets,
			},
		),

		pendingEarnings: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "commission_pending_earnings",
				Help: "Начисления, оставшиеся в pending после последнего прохода",
			},
		),
	}

	// Регистрируем все метрики
	registerer.MustRegister(
		m.commissionPayouts,
		m.earningsCreated,
		m.webhookEvents,
		m.walletCredited,
		m.batchDuration,
		m.pendingEarnings,
	)

	return m
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var counter *prometheus.CounterVec

	switch name {
	case "commission_payouts_total":
		counter = m.commissionPayouts
	case "referral_earnings_created_total":
		counter = m.earningsCreated
	case "payment_webhook_events_total":
		counter = m.webhookEvents
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
		return
	}

	counter.WithLabelValues(labels...).Inc()
	m.logger.Debug("метрика увеличена", zap.String("metric", name), zap.Strings("labels", labels))
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "commission_pending_earnings":
		m.pendingEarnings.Set(value)
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
		return
	}

	m.logger.Debug("метрика установлена", zap.String("metric", name), zap.Float64("value", value))
}

// ObserveHistogram добавляет наблюдение в гистограмму
func (m *Metrics) ObserveHistogram(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "commission_batch_duration_seconds":
		m.batchDuration.Observe(value)
	default:
		m.logger.Error("неизвестная гистограмма", zap.String("name", name))
		return
	}

	m.logger.Debug("гистограмма обновлена", zap.String("metric", name), zap.Float64("value", value))
}

// RecordPayout записывает результат обработки начисления
func (m *Metrics) RecordPayout(status commission.OutcomeStatus, amount decimal.Decimal) {
	m.IncrementCounter("commission_payouts_total", string(status))

	if status == commission.OutcomePaid {
		credited, _ := amount.Float64()
		m.walletCredited.Add(credited)
	}
}

// ObserveBatch записывает длительность прохода и остаток pending
func (m *Metrics) ObserveBatch(duration time.Duration, pending int) {
	m.ObserveHistogram("commission_batch_duration_seconds", duration.Seconds())
	m.SetGauge("commission_pending_earnings", float64(pending))
}

// RecordEarningCreated записывает новое начисление
func (m *Metrics) RecordEarningCreated(level string, amount decimal.Decimal) {
	m.IncrementCounter("referral_earnings_created_total", level)
}

// RecordWebhookEvent записывает webhook событие
func (m *Metrics) RecordWebhookEvent(event, status string) {
	m.IncrementCounter("payment_webhook_events_total", event, status)
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
