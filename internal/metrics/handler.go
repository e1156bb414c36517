package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Pinger проверяет доступность зависимости сервиса
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler обрабатывает HTTP запросы для метрик
type Handler struct {
	metrics  *Metrics
	database Pinger
	logger   *zap.Logger
}

// NewHandler создает новый обработчик метрик. database может быть nil,
// тогда /health не проверяет базу данных.
func NewHandler(metrics *Metrics, database Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		metrics:  metrics,
		database: database,
		logger:   logger,
	}
}

// MetricsHandler возвращает HTTP handler для Prometheus метрик
func (h *Handler) MetricsHandler() http.Handler {
	return h.metrics.Handler()
}

type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database,omitempty"`
}

// HealthHandler возвращает статус здоровья сервиса; 503, если база недоступна
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Service: "guidy"}
	code := http.StatusOK

	if h.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp.Database = "ok"
		if err := h.database.Ping(ctx); err != nil {
			h.logger.Warn("база данных недоступна", zap.Error(err))
			resp.Status = "unavailable"
			resp.Database = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("ошибка записи ответа health", zap.Error(err))
	}
}
