package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"guidy/pkg/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SignatureHeader заголовок с HMAC-SHA256 подписью тела запроса
const SignatureHeader = "X-Guidy-Signature"

const maxBodySize = 1 << 20

// События платежей
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// PaymentStore сохраняет платежи
type PaymentStore interface {
	MarkSucceeded(ctx context.Context, payment *models.Payment) (bool, error)
	MarkFailed(ctx context.Context, payment *models.Payment) error
}

// CommissionRecorder создает реферальное начисление по оплате
type CommissionRecorder interface {
	RecordCommission(ctx context.Context, referredUserID int64, baseAmount decimal.Decimal, paymentReference string) (*models.ReferralEarning, error)
}

// EventMetrics учитывает webhook события
type EventMetrics interface {
	RecordWebhookEvent(event, status string)
}

// PaymentWebhookHandler обрабатывает webhook'и платежных шлюзов
type PaymentWebhookHandler struct {
	payments    PaymentStore
	commissions CommissionRecorder
	metrics     EventMetrics
	logger      *zap.Logger
	secretKey   string
}

// NewPaymentWebhookHandler создает новый обработчик webhook'ов. metrics может быть nil.
func NewPaymentWebhookHandler(payments PaymentStore, commissions CommissionRecorder, metrics EventMetrics, secretKey string, logger *zap.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		payments:    payments,
		commissions: commissions,
		metrics:     metrics,
		logger:      logger,
		secretKey:   secretKey,
	}
}

// PaymentWebhook нормализованное событие от платежного шлюза
type PaymentWebhook struct {
	Event     string          `json:"event"`
	Reference string          `json:"reference"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Gateway   string          `json:"gateway"`
}

func (p *PaymentWebhook) validate() error {
	if p.Reference == "" {
		return errors.New("не указан reference")
	}
	if p.UserID <= 0 {
		return errors.New("не указан user_id")
	}
	if !p.Amount.IsPositive() {
		return errors.New("сумма должна быть положительной")
	}
	if p.Currency == "" {
		return errors.New("не указана валюта")
	}
	if !models.IsValidGateway(p.Gateway) {
		return fmt.Errorf("неизвестный шлюз %q", p.Gateway)
	}
	return nil
}

func (p *PaymentWebhook) payment() *models.Payment {
	return &models.Payment{
		Reference: p.Reference,
		UserID:    p.UserID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Gateway:   p.Gateway,
	}
}

// HandleWebhook обрабатывает входящий webhook
func (h *PaymentWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("получен webhook запрос",
		zap.String("method", r.Method),
		zap.String("url", r.URL.String()),
		zap.String("user_agent", r.UserAgent()))

	// Проверяем метод запроса
	if r.Method != http.MethodPost {
		h.logger.Warn("неверный метод webhook запроса", zap.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Читаем тело запроса
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger.Error("ошибка чтения тела запроса", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	if !h.verifySignature(r.Header.Get(SignatureHeader), body) {
		h.logger.Warn("неверная подпись webhook'а")
		h.recordEvent("unknown", "rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var webhook PaymentWebhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		h.logger.Warn("ошибка парсинга webhook'а", zap.Error(err))
		h.recordEvent("unknown", "rejected")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	h.logger.Info("получен webhook платежа",
		zap.String("event", webhook.Event),
		zap.String("reference", webhook.Reference),
		zap.String("gateway", webhook.Gateway),
		zap.Int64("user_id", webhook.UserID))

	switch webhook.Event {
	case EventPaymentSucceeded, EventPaymentFailed:
		if err := webhook.validate(); err != nil {
			h.logger.Warn("некорректный webhook", zap.Error(err))
			h.recordEvent(webhook.Event, "rejected")
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
	default:
		h.logger.Info("неизвестное событие webhook'а", zap.String("event", webhook.Event))
		h.recordEvent("unknown", "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	if webhook.Event == EventPaymentSucceeded {
		err = h.handlePaymentSucceeded(r.Context(), &webhook)
	} else {
		err = h.handlePaymentFailed(r.Context(), &webhook)
	}
	if err != nil {
		h.logger.Error("ошибка обработки webhook'а",
			zap.String("event", webhook.Event),
			zap.String("reference", webhook.Reference),
			zap.Error(err))
		h.recordEvent(webhook.Event, "error")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.recordEvent(webhook.Event, "ok")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Warn("ошибка записи ответа", zap.Error(err))
	}
}

// handlePaymentSucceeded сохраняет платеж и начисляет комиссию рефереру.
// Начисление вызывается при каждой доставке: уникальный payment_reference
// не дает создать второе, а повторная доставка добирает упавшее.
func (h *PaymentWebhookHandler) handlePaymentSucceeded(ctx context.Context, webhook *PaymentWebhook) error {
	first, err := h.payments.MarkSucceeded(ctx, webhook.payment())
	if err != nil {
		return fmt.Errorf("ошибка сохранения платежа: %w", err)
	}

	earning, err := h.commissions.RecordCommission(ctx, webhook.UserID, webhook.Amount, webhook.Reference)
	if err != nil {
		return fmt.Errorf("ошибка начисления комиссии: %w", err)
	}

	fields := []zap.Field{
		zap.String("reference", webhook.Reference),
		zap.Bool("first_delivery", first),
	}
	if earning != nil {
		fields = append(fields, zap.Int64("earning_id", earning.ID))
	}
	h.logger.Info("платеж успешно обработан", fields...)

	return nil
}

// handlePaymentFailed отмечает неуспешный платеж
func (h *PaymentWebhookHandler) handlePaymentFailed(ctx context.Context, webhook *PaymentWebhook) error {
	if err := h.payments.MarkFailed(ctx, webhook.payment()); err != nil {
		return fmt.Errorf("ошибка сохранения неуспешного платежа: %w", err)
	}
	return nil
}

// verifySignature проверяет подпись webhook'а
func (h *PaymentWebhookHandler) verifySignature(signature string, body []byte) bool {
	if h.secretKey == "" {
		// Если секретный ключ не настроен, пропускаем проверку
		return true
	}

	expected := Sign(h.secretKey, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (h *PaymentWebhookHandler) recordEvent(event, status string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(event, status)
	}
}

// Sign возвращает hex HMAC-SHA256 подпись тела
func Sign(secretKey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
