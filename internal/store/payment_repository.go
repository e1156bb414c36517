package store

import (
	"context"
	"errors"
	"fmt"

	"guidy/pkg/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PaymentRepository интерфейс для работы с платежами за подписку
type PaymentRepository interface {
	MarkSucceeded(ctx context.Context, payment *models.Payment) (bool, error)
	MarkFailed(ctx context.Context, payment *models.Payment) error
}

// PostgresPaymentRepository реализует PaymentRepository для PostgreSQL
type PostgresPaymentRepository struct {
	db     DB
	logger *zap.Logger
}

// NewPaymentRepository создает новый репозиторий платежей
func NewPaymentRepository(db DB, logger *zap.Logger) PaymentRepository {
	return &PostgresPaymentRepository{
		db:     db,
		logger: logger,
	}
}

// MarkSucceeded сохраняет платеж как успешный. Возвращает true, только если
// платеж перешел в succeeded именно этим вызовом (повторный webhook даст false).
func (r *PostgresPaymentRepository) MarkSucceeded(ctx context.Context, payment *models.Payment) (bool, error) {
	query := `
		INSERT INTO payments (reference, user_id, amount, currency, gateway, status, completed_at)
		VALUES ($1, $2, $3, $4, $5, 'succeeded', now())
		ON CONFLICT (reference) DO UPDATE
		SET status = 'succeeded', completed_at = now()
		WHERE payments.status <> 'succeeded'
		RETURNING id, created_at, completed_at`

	err := r.db.QueryRow(
		ctx, query,
		payment.Reference,
		payment.UserID,
		payment.Amount,
		payment.Currency,
		payment.Gateway,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Info("платеж уже был обработан ранее",
				zap.String("reference", payment.Reference))
			return false, nil
		}
		return false, fmt.Errorf("ошибка сохранения платежа: %w", err)
	}

	payment.Status = models.PaymentStatusSucceeded

	r.logger.Info("платеж сохранен в БД",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("user_id", payment.UserID),
		zap.String("reference", payment.Reference),
		zap.String("gateway", payment.Gateway))

	return true, nil
}

// MarkFailed сохраняет неуспешный платеж. Успешный платеж не понижается.
func (r *PostgresPaymentRepository) MarkFailed(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (reference, user_id, amount, currency, gateway, status)
		VALUES ($1, $2, $3, $4, $5, 'failed')
		ON CONFLICT (reference) DO UPDATE
		SET status = 'failed'
		WHERE payments.status = 'pending'`

	_, err := r.db.Exec(
		ctx, query,
		payment.Reference,
		payment.UserID,
		payment.Amount,
		payment.Currency,
		payment.Gateway,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения неуспешного платежа: %w", err)
	}

	r.logger.Info("платеж отмечен как неуспешный",
		zap.String("reference", payment.Reference),
		zap.String("gateway", payment.Gateway))

	return nil
}
