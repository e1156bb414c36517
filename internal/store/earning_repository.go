package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guidy/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// commissionBatchLockKey ключ advisory lock для пакетной выплаты комиссий
const commissionBatchLockKey int64 = 7421001

// EarningRepository определяет журнал реферальных начислений
type EarningRepository interface {
	Create(ctx context.Context, earning *models.ReferralEarning) error
	ListPending(ctx context.Context) ([]*models.ReferralEarning, error)
	Payout(ctx context.Context, earningID int64) (*models.Payout, error)
	RecordFailure(ctx context.Context, earningID int64, reason string, maxAttempts int) (models.EarningStatus, error)
	TryBatchLock(ctx context.Context) (release func(), acquired bool, err error)
}

// PostgresEarningRepository реализует EarningRepository для PostgreSQL
type PostgresEarningRepository struct {
	db     DB
	logger *zap.Logger
}

// NewEarningRepository создает новый журнал начислений
func NewEarningRepository(db DB, logger *zap.Logger) EarningRepository {
	return &PostgresEarningRepository{
		db:     db,
		logger: logger,
	}
}

const earningColumns = `id, user_id, referred_user_id, payment_reference, amount, commission_rate,
	status, attempts, last_error, created_at, paid_at`

func scanEarning(row pgx.Row) (*models.ReferralEarning, error) {
	earning := &models.ReferralEarning{}
	err := row.Scan(
		&earning.ID,
		&earning.UserID,
		&earning.ReferredUserID,
		&earning.PaymentReference,
		&earning.Amount,
		&earning.CommissionRate,
		&earning.Status,
		&earning.Attempts,
		&earning.LastError,
		&earning.CreatedAt,
		&earning.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	if !earning.Status.IsValid() {
		return nil, fmt.Errorf("неизвестный статус начисления %q", earning.Status)
	}
	return earning, nil
}

// Create добавляет начисление в статусе pending
func (r *PostgresEarningRepository) Create(ctx context.Context, earning *models.ReferralEarning) error {
	query := `
		INSERT INTO referral_earnings (user_id, referred_user_id, payment_reference, amount, commission_rate, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	earning.Status = models.EarningStatusPending

	err := r.db.QueryRow(
		ctx, query,
		earning.UserID,
		earning.ReferredUserID,
		earning.PaymentReference,
		earning.Amount,
		earning.CommissionRate,
		string(earning.Status),
	).Scan(&earning.ID, &earning.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEarning
		}
		return fmt.Errorf("ошибка создания начисления: %w", err)
	}

	r.logger.Info("начисление создано",
		zap.Int64("earning_id", earning.ID),
		zap.Int64("user_id", earning.UserID),
		zap.String("amount", earning.Amount.StringFixed(2)))

	return nil
}

// ListPending возвращает снимок всех начислений в статусе pending
func (r *PostgresEarningRepository) ListPending(ctx context.Context) ([]*models.ReferralEarning, error) {
	query := `SELECT ` + earningColumns + `
		FROM referral_earnings
		WHERE status = 'pending'
		ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения начислений: %w", err)
	}
	defer rows.Close()

	var earnings []*models.ReferralEarning
	for rows.Next() {
		earning, err := scanEarning(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования начисления: %w", err)
		}
		earnings = append(earnings, earning)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения начислений: %w", err)
	}

	return earnings, nil
}

// Payout зачисляет начисление в кошелек владельца в одной транзакции.
// Строки начисления и пользователя блокируются FOR UPDATE, поэтому
// параллельный запуск не может выплатить одно начисление дважды.
func (r *PostgresEarningRepository) Payout(ctx context.Context, earningID int64) (payout *models.Payout, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				r.logger.Error("ошибка отката транзакции",
					zap.Int64("earning_id", earningID),
					zap.Error(rollbackErr))
			}
		}
	}()

	var (
		userID int64
		amount decimal.Decimal
		status models.EarningStatus
	)
	err = tx.QueryRow(ctx, `
		SELECT user_id, amount, status
		FROM referral_earnings
		WHERE id = $1
		FOR UPDATE`, earningID).Scan(&userID, &amount, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEarningNotFound
		}
		return nil, fmt.Errorf("ошибка блокировки начисления: %w", err)
	}
	if status != models.EarningStatusPending {
		return nil, ErrEarningNotPending
	}

	var version int64
	err = tx.QueryRow(ctx, `
		SELECT wallet_version
		FROM users
		WHERE id = $1
		FOR UPDATE`, userID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка блокировки пользователя: %w", err)
	}

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, `
		UPDATE users
		SET wallet_balance = wallet_balance + $2,
		    wallet_version = wallet_version + 1,
		    updated_at = now()
		WHERE id = $1 AND wallet_version = $3
		RETURNING wallet_balance`, userID, amount, version).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("кошелек пользователя %d изменен параллельно", userID)
		}
		return nil, fmt.Errorf("ошибка зачисления в кошелек: %w", err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE referral_earnings
		SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status = 'pending'`, earningID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления статуса начисления: %w", err)
	}
	if result.RowsAffected() != 1 {
		return nil, ErrEarningNotPending
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return &models.Payout{
		EarningID: earningID,
		UserID:    userID,
		Amount:    amount,
		Balance:   balance,
	}, nil
}

// RecordFailure учитывает неудачную попытку выплаты. Когда попытки
// исчерпаны, начисление переходит в терминальный статус failed.
func (r *PostgresEarningRepository) RecordFailure(ctx context.Context, earningID int64, reason string, maxAttempts int) (models.EarningStatus, error) {
	query := `
		UPDATE referral_earnings
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE status END
		WHERE id = $1 AND status = 'pending'
		RETURNING status`

	var status models.EarningStatus
	err := r.db.QueryRow(ctx, query, earningID, reason, maxAttempts).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrEarningNotPending
		}
		return "", fmt.Errorf("ошибка записи неудачной попытки: %w", err)
	}

	if status == models.EarningStatusFailed {
		r.logger.Warn("начисление переведено в failed, нужна ручная проверка",
			zap.Int64("earning_id", earningID),
			zap.String("reason", reason))
	}

	return status, nil
}

// TryBatchLock берет транзакционный advisory lock на время пакетной выплаты.
// Если блокировку держит другой процесс, возвращает acquired=false.
func (r *PostgresEarningRepository) TryBatchLock(ctx context.Context) (func(), bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка начала транзакции блокировки: %w", err)
	}

	var acquired bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, commissionBatchLockKey).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("ошибка получения блокировки: %w", err)
	}

	if !acquired {
		_ = tx.Rollback(ctx)
		return nil, false, nil
	}

	release := func() {
		if err := tx.Rollback(context.Background()); err != nil {
			r.logger.Error("ошибка снятия блокировки выплат", zap.Error(err))
		}
	}

	return release, true, nil
}
