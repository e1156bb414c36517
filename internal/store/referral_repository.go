package store

import (
	"context"
	"fmt"

	"guidy/pkg/models"

	"go.uber.org/zap"
)

// ReferralRepository определяет интерфейс для работы с уровнями спонсорства
type ReferralRepository interface {
	ListLevels(ctx context.Context) ([]*models.ReferralLevel, error)
	CountLevels(ctx context.Context) (int, error)
	ReplaceLevels(ctx context.Context, levels []*models.ReferralLevel) error
}

// PostgresReferralRepository реализует ReferralRepository для PostgreSQL
type PostgresReferralRepository struct {
	db     DB
	logger *zap.Logger
}

// NewReferralRepository создает новый репозиторий уровней
func NewReferralRepository(db DB, logger *zap.Logger) ReferralRepository {
	return &PostgresReferralRepository{
		db:     db,
		logger: logger,
	}
}

// ListLevels возвращает уровни в порядке возрастания min_referrals
func (r *PostgresReferralRepository) ListLevels(ctx context.Context) ([]*models.ReferralLevel, error) {
	query := `
		SELECT id, name, min_referrals, commission_rate, created_at
		FROM referral_levels
		ORDER BY min_referrals ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уровней: %w", err)
	}
	defer rows.Close()

	var levels []*models.ReferralLevel
	for rows.Next() {
		level := &models.ReferralLevel{}
		err := rows.Scan(
			&level.ID,
			&level.Name,
			&level.MinReferrals,
			&level.CommissionRate,
			&level.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования уровня: %w", err)
		}
		levels = append(levels, level)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения уровней: %w", err)
	}

	return levels, nil
}

// CountLevels возвращает количество уровней в каталоге
func (r *PostgresReferralRepository) CountLevels(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM referral_levels`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета уровней: %w", err)
	}
	return count, nil
}

// ReplaceLevels очищает каталог и записывает новые уровни в одной транзакции.
// При ошибке на любом шаге остается прежний каталог.
func (r *PostgresReferralRepository) ReplaceLevels(ctx context.Context, levels []*models.ReferralLevel) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				r.logger.Error("ошибка отката транзакции", zap.Error(rollbackErr))
			}
		}
	}()

	if _, err = tx.Exec(ctx, `TRUNCATE referral_levels RESTART IDENTITY`); err != nil {
		return fmt.Errorf("ошибка очистки уровней: %w", err)
	}

	query := `
		INSERT INTO referral_levels (name, min_referrals, commission_rate)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	for _, level := range levels {
		err = tx.QueryRow(ctx, query, level.Name, level.MinReferrals, level.CommissionRate).
			Scan(&level.ID, &level.CreatedAt)
		if err != nil {
			return fmt.Errorf("ошибка создания уровня %s: %w", level.Name, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("каталог уровней перезаписан", zap.Int("count", len(levels)))
	return nil
}
