package referral

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"guidy/pkg/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrLevelsExist возвращается, когда каталог уже заполнен и перезапись не подтверждена
var ErrLevelsExist = errors.New("уровни спонсорства уже существуют")

var maxCommissionRate = decimal.NewFromInt(100)

// LevelRepository определяет хранилище каталога уровней
type LevelRepository interface {
	ListLevels(ctx context.Context) ([]*models.ReferralLevel, error)
	CountLevels(ctx context.Context) (int, error)
	ReplaceLevels(ctx context.Context, levels []*models.ReferralLevel) error
}

// DefaultLevels возвращает стандартный набор уровней
func DefaultLevels() []*models.ReferralLevel {
	return []*models.ReferralLevel{
		{Name: "ARGENT", MinReferrals: 0, CommissionRate: decimal.NewFromInt(10)},
		{Name: "OR", MinReferrals: 10, CommissionRate: decimal.NewFromInt(15)},
		{Name: "DIAMANT", MinReferrals: 20, CommissionRate: decimal.NewFromInt(20)},
	}
}

// ValidateLevels проверяет, что уровни упорядочены и не пересекаются
func ValidateLevels(levels []*models.ReferralLevel) error {
	if len(levels) == 0 {
		return fmt.Errorf("каталог уровней пуст")
	}

	for i, level := range levels {
		if level.Name == "" {
			return fmt.Errorf("уровень %d без названия", i)
		}
		if level.MinReferrals < 0 {
			return fmt.Errorf("уровень %s: отрицательный порог рефералов", level.Name)
		}
		if level.CommissionRate.IsNegative() || level.CommissionRate.GreaterThan(maxCommissionRate) {
			return fmt.Errorf("уровень %s: ставка %s вне диапазона 0-100", level.Name, level.CommissionRate)
		}
		if i == 0 {
			continue
		}
		prev := levels[i-1]
		if level.MinReferrals <= prev.MinReferrals {
			return fmt.Errorf("уровень %s: порог %d не больше порога %s", level.Name, level.MinReferrals, prev.Name)
		}
		if level.CommissionRate.LessThan(prev.CommissionRate) {
			return fmt.Errorf("уровень %s: ставка ниже, чем у %s", level.Name, prev.Name)
		}
	}

	return nil
}

// TierFor возвращает уровень с наибольшим порогом, не превышающим count.
// Если ни один уровень не подходит, возвращается самый младший.
func TierFor(levels []*models.ReferralLevel, count int) *models.ReferralLevel {
	if len(levels) == 0 {
		return nil
	}

	sorted := make([]*models.ReferralLevel, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinReferrals < sorted[j].MinReferrals
	})

	tier := sorted[0]
	for _, level := range sorted {
		if level.MinReferrals > count {
			break
		}
		tier = level
	}

	return tier
}

// Catalog управляет каталогом уровней спонсорства
type Catalog struct {
	repo   LevelRepository
	logger *zap.Logger
}

// NewCatalog создает сервис каталога уровней
func NewCatalog(repo LevelRepository, logger *zap.Logger) *Catalog {
	return &Catalog{
		repo:   repo,
		logger: logger,
	}
}

// Levels возвращает текущий каталог
func (c *Catalog) Levels(ctx context.Context) ([]*models.ReferralLevel, error) {
	levels, err := c.repo.ListLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения каталога уровней: %w", err)
	}
	return levels, nil
}

// Initialize заполняет каталог стандартными уровнями. Если уровни уже есть,
// без force возвращает ErrLevelsExist и ничего не меняет.
func (c *Catalog) Initialize(ctx context.Context, force bool) ([]*models.ReferralLevel, error) {
	count, err := c.repo.CountLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки каталога уровней: %w", err)
	}

	if count > 0 && !force {
		return nil, ErrLevelsExist
	}

	levels := DefaultLevels()
	if err := ValidateLevels(levels); err != nil {
		return nil, fmt.Errorf("некорректный каталог уровней: %w", err)
	}

	if err := c.repo.ReplaceLevels(ctx, levels); err != nil {
		return nil, fmt.Errorf("ошибка инициализации уровней: %w", err)
	}

	c.logger.Info("уровни спонсорства инициализированы",
		zap.Int("previous_count", count),
		zap.Int("count", len(levels)))

	return levels, nil
}
