package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guidy/internal/store"
	"guidy/pkg/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrSelfReferral        = errors.New("пользователь не может пригласить сам себя")
	ErrAlreadyReferred     = errors.New("пользователь уже был приглашен")
	ErrCircularReferral    = errors.New("приглашение образует цикл")
	ErrInvalidReferralCode = errors.New("неверный реферальный код")
	ErrEmptyCatalog        = errors.New("каталог уровней пуст")
)

var hundred = decimal.NewFromInt(100)

// Metrics принимает события реферальной программы
type Metrics interface {
	RecordEarningCreated(level string, amount decimal.Decimal)
}

// Service представляет сервис реферального графа и начисления комиссий
type Service struct {
	userRepo    store.UserRepository
	earningRepo store.EarningRepository
	catalog     *Catalog
	metrics     Metrics
	logger      *zap.Logger
}

// NewService создает новый сервис рефералов
func NewService(userRepo store.UserRepository, earningRepo store.EarningRepository, catalog *Catalog, metrics Metrics, logger *zap.Logger) *Service {
	return &Service{
		userRepo:    userRepo,
		earningRepo: earningRepo,
		catalog:     catalog,
		metrics:     metrics,
		logger:      logger,
	}
}

// CountReferrals считает пользователей, у которых referred_by = userID
func (s *Service) CountReferrals(ctx context.Context, userID int64) (int, error) {
	count, err := s.userRepo.CountReferredBy(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета рефералов: %w", err)
	}
	return count, nil
}

// CurrentTier возвращает уровень спонсорства пользователя по числу его рефералов
func (s *Service) CurrentTier(ctx context.Context, userID int64) (*models.ReferralLevel, error) {
	count, err := s.CountReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}

	levels, err := s.catalog.Levels(ctx)
	if err != nil {
		return nil, err
	}

	tier := TierFor(levels, count)
	if tier == nil {
		return nil, ErrEmptyCatalog
	}

	return tier, nil
}

// GetOrGenerateReferralCode получает существующий или генерирует новый реферальный код
func (s *Service) GetOrGenerateReferralCode(ctx context.Context, userID int64) (string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	if user.ReferralCode != nil {
		return *user.ReferralCode, nil
	}

	// Генерируем уникальный код с проверкой
	maxAttempts := 10
	var code string

	for attempt := 0; attempt < maxAttempts; attempt++ {
		generatedCode, err := s.userRepo.GenerateReferralCode(ctx)
		if err != nil {
			return "", fmt.Errorf("ошибка генерации реферального кода: %w", err)
		}

		_, err = s.userRepo.GetByReferralCode(ctx, generatedCode)
		if errors.Is(err, store.ErrUserNotFound) {
			code = generatedCode
			break
		}
		if err != nil {
			return "", fmt.Errorf("ошибка проверки реферального кода: %w", err)
		}

		s.logger.Warn("сгенерированный код уже существует, пробуем снова",
			zap.String("code", generatedCode),
			zap.Int("attempt", attempt+1))
	}

	if code == "" {
		return "", fmt.Errorf("не удалось сгенерировать уникальный реферальный код после %d попыток", maxAttempts)
	}

	user.ReferralCode = &code
	if err := s.userRepo.Update(ctx, user); err != nil {
		return "", fmt.Errorf("ошибка обновления пользователя: %w", err)
	}

	return code, nil
}

// ValidateReferralCode проверяет реферальный код и возвращает его владельца
func (s *Service) ValidateReferralCode(ctx context.Context, referralCode string) (*models.User, error) {
	referralCode = strings.TrimPrefix(strings.TrimSpace(referralCode), "ref_")
	if referralCode == "" {
		return nil, ErrInvalidReferralCode
	}

	user, err := s.userRepo.GetByReferralCode(ctx, referralCode)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidReferralCode
		}
		return nil, fmt.Errorf("ошибка проверки реферального кода: %w", err)
	}

	return user, nil
}

// AttachReferrer связывает приглашенного пользователя с владельцем кода
func (s *Service) AttachReferrer(ctx context.Context, referredID int64, referralCode string) error {
	referrer, err := s.ValidateReferralCode(ctx, referralCode)
	if err != nil {
		return err
	}

	if referrer.ID == referredID {
		return ErrSelfReferral
	}
	if err := s.checkReferralChain(ctx, referrer, referredID); err != nil {
		return err
	}

	referred, err := s.userRepo.GetByID(ctx, referredID)
	if err != nil {
		return fmt.Errorf("ошибка получения приглашенного пользователя: %w", err)
	}

	if referred.ReferredBy != nil {
		return ErrAlreadyReferred
	}

	referred.ReferredBy = &referrer.ID
	if err := s.userRepo.Update(ctx, referred); err != nil {
		return fmt.Errorf("ошибка обновления referred_by: %w", err)
	}

	s.logger.Info("создана реферальная связь",
		zap.Int64("referrer_id", referrer.ID),
		zap.Int64("referred_id", referredID))

	return nil
}

// checkReferralChain поднимается по цепочке referred_by от реферера и
// возвращает ErrCircularReferral, если в ней встречается приглашенный
func (s *Service) checkReferralChain(ctx context.Context, referrer *models.User, referredID int64) error {
	visited := map[int64]bool{referrer.ID: true}
	next := referrer.ReferredBy

	for next != nil {
		if *next == referredID {
			return ErrCircularReferral
		}
		if visited[*next] {
			// Цикл уже есть выше по цепочке, приглашенного в нем нет
			return nil
		}
		visited[*next] = true

		ancestor, err := s.userRepo.GetByID(ctx, *next)
		if errors.Is(err, store.ErrUserNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ошибка проверки цепочки приглашений: %w", err)
		}
		next = ancestor.ReferredBy
	}

	return nil
}

// RecordCommission создает pending-начисление рефереру пользователя, оплатившего
// подписку. Ставка берется из текущего уровня реферера и фиксируется в начислении.
// Возвращает nil без ошибки, если у плательщика нет реферера или начисление
// по этому платежу уже создано.
func (s *Service) RecordCommission(ctx context.Context, referredUserID int64, baseAmount decimal.Decimal, paymentReference string) (*models.ReferralEarning, error) {
	if !baseAmount.IsPositive() {
		return nil, fmt.Errorf("сумма платежа должна быть положительной: %s", baseAmount)
	}

	referred, err := s.userRepo.GetByID(ctx, referredUserID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения плательщика: %w", err)
	}

	if referred.ReferredBy == nil {
		s.logger.Debug("у плательщика нет реферера", zap.Int64("user_id", referredUserID))
		return nil, nil
	}
	referrerID := *referred.ReferredBy

	tier, err := s.CurrentTier(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка определения уровня реферера: %w", err)
	}

	amount := baseAmount.Mul(tier.CommissionRate).Div(hundred).Round(2)
	if !amount.IsPositive() {
		s.logger.Info("нулевая комиссия, начисление не создается",
			zap.Int64("referrer_id", referrerID),
			zap.String("level", tier.Name))
		return nil, nil
	}

	earning := &models.ReferralEarning{
		UserID:           referrerID,
		ReferredUserID:   &referredUserID,
		PaymentReference: &paymentReference,
		Amount:           amount,
		CommissionRate:   tier.CommissionRate,
	}

	if err := s.earningRepo.Create(ctx, earning); err != nil {
		if errors.Is(err, store.ErrDuplicateEarning) {
			s.logger.Info("начисление по платежу уже создано",
				zap.String("payment_reference", paymentReference))
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка создания начисления: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordEarningCreated(tier.Name, amount)
	}

	s.logger.Info("начислена реферальная комиссия",
		zap.Int64("earning_id", earning.ID),
		zap.Int64("referrer_id", referrerID),
		zap.Int64("referred_id", referredUserID),
		zap.String("level", tier.Name),
		zap.String("amount", amount.StringFixed(2)))

	return earning, nil
}
