package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guidy/internal/config"
	"guidy/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrUserNotFound      = errors.New("пользователь не найден")
	ErrEarningNotFound   = errors.New("начисление не найдено")
	ErrEarningNotPending = errors.New("начисление уже обработано")
	ErrDuplicateEarning  = errors.New("начисление для этого платежа уже существует")
)

// DB подмножество методов pgxpool.Pool, которым пользуются репозитории
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store представляет интерфейс для работы с базой данных
type Store interface {
	User() UserRepository
	Referral() ReferralRepository
	Earning() EarningRepository
	Payment() PaymentRepository
	Ping(ctx context.Context) error
	Close() error
}

// store реализует интерфейс Store
type store struct {
	db       DB
	logger   *zap.Logger
	user     UserRepository
	referral ReferralRepository
	earning  EarningRepository
	payment  PaymentRepository
}

// UserRepository интерфейс для работы с пользователями
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	CountReferredBy(ctx context.Context, userID int64) (int, error)
	GenerateReferralCode(ctx context.Context) (string, error)
	WalletSummary(ctx context.Context, userID int64) (*models.WalletSummary, error)
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	return New(db, logger), nil
}

// New собирает Store поверх готового подключения
func New(db DB, logger *zap.Logger) Store {
	return &store{
		db:       db,
		logger:   logger,
		user:     NewUserRepository(db, logger),
		referral: NewReferralRepository(db, logger),
		earning:  NewEarningRepository(db, logger),
		payment:  NewPaymentRepository(db, logger),
	}
}

// User возвращает репозиторий пользователей
func (s *store) User() UserRepository {
	return s.user
}

// Referral возвращает репозиторий уровней и реферальных связей
func (s *store) Referral() ReferralRepository {
	return s.referral
}

// Earning возвращает журнал реферальных начислений
func (s *store) Earning() EarningRepository {
	return s.earning
}

// Payment возвращает репозиторий платежей
func (s *store) Payment() PaymentRepository {
	return s.payment
}

// Close закрывает подключение к базе данных
// Ping проверяет доступность базы данных
func (s *store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}

// isUniqueViolation проверяет нарушение уникального индекса
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// userRepository реализует UserRepository
type userRepository struct {
	db     DB
	logger *zap.Logger
}

// NewUserRepository создает новый репозиторий пользователей
func NewUserRepository(db DB, logger *zap.Logger) UserRepository {
	return &userRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, email, name, referral_code, referred_by, wallet_balance, wallet_version, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.ReferralCode, &user.ReferredBy,
		&user.WalletBalance, &user.WalletVersion, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetByID получает пользователя по ID
func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя по ID: %w", err)
	}

	return user, nil
}

// GetByReferralCode получает пользователя по реферальному коду
func (r *userRepository) GetByReferralCode(ctx context.Context, code string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя по реферальному коду: %w", err)
	}

	return user, nil
}

// Update обновляет профиль пользователя. Баланс кошелька здесь не меняется:
// его пишет только выплата комиссии.
func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET email = $2, name = $3, referral_code = $4, referred_by = $5, updated_at = $6
		WHERE id = $1`

	user.UpdatedAt = time.Now()

	result, err := r.db.Exec(ctx, query,
		user.ID, user.Email, user.Name, user.ReferralCode, user.ReferredBy, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления пользователя: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	r.logger.Info("пользователь обновлен", zap.Int64("user_id", user.ID))
	return nil
}

// CountReferredBy считает пользователей, приглашенных userID
func (r *userRepository) CountReferredBy(ctx context.Context, userID int64) (int, error) {
	query := `SELECT COUNT(*) FROM users WHERE referred_by = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета рефералов: %w", err)
	}

	return count, nil
}

// GenerateReferralCode генерирует реферальный код на стороне базы данных
func (r *userRepository) GenerateReferralCode(ctx context.Context) (string, error) {
	query := `SELECT generate_referral_code()`

	var code string
	if err := r.db.QueryRow(ctx, query).Scan(&code); err != nil {
		return "", fmt.Errorf("ошибка генерации реферального кода: %w", err)
	}

	return code, nil
}

// WalletSummary возвращает баланс кошелька и сумму выплаченных начислений
func (r *userRepository) WalletSummary(ctx context.Context, userID int64) (*models.WalletSummary, error) {
	query := `
		SELECT u.wallet_balance,
		       COALESCE((SELECT SUM(e.amount) FROM referral_earnings e
		                 WHERE e.user_id = u.id AND e.status = 'paid'), 0)
		FROM users u
		WHERE u.id = $1`

	summary := &models.WalletSummary{UserID: userID}
	var paid decimal.Decimal
	err := r.db.QueryRow(ctx, query, userID).Scan(&summary.WalletBalance, &paid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка получения сводки кошелька: %w", err)
	}
	summary.PaidEarnings = paid

	return summary, nil
}
