package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Database   DatabaseConfig
	App        AppConfig
	Commission CommissionConfig
	Webhook    WebhookConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
	MaxConns      int
}

// AppConfig содержит настройки окружения. Уровень и формат логов задаются
// флагами --log-level/--log-format и переменными LOG_LEVEL/LOG_FORMAT.
type AppConfig struct {
	Env  string
	Port int
}

// CommissionConfig содержит настройки выплаты реферальных комиссий
type CommissionConfig struct {
	MaxAttempts int    // После стольких неудач начисление переводится в failed
	Schedule    string // Расписание в формате robfig/cron
}

// WebhookConfig содержит настройки приема уведомлений об оплате
type WebhookConfig struct {
	Secret string
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")
	cfg.Database.MaxConns = getEnvIntDefault("DB_MAX_CONNS", 10)

	// Commission
	cfg.Commission.MaxAttempts = getEnvIntDefault("COMMISSION_MAX_ATTEMPTS", 3)
	cfg.Commission.Schedule = getEnvDefault("COMMISSION_SCHEDULE", "@hourly")

	// Webhook
	cfg.Webhook.Secret = os.Getenv("PAYMENT_WEBHOOK_SECRET")

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}
	// Пакетная выплата держит одно соединение под advisory lock и берет второе для снимка
	if config.Database.MaxConns < 2 {
		return fmt.Errorf("DB_MAX_CONNS должен быть не меньше 2")
	}
	if config.Commission.MaxAttempts < 1 {
		return fmt.Errorf("COMMISSION_MAX_ATTEMPTS должен быть больше нуля")
	}
	if config.Commission.Schedule == "" {
		return fmt.Errorf("COMMISSION_SCHEDULE не установлен")
	}
	if config.App.IsProduction() && config.Webhook.Secret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET обязателен в продакшн режиме")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetURL возвращает строку подключения в формате URL (для goose и lib/pq)
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// ParseLogLevel переводит строковый уровень в zap.AtomicLevel, по умолчанию info
func ParseLogLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
