package migrations

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"guidy/internal/config"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// RunMigrations применяет миграции к базе данных
func RunMigrations(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("начало применения миграций")

	db, migrationPath, err := open(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Применяем миграции
	if err := goose.Up(db, migrationPath); err != nil {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	logger.Info("миграции успешно применены")
	return nil
}

// GetMigrationStatus выводит статус миграций
func GetMigrationStatus(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("проверка статуса миграций")

	db, migrationPath, err := open(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.Status(db, migrationPath); err != nil {
		return fmt.Errorf("ошибка получения статуса миграций: %w", err)
	}

	logger.Info("статус миграций получен")
	return nil
}

// open создает временное подключение для goose
func open(cfg *config.Config, logger *zap.Logger) (*sql.DB, string, error) {
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, "", fmt.Errorf("ошибка установки диалекта: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.GetURL())
	if err != nil {
		return nil, "", fmt.Errorf("ошибка подключения к базе данных для миграций: %w", err)
	}

	return db, ResolvePath(cfg.Database.MigrationPath, logger), nil
}

// ResolvePath определяет правильный путь к миграциям
func ResolvePath(configPath string, logger *zap.Logger) string {
	// Сначала проверяем, существует ли путь из конфигурации
	if _, err := os.Stat(configPath); err == nil {
		logger.Debug("используем путь к миграциям из конфигурации", zap.String("path", configPath))
		return configPath
	}

	currentDir, err := os.Getwd()
	if err != nil {
		logger.Warn("не удалось получить текущую директорию, используем путь из конфигурации", zap.Error(err))
		return configPath
	}

	possiblePaths := []string{
		filepath.Join(currentDir, "scripts", "migrations"),
		filepath.Join(currentDir, "migrations"),
		filepath.Join(currentDir, "..", "scripts", "migrations"),
		filepath.Join(currentDir, "..", "..", "scripts", "migrations"),
		"/app/scripts/migrations", // Для Docker контейнера
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			logger.Info("найден путь к миграциям", zap.String("path", path))
			return path
		}
	}

	logger.Warn("не удалось найти директорию с миграциями, используем путь из конфигурации", zap.String("path", configPath))
	return configPath
}
