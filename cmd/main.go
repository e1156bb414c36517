package main

import (
	"fmt"
	"os"

	"guidy/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// LogLevel Flag
var LogLevel = "info"

// LogFormat Flag
var LogFormat = "json"

var rootCmd = &cobra.Command{
	Use:   "guidy",
	Short: "Guidy referral commission ledger",
	Long: `Сервис реферальной программы Guidy: каталог уровней спонсорства,
начисление комиссий по оплатам подписок и выплата их в кошельки.`,
	SilenceUsage: true,
}

func init() {
	initLoggingEnv()
	rootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", LogLevel, "logging level (options: debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&LogFormat, "log-format", LogFormat, "log format for operator commands (options: json|pretty)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(initializeLevelsCmd)
	rootCmd.AddCommand(processCommissionsCmd)
}

func initLoggingEnv() {
	// load log level from env by default
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		LogLevel = logLevel
	}
	// load log format from env by default
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		LogFormat = logFormat
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newCommandLogger создает логгер для операторских команд. Логи идут в stderr,
// чтобы stdout оставался выводом команды.
func newCommandLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = config.ParseLogLevel(level)
	cfg.OutputPaths = []string{"stderr"}
	if format == "pretty" {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации логгера: %w", err)
	}
	return logger, nil
}
