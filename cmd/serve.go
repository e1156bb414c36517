package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guidy/internal/commission"
	"guidy/internal/config"
	"guidy/internal/metrics"
	"guidy/internal/migrations"
	"guidy/internal/referral"
	"guidy/internal/scheduler"
	"guidy/internal/store"
	"guidy/internal/webhook"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and the commission scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Инициализация логгера
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("запуск сервиса Guidy", zap.String("env", cfg.App.Env))

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Error("ошибка применения миграций", zap.Error(err))
		return err
	}

	// Инициализация базы данных
	st, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Error("ошибка инициализации базы данных", zap.Error(err))
		return err
	}
	defer st.Close()

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, st, logger)

	// Инициализация сервисов
	catalog := referral.NewCatalog(st.Referral(), logger)
	referralService := referral.NewService(st.User(), st.Earning(), catalog, metricsSystem, logger)
	processor := commission.NewProcessor(
		st.Earning(),
		st.Earning(),
		metricsSystem,
		commission.Config{MaxAttempts: cfg.Commission.MaxAttempts},
		logger,
	)

	if cfg.Webhook.Secret == "" {
		logger.Warn("PAYMENT_WEBHOOK_SECRET не задан, подпись webhook'ов не проверяется")
	}
	webhookHandler := webhook.NewPaymentWebhookHandler(st.Payment(), referralService, metricsSystem, cfg.Webhook.Secret, logger)

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)
	if err := taskScheduler.AddJob(cfg.Commission.Schedule, scheduler.NewCommissionJob(processor, logger)); err != nil {
		logger.Error("ошибка регистрации задачи", zap.Error(err))
		return err
	}

	// Обработка сигналов для graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		startHTTPServer(ctx, cfg.App.Port, metricsHandler, webhookHandler, logger)
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := taskScheduler.Start(ctx); err != nil {
			logger.Error("ошибка планировщика задач", zap.Error(err))
		}
	}()

	logger.Info("сервис запущен и готов к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
		zap.String("commission_schedule", cfg.Commission.Schedule))

	// Ожидание сигнала завершения
	<-ctx.Done()
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	<-serverDone
	<-schedulerDone

	logger.Info("сервис остановлен")
	return nil
}

// initLogger инициализирует логгер сервиса
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.App.IsDevelopment() {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = config.ParseLogLevel(LogLevel)
	zapConfig.OutputPaths = []string{"stdout", "logs/app.log"}
	zapConfig.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации логгера: %w", err)
	}
	return logger, nil
}

// startHTTPServer запускает HTTP сервер для метрик и webhook'ов
func startHTTPServer(ctx context.Context, port int, handler *metrics.Handler, webhookHandler *webhook.PaymentWebhookHandler, logger *zap.Logger) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newRouter(handler, webhookHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("HTTP сервер запущен", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Ожидание сигнала завершения
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("HTTP сервер остановлен")
}

func newRouter(handler *metrics.Handler, webhookHandler *webhook.PaymentWebhookHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler.MetricsHandler())
	mux.HandleFunc("/health", handler.HealthHandler)
	mux.HandleFunc("/webhook/payments", webhookHandler.HandleWebhook)
	return mux
}
