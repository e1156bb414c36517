package scheduler

import (
	"context"
	"errors"
	"fmt"

	"guidy/internal/commission"

	"go.uber.org/zap"
)

// CommissionRunner выполняет один проход выплаты комиссий
type CommissionRunner interface {
	ProcessPendingCommissions(ctx context.Context, report commission.Reporter) (commission.Result, error)
}

// CommissionJob периодически выплачивает pending-начисления
type CommissionJob struct {
	processor CommissionRunner
	logger    *zap.Logger
}

// NewCommissionJob создает джобу выплаты комиссий
func NewCommissionJob(processor CommissionRunner, logger *zap.Logger) *CommissionJob {
	return &CommissionJob{
		processor: processor,
		logger:    logger,
	}
}

// Name возвращает имя джобы
func (j *CommissionJob) Name() string {
	return "process-commissions"
}

// Run запускает проход выплаты. Занятая блокировка не считается ошибкой.
func (j *CommissionJob) Run(ctx context.Context) error {
	result, err := j.processor.ProcessPendingCommissions(ctx, nil)
	if errors.Is(err, commission.ErrRunInProgress) {
		j.logger.Info("выплата уже выполняется другим процессом, пропускаем запуск")
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка выплаты комиссий: %w", err)
	}

	if result.Failed > 0 {
		j.logger.Warn("часть начислений не выплачена",
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed))
	}

	return nil
}
