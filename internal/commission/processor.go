package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guidy/internal/store"
	"guidy/pkg/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrRunInProgress возвращается, когда пакетную выплату уже выполняет другой процесс
var ErrRunInProgress = errors.New("выплата комиссий уже выполняется")

// DefaultMaxAttempts число неудачных попыток до перевода начисления в failed
const DefaultMaxAttempts = 3

// Ledger журнал начислений, из которого берутся и закрываются pending-записи
type Ledger interface {
	ListPending(ctx context.Context) ([]*models.ReferralEarning, error)
	Payout(ctx context.Context, earningID int64) (*models.Payout, error)
	RecordFailure(ctx context.Context, earningID int64, reason string, maxAttempts int) (models.EarningStatus, error)
}

// Locker исключает одновременный запуск двух пакетных выплат
type Locker interface {
	TryBatchLock(ctx context.Context) (release func(), acquired bool, err error)
}

// Metrics принимает результаты выплат
type Metrics interface {
	RecordPayout(status OutcomeStatus, amount decimal.Decimal)
	ObserveBatch(duration time.Duration, pending int)
}

// Config настройки процессора
type Config struct {
	MaxAttempts int
}

// Result итог одного прохода
type Result struct {
	Processed int
	Failed    int
	Skipped   int
}

// OutcomeStatus результат обработки одного начисления
type OutcomeStatus string

const (
	OutcomePaid    OutcomeStatus = "paid"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome описывает обработку одного начисления
type Outcome struct {
	Earning *models.ReferralEarning
	Status  OutcomeStatus
	// Payout заполнен только для OutcomePaid
	Payout *models.Payout
	// EarningStatus: статус начисления после неудачной попытки (pending или failed)
	EarningStatus models.EarningStatus
	Err           error
}

// Reporter получает результат по каждому начислению
type Reporter func(Outcome)

// Processor переносит pending-начисления в кошельки владельцев
type Processor struct {
	ledger  Ledger
	locker  Locker
	metrics Metrics
	config  Config
	logger  *zap.Logger
}

// NewProcessor создает процессор выплат. locker и metrics могут быть nil.
func NewProcessor(ledger Ledger, locker Locker, metrics Metrics, config Config, logger *zap.Logger) *Processor {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	return &Processor{
		ledger:  ledger,
		locker:  locker,
		metrics: metrics,
		config:  config,
		logger:  logger,
	}
}

// ProcessPendingCommissions выполняет один проход по снимку pending-начислений.
// Каждое начисление выплачивается в собственной транзакции; ошибка одного
// начисления не прерывает проход. Ошибку возвращают только недоступность
// снимка, занятая блокировка и отмена контекста.
func (p *Processor) ProcessPendingCommissions(ctx context.Context, report Reporter) (Result, error) {
	var result Result

	if p.locker != nil {
		release, acquired, err := p.locker.TryBatchLock(ctx)
		if err != nil {
			return result, fmt.Errorf("ошибка блокировки выплат: %w", err)
		}
		if !acquired {
			return result, ErrRunInProgress
		}
		defer release()
	}

	start := time.Now()

	earnings, err := p.ledger.ListPending(ctx)
	if err != nil {
		return result, fmt.Errorf("ошибка загрузки pending-начислений: %w", err)
	}

	p.logger.Info("начата выплата комиссий", zap.Int("pending", len(earnings)))

	stillPending := 0
	for _, earning := range earnings {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("выплата комиссий прервана",
				zap.Int("processed", result.Processed),
				zap.Int("failed", result.Failed))
			return result, err
		}

		outcome := p.processOne(ctx, earning)

		switch outcome.Status {
		case OutcomePaid:
			result.Processed++
		case OutcomeSkipped:
			result.Skipped++
		default:
			result.Failed++
			if outcome.EarningStatus == models.EarningStatusPending {
				stillPending++
			}
		}

		if p.metrics != nil {
			p.metrics.RecordPayout(outcome.Status, earning.Amount)
		}
		if report != nil {
			report(outcome)
		}
	}

	if p.metrics != nil {
		p.metrics.ObserveBatch(time.Since(start), stillPending)
	}

	p.logger.Info("выплата комиссий завершена",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

func (p *Processor) processOne(ctx context.Context, earning *models.ReferralEarning) Outcome {
	outcome := Outcome{Earning: earning}

	if earning.Status.IsTerminal() {
		outcome.Status = OutcomeSkipped
		outcome.Err = store.ErrEarningNotPending
		p.logger.Warn("в снимке начисление в конечном статусе",
			zap.Int64("earning_id", earning.ID),
			zap.String("earning_status", string(earning.Status)))
		return outcome
	}

	payout, err := p.ledger.Payout(ctx, earning.ID)
	if err == nil {
		outcome.Status = OutcomePaid
		outcome.Payout = payout
		p.logger.Info("комиссия выплачена",
			zap.Int64("earning_id", earning.ID),
			zap.Int64("user_id", payout.UserID),
			zap.String("amount", payout.Amount.StringFixed(2)),
			zap.String("balance", payout.Balance.StringFixed(2)))
		return outcome
	}

	outcome.Err = err

	switch {
	case errors.Is(err, store.ErrEarningNotPending):
		outcome.Status = OutcomeSkipped
		p.logger.Info("начисление уже обработано другим запуском",
			zap.Int64("earning_id", earning.ID))
		return outcome

	case errors.Is(err, store.ErrUserNotFound):
		outcome.Status = OutcomeFailed
		outcome.EarningStatus = models.EarningStatusPending

		status, recordErr := p.ledger.RecordFailure(ctx, earning.ID, err.Error(), p.config.MaxAttempts)
		if recordErr != nil {
			p.logger.Error("ошибка записи неудачной попытки",
				zap.Int64("earning_id", earning.ID),
				zap.Error(recordErr))
		} else {
			outcome.EarningStatus = status
		}

		p.logger.Error("владелец начисления не найден",
			zap.Int64("earning_id", earning.ID),
			zap.Int64("user_id", earning.UserID),
			zap.Int("attempt", earning.Attempts+1),
			zap.String("earning_status", string(outcome.EarningStatus)))
		return outcome

	default:
		outcome.Status = OutcomeFailed
		outcome.EarningStatus = models.EarningStatusPending
		p.logger.Error("ошибка выплаты комиссии",
			zap.Int64("earning_id", earning.ID),
			zap.Int64("user_id", earning.UserID),
			zap.Error(err),
			zap.Stack("stack"))
		return outcome
	}
}
