package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Job интерфейс для периодических задач
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type scheduledJob struct {
	schedule string
	job      Job
}

// Scheduler управляет запуском периодических задач по cron-расписанию
type Scheduler struct {
	logger *zap.Logger
	jobs   []scheduledJob
}

// NewScheduler создает новый планировщик задач
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make([]scheduledJob, 0),
	}
}

// AddJob добавляет задачу с расписанием в формате robfig/cron
// (например "@hourly", "@every 30m", "0 0 * * * *")
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if _, err := cron.Parse(schedule); err != nil {
		return fmt.Errorf("неверное расписание %q для задачи %s: %w", schedule, job.Name(), err)
	}
	s.jobs = append(s.jobs, scheduledJob{schedule: schedule, job: job})
	return nil
}

// Start запускает все задачи сразу, затем по расписанию. Блокируется до отмены ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("запуск планировщика задач", zap.Int("jobs_count", len(s.jobs)))

	c := cron.New()
	for _, sj := range s.jobs {
		job := sj.job
		if err := c.AddFunc(sj.schedule, func() { s.runJob(ctx, job) }); err != nil {
			return fmt.Errorf("ошибка регистрации задачи %s: %w", job.Name(), err)
		}
		s.logger.Info("задача зарегистрирована",
			zap.String("job", job.Name()),
			zap.String("schedule", sj.schedule))
	}

	// Запускаем задачи сразу при старте
	for _, sj := range s.jobs {
		s.runJob(ctx, sj.job)
	}

	c.Start()
	<-ctx.Done()
	c.Stop()

	s.logger.Info("остановка планировщика задач")
	return nil
}

// runJob запускает задачу и логирует ошибку
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	s.logger.Debug("запуск задачи", zap.String("job", job.Name()))

	if err := job.Run(ctx); err != nil {
		s.logger.Error("ошибка выполнения задачи",
			zap.String("job", job.Name()),
			zap.Error(err))
	}
}
