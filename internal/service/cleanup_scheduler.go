package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/jobs"
)

const cleanupJobType = "term-cleanup"

type cleanupRunner interface {
	ExecuteCleanup(ctx context.Context, params models.CleanupParams, trigger string) (*models.CleanupExecutionLog, error)
}

// CleanupScheduleConfig configures the automatic cleanup trigger.
type CleanupScheduleConfig struct {
	Schedule   string
	Timezone   string
	Retries    int
	RetryDelay time.Duration
	JobTimeout time.Duration
	Params     models.CleanupParams
}

// CleanupScheduler fires the yearly cleanup and runs it on a retrying job queue.
type CleanupScheduler struct {
	cron   *cron.Cron
	queue  *jobs.Queue
	runner cleanupRunner
	config CleanupScheduleConfig
	logger *zap.Logger
}

// NewCleanupScheduler builds a scheduler. A FAILED run is retried by the queue.
func NewCleanupScheduler(runner cleanupRunner, cfg CleanupScheduleConfig, logger *zap.Logger) (*CleanupScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 2 1 1 *"
	}
	if cfg.Params.MonthsThreshold == 0 {
		cfg.Params.MonthsThreshold = models.DefaultCleanupMonths
	}
	if cfg.Params.MaxTermsPerRun == 0 {
		cfg.Params.MaxTermsPerRun = models.DefaultCleanupMaxTerms
	}

	location := time.UTC
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load cleanup timezone: %w", err)
		}
		location = loc
	}

	s := &CleanupScheduler{
		cron:   cron.New(cron.WithLocation(location)),
		runner: runner,
		config: cfg,
		logger: logger,
	}
	s.queue = jobs.NewQueue(cleanupJobType, s.handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 4,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		JobTimeout: cfg.JobTimeout,
		Logger:     logger,
	})
	if _, err := s.cron.AddFunc(cfg.Schedule, s.trigger); err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start launches the queue workers and the cron loop.
func (s *CleanupScheduler) Start(ctx context.Context) {
	s.queue.Start(ctx)
	s.cron.Start()
	s.logger.Info("cleanup scheduler started", zap.String("schedule", s.config.Schedule), zap.String("timezone", s.cron.Location().String()))
}

// Stop halts the cron loop and drains the queue.
func (s *CleanupScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.queue.Stop()
}

// Enqueue schedules an immediate run with the configured parameters.
func (s *CleanupScheduler) Enqueue() error {
	return s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: cleanupJobType, Payload: s.config.Params})
}

func (s *CleanupScheduler) trigger() {
	if err := s.Enqueue(); err != nil {
		s.logger.Error("failed to enqueue scheduled cleanup", zap.Error(err))
	}
}

func (s *CleanupScheduler) handle(ctx context.Context, job jobs.Job) error {
	params, ok := job.Payload.(models.CleanupParams)
	if !ok {
		params = s.config.Params
	}
	entry, err := s.runner.ExecuteCleanup(ctx, params, models.CleanupTriggerScheduled)
	if err != nil {
		return err
	}
	if entry.Status == models.CleanupFailed {
		return fmt.Errorf("cleanup %s failed: %s", entry.ExecutionID, derefString(entry.ErrorMessage))
	}
	return nil
}
