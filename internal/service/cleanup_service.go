package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/repository"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/logger"
)

type cleanupRepository interface {
	Targets() []repository.CleanupTarget
	Snapshot(ctx context.Context, target repository.CleanupTarget, termID string) ([]map[string]interface{}, error)
	Delete(ctx context.Context, target repository.CleanupTarget, termID string) (int64, error)
	InsertLog(ctx context.Context, entry *models.CleanupExecutionLog) error
	ListHistory(ctx context.Context, limit int) ([]models.CleanupHistoryItem, error)
	FindLog(ctx context.Context, executionID string) (*models.CleanupExecutionLog, error)
}

type cleanupCandidateRepository interface {
	ListCleanupCandidates(ctx context.Context, now, cutoff time.Time, limit int) ([]models.CleanupCandidate, error)
}

type backupStore interface {
	SaveJSON(filename string, v interface{}) (string, error)
}

// CleanupRequest is the manual cleanup payload. Omitted fields take defaults;
// manual runs log verbosely unless debugMode is false.
type CleanupRequest struct {
	MonthsThreshold *int  `json:"monthsThreshold"`
	MaxTermsPerRun  *int  `json:"maxBimestresPerExecution"`
	DebugMode       *bool `json:"debugMode"`
	PerformBackup   *bool `json:"performBackup"`
}

// Params resolves the request against defaults.
func (r CleanupRequest) Params() models.CleanupParams {
	params := models.CleanupParams{
		MonthsThreshold: models.DefaultCleanupMonths,
		MaxTermsPerRun:  models.DefaultCleanupMaxTerms,
		DebugMode:       true,
		PerformBackup:   true,
	}
	if r.MonthsThreshold != nil {
		params.MonthsThreshold = *r.MonthsThreshold
	}
	if r.MaxTermsPerRun != nil {
		params.MaxTermsPerRun = *r.MaxTermsPerRun
	}
	if r.DebugMode != nil {
		params.DebugMode = *r.DebugMode
	}
	if r.PerformBackup != nil {
		params.PerformBackup = *r.PerformBackup
	}
	return params
}

// CleanupConfig tunes the cleanup service.
type CleanupConfig struct {
	Concurrency  int
	HistoryLimit int
}

// CleanupService removes obsolete terms and everything linked to them.
type CleanupService struct {
	repo      cleanupRepository
	terms     cleanupCandidateRepository
	backups   backupStore
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    CleanupConfig
	now       func() time.Time
}

// NewCleanupService constructs a CleanupService.
func NewCleanupService(repo cleanupRepository, terms cleanupCandidateRepository, backups backupStore, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config CleanupConfig) *CleanupService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 50
	}
	return &CleanupService{
		repo:      repo,
		terms:     terms,
		backups:   backups,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// ValidateParams checks the thresholds of a cleanup run.
func (s *CleanupService) ValidateParams(params models.CleanupParams) error {
	if err := s.validator.Struct(params); err != nil {
		return appErrors.WithDetails(
			appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cleanup parameters"),
			fmt.Sprintf("monthsThreshold must be between %d and %d", models.MinCleanupMonths, models.MaxCleanupMonths),
			fmt.Sprintf("maxBimestresPerExecution must be between %d and %d", models.MinCleanupTerms, models.MaxCleanupTerms),
		)
	}
	return nil
}

// IdentifyCandidates lists inactive terms that ended more than months months
// ago, earliest first. It never modifies data.
func (s *CleanupService) IdentifyCandidates(ctx context.Context, months int) ([]models.CleanupCandidate, error) {
	if months == 0 {
		months = models.DefaultCleanupMonths
	}
	if months < models.MinCleanupMonths || months > models.MaxCleanupMonths {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("monthsThreshold must be between %d and %d", models.MinCleanupMonths, models.MaxCleanupMonths))
	}
	now := s.now()
	candidates, err := s.terms.ListCleanupCandidates(ctx, now, now.AddDate(0, -months, 0), 0)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to identify cleanup candidates")
	}
	if candidates == nil {
		candidates = []models.CleanupCandidate{}
	}
	return candidates, nil
}

type termOutcome struct {
	termID  string
	counts  models.TableCounts
	deleted bool
	err     error
}

// ExecuteCleanup removes up to MaxTermsPerRun candidates and appends one log row
// describing the run. Table failures are isolated and reported as PARTIAL.
// Once started, a run is not interrupted by cancellation of ctx.
func (s *CleanupService) ExecuteCleanup(ctx context.Context, params models.CleanupParams, trigger string) (*models.CleanupExecutionLog, error) {
	if err := s.ValidateParams(params); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	started := s.now()
	entry := &models.CleanupExecutionLog{
		ExecutionID:      uuid.NewString(),
		ExecutedAt:       started.UTC(),
		DebugMode:        params.DebugMode,
		MonthsThreshold:  params.MonthsThreshold,
		MaxTermsPerRun:   params.MaxTermsPerRun,
		PerformBackup:    params.PerformBackup,
		Trigger:          trigger,
		TableCounts:      models.TableCounts{},
		ProcessedTermIDs: pq.StringArray{},
		TableErrors:      pq.StringArray{},
	}
	verbose := logger.Verbose(s.logger.With(zap.String("execution_id", entry.ExecutionID)), params.DebugMode)
	verbose("cleanup started",
		zap.String("trigger", trigger),
		zap.Int("months_threshold", params.MonthsThreshold),
		zap.Int("max_terms", params.MaxTermsPerRun),
		zap.Bool("backup", params.PerformBackup))

	candidates, err := s.terms.ListCleanupCandidates(ctx, started, started.AddDate(0, -params.MonthsThreshold, 0), params.MaxTermsPerRun)
	if err != nil {
		s.fail(entry, err)
		return s.finish(ctx, entry, started)
	}
	entry.TermsIdentified = len(candidates)

	outcomes := make([]termOutcome, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			outcomes[i] = s.cleanupTerm(ctx, entry.ExecutionID, candidates[i].Term, params, verbose)
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for _, outcome := range outcomes {
		for table, n := range outcome.counts {
			entry.TableCounts[table] += n
		}
		if outcome.deleted {
			entry.ProcessedTermIDs = append(entry.ProcessedTermIDs, outcome.termID)
		}
		for _, e := range multierr.Errors(outcome.err) {
			entry.TableErrors = append(entry.TableErrors, fmt.Sprintf("term %s: %v", outcome.termID, e))
		}
		errs = multierr.Append(errs, outcome.err)
	}
	entry.TermsDeleted = len(entry.ProcessedTermIDs)
	entry.TotalRecordsDeleted = entry.TableCounts.Total()

	switch {
	case errs == nil:
		entry.Status = models.CleanupCompleted
	case entry.TotalRecordsDeleted == 0:
		s.fail(entry, errs)
	default:
		entry.Status = models.CleanupPartial
		msg := errs.Error()
		entry.ErrorMessage = &msg
	}
	return s.finish(ctx, entry, started)
}

// History returns the most recent executions.
func (s *CleanupService) History(ctx context.Context) ([]models.CleanupHistoryItem, error) {
	items, err := s.repo.ListHistory(ctx, s.config.HistoryLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cleanup history")
	}
	if items == nil {
		items = []models.CleanupHistoryItem{}
	}
	return items, nil
}

// Details returns the full log of one execution.
func (s *CleanupService) Details(ctx context.Context, executionID string) (*models.CleanupExecutionLog, error) {
	entry, err := s.repo.FindLog(ctx, executionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cleanup execution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cleanup execution")
	}
	return entry, nil
}

// cleanupTerm deletes one term table by table in dependency order. When a
// backup is requested and cannot be written the term is left untouched.
func (s *CleanupService) cleanupTerm(ctx context.Context, executionID string, term models.Term, params models.CleanupParams, verbose func(string, ...zap.Field)) termOutcome {
	outcome := termOutcome{termID: term.ID, counts: models.TableCounts{}}
	targets := s.repo.Targets()

	if params.PerformBackup {
		if err := s.backupTerm(ctx, executionID, term, targets); err != nil {
			s.logger.Warn("cleanup backup failed, term skipped", zap.String("term_id", term.ID), zap.Error(err))
			outcome.err = err
			return outcome
		}
		verbose("term backed up", zap.String("term_id", term.ID))
	}

	for _, target := range targets {
		n, err := s.repo.Delete(ctx, target, term.ID)
		if err != nil {
			s.logger.Warn("cleanup table failed", zap.String("term_id", term.ID), zap.String("table", target.Table), zap.Error(err))
			outcome.err = multierr.Append(outcome.err, fmt.Errorf("%s: %w", target.Table, err))
			continue
		}
		outcome.counts[target.Table] = n
		if target.Table == repository.TermTable && n > 0 {
			outcome.deleted = true
		}
		verbose("table cleaned", zap.String("term_id", term.ID), zap.String("table", target.Table), zap.Int64("rows", n))
	}
	return outcome
}

func (s *CleanupService) backupTerm(ctx context.Context, executionID string, term models.Term, targets []repository.CleanupTarget) error {
	if s.backups == nil {
		return errors.New("backup storage not configured")
	}
	snapshot := map[string]interface{}{"term": term}
	tables := map[string][]map[string]interface{}{}
	for _, target := range targets {
		rows, err := s.repo.Snapshot(ctx, target, term.ID)
		if err != nil {
			return fmt.Errorf("backup %s: %w", target.Table, err)
		}
		tables[target.Table] = rows
	}
	snapshot["tables"] = tables
	if _, err := s.backups.SaveJSON(fmt.Sprintf("cleanup/%s/%s.json", executionID, term.ID), snapshot); err != nil {
		return fmt.Errorf("backup write: %w", err)
	}
	return nil
}

func (s *CleanupService) fail(entry *models.CleanupExecutionLog, err error) {
	entry.Status = models.CleanupFailed
	msg := err.Error()
	entry.ErrorMessage = &msg
}

func (s *CleanupService) finish(ctx context.Context, entry *models.CleanupExecutionLog, started time.Time) (*models.CleanupExecutionLog, error) {
	entry.ExecutionSeconds = s.now().Sub(started).Seconds()
	s.metrics.RecordCleanup(entry)
	if entry.TotalRecordsDeleted > 0 {
		_ = s.cache.Invalidate(ctx, visibleCachePattern)
	}

	fields := []zap.Field{
		zap.String("execution_id", entry.ExecutionID),
		zap.String("status", string(entry.Status)),
		zap.Int("terms_deleted", entry.TermsDeleted),
		zap.Int64("records_deleted", entry.TotalRecordsDeleted),
	}
	if entry.Status == models.CleanupCompleted {
		s.logger.Info("cleanup finished", fields...)
	} else {
		s.logger.Warn("cleanup finished with errors", append(fields, zap.Strings("table_errors", entry.TableErrors))...)
	}

	if err := s.repo.InsertLog(context.WithoutCancel(ctx), entry); err != nil {
		return entry, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record cleanup execution")
	}
	return entry, nil
}
