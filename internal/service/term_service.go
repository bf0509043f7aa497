package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	FindByID(ctx context.Context, id string) (*models.Term, error)
	ListByYear(ctx context.Context, year int) ([]models.Term, error)
	FindCurrent(ctx context.Context, at time.Time) (*models.Term, error)
	FindContaining(ctx context.Context, at time.Time) (*models.Term, error)
	ExistsOverlapping(ctx context.Context, year int, start, end time.Time, excludeID string) (bool, error)
	ExistsSequence(ctx context.Context, year, sequence int, excludeID string) (bool, error)
	Create(ctx context.Context, term *models.Term) error
	CreateBatch(ctx context.Context, terms []models.Term) error
	Update(ctx context.Context, term *models.Term) error
	SetActive(ctx context.Context, id string, active bool) error
}

// TermRequest describes the payload for creating or replacing a term.
type TermRequest struct {
	Name                string     `json:"name" validate:"required,max=120"`
	Description         *string    `json:"description"`
	StartDate           time.Time  `json:"start_date" validate:"required"`
	EndDate             time.Time  `json:"end_date" validate:"required"`
	AcademicYear        int        `json:"academic_year" validate:"required,gte=2000,lte=2100"`
	Sequence            int        `json:"sequence" validate:"required,gte=1,lte=5"`
	IsActive            *bool      `json:"is_active"`
	PaymentWindow1Start *time.Time `json:"payment_window1_start"`
	PaymentWindow1End   *time.Time `json:"payment_window1_end"`
	PaymentWindow2Start *time.Time `json:"payment_window2_start"`
	PaymentWindow2End   *time.Time `json:"payment_window2_end"`
	Factor              *float64   `json:"factor" validate:"omitempty,gt=0"`
}

// BatchTermRequest imports the full set of terms of one academic year.
type BatchTermRequest struct {
	Terms []TermRequest `json:"bimestres" validate:"required,len=5,dive"`
}

// TermService orchestrates term workflows.
type TermService struct {
	repo      termRepository
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewTermService creates a new term service instance.
func NewTermService(repo termRepository, validate *validator.Validate, logger *zap.Logger) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, validator: validate, logger: logger, now: time.Now}
}

// List returns paginated terms.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	return terms, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ListByYear returns the terms of an academic year ordered by sequence.
func (s *TermService) ListByYear(ctx context.Context, year int) ([]models.Term, error) {
	if year <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "academic year is required")
	}
	terms, err := s.repo.ListByYear(ctx, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms by year")
	}
	return terms, nil
}

// Get returns a term by ID.
func (s *TermService) Get(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// Current returns the active term containing today.
func (s *TermService) Current(ctx context.Context) (*models.Term, error) {
	term, err := s.repo.FindCurrent(ctx, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no current term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current term")
	}
	return term, nil
}

// Containing returns the term whose range covers at.
func (s *TermService) Containing(ctx context.Context, at time.Time) (*models.Term, error) {
	term, err := s.repo.FindContaining(ctx, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no term contains the given date")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve term")
	}
	return term, nil
}

// Create adds a new term ensuring sequence uniqueness and no active overlap.
func (s *TermService) Create(ctx context.Context, req TermRequest) (*models.Term, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	term := termFromRequest(req)
	term.IsActive = req.IsActive == nil || *req.IsActive

	if err := s.checkUniqueness(ctx, term); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	s.logger.Info("term created", zap.String("term_id", term.ID), zap.Int("academic_year", term.AcademicYear), zap.Int("sequence", term.Sequence))
	return term, nil
}

// Update replaces the mutable fields of a term.
func (s *TermService) Update(ctx context.Context, id string, req TermRequest) (*models.Term, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	term := termFromRequest(req)
	term.ID = existing.ID
	term.CreatedAt = existing.CreatedAt
	term.IsActive = existing.IsActive
	if req.IsActive != nil {
		term.IsActive = *req.IsActive
	}

	if err := s.checkUniqueness(ctx, term); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update term")
	}
	return term, nil
}

// Activate marks a term active when it does not overlap another active term of its year.
func (s *TermService) Activate(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if term.IsActive {
		return term, nil
	}
	overlap, err := s.repo.ExistsOverlapping(ctx, term.AcademicYear, term.StartDate, term.EndDate, term.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term overlap")
	}
	if overlap {
		return nil, appErrors.Clone(appErrors.ErrConflict, "term overlaps another active term of the academic year")
	}
	if err := s.repo.SetActive(ctx, term.ID, true); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate term")
	}
	term.IsActive = true
	return term, nil
}

// Deactivate marks a term inactive, making it eligible for cleanup once old enough.
func (s *TermService) Deactivate(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, term.ID, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate term")
	}
	term.IsActive = false
	return term, nil
}

// BatchCreate imports the five terms of an academic year in one transaction.
func (s *TermService) BatchCreate(ctx context.Context, req BatchTermRequest) ([]models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}

	var details []string
	year := req.Terms[0].AcademicYear
	seen := map[int]bool{}
	terms := make([]models.Term, 0, len(req.Terms))
	for i, item := range req.Terms {
		if err := validateTermDates(item); err != nil {
			details = append(details, fmt.Sprintf("bimestre %d: %s", i+1, err.Error()))
		}
		if item.AcademicYear != year {
			details = append(details, fmt.Sprintf("bimestre %d: academic year %d differs from %d", i+1, item.AcademicYear, year))
		}
		if seen[item.Sequence] {
			details = append(details, fmt.Sprintf("bimestre %d: duplicated sequence %d", i+1, item.Sequence))
		}
		seen[item.Sequence] = true
		term := termFromRequest(item)
		term.IsActive = item.IsActive == nil || *item.IsActive
		terms = append(terms, *term)
	}
	for i := 0; i < len(terms); i++ {
		for j := i + 1; j < len(terms); j++ {
			if terms[i].Overlaps(terms[j]) {
				details = append(details, fmt.Sprintf("bimestre %d overlaps bimestre %d", terms[i].Sequence, terms[j].Sequence))
			}
		}
	}
	if len(details) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid batch of terms"), details...)
	}

	existing, err := s.repo.ListByYear(ctx, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing terms")
	}
	if len(existing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("academic year %d already has terms", year))
	}

	if err := s.repo.CreateBatch(ctx, terms); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import terms")
	}
	s.logger.Info("terms imported", zap.Int("academic_year", year), zap.Int("count", len(terms)))
	return terms, nil
}

func (s *TermService) validateRequest(req TermRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if err := validateTermDates(req); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	return nil
}

func (s *TermService) checkUniqueness(ctx context.Context, term *models.Term) error {
	dup, err := s.repo.ExistsSequence(ctx, term.AcademicYear, term.Sequence, term.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term sequence")
	}
	if dup {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("sequence %d already used in academic year %d", term.Sequence, term.AcademicYear))
	}
	if !term.IsActive {
		return nil
	}
	overlap, err := s.repo.ExistsOverlapping(ctx, term.AcademicYear, term.StartDate, term.EndDate, term.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term overlap")
	}
	if overlap {
		return appErrors.Clone(appErrors.ErrConflict, "term overlaps another active term of the academic year")
	}
	return nil
}

func validateTermDates(req TermRequest) error {
	if !req.StartDate.Before(req.EndDate) {
		return errors.New("start_date must be before end_date")
	}
	windows := []struct {
		name       string
		start, end *time.Time
	}{
		{"payment window 1", req.PaymentWindow1Start, req.PaymentWindow1End},
		{"payment window 2", req.PaymentWindow2Start, req.PaymentWindow2End},
	}
	for _, w := range windows {
		if w.start == nil && w.end == nil {
			continue
		}
		if w.start == nil || w.end == nil {
			return fmt.Errorf("%s requires both start and end", w.name)
		}
		if w.end.Before(*w.start) {
			return fmt.Errorf("%s ends before it starts", w.name)
		}
	}
	return nil
}

func termFromRequest(req TermRequest) *models.Term {
	return &models.Term{
		Name:                req.Name,
		Description:         req.Description,
		StartDate:           req.StartDate,
		EndDate:             req.EndDate,
		AcademicYear:        req.AcademicYear,
		Sequence:            req.Sequence,
		PaymentWindow1Start: req.PaymentWindow1Start,
		PaymentWindow1End:   req.PaymentWindow1End,
		PaymentWindow2Start: req.PaymentWindow2Start,
		PaymentWindow2End:   req.PaymentWindow2End,
		Factor:              req.Factor,
	}
}
