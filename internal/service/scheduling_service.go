package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/database"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/export"
)

type eventRepository interface {
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
	ListByTerm(ctx context.Context, termID string) ([]models.Event, error)
	FindByID(ctx context.Context, id string) (*models.Event, error)
	ListInstructors(ctx context.Context, eventIDs []string) (map[string][]models.Instructor, error)
	CountActiveBySubject(ctx context.Context, subjectCode, termID string) (int, error)
	LockRoom(ctx context.Context, exec sqlx.ExtContext, room string) error
	FindRoomConflicts(ctx context.Context, exec sqlx.ExtContext, room string, start, end time.Time, excludeID string) ([]models.Event, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error
	Update(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error
	ReplaceInstructors(ctx context.Context, exec sqlx.ExtContext, eventID string, termID *string, instructorIDs []string) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
}

type instructorRepository interface {
	ExistingIDs(ctx context.Context, ids []string) ([]string, error)
}

type eventTermRepository interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindContaining(ctx context.Context, at time.Time) (*models.Term, error)
}

type txRunner interface {
	WithinTx(ctx context.Context, fn database.TxFunc) error
}

// CreateEventRequest is the payload for scheduling a new event.
type CreateEventRequest struct {
	Title         string    `json:"title" validate:"required,max=200"`
	Description   *string   `json:"description"`
	StartDate     time.Time `json:"start_date" validate:"required"`
	EndDate       time.Time `json:"end_date" validate:"required"`
	Room          *string   `json:"room" validate:"omitempty,max=64"`
	Subject       *string   `json:"subject" validate:"omitempty,max=64"`
	InstructorIDs []string  `json:"teacher_ids" validate:"omitempty,dive,required"`
	Students      *int      `json:"students" validate:"omitempty,gte=0"`
	Hours         *float64  `json:"horas" validate:"omitempty,gte=0"`
	Color         *string   `json:"color" validate:"omitempty,max=32"`
	TermID        *string   `json:"bimestre_id"`
}

// UpdateEventRequest carries the fields to change. A present teacher_ids list,
// even an empty one, replaces the whole instructor set.
type UpdateEventRequest struct {
	Title         *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description   *string    `json:"description"`
	StartDate     *time.Time `json:"start_date"`
	EndDate       *time.Time `json:"end_date"`
	Room          *string    `json:"room" validate:"omitempty,max=64"`
	Subject       *string    `json:"subject" validate:"omitempty,max=64"`
	InstructorIDs *[]string  `json:"teacher_ids"`
	Students      *int       `json:"students" validate:"omitempty,gte=0"`
	Hours         *float64   `json:"horas" validate:"omitempty,gte=0"`
	Color         *string    `json:"color" validate:"omitempty,max=32"`
	TermID        *string    `json:"bimestre_id"`
	IsActive      *bool      `json:"is_active"`
}

// SchedulingService validates and persists events.
type SchedulingService struct {
	events      eventRepository
	instructors instructorRepository
	terms       eventTermRepository
	tx          txRunner
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSchedulingService constructs a SchedulingService.
func NewSchedulingService(events eventRepository, instructors instructorRepository, terms eventTermRepository, tx txRunner, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *SchedulingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulingService{
		events:      events,
		instructors: instructors,
		terms:       terms,
		tx:          tx,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// List returns events matching filter.
func (s *SchedulingService) List(ctx context.Context, filter models.EventFilter) ([]models.Event, *models.Pagination, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	events, total, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	if err := attachInstructors(ctx, s.events, events); err != nil {
		return nil, nil, err
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns an event with its instructors.
func (s *SchedulingService) Get(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.events.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	events := []models.Event{*event}
	if err := attachInstructors(ctx, s.events, events); err != nil {
		return nil, err
	}
	return &events[0], nil
}

// Create validates and stores a new event for the given user.
func (s *SchedulingService) Create(ctx context.Context, req CreateEventRequest, userID string) (*models.Event, error) {
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordEventRejection("validation")
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	if strings.TrimSpace(req.Title) == "" {
		s.metrics.RecordEventRejection("validation")
		return nil, appErrors.Clone(appErrors.ErrValidation, "title must not be blank")
	}
	if !req.StartDate.Before(req.EndDate) {
		s.metrics.RecordEventRejection("validation")
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must be before end_date")
	}

	event := &models.Event{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		StartAt:     req.StartDate,
		EndAt:       req.EndDate,
		Room:        trimmedOrNil(req.Room),
		SubjectCode: trimmedOrNil(req.Subject),
		Students:    req.Students,
		Hours:       req.Hours,
		Color:       req.Color,
		IsActive:    true,
		CreatedBy:   userID,
	}

	term, err := s.resolveTerm(ctx, req.TermID, event.StartAt)
	if err != nil {
		return nil, err
	}
	if err := s.checkContainment(term, event); err != nil {
		return nil, err
	}
	if term != nil {
		event.TermID = &term.ID
	}

	instructorIDs, err := s.validateInstructors(ctx, req.InstructorIDs)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := s.ensureRoomFree(ctx, tx, event); err != nil {
			return err
		}
		if err := s.events.Insert(ctx, tx, event); err != nil {
			return err
		}
		if len(instructorIDs) == 0 {
			return nil
		}
		return s.events.ReplaceInstructors(ctx, tx, event.ID, event.TermID, instructorIDs)
	})
	if err != nil {
		return nil, s.writeError(err, "failed to create event")
	}

	s.afterWrite(ctx, "create", event.ID)
	return s.Get(ctx, event.ID)
}

// Update applies a partial change to an event.
func (s *SchedulingService) Update(ctx context.Context, id string, req UpdateEventRequest) (*models.Event, error) {
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordEventRejection("validation")
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		s.metrics.RecordEventRejection("validation")
		return nil, appErrors.Clone(appErrors.ErrValidation, "title must not be blank")
	}

	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !event.IsActive && (req.IsActive == nil || !*req.IsActive) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot update an inactive event")
	}

	if req.Title != nil {
		event.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		event.Description = req.Description
	}
	if req.StartDate != nil {
		event.StartAt = *req.StartDate
	}
	if req.EndDate != nil {
		event.EndAt = *req.EndDate
	}
	if req.Room != nil {
		event.Room = trimmedOrNil(req.Room)
	}
	if req.Subject != nil {
		event.SubjectCode = trimmedOrNil(req.Subject)
	}
	if req.Students != nil {
		event.Students = req.Students
	}
	if req.Hours != nil {
		event.Hours = req.Hours
	}
	if req.Color != nil {
		event.Color = req.Color
	}
	if req.IsActive != nil {
		event.IsActive = *req.IsActive
	}
	if !event.StartAt.Before(event.EndAt) {
		s.metrics.RecordEventRejection("validation")
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must be before end_date")
	}

	previousTerm := event.TermID
	var term *models.Term
	switch {
	case req.TermID != nil:
		term, err = s.resolveTerm(ctx, req.TermID, event.StartAt)
	case event.TermID != nil:
		term, err = s.resolveTerm(ctx, event.TermID, event.StartAt)
	case req.StartDate != nil:
		term, err = s.resolveTerm(ctx, nil, event.StartAt)
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkContainment(term, event); err != nil {
		return nil, err
	}
	event.TermID = nil
	if term != nil {
		event.TermID = &term.ID
	}

	var instructorIDs []string
	replace := false
	if req.InstructorIDs != nil {
		for _, instructorID := range *req.InstructorIDs {
			if strings.TrimSpace(instructorID) == "" {
				return nil, appErrors.Clone(appErrors.ErrValidation, "teacher_ids must not contain empty values")
			}
		}
		instructorIDs, err = s.validateInstructors(ctx, *req.InstructorIDs)
		if err != nil {
			return nil, err
		}
		replace = true
	} else if !sameTerm(previousTerm, event.TermID) {
		for _, instructor := range event.Instructors {
			instructorIDs = append(instructorIDs, instructor.ID)
		}
		replace = len(instructorIDs) > 0
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := s.ensureRoomFree(ctx, tx, event); err != nil {
			return err
		}
		if err := s.events.Update(ctx, tx, event); err != nil {
			return err
		}
		if !replace {
			return nil
		}
		return s.events.ReplaceInstructors(ctx, tx, event.ID, event.TermID, instructorIDs)
	})
	if err != nil {
		return nil, s.writeError(err, "failed to update event")
	}

	s.afterWrite(ctx, "update", event.ID)
	return s.Get(ctx, event.ID)
}

// Delete hard-deletes an event and its assignments.
func (s *SchedulingService) Delete(ctx context.Context, id string) error {
	var existed bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		existed, err = s.events.Delete(ctx, tx, id)
		return err
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete event")
	}
	if !existed {
		return appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	s.afterWrite(ctx, "delete", id)
	return nil
}

// NextSequenceNumber returns one more than the active events of a subject in a
// term. The number is not reserved, so concurrent callers may receive the same value.
func (s *SchedulingService) NextSequenceNumber(ctx context.Context, subject, termID string) (int, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" || termID == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "subject and bimestre_id are required")
	}
	count, err := s.events.CountActiveBySubject(ctx, subject, termID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count events")
	}
	return count + 1, nil
}

// Export renders every event of a term in the requested format.
func (s *SchedulingService) Export(ctx context.Context, termID string, format export.Format) ([]byte, string, error) {
	if termID == "" {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "bimestre_id is required")
	}
	term, err := s.terms.FindByID(ctx, termID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	events, err := s.events.ListByTerm(ctx, termID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	if err := attachInstructors(ctx, s.events, events); err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{Headers: []string{"Title", "Start", "End", "Room", "Subject", "Hours", "Instructors", "Active"}}
	for _, e := range events {
		names := make([]string, 0, len(e.Instructors))
		for _, instructor := range e.Instructors {
			names = append(names, instructor.FullName)
		}
		sort.Strings(names)
		hours := ""
		if e.Hours != nil {
			hours = fmt.Sprintf("%g", *e.Hours)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Title":       e.Title,
			"Start":       e.StartAt.Format("2006-01-02 15:04"),
			"End":         e.EndAt.Format("2006-01-02 15:04"),
			"Room":        derefString(e.Room),
			"Subject":     derefString(e.SubjectCode),
			"Hours":       hours,
			"Instructors": strings.Join(names, ", "),
			"Active":      fmt.Sprintf("%t", e.IsActive),
		})
	}

	payload, err := export.Render(format, dataset, fmt.Sprintf("%s (%d)", term.Name, term.AcademicYear))
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	filename := fmt.Sprintf("schedule-%d-%d.%s", term.AcademicYear, term.Sequence, format)
	return payload, filename, nil
}

// resolveTerm loads an explicit term, or the term containing at when no id is
// given. A date outside every term yields a nil term.
func (s *SchedulingService) resolveTerm(ctx context.Context, termID *string, at time.Time) (*models.Term, error) {
	if termID != nil && strings.TrimSpace(*termID) != "" {
		term, err := s.terms.FindByID(ctx, strings.TrimSpace(*termID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
		}
		return term, nil
	}
	term, err := s.terms.FindContaining(ctx, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve term")
	}
	return term, nil
}

func (s *SchedulingService) checkContainment(term *models.Term, event *models.Event) error {
	if term == nil || term.ContainsRange(event.StartAt, event.EndAt) {
		return nil
	}
	s.metrics.RecordEventRejection("boundary")
	return appErrors.WithDetails(
		appErrors.Clone(appErrors.ErrBoundaryViolation, fmt.Sprintf("event must fall within term %s", term.Name)),
		fmt.Sprintf("term runs from %s to %s", term.StartDate.Format("2006-01-02"), term.EndDate.Format("2006-01-02")),
	)
}

func (s *SchedulingService) validateInstructors(ctx context.Context, ids []string) ([]string, error) {
	unique := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return unique, nil
	}

	found, err := s.instructors.ExistingIDs(ctx, unique)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate instructors")
	}
	known := make(map[string]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	var missing []string
	for _, id := range unique {
		if !known[id] {
			missing = append(missing, fmt.Sprintf("unknown instructor %s", id))
		}
	}
	if len(missing) > 0 {
		s.metrics.RecordEventRejection("validation")
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid teacher_ids"), missing...)
	}
	return unique, nil
}

// ensureRoomFree serialises on the room and rejects overlapping active events.
func (s *SchedulingService) ensureRoomFree(ctx context.Context, tx *sqlx.Tx, event *models.Event) error {
	if !event.IsActive || !event.HasRoom() {
		return nil
	}
	room := *event.Room
	if err := s.events.LockRoom(ctx, tx, room); err != nil {
		return err
	}
	existing, err := s.events.FindRoomConflicts(ctx, tx, room, event.StartAt, event.EndAt, event.ID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}
	conflict := &models.EventConflictError{Message: fmt.Sprintf("room %s is already booked", room)}
	for _, e := range existing {
		conflict.Conflicts = append(conflict.Conflicts, models.EventConflict{
			EventID: e.ID,
			Title:   e.Title,
			Room:    room,
			StartAt: e.StartAt,
			EndAt:   e.EndAt,
		})
	}
	return conflict
}

func (s *SchedulingService) writeError(err error, message string) error {
	var conflict *models.EventConflictError
	if errors.As(err, &conflict) {
		s.metrics.RecordEventRejection("room_conflict")
		return appErrors.WithDetails(appErrors.Clone(appErrors.ErrConflict, conflict.Message), conflict.Details()...)
	}
	if database.IsExclusionViolation(err) {
		s.metrics.RecordEventRejection("room_conflict")
		return appErrors.Clone(appErrors.ErrConflict, "room is already booked for the requested time")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *SchedulingService) afterWrite(ctx context.Context, operation, eventID string) {
	s.metrics.RecordEventWrite(operation)
	_ = s.cache.Invalidate(ctx, visibleCachePattern)
	s.logger.Info("event "+operation, zap.String("event_id", eventID))
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func sameTerm(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
