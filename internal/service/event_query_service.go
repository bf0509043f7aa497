package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
)

const visibleCachePattern = "events:visible:*"

func visibleCacheUserPattern(userID string) string {
	return fmt.Sprintf("events:visible:%s:*", userID)
}

func visibleCacheKey(filter models.VisibleEventFilter) string {
	active := "any"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("events:visible:%s:%s:%s:%s:%s:%d:%d",
		filter.UserID, filter.TermID, formatOptionalTime(filter.StartDate), formatOptionalTime(filter.EndDate), active, filter.Page, filter.PageSize)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

type visibleEventRepository interface {
	ListVisible(ctx context.Context, filter models.VisibleEventFilter) ([]models.Event, int, error)
	ListInstructors(ctx context.Context, eventIDs []string) (map[string][]models.Instructor, error)
}

type permissionSetLoader interface {
	LoadSet(ctx context.Context, userID, termID string) (*models.PermissionSet, error)
}

type currentTermFinder interface {
	FindCurrent(ctx context.Context, at time.Time) (*models.Term, error)
}

type instructorLister interface {
	ListInstructors(ctx context.Context, eventIDs []string) (map[string][]models.Instructor, error)
}

type visibleListing struct {
	Events []models.Event `json:"events"`
	Total  int            `json:"total"`
}

// EventQueryService serves the permission-filtered event listing.
type EventQueryService struct {
	events      visibleEventRepository
	permissions permissionSetLoader
	terms       currentTermFinder
	cache       *CacheService
	cacheTTL    time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewEventQueryService constructs an EventQueryService.
func NewEventQueryService(events visibleEventRepository, permissions permissionSetLoader, terms currentTermFinder, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *EventQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventQueryService{
		events:      events,
		permissions: permissions,
		terms:       terms,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// ListVisible returns the events of a term whose subject the user may see,
// newest updates first. A user without grants gets an empty page.
func (s *EventQueryService) ListVisible(ctx context.Context, filter models.VisibleEventFilter) ([]models.Event, *models.Pagination, error) {
	if filter.UserID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "user identity required")
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)

	if filter.TermID == "" {
		term, err := s.terms.FindCurrent(ctx, s.now())
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, appErrors.Clone(appErrors.ErrValidation, "bimestre_id is required when no term is current")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve current term")
		}
		filter.TermID = term.ID
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}

	key := visibleCacheKey(filter)
	var cached visibleListing
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		pagination.TotalCount = cached.Total
		return cached.Events, pagination, nil
	}

	set, err := s.permissions.LoadSet(ctx, filter.UserID, filter.TermID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grants")
	}
	if set.Empty() {
		s.logger.Debug("user has no grants in term", zap.String("user_id", filter.UserID), zap.String("term_id", filter.TermID))
		return []models.Event{}, pagination, nil
	}

	events, total, err := s.events.ListVisible(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list visible events")
	}
	if err := attachInstructors(ctx, s.events, events); err != nil {
		return nil, nil, err
	}
	if events == nil {
		events = []models.Event{}
	}
	pagination.TotalCount = total

	_ = s.cache.Set(ctx, key, visibleListing{Events: events, Total: total}, s.cacheTTL)
	return events, pagination, nil
}

func attachInstructors(ctx context.Context, repo instructorLister, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	ids := make([]string, len(events))
	for i := range events {
		ids[i] = events[i].ID
	}
	grouped, err := repo.ListInstructors(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructors")
	}
	for i := range events {
		events[i].Instructors = grouped[events[i].ID]
		if events[i].Instructors == nil {
			events[i].Instructors = []models.Instructor{}
		}
	}
	return nil
}
