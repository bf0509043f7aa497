package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
)

type memoryCacheRepo struct {
	items       map[string][]byte
	invalidated []string
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	m.invalidated = append(m.invalidated, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
	return nil
}

type fakePermissionLoader struct {
	sets  map[string]*models.PermissionSet
	calls int
}

func (f *fakePermissionLoader) LoadSet(ctx context.Context, userID, termID string) (*models.PermissionSet, error) {
	f.calls++
	if set, ok := f.sets[userID+"/"+termID]; ok {
		return set, nil
	}
	return models.NewPermissionSet(), nil
}

// visibleEventStore applies the same visibility predicate the SQL listing encodes.
type visibleEventStore struct {
	events      []models.Event
	permissions *fakePermissionLoader
	calls       int
}

func (v *visibleEventStore) ListVisible(ctx context.Context, filter models.VisibleEventFilter) ([]models.Event, int, error) {
	v.calls++
	set, _ := v.permissions.LoadSet(ctx, filter.UserID, filter.TermID)
	var out []models.Event
	for _, e := range v.events {
		if e.TermID == nil || *e.TermID != filter.TermID || e.SubjectCode == nil {
			continue
		}
		if set.Visible(*e.SubjectCode) {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (v *visibleEventStore) ListInstructors(ctx context.Context, eventIDs []string) (map[string][]models.Instructor, error) {
	return map[string][]models.Instructor{}, nil
}

func visibleEvent(id, subject string) models.Event {
	return models.Event{ID: id, Title: id, SubjectCode: ptr(subject), TermID: ptr(springTerm.ID), IsActive: true, StartAt: at(10, 8, 0), EndAt: at(10, 9, 0)}
}

func startOnlySet() *models.PermissionSet {
	set := models.NewPermissionSet()
	set.CategorySubjects["INI100"] = struct{}{}
	set.CategorySubjects["INI200"] = struct{}{}
	return set
}

func newQueryFixture(cache *CacheService) (*EventQueryService, *visibleEventStore, *fakePermissionLoader) {
	loader := &fakePermissionLoader{sets: map[string]*models.PermissionSet{
		"starter/" + springTerm.ID: startOnlySet(),
	}}
	store := &visibleEventStore{
		permissions: loader,
		events: []models.Event{
			visibleEvent("e1", "INI100"),
			visibleEvent("e2", "MAT101"),
			visibleEvent("e3", "ini200"),
		},
	}
	svc := NewEventQueryService(store, loader, newMemoryTermRepo(springTerm), cache, time.Minute, zap.NewNop())
	svc.now = func() time.Time { return at(15, 12, 0) }
	return svc, store, loader
}

func TestEventQueryServiceZeroGrantsReturnsEmptyPage(t *testing.T) {
	svc, store, _ := newQueryFixture(nil)

	events, pagination, err := svc.ListVisible(context.Background(), models.VisibleEventFilter{UserID: "nobody", TermID: springTerm.ID})
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
	assert.Equal(t, 0, pagination.TotalCount)
	assert.Equal(t, 0, store.calls)
}

func TestEventQueryServiceStartCategoryOnly(t *testing.T) {
	svc, _, _ := newQueryFixture(nil)

	events, pagination, err := svc.ListVisible(context.Background(), models.VisibleEventFilter{UserID: "starter"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.NotEqual(t, "MAT101", *e.SubjectCode)
	}
	assert.Equal(t, 2, pagination.TotalCount)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
}

func TestEventQueryServiceRequiresCurrentTermWhenOmitted(t *testing.T) {
	svc, _, _ := newQueryFixture(nil)
	svc.now = func() time.Time { return day(2025, time.August, 1) }

	_, _, err := svc.ListVisible(context.Background(), models.VisibleEventFilter{UserID: "starter"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, _, err = svc.ListVisible(context.Background(), models.VisibleEventFilter{})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestEventQueryServiceCachesListings(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, NewMetricsService(), time.Minute, zap.NewNop(), true)
	svc, store, _ := newQueryFixture(cache)
	filter := models.VisibleEventFilter{UserID: "starter", TermID: springTerm.ID}

	first, _, err := svc.ListVisible(context.Background(), filter)
	require.NoError(t, err)
	second, pagination, err := svc.ListVisible(context.Background(), filter)
	require.NoError(t, err)

	assert.Equal(t, 1, store.calls)
	assert.Len(t, second, len(first))
	assert.Equal(t, 2, pagination.TotalCount)

	require.NoError(t, cache.Invalidate(context.Background(), visibleCacheUserPattern("starter")))
	_, _, err = svc.ListVisible(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}
