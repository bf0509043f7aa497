package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/database"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/export"
)

type memoryEventRepo struct {
	events      map[string]*models.Event
	assignments map[string][]string
	registry    map[string]models.Instructor
	lockedRooms []string
	insertErr   error
	seq         int
}

func newMemoryEventRepo(instructors ...models.Instructor) *memoryEventRepo {
	repo := &memoryEventRepo{
		events:      map[string]*models.Event{},
		assignments: map[string][]string{},
		registry:    map[string]models.Instructor{},
	}
	for _, i := range instructors {
		repo.registry[i.ID] = i
	}
	return repo
}

func (m *memoryEventRepo) sorted() []models.Event {
	out := make([]models.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

func (m *memoryEventRepo) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	var out []models.Event
	for _, e := range m.sorted() {
		if filter.TermID != "" && (e.TermID == nil || *e.TermID != filter.TermID) {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

func (m *memoryEventRepo) ListByTerm(ctx context.Context, termID string) ([]models.Event, error) {
	events, _, err := m.List(ctx, models.EventFilter{TermID: termID})
	return events, err
}

func (m *memoryEventRepo) FindByID(ctx context.Context, id string) (*models.Event, error) {
	if e, ok := m.events[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryEventRepo) ListInstructors(ctx context.Context, eventIDs []string) (map[string][]models.Instructor, error) {
	out := map[string][]models.Instructor{}
	for _, id := range eventIDs {
		for _, instructorID := range m.assignments[id] {
			out[id] = append(out[id], m.registry[instructorID])
		}
	}
	return out, nil
}

func (m *memoryEventRepo) CountActiveBySubject(ctx context.Context, subjectCode, termID string) (int, error) {
	count := 0
	for _, e := range m.events {
		if e.IsActive && e.SubjectCode != nil && strings.EqualFold(*e.SubjectCode, subjectCode) && e.TermID != nil && *e.TermID == termID {
			count++
		}
	}
	return count, nil
}

func (m *memoryEventRepo) LockRoom(ctx context.Context, exec sqlx.ExtContext, room string) error {
	m.lockedRooms = append(m.lockedRooms, room)
	return nil
}

func (m *memoryEventRepo) FindRoomConflicts(ctx context.Context, exec sqlx.ExtContext, room string, start, end time.Time, excludeID string) ([]models.Event, error) {
	var out []models.Event
	for _, e := range m.sorted() {
		if e.IsActive && e.HasRoom() && *e.Room == room && e.ID != excludeID && e.Overlaps(start, end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryEventRepo) Insert(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.seq++
	event.ID = fmt.Sprintf("ev-%d", m.seq)
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	cp := *event
	cp.Instructors = nil
	m.events[event.ID] = &cp
	return nil
}

func (m *memoryEventRepo) Update(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error {
	cp := *event
	cp.Instructors = nil
	m.events[event.ID] = &cp
	return nil
}

func (m *memoryEventRepo) ReplaceInstructors(ctx context.Context, exec sqlx.ExtContext, eventID string, termID *string, instructorIDs []string) error {
	m.assignments[eventID] = append([]string(nil), instructorIDs...)
	return nil
}

func (m *memoryEventRepo) Delete(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	if _, ok := m.events[id]; !ok {
		return false, nil
	}
	delete(m.events, id)
	delete(m.assignments, id)
	return true, nil
}

type fakeInstructorRepo struct {
	known map[string]bool
}

func (f *fakeInstructorRepo) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		if f.known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeTx struct {
	calls int
}

func (f *fakeTx) WithinTx(ctx context.Context, fn database.TxFunc) error {
	f.calls++
	return fn(ctx, nil)
}

var springTerm = models.Term{
	ID:           "t-2025-2",
	Name:         "Bimestre 2",
	StartDate:    day(2025, time.March, 1),
	EndDate:      day(2025, time.April, 30),
	AcademicYear: 2025,
	Sequence:     2,
	IsActive:     true,
}

type schedulingFixture struct {
	svc    *SchedulingService
	events *memoryEventRepo
	tx     *fakeTx
}

func newSchedulingFixture() schedulingFixture {
	events := newMemoryEventRepo(
		models.Instructor{ID: "ins-1", FullName: "Ana Ruiz", IsActive: true},
		models.Instructor{ID: "ins-2", FullName: "Luis Peña", IsActive: true},
	)
	instructors := &fakeInstructorRepo{known: map[string]bool{"ins-1": true, "ins-2": true}}
	tx := &fakeTx{}
	svc := NewSchedulingService(events, instructors, newMemoryTermRepo(springTerm), tx, nil, NewMetricsService(), nil, zap.NewNop())
	return schedulingFixture{svc: svc, events: events, tx: tx}
}

func at(d, h, m int) time.Time {
	return time.Date(2025, time.March, d, h, m, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}

func eventRequest(title, room string, start, end time.Time) CreateEventRequest {
	req := CreateEventRequest{Title: title, StartDate: start, EndDate: end}
	if room != "" {
		req.Room = ptr(room)
	}
	return req
}

func TestSchedulingServiceRoomConflictScenario(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	e1, err := f.svc.Create(ctx, eventRequest("E1", "A-101", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.NoError(t, err)
	assert.Equal(t, springTerm.ID, *e1.TermID)
	assert.Equal(t, "u1", e1.CreatedBy)

	_, err = f.svc.Create(ctx, eventRequest("E2", "A-101", at(10, 11, 0), at(10, 13, 0)), "u1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Contains(t, appErr.Details[0], `"E1"`)

	_, err = f.svc.Create(ctx, eventRequest("E3", "A-101", at(10, 12, 0), at(10, 14, 0)), "u1")
	require.NoError(t, err)

	assert.Len(t, f.events.events, 2)
	assert.Equal(t, []string{"A-101", "A-101", "A-101"}, f.events.lockedRooms)
}

func TestSchedulingServiceEventsWithoutRoomNeverConflict(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, eventRequest("Tutoría", "", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, eventRequest("Tutoría 2", "", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, eventRequest("Sala", "B-2", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"B-2"}, f.events.lockedRooms)
}

func TestSchedulingServiceRejectsInvalidRange(t *testing.T) {
	f := newSchedulingFixture()

	_, err := f.svc.Create(context.Background(), eventRequest("E", "A", at(10, 12, 0), at(10, 12, 0)), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 0, f.tx.calls)
}

func TestSchedulingServiceBoundaryViolation(t *testing.T) {
	f := newSchedulingFixture()
	req := eventRequest("Fuera", "A-101", time.Date(2025, time.April, 30, 18, 0, 0, 0, time.UTC), time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC))
	req.TermID = ptr(springTerm.ID)

	_, err := f.svc.Create(context.Background(), req, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrBoundaryViolation)
	assert.Empty(t, f.events.events)

	req.TermID = ptr("missing")
	_, err = f.svc.Create(context.Background(), req, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestSchedulingServiceBoundaryUsesUTCDay(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()
	bogota := time.FixedZone("UTC-5", -5*60*60)

	req := eventRequest("Cierre", "A-101", time.Date(2025, time.April, 30, 20, 0, 0, 0, bogota), time.Date(2025, time.April, 30, 22, 0, 0, 0, bogota))
	req.TermID = ptr(springTerm.ID)
	_, err := f.svc.Create(ctx, req, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrBoundaryViolation)

	req = eventRequest("Cierre", "A-101", time.Date(2025, time.April, 30, 17, 0, 0, 0, bogota), time.Date(2025, time.April, 30, 18, 30, 0, 0, bogota))
	req.TermID = ptr(springTerm.ID)
	created, err := f.svc.Create(ctx, req, "u1")
	require.NoError(t, err)

	stored := f.events.events[created.ID]
	stored.StartAt = stored.StartAt.UTC()
	stored.EndAt = stored.EndAt.UTC()

	updated, err := f.svc.Update(ctx, created.ID, UpdateEventRequest{Title: ptr("Cierre de notas")})
	require.NoError(t, err)
	assert.Equal(t, "Cierre de notas", updated.Title)
}

func TestSchedulingServiceRejectsBlankTitle(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, eventRequest("   ", "A-101", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.events.events)

	created, err := f.svc.Create(ctx, eventRequest("Álgebra", "A-101", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, created.ID, UpdateEventRequest{Title: ptr(" \t ")})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	current, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Álgebra", current.Title)
}

func TestSchedulingServiceTermResolution(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	lastDay, err := f.svc.Create(ctx, eventRequest("Cierre", "", time.Date(2025, time.April, 30, 8, 0, 0, 0, time.UTC), time.Date(2025, time.April, 30, 20, 0, 0, 0, time.UTC)), "u1")
	require.NoError(t, err)
	require.NotNil(t, lastDay.TermID)
	assert.Equal(t, springTerm.ID, *lastDay.TermID)

	summer, err := f.svc.Create(ctx, eventRequest("Verano", "", time.Date(2025, time.July, 10, 8, 0, 0, 0, time.UTC), time.Date(2025, time.July, 10, 10, 0, 0, 0, time.UTC)), "u1")
	require.NoError(t, err)
	assert.Nil(t, summer.TermID)
}

func TestSchedulingServiceInstructorSetRoundTrip(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	req := eventRequest("Clase", "C-1", at(12, 8, 0), at(12, 10, 0))
	req.InstructorIDs = []string{"ins-1", "ins-2", "ins-1"}
	event, err := f.svc.Create(ctx, req, "u1")
	require.NoError(t, err)
	assert.Len(t, event.Instructors, 2)

	event, err = f.svc.Update(ctx, event.ID, UpdateEventRequest{Title: ptr("Clase renombrada")})
	require.NoError(t, err)
	assert.Len(t, event.Instructors, 2)

	event, err = f.svc.Update(ctx, event.ID, UpdateEventRequest{InstructorIDs: &[]string{"ins-2"}})
	require.NoError(t, err)
	require.Len(t, event.Instructors, 1)
	assert.Equal(t, "ins-2", event.Instructors[0].ID)

	event, err = f.svc.Update(ctx, event.ID, UpdateEventRequest{InstructorIDs: &[]string{}})
	require.NoError(t, err)
	assert.Empty(t, event.Instructors)
	assert.NotNil(t, event.Instructors)
}

func TestSchedulingServiceRejectsUnknownInstructor(t *testing.T) {
	f := newSchedulingFixture()
	req := eventRequest("Clase", "C-1", at(12, 8, 0), at(12, 10, 0))
	req.InstructorIDs = []string{"ins-1", "ghost"}

	_, err := f.svc.Create(context.Background(), req, "u1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, []string{"unknown instructor ghost"}, appErr.Details)
	assert.Empty(t, f.events.events)
}

func TestSchedulingServiceUpdateExcludesItselfFromConflicts(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	e1, err := f.svc.Create(ctx, eventRequest("E1", "A-101", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.NoError(t, err)
	e2, err := f.svc.Create(ctx, eventRequest("E2", "A-101", at(10, 12, 0), at(10, 13, 0)), "u1")
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, e1.ID, UpdateEventRequest{StartDate: ptr(at(10, 10, 30))})
	require.NoError(t, err)
	assert.Equal(t, at(10, 10, 30), updated.StartAt)

	_, err = f.svc.Update(ctx, e2.ID, UpdateEventRequest{StartDate: ptr(at(10, 11, 0))})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.svc.Update(ctx, e2.ID, UpdateEventRequest{EndDate: ptr(at(10, 11, 0))})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Update(ctx, e2.ID, UpdateEventRequest{EndDate: ptr(time.Date(2025, time.May, 2, 9, 0, 0, 0, time.UTC))})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrBoundaryViolation)
}

func TestSchedulingServiceUpdateInactiveEvent(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	event, err := f.svc.Create(ctx, eventRequest("E1", "A-101", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, event.ID, UpdateEventRequest{IsActive: ptr(false)})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, event.ID, UpdateEventRequest{Title: ptr("otra")})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.svc.Create(ctx, eventRequest("E2", "A-101", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.NoError(t, err)
}

func TestSchedulingServiceDeleteTwice(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	event, err := f.svc.Create(ctx, eventRequest("E1", "", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, event.ID))
	err = f.svc.Delete(ctx, event.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Get(ctx, event.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestSchedulingServiceNextSequenceNumber(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := eventRequest(fmt.Sprintf("COORD %d", i+1), "", at(10+i, 9, 0), at(10+i, 10, 0))
		req.Subject = ptr("COORD")
		_, err := f.svc.Create(ctx, req, "u1")
		require.NoError(t, err)
	}
	inactive := eventRequest("COORD x", "", at(20, 9, 0), at(20, 10, 0))
	inactive.Subject = ptr("coord")
	event, err := f.svc.Create(ctx, inactive, "u1")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, event.ID, UpdateEventRequest{IsActive: ptr(false)})
	require.NoError(t, err)

	next, err := f.svc.NextSequenceNumber(ctx, "COORD", springTerm.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, next)

	next, err = f.svc.NextSequenceNumber(ctx, "OTHER", springTerm.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	_, err = f.svc.NextSequenceNumber(ctx, "", springTerm.ID)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSchedulingServiceMapsExclusionViolation(t *testing.T) {
	f := newSchedulingFixture()
	f.events.insertErr = &pq.Error{Code: "23P01"}

	_, err := f.svc.Create(context.Background(), eventRequest("E1", "A-101", at(10, 10, 0), at(10, 12, 0)), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestSchedulingServiceExportCSV(t *testing.T) {
	f := newSchedulingFixture()
	ctx := context.Background()

	req := eventRequest("Álgebra", "A-101", at(10, 10, 0), at(10, 12, 0))
	req.InstructorIDs = []string{"ins-2", "ins-1"}
	_, err := f.svc.Create(ctx, req, "u1")
	require.NoError(t, err)

	payload, filename, err := f.svc.Export(ctx, springTerm.ID, export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "schedule-2025-2.csv", filename)
	assert.Contains(t, string(payload), "Álgebra")
	assert.Contains(t, string(payload), "Ana Ruiz, Luis Peña")

	_, _, err = f.svc.Export(ctx, "missing", export.FormatCSV)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
