package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimestre-scheduler-api/internal/middleware"
	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/export"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/response"
)

type schedulingServiceMock struct {
	created    *models.Event
	createErr  error
	createUser string
	createReq  service.CreateEventRequest
	listFilter models.EventFilter
	deleteErr  error
	next       int
	exported   export.Format
}

func (m *schedulingServiceMock) List(ctx context.Context, filter models.EventFilter) ([]models.Event, *models.Pagination, error) {
	m.listFilter = filter
	return []models.Event{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *schedulingServiceMock) Get(ctx context.Context, id string) (*models.Event, error) {
	if id == "missing" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	return &models.Event{ID: id}, nil
}

func (m *schedulingServiceMock) Create(ctx context.Context, req service.CreateEventRequest, userID string) (*models.Event, error) {
	m.createReq = req
	m.createUser = userID
	return m.created, m.createErr
}

func (m *schedulingServiceMock) Update(ctx context.Context, id string, req service.UpdateEventRequest) (*models.Event, error) {
	return &models.Event{ID: id}, nil
}

func (m *schedulingServiceMock) Delete(ctx context.Context, id string) error {
	return m.deleteErr
}

func (m *schedulingServiceMock) NextSequenceNumber(ctx context.Context, subject, termID string) (int, error) {
	return m.next, nil
}

func (m *schedulingServiceMock) Export(ctx context.Context, termID string, format export.Format) ([]byte, string, error) {
	m.exported = format
	return []byte("Title,Start\n"), "schedule-2025-2." + string(format), nil
}

type visibleServiceMock struct {
	filter models.VisibleEventFilter
}

func (m *visibleServiceMock) ListVisible(ctx context.Context, filter models.VisibleEventFilter) ([]models.Event, *models.Pagination, error) {
	m.filter = filter
	return []models.Event{{ID: "e1"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestScheduleHandlerCreate(t *testing.T) {
	svc := &schedulingServiceMock{created: &models.Event{ID: "e1", Title: "Algebra"}}
	handler := NewScheduleHandler(svc, &visibleServiceMock{})

	body := []byte(`{"title":"Algebra","start_date":"2025-03-10T09:00:00Z","end_date":"2025-03-10T11:00:00Z","room":"A-101","teacher_ids":["t1","t2"]}`)
	c, w := newGinContext(http.MethodPost, "/schedules", body)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "editor-1", Role: models.RoleEditor})

	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "editor-1", svc.createUser)
	assert.Equal(t, []string{"t1", "t2"}, svc.createReq.InstructorIDs)
	assert.Contains(t, w.Body.String(), `"id":"e1"`)
}

func TestScheduleHandlerCreateConflict(t *testing.T) {
	svc := &schedulingServiceMock{createErr: appErrors.WithDetails(
		appErrors.Clone(appErrors.ErrConflict, "room A-101 is already booked"),
		`"Lab" in room A-101 from 2025-03-10T09:00:00Z to 2025-03-10T11:00:00Z`,
	)}
	handler := NewScheduleHandler(svc, &visibleServiceMock{})

	c, w := newGinContext(http.MethodPost, "/schedules", []byte(`{"title":"Algebra","start_date":"2025-03-10T10:00:00Z","end_date":"2025-03-10T12:00:00Z","room":"A-101"}`))
	handler.Create(c)

	require.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrConflict.Code, env.Error.Code)
	assert.Len(t, env.Error.Details, 1)
}

func TestScheduleHandlerCreateRejectsMalformedBody(t *testing.T) {
	handler := NewScheduleHandler(&schedulingServiceMock{}, &visibleServiceMock{})

	c, w := newGinContext(http.MethodPost, "/schedules", []byte(`{"title":`))
	handler.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleHandlerListParsesFilters(t *testing.T) {
	svc := &schedulingServiceMock{}
	handler := NewScheduleHandler(svc, &visibleServiceMock{})

	c, w := newGinContext(http.MethodGet, "/schedules?bimestre_id=t1&start_date=2025-03-01&end_date=2025-03-31T23:59:59Z&active=true&room=A-101&page=2&limit=500", nil)
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", svc.listFilter.TermID)
	require.NotNil(t, svc.listFilter.StartDate)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *svc.listFilter.StartDate)
	require.NotNil(t, svc.listFilter.Active)
	assert.True(t, *svc.listFilter.Active)
	assert.Equal(t, 2, svc.listFilter.Page)
	assert.Equal(t, 20, svc.listFilter.PageSize)
}

func TestScheduleHandlerListRejectsBadDate(t *testing.T) {
	handler := NewScheduleHandler(&schedulingServiceMock{}, &visibleServiceMock{})

	c, w := newGinContext(http.MethodGet, "/schedules?start_date=yesterday", nil)
	handler.List(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleHandlerListVisibleUsesCaller(t *testing.T) {
	visible := &visibleServiceMock{}
	handler := NewScheduleHandler(&schedulingServiceMock{}, visible)

	c, w := newGinContext(http.MethodGet, "/schedules/visible?bimestre_id=t1&user_id=someone-else", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "viewer-1", Role: models.RoleViewer})
	handler.ListVisible(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "viewer-1", visible.filter.UserID)
	assert.Equal(t, "t1", visible.filter.TermID)

	c, w = newGinContext(http.MethodGet, "/schedules/visible", nil)
	handler.ListVisible(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestScheduleHandlerGetAndDelete(t *testing.T) {
	svc := &schedulingServiceMock{}
	handler := NewScheduleHandler(svc, &visibleServiceMock{})

	c, w := newGinContext(http.MethodGet, "/schedules/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, _ = newGinContext(http.MethodDelete, "/schedules/e1", nil)
	c.Params = gin.Params{{Key: "id", Value: "e1"}}
	handler.Delete(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())

	svc.deleteErr = appErrors.Clone(appErrors.ErrNotFound, "event not found")
	c, w = newGinContext(http.MethodDelete, "/schedules/e1", nil)
	c.Params = gin.Params{{Key: "id", Value: "e1"}}
	handler.Delete(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScheduleHandlerNextSequence(t *testing.T) {
	handler := NewScheduleHandler(&schedulingServiceMock{next: 4}, &visibleServiceMock{})

	c, w := newGinContext(http.MethodGet, "/schedules/next-sequence?subject=MAT101&bimestre_id=t1", nil)
	handler.NextSequence(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"next_sequence":4`)
}

func TestScheduleHandlerExport(t *testing.T) {
	svc := &schedulingServiceMock{}
	handler := NewScheduleHandler(svc, &visibleServiceMock{})

	c, w := newGinContext(http.MethodGet, "/schedules/export?bimestre_id=t1", nil)
	handler.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.FormatCSV, svc.exported)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "schedule-2025-2.csv")

	c, w = newGinContext(http.MethodGet, "/schedules/export?bimestre_id=t1&format=xlsx", nil)
	handler.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
