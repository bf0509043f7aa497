package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
)

type cleanupServiceMock struct {
	params  models.CleanupParams
	trigger string
	months  int
}

func (m *cleanupServiceMock) ExecuteCleanup(ctx context.Context, params models.CleanupParams, trigger string) (*models.CleanupExecutionLog, error) {
	m.params = params
	m.trigger = trigger
	if params.MonthsThreshold < models.MinCleanupMonths {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid cleanup parameters")
	}
	return &models.CleanupExecutionLog{ExecutionID: "exec-1", Status: models.CleanupPartial, Trigger: trigger}, nil
}

func (m *cleanupServiceMock) IdentifyCandidates(ctx context.Context, months int) ([]models.CleanupCandidate, error) {
	m.months = months
	return []models.CleanupCandidate{{Term: models.Term{ID: "t-2019-1"}, MonthsSinceEnd: 70}}, nil
}

func (m *cleanupServiceMock) History(ctx context.Context) ([]models.CleanupHistoryItem, error) {
	return []models.CleanupHistoryItem{{ExecutionID: "exec-1", Status: models.CleanupCompleted}}, nil
}

func (m *cleanupServiceMock) Details(ctx context.Context, executionID string) (*models.CleanupExecutionLog, error) {
	if executionID != "exec-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "cleanup execution not found")
	}
	return &models.CleanupExecutionLog{ExecutionID: executionID}, nil
}

func TestCleanupHandlerExecuteAppliesDefaults(t *testing.T) {
	svc := &cleanupServiceMock{}
	handler := NewCleanupHandler(svc)

	c, w := newGinContext(http.MethodPost, "/bimestres/cleanup", []byte(`{}`))
	handler.Execute(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.CleanupTriggerManual, svc.trigger)
	assert.Equal(t, models.DefaultCleanupMonths, svc.params.MonthsThreshold)
	assert.Equal(t, models.DefaultCleanupMaxTerms, svc.params.MaxTermsPerRun)
	assert.True(t, svc.params.DebugMode)
	assert.True(t, svc.params.PerformBackup)
	assert.Contains(t, w.Body.String(), `"status":"PARTIAL"`)
}

func TestCleanupHandlerExecuteEmptyBody(t *testing.T) {
	svc := &cleanupServiceMock{}
	handler := NewCleanupHandler(svc)

	c, w := newGinContext(http.MethodPost, "/bimestres/cleanup", nil)
	handler.Execute(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DefaultCleanupMonths, svc.params.MonthsThreshold)
}

func TestCleanupHandlerExecuteRejectsBadParams(t *testing.T) {
	svc := &cleanupServiceMock{}
	handler := NewCleanupHandler(svc)

	c, w := newGinContext(http.MethodPost, "/bimestres/cleanup", []byte(`{"monthsThreshold":2,"performBackup":false}`))
	handler.Execute(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2, svc.params.MonthsThreshold)
	assert.False(t, svc.params.PerformBackup)
}

func TestCleanupHandlerCandidates(t *testing.T) {
	svc := &cleanupServiceMock{}
	handler := NewCleanupHandler(svc)

	c, w := newGinContext(http.MethodGet, "/bimestres/cleanup/candidates?monthsThreshold=36", nil)
	handler.Candidates(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 36, svc.months)
	assert.Contains(t, w.Body.String(), `"total":1`)

	c, w = newGinContext(http.MethodGet, "/bimestres/cleanup/candidates?monthsThreshold=lots", nil)
	handler.Candidates(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCleanupHandlerHistoryAndDetails(t *testing.T) {
	handler := NewCleanupHandler(&cleanupServiceMock{})

	c, w := newGinContext(http.MethodGet, "/bimestres/cleanup/history", nil)
	handler.History(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"execution_id":"exec-1"`)

	c, w = newGinContext(http.MethodGet, "/bimestres/cleanup/details/exec-1", nil)
	c.Params = gin.Params{{Key: "executionId", Value: "exec-1"}}
	handler.Details(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newGinContext(http.MethodGet, "/bimestres/cleanup/details/nope", nil)
	c.Params = gin.Params{{Key: "executionId", Value: "nope"}}
	handler.Details(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
