package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
)

func TestMetricsServiceRecordsCleanup(t *testing.T) {
	metrics := NewMetricsService()
	metrics.RecordCleanup(&models.CleanupExecutionLog{
		Status:           models.CleanupPartial,
		Trigger:          models.CleanupTriggerManual,
		ExecutionSeconds: 1.5,
		TableCounts:      models.TableCounts{"schedule_events": 7, "terms": 1},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cleanupRuns.WithLabelValues("PARTIAL", "MANUAL")))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.cleanupRows.WithLabelValues("schedule_events")))
}

func TestMetricsServiceCacheRatioAndHandler(t *testing.T) {
	metrics := NewMetricsService()
	metrics.RecordCacheOperation(true, time.Millisecond)
	metrics.RecordCacheOperation(false, time.Millisecond)
	metrics.RecordEventRejection("room_conflict")
	metrics.ObserveHTTPRequest(http.MethodGet, "/schedules", http.StatusOK, 10*time.Millisecond)

	assert.Equal(t, 0.5, testutil.ToFloat64(metrics.cacheHitRatio))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "schedule_event_conflicts_total")

	var nilMetrics *MetricsService
	nilMetrics.RecordEventWrite("create")
	rec = httptest.NewRecorder()
	nilMetrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
