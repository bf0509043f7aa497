package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	eventWrites     *prometheus.CounterVec
	eventConflicts  *prometheus.CounterVec
	cleanupRuns     *prometheus.CounterVec
	cleanupRows     *prometheus.CounterVec
	cleanupDuration prometheus.Observer

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	eventWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_event_writes_total",
		Help: "Event writes by operation",
	}, []string{"operation"})

	eventConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_event_conflicts_total",
		Help: "Rejected event writes by reason",
	}, []string{"reason"})

	cleanupRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "term_cleanup_runs_total",
		Help: "Term cleanup executions by status and trigger",
	}, []string{"status", "trigger"})

	cleanupRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "term_cleanup_rows_deleted_total",
		Help: "Rows removed by term cleanup per table",
	}, []string{"table"})

	cleanupDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "term_cleanup_duration_seconds",
		Help:    "Duration of term cleanup executions",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		eventWrites, eventConflicts, cleanupRuns, cleanupRows, cleanupDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		eventWrites:     eventWrites,
		eventConflicts:  eventConflicts,
		cleanupRuns:     cleanupRuns,
		cleanupRows:     cleanupRows,
		cleanupDuration: cleanupDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordEventWrite counts a successful create, update or delete.
func (m *MetricsService) RecordEventWrite(operation string) {
	if m == nil {
		return
	}
	m.eventWrites.WithLabelValues(operation).Inc()
}

// RecordEventRejection counts an event write refused by validation.
func (m *MetricsService) RecordEventRejection(reason string) {
	if m == nil {
		return
	}
	m.eventConflicts.WithLabelValues(reason).Inc()
}

// RecordCleanup records the outcome of a cleanup execution.
func (m *MetricsService) RecordCleanup(entry *models.CleanupExecutionLog) {
	if m == nil || entry == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(string(entry.Status), entry.Trigger).Inc()
	m.cleanupDuration.Observe(entry.ExecutionSeconds)
	for table, n := range entry.TableCounts {
		m.cleanupRows.WithLabelValues(table).Add(float64(n))
	}
}
