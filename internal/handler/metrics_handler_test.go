package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestMetricsHandlerReady(t *testing.T) {
	healthy := NewMetricsHandler(service.NewMetricsService(), pingerFunc(func(context.Context) error { return nil }))
	c, w := newGinContext(http.MethodGet, "/ready", nil)
	healthy.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	down := NewMetricsHandler(nil, pingerFunc(func(context.Context) error { return errors.New("connection refused") }))
	c, w = newGinContext(http.MethodGet, "/ready", nil)
	down.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	c, w = newGinContext(http.MethodGet, "/metrics", nil)
	down.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
