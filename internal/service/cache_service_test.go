package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCacheRepo struct {
	*memoryCacheRepo
	failPattern string
}

func (f *failingCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	if pattern == f.failPattern {
		return errors.New("redis: connection reset")
	}
	return f.memoryCacheRepo.DeleteByPattern(ctx, pattern)
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, time.Minute, nil, false)

	require.NoError(t, cache.Set(context.Background(), "events:visible:u1:x", []string{"a"}, 0))
	hit, err := cache.Get(context.Background(), "events:visible:u1:x", &[]string{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, repo.items)

	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
	assert.NoError(t, nilCache.Invalidate(context.Background(), visibleCachePattern))
}

func TestCacheServiceRecordsHitsAndMisses(t *testing.T) {
	metrics := NewMetricsService()
	cache := NewCacheService(newMemoryCacheRepo(), metrics, time.Minute, nil, true)
	ctx := context.Background()

	var dest []string
	hit, err := cache.Get(ctx, "events:visible:u1:k", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "events:visible:u1:k", []string{"e1"}, 0))
	hit, err = cache.Get(ctx, "events:visible:u1:k", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"e1"}, dest)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheMisses))
}

func TestCacheServiceInvalidateAttemptsEveryPattern(t *testing.T) {
	repo := &failingCacheRepo{memoryCacheRepo: newMemoryCacheRepo(), failPattern: visibleCacheUserPattern("u1")}
	cache := NewCacheService(repo, nil, time.Minute, nil, true)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "events:visible:u2:k", "x", 0))

	err := cache.Invalidate(ctx, visibleCacheUserPattern("u1"), visibleCacheUserPattern("u2"))

	assert.Error(t, err)
	assert.Equal(t, []string{visibleCacheUserPattern("u2")}, repo.invalidated)
	assert.Empty(t, repo.items)
}
