package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aimake-cache/internal/cache"
	"aimake-cache/internal/common/logging"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *cache.Manager, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	config := cache.DefaultConfig()
	config.Remote.Breaker.MaxFailures = 0

	registry := prometheus.NewRegistry()
	manager, err := cache.NewManager(config,
		cache.WithLogger(logging.NewNopLogger()),
		cache.WithRedisClient(rdb),
		cache.WithMetricsRegisterer(registry),
	)
	require.NoError(t, err)
	t.Cleanup(manager.Cleanup)
	require.NoError(t, manager.Initialize(context.Background()))

	return newRouter(manager, registry), manager, mr
}

func TestHealthEndpoint(t *testing.T) {
	router, manager, mr := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report cache.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.OverallHealthy)
	assert.Equal(t, cache.LevelMemoryFirst, report.Level)

	// remote down is degraded, not unhealthy
	mr.Close()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	manager.Cleanup()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	router, manager, _ := newTestRouter(t)
	ctx := context.Background()

	manager.Set(ctx, "k", "v", time.Minute)
	manager.Get(ctx, "k")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, float64(1), stats["total_gets"])
	assert.Equal(t, float64(1), stats["total_sets"])
	assert.Equal(t, float64(1), stats["overall_hit_rate"])
	assert.Contains(t, stats, "memory")
	assert.Contains(t, stats, "remote")
}

func TestMetricsEndpoint(t *testing.T) {
	router, manager, _ := newTestRouter(t)
	manager.Get(context.Background(), "missing")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "aimake_cache_misses_total 1"))
	assert.Contains(t, body, "aimake_cache_memory_entries")
}

func TestUnknownMethod(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
