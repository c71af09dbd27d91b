package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics mirrors the Manager counters into Prometheus. A nil
// *cacheMetrics records nothing.
type cacheMetrics struct {
	operations *prometheus.CounterVec   // by operation
	hits       *prometheus.CounterVec   // by tier
	misses     prometheus.Counter       // lookups that no tier answered
	errors     *prometheus.CounterVec   // by tier and operation
	duration   *prometheus.HistogramVec // by operation
}

// newCacheMetrics creates and registers the cache collectors. memory may be
// nil when the level does not use the in-process tier.
func newCacheMetrics(registerer prometheus.Registerer, memory *MemoryStore) (*cacheMetrics, error) {
	if registerer == nil {
		return nil, nil // Metrics disabled
	}

	m := &cacheMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aimake",
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Total number of cache operations by kind; batch operations count once per key",
		}, []string{"operation"}), // get, set, delete

		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aimake",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of lookups answered, by the tier that answered",
		}, []string{"tier"}),

		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aimake",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of lookups no tier could answer",
		}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aimake",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of tier failures absorbed by the cache",
		}, []string{"tier", "operation"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aimake",
			Subsystem: "cache",
			Name:      "operation_duration_seconds",
			Help:      "Cache operation duration in seconds, across all tiers consulted",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}, // in-process to slow remote
		}, []string{"operation"}),
	}

	collectors := []prometheus.Collector{m.operations, m.hits, m.misses, m.errors, m.duration}

	if memory != nil {
		collectors = append(collectors,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "aimake",
				Subsystem: "cache",
				Name:      "memory_entries",
				Help:      "Current number of entries held by the in-process tier",
			}, func() float64 { return float64(memory.Len()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "aimake",
				Subsystem: "cache",
				Name:      "memory_evictions_total",
				Help:      "Total number of entries evicted from the in-process tier to make room",
			}, func() float64 { return float64(memory.Stats().Evictions) }),
		)
	}

	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *cacheMetrics) recordOperation(op string, n int, started time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Add(float64(n))
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *cacheMetrics) recordHit(tier string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.hits.WithLabelValues(tier).Add(float64(n))
}

func (m *cacheMetrics) recordMiss(n int) {
	if m == nil || n == 0 {
		return
	}
	m.misses.Add(float64(n))
}

func (m *cacheMetrics) recordError(tier, op string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(tier, op).Inc()
}
