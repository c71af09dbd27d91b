package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"aimake-cache/internal/common/errors"
	"aimake-cache/internal/common/logging"
	redisclient "aimake-cache/internal/redis"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Manager composes the in-process and remote tiers behind one interface
// according to its Level. It is the error boundary of the cache: data-path
// methods never return errors or panic; failures are counted, logged and
// degrade to a miss.
type Manager struct {
	config Config
	logger logging.Logger

	memory *MemoryStore
	remote *RemoteStore

	readOrder  []tier
	writeOrder []tier
	backfill   bool

	metrics *cacheMetrics

	lifecycleMu sync.Mutex
	initialized atomic.Bool
	cleanedUp   bool

	gets       atomic.Int64
	sets       atomic.Int64
	deletes    atomic.Int64
	misses     atomic.Int64
	errs       atomic.Int64
	memoryHits atomic.Int64
	remoteHits atomic.Int64
}

type managerOptions struct {
	logger     logging.Logger
	rdb        redis.UniversalClient
	now        func() time.Time
	registerer prometheus.Registerer
}

// Option customizes a Manager
type Option func(*managerOptions)

// WithLogger sets the logger used by the Manager and its tiers
func WithLogger(logger logging.Logger) Option {
	return func(o *managerOptions) { o.logger = logger }
}

// WithRedisClient makes the remote tier use an existing go-redis client
// instead of dialing from Config.Remote.Redis. The caller keeps ownership.
func WithRedisClient(rdb redis.UniversalClient) Option {
	return func(o *managerOptions) { o.rdb = rdb }
}

// WithClock replaces the in-process tier's time source
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) { o.now = now }
}

// WithMetricsRegisterer registers Prometheus collectors mirroring the counters
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(o *managerOptions) { o.registerer = registerer }
}

// NewManager validates config and builds the tiers its level needs. Nothing
// is contacted and no goroutine is started until Initialize.
func NewManager(config Config, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		config: config,
		logger: logging.OrGlobal(o.logger).WithFields(logging.String("component", "cache")),
	}

	if config.Level.UsesMemory() {
		store, err := NewMemoryStore(config.Memory, config.DefaultExpire,
			WithMemoryClock(o.now),
			WithMemoryLogger(m.logger.WithFields(logging.String("tier", TierMemory))),
		)
		if err != nil {
			return nil, err
		}
		m.memory = store
	}

	if config.Level.UsesRemote() {
		var client *redisclient.Client
		if o.rdb != nil {
			client = redisclient.Wrap(o.rdb)
		} else {
			var err error
			client, err = redisclient.New(&config.Remote.Redis)
			if err != nil {
				return nil, err
			}
		}

		store, err := NewRemoteStore(client, config.Remote, config.DefaultExpire, m.logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		m.remote = store
	}

	m.readOrder, m.writeOrder, m.backfill = m.tierOrder()

	metrics, err := newCacheMetrics(o.registerer, m.memory)
	if err != nil {
		if m.remote != nil {
			_ = m.remote.Close()
		}
		return nil, errors.ConfigError(fmt.Sprintf("failed to register cache metrics: %v", err))
	}
	m.metrics = metrics

	return m, nil
}

func (m *Manager) tierOrder() (read, write []tier, backfill bool) {
	var mem, rem tier
	if m.memory != nil {
		mem = memoryTier{store: m.memory}
	}
	if m.remote != nil {
		rem = m.remote
	}

	switch m.config.Level {
	case LevelMemoryOnly:
		return []tier{mem}, []tier{mem}, false
	case LevelRemoteOnly:
		return []tier{rem}, []tier{rem}, false
	case LevelMemoryFirst:
		return []tier{mem, rem}, []tier{mem, rem}, true
	case LevelRemoteFirst:
		return []tier{rem, mem}, []tier{rem, mem}, false
	default: // LevelBoth: dual write, no read-repair
		return []tier{mem, rem}, []tier{mem, rem}, false
	}
}

// Level returns the tiering policy
func (m *Manager) Level() Level { return m.config.Level }

// Config returns the configuration the Manager was built with
func (m *Manager) Config() Config { return m.config }

// Memory returns the in-process tier, or nil when the level does not use it
func (m *Manager) Memory() *MemoryStore { return m.memory }

// Remote returns the remote tier, or nil when the level does not use it
func (m *Manager) Remote() *RemoteStore { return m.remote }

// Initialize starts the sweeper and checks the remote connection. It is
// idempotent. An unreachable remote is logged and tolerated as long as
// another tier is usable; an error means no configured tier is.
func (m *Manager) Initialize(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.initialized.Load() {
		return nil
	}
	if m.cleanedUp {
		return errors.NotInitializedError("cache manager (cleaned up)")
	}

	usable := 0
	var lastErr error

	if m.memory != nil {
		m.memory.Start()
		if err := m.memory.Healthy(); err != nil {
			lastErr = err
		} else {
			usable++
		}
	}

	if m.remote != nil {
		if err := m.remote.Ping(ctx); err != nil {
			lastErr = err
			m.logger.Warn("Remote cache tier unreachable at startup",
				logging.String("level", m.config.Level.String()),
				logging.Err(err),
			)
		} else {
			usable++
		}
	}

	if usable == 0 {
		if m.memory != nil {
			m.memory.Stop()
		}
		return errors.TierUnavailableError("all", "initialize", lastErr)
	}

	m.initialized.Store(true)
	m.logger.Info("Cache manager initialized",
		logging.String("level", m.config.Level.String()),
		logging.Duration("default_expire", m.config.DefaultExpire),
		logging.Int("usable_tiers", usable),
	)
	return nil
}

// Cleanup stops the sweeper, releases the in-process tier and closes the
// remote connection. It is idempotent; a cleaned-up Manager cannot be
// initialized again.
func (m *Manager) Cleanup() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cleanedUp {
		return
	}
	m.cleanedUp = true
	m.initialized.Store(false)

	if m.memory != nil {
		m.memory.Close()
	}
	if m.remote != nil {
		if err := m.remote.Close(); err != nil {
			m.logger.Warn("Failed to close remote cache connection", logging.Err(err))
		}
	}

	m.logger.Info("Cache manager cleaned up")
}

// Get returns the value for key from the first tier that has it. Under
// memory_first a remote hit is written back to memory with the default TTL.
func (m *Manager) Get(ctx context.Context, key string) (value interface{}, found bool) {
	defer m.recoverPanic("get")
	if !m.ready("get") {
		return nil, false
	}

	started := time.Now()
	m.gets.Add(1)
	defer m.metrics.recordOperation("get", 1, started)

	clean := true
	for i, t := range m.readOrder {
		v, ok, err := t.Get(ctx, key)
		if err != nil {
			m.tierError(t.Name(), "get", err)
			clean = false
			continue
		}
		if !ok {
			continue
		}

		m.recordHits(t.Name(), 1)
		if i > 0 && m.backfill {
			m.memory.Set(key, v, DefaultExpiration)
		}
		return v, true
	}

	if clean {
		m.misses.Add(1)
		m.metrics.recordMiss(1)
	}
	return nil, false
}

// Set writes value to the level's tiers in order. memory_first and
// remote_first report the first tier's result; both succeeds when either
// tier accepted the write. A zero ttl applies the default expiry.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) (ok bool) {
	defer m.recoverPanic("set")
	if !m.ready("set") {
		return false
	}

	started := time.Now()
	m.sets.Add(1)
	defer m.metrics.recordOperation("set", 1, started)

	results := make([]bool, len(m.writeOrder))
	for i, t := range m.writeOrder {
		if err := t.Set(ctx, key, value, ttl); err != nil {
			m.tierError(t.Name(), "set", err)
			continue
		}
		results[i] = true
	}
	return m.writeOutcome(results)
}

// Delete removes key from every configured tier regardless of level and
// reports whether any tier held it.
func (m *Manager) Delete(ctx context.Context, key string) (removed bool) {
	defer m.recoverPanic("delete")
	if !m.ready("delete") {
		return false
	}

	started := time.Now()
	m.deletes.Add(1)
	defer m.metrics.recordOperation("delete", 1, started)

	for _, t := range m.writeOrder {
		ok, err := t.Delete(ctx, key)
		if err != nil {
			m.tierError(t.Name(), "delete", err)
			continue
		}
		removed = removed || ok
	}
	return removed
}

// Exists reports whether any tier, consulted in read order, holds key
func (m *Manager) Exists(ctx context.Context, key string) (exists bool) {
	defer m.recoverPanic("exists")
	if !m.ready("exists") {
		return false
	}

	for _, t := range m.readOrder {
		ok, err := t.Exists(ctx, key)
		if err != nil {
			m.tierError(t.Name(), "exists", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Clear empties every configured tier; the remote tier only loses keys under
// its own prefix. It reports false if any tier failed.
func (m *Manager) Clear(ctx context.Context) (ok bool) {
	defer m.recoverPanic("clear")
	if !m.ready("clear") {
		return false
	}

	ok = true
	for _, t := range m.writeOrder {
		if err := t.Clear(ctx); err != nil {
			m.tierError(t.Name(), "clear", err)
			ok = false
		}
	}
	return ok
}

// MGet returns the subset of keys found in any tier. Each tier is asked
// only for the keys earlier tiers did not have, and the remote tier answers
// in one round trip. Absent keys are omitted.
func (m *Manager) MGet(ctx context.Context, keys []string) (found map[string]interface{}) {
	found = make(map[string]interface{}, len(keys))
	defer m.recoverPanic("mget")
	if !m.ready("mget") || len(keys) == 0 {
		return found
	}

	remaining := lo.Uniq(keys)
	started := time.Now()
	m.gets.Add(int64(len(remaining)))
	defer m.metrics.recordOperation("get", len(remaining), started)

	clean := true
	for i, t := range m.readOrder {
		if len(remaining) == 0 {
			break
		}

		values, err := t.MGet(ctx, remaining)
		if err != nil {
			m.tierError(t.Name(), "mget", err)
			clean = false
			continue
		}
		if len(values) == 0 {
			continue
		}

		m.recordHits(t.Name(), len(values))
		for k, v := range values {
			found[k] = v
		}
		if i > 0 && m.backfill {
			for k, v := range values {
				m.memory.Set(k, v, DefaultExpiration)
			}
		}

		remaining = lo.Filter(remaining, func(k string, _ int) bool {
			_, ok := values[k]
			return !ok
		})
	}

	if clean && len(remaining) > 0 {
		m.misses.Add(int64(len(remaining)))
		m.metrics.recordMiss(len(remaining))
	}
	return found
}

// MSet writes every pair to the level's tiers, using the remote tier's
// single pipelined transaction. Success follows the same rule as Set.
func (m *Manager) MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) (ok bool) {
	defer m.recoverPanic("mset")
	if !m.ready("mset") {
		return false
	}
	if len(values) == 0 {
		return true
	}

	started := time.Now()
	m.sets.Add(int64(len(values)))
	defer m.metrics.recordOperation("set", len(values), started)

	results := make([]bool, len(m.writeOrder))
	for i, t := range m.writeOrder {
		if err := t.MSet(ctx, values, ttl); err != nil {
			m.tierError(t.Name(), "mset", err)
			continue
		}
		results[i] = true
	}
	return m.writeOutcome(results)
}

// HealthCheck probes every configured tier concurrently
func (m *Manager) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{
		ManagerInitialized: m.initialized.Load(),
		Level:              m.config.Level,
		Tiers:              make(map[string]TierHealth, len(m.readOrder)),
		CheckedAt:          time.Now().UTC(),
	}

	results := make([]TierHealth, len(m.readOrder))
	var g errgroup.Group
	for i, t := range m.readOrder {
		i, t := i, t
		g.Go(func() error {
			started := time.Now()
			err := t.Ping(ctx)
			results[i] = TierHealth{
				Healthy: err == nil,
				Latency: time.Since(started).String(),
			}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	anyHealthy := false
	for i, t := range m.readOrder {
		report.Tiers[t.Name()] = results[i]
		anyHealthy = anyHealthy || results[i].Healthy
	}
	report.OverallHealthy = report.ManagerInitialized && anyHealthy

	return report
}

// GetStats returns the Manager counters merged with each tier's own stats.
// A remote stats failure is reported in RemoteError, not counted as an error.
func (m *Manager) GetStats(ctx context.Context) Stats {
	stats := Stats{
		Level:        m.config.Level,
		Initialized:  m.initialized.Load(),
		TotalGets:    m.gets.Load(),
		TotalSets:    m.sets.Load(),
		TotalDeletes: m.deletes.Load(),
		Misses:       m.misses.Load(),
		Errors:       m.errs.Load(),
		HitsPerTier:  make(map[string]int64, 2),
	}

	var hits int64
	if m.memory != nil {
		stats.HitsPerTier[TierMemory] = m.memoryHits.Load()
		hits += stats.HitsPerTier[TierMemory]
		memStats := m.memory.Stats()
		stats.Memory = &memStats
	}
	if m.remote != nil {
		stats.HitsPerTier[TierRemote] = m.remoteHits.Load()
		hits += stats.HitsPerTier[TierRemote]
		remoteStats, err := m.remote.Stats(ctx)
		stats.Remote = &remoteStats
		if err != nil {
			stats.RemoteError = err.Error()
		}
	}
	if stats.TotalGets > 0 {
		stats.OverallHitRate = float64(hits) / float64(stats.TotalGets)
	}

	return stats
}

func (m *Manager) writeOutcome(results []bool) bool {
	if len(results) == 0 {
		return false
	}
	if m.config.Level == LevelBoth {
		return lo.Contains(results, true)
	}
	return results[0]
}

func (m *Manager) recordHits(tierName string, n int) {
	switch tierName {
	case TierMemory:
		m.memoryHits.Add(int64(n))
	case TierRemote:
		m.remoteHits.Add(int64(n))
	}
	m.metrics.recordHit(tierName, n)
}

// tierError counts a tier failure. The remote tier has already logged it.
func (m *Manager) tierError(tierName, op string, err error) {
	m.errs.Add(1)
	m.metrics.recordError(tierName, op)
	m.logger.Debug("Cache tier failure absorbed",
		logging.String("tier", tierName),
		logging.String("operation", op),
		logging.String("error_type", string(errors.GetType(err))),
	)
}

func (m *Manager) ready(op string) bool {
	if m.initialized.Load() {
		return true
	}
	m.errs.Add(1)
	m.metrics.recordError("manager", op)
	m.logger.Warn("Cache used before Initialize or after Cleanup", logging.String("operation", op))
	return false
}

func (m *Manager) recoverPanic(op string) {
	if r := recover(); r != nil {
		m.errs.Add(1)
		m.metrics.recordError("manager", op)
		m.logger.Error("Recovered panic in cache operation",
			errors.InternalError(fmt.Sprint(r), nil),
			logging.String("operation", op),
		)
	}
}
