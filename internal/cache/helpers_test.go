package cache

import (
	"sync"
	"testing"
	"time"

	"aimake-cache/internal/circuitbreaker"
	"aimake-cache/internal/common/logging"
	redisclient "aimake-cache/internal/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemoryStore(t *testing.T, maxSize int, policy EvictionPolicy, defaultTTL time.Duration, clock *fakeClock) *MemoryStore {
	t.Helper()

	opts := []MemoryOption{WithMemoryLogger(logging.NewNopLogger())}
	if clock != nil {
		opts = append(opts, WithMemoryClock(clock.Now))
	}

	store, err := NewMemoryStore(MemoryConfig{
		MaxSize:         maxSize,
		CleanupInterval: time.Hour,
		EvictionPolicy:  policy,
	}, defaultTTL, opts...)
	require.NoError(t, err)
	return store
}

// newTestRedis starts miniredis and returns a go-redis client for it. Both
// are closed when the test ends.
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func testRemoteConfig() RemoteConfig {
	return RemoteConfig{
		KeyPrefix:        "test:",
		Serialization:    SerializationJSON,
		OperationTimeout: time.Second,
		Breaker:          circuitbreaker.Config{}, // disabled so failures stay observable
	}
}

func newTestRemoteStore(t *testing.T, config RemoteConfig) (*miniredis.Miniredis, *RemoteStore) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	store, err := NewRemoteStore(redisclient.Wrap(rdb), config, time.Hour, logging.NewNopLogger())
	require.NoError(t, err)
	return mr, store
}

func testManagerConfig(level Level) Config {
	config := DefaultConfig()
	config.Level = level
	config.Memory.CleanupInterval = time.Hour
	config.Remote = testRemoteConfig()
	return config
}

type testManager struct {
	*Manager
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *fakeClock
}

func newTestManager(t *testing.T, config Config, opts ...Option) *testManager {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newFakeClock()

	opts = append([]Option{
		WithLogger(logging.NewNopLogger()),
		WithRedisClient(rdb),
		WithClock(clock.Now),
	}, opts...)

	manager, err := NewManager(config, opts...)
	require.NoError(t, err)
	t.Cleanup(manager.Cleanup)

	return &testManager{Manager: manager, mr: mr, rdb: rdb, clock: clock}
}
