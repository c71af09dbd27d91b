package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"aimake-cache/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryStore_InvalidSize(t *testing.T) {
	_, err := NewMemoryStore(MemoryConfig{MaxSize: 0}, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestMemoryStore_BasicOperations(t *testing.T) {
	store := newTestMemoryStore(t, 10, EvictionLRU, 0, nil)

	_, ok := store.Get("missing")
	assert.False(t, ok)

	store.Set("k", map[string]interface{}{"a": 1}, DefaultExpiration)
	v, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"a": 1}, v)
	assert.True(t, store.Exists("k"))

	store.Set("k", "replaced", DefaultExpiration)
	v, _ = store.Get("k")
	assert.Equal(t, "replaced", v)
	assert.Equal(t, 1, store.Len())

	assert.True(t, store.Delete("k"))
	assert.False(t, store.Delete("k"))
	assert.False(t, store.Exists("k"))

	store.Set("a", 1, DefaultExpiration)
	store.Set("b", 2, DefaultExpiration)
	store.Clear()
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_TTL(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(t, 10, EvictionLRU, time.Minute, clock)

	store.Set("short", "v", 2*time.Second)
	store.Set("default", "v", DefaultExpiration)
	store.Set("forever", "v", NoExpiration)

	clock.Advance(1999 * time.Millisecond)
	_, ok := store.Get("short")
	assert.True(t, ok, "entry must be readable before its TTL elapses")

	clock.Advance(time.Millisecond)
	_, ok = store.Get("short")
	assert.False(t, ok, "entry must be absent once its TTL elapses")
	assert.Equal(t, 2, store.Len(), "expired entry is purged on read")

	clock.Advance(time.Minute)
	assert.False(t, store.Exists("default"), "default TTL applies to DefaultExpiration")
	assert.Equal(t, 1, store.Len(), "expired entry is purged by Exists")

	clock.Advance(24 * time.Hour)
	_, ok = store.Get("forever")
	assert.True(t, ok)
}

func TestMemoryStore_ZeroDefaultTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(t, 10, EvictionLRU, 0, clock)

	store.Set("k", "v", DefaultExpiration)
	clock.Advance(365 * 24 * time.Hour)

	_, ok := store.Get("k")
	assert.True(t, ok)
}

func TestMemoryStore_OverwriteResetsTTL(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(t, 10, EvictionLRU, 0, clock)

	store.Set("k", "v1", time.Second)
	clock.Advance(900 * time.Millisecond)
	store.Set("k", "v2", time.Second)
	clock.Advance(900 * time.Millisecond)

	v, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(t, 10, EvictionLRU, 0, clock)

	store.Set("a", 1, time.Second)
	store.Set("b", 2, time.Second)
	store.Set("c", 3, NoExpiration)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 3, store.Len(), "expired entries linger until swept or read")
	assert.Equal(t, 2, store.DeleteExpired())
	assert.Equal(t, []string{"c"}, store.Keys(""))
	assert.Equal(t, int64(2), store.Stats().Expirations)
}

func TestMemoryStore_SweeperPurgesUnreadEntries(t *testing.T) {
	store, err := NewMemoryStore(MemoryConfig{
		MaxSize:         10,
		CleanupInterval: 10 * time.Millisecond,
		EvictionPolicy:  EvictionLRU,
	}, 0)
	require.NoError(t, err)

	store.Set("stale", "v", 5*time.Millisecond)
	store.Set("fresh", "v", NoExpiration)

	store.Start()
	store.Start() // no second goroutine
	defer store.Stop()

	assert.Eventually(t, func() bool {
		return store.Len() == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, store.Stats().SweeperRunning)

	store.Stop()
	store.Stop()
	assert.False(t, store.Stats().SweeperRunning)
}

func TestMemoryStore_Keys(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(t, 10, EvictionLRU, 0, clock)

	store.Set("user:1", 1, DefaultExpiration)
	store.Set("session:9", 9, DefaultExpiration)
	store.Set("user:2", 2, time.Second)
	store.Set("user:1", 11, DefaultExpiration) // keeps its original position

	assert.Equal(t, []string{"user:1", "session:9", "user:2"}, store.Keys(""))
	assert.Equal(t, []string{"user:1", "user:2"}, store.Keys("user:*"))
	assert.Empty(t, store.Keys("nothing*"))

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"user:1", "user:2"}, store.Keys("user:*"), "Keys is a snapshot and does not purge")
	assert.Equal(t, 3, store.Len())
}

func TestMemoryStore_CapacityBound(t *testing.T) {
	for _, policy := range []EvictionPolicy{EvictionLRU, EvictionLFU, EvictionFIFO, EvictionRandom} {
		t.Run(string(policy), func(t *testing.T) {
			store := newTestMemoryStore(t, 5, policy, 0, nil)

			for i := 0; i < 50; i++ {
				store.Set(fmt.Sprintf("k%d", i), i, DefaultExpiration)
				if i%3 == 0 {
					store.Get(fmt.Sprintf("k%d", i/2))
				}
				require.LessOrEqual(t, store.Len(), 5)
			}

			assert.Equal(t, 5, store.Len())
			assert.Equal(t, int64(45), store.Stats().Evictions)

			_, ok := store.Get("k49")
			assert.True(t, ok, "the entry just written is never the victim")
		})
	}
}

func TestMemoryStore_EvictionLRU(t *testing.T) {
	store := newTestMemoryStore(t, 2, EvictionLRU, 0, nil)

	store.Set("a", 1, DefaultExpiration)
	store.Set("b", 2, DefaultExpiration)
	store.Get("a")
	store.Set("c", 3, DefaultExpiration)

	assert.ElementsMatch(t, []string{"a", "c"}, store.Keys(""))
	assert.False(t, store.Exists("b"))
}

func TestMemoryStore_EvictionLFU(t *testing.T) {
	store := newTestMemoryStore(t, 3, EvictionLFU, 0, nil)

	store.Set("a", 1, DefaultExpiration)
	store.Set("b", 2, DefaultExpiration)
	store.Set("c", 3, DefaultExpiration)

	store.Get("a")
	store.Get("a")
	store.Get("b")
	store.Get("c")
	store.Get("c")

	store.Set("d", 4, DefaultExpiration)
	assert.ElementsMatch(t, []string{"a", "c", "d"}, store.Keys(""), "b has the fewest accesses")

	// d (0 accesses) now loses to every other entry
	store.Set("e", 5, DefaultExpiration)
	assert.ElementsMatch(t, []string{"a", "c", "e"}, store.Keys(""))
}

func TestMemoryStore_EvictionLFUTieBreaksByInsertionOrder(t *testing.T) {
	store := newTestMemoryStore(t, 3, EvictionLFU, 0, nil)

	store.Set("a", 1, DefaultExpiration)
	store.Set("b", 2, DefaultExpiration)
	store.Set("c", 3, DefaultExpiration)
	store.Set("d", 4, DefaultExpiration)

	assert.Equal(t, []string{"b", "c", "d"}, store.Keys(""))
}

func TestMemoryStore_EvictionFIFO(t *testing.T) {
	store := newTestMemoryStore(t, 2, EvictionFIFO, 0, nil)

	store.Set("a", 1, DefaultExpiration)
	store.Set("b", 2, DefaultExpiration)
	store.Get("a") // access does not matter for FIFO
	store.Set("c", 3, DefaultExpiration)

	assert.Equal(t, []string{"b", "c"}, store.Keys(""))

	// rewriting b makes it the newest write
	store.Set("b", 22, DefaultExpiration)
	store.Set("d", 4, DefaultExpiration)
	assert.Equal(t, []string{"b", "d"}, store.Keys(""))
}

func TestMemoryStore_EvictionRandom(t *testing.T) {
	store := newTestMemoryStore(t, 3, EvictionRandom, 0, nil)

	store.Set("a", 1, DefaultExpiration)
	store.Set("b", 2, DefaultExpiration)
	store.Set("c", 3, DefaultExpiration)
	store.Set("d", 4, DefaultExpiration)

	keys := store.Keys("")
	assert.Len(t, keys, 3)
	assert.Contains(t, keys, "d")
}

func TestMemoryStore_UnknownPolicyFallsBackToRandom(t *testing.T) {
	store := newTestMemoryStore(t, 3, EvictionPolicy("mru"), 0, nil)
	assert.Equal(t, string(EvictionRandom), store.Stats().EvictionPolicy)
}

func TestMemoryStore_OverwriteAtCapacityDoesNotEvict(t *testing.T) {
	store := newTestMemoryStore(t, 2, EvictionLRU, 0, nil)

	store.Set("a", 1, DefaultExpiration)
	store.Set("b", 2, DefaultExpiration)
	store.Set("a", 10, DefaultExpiration)

	assert.ElementsMatch(t, []string{"a", "b"}, store.Keys(""))
	assert.Equal(t, int64(0), store.Stats().Evictions)
}

func TestMemoryStore_Stats(t *testing.T) {
	store := newTestMemoryStore(t, 4, EvictionLFU, time.Minute, nil)

	store.Set("a", 1, DefaultExpiration)
	store.Get("a")
	store.Get("a")
	store.Get("a")
	store.Get("missing")

	stats := store.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 4, stats.MaxSize)
	assert.Equal(t, "lfu", stats.EvictionPolicy)
	assert.Equal(t, "1m0s", stats.DefaultTTL)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
}

func TestMemoryStore_CloseAndHealth(t *testing.T) {
	store := newTestMemoryStore(t, 4, EvictionLRU, 0, nil)
	store.Start()
	store.Set("a", 1, DefaultExpiration)
	assert.NoError(t, store.Healthy())

	store.Close()
	assert.Equal(t, 0, store.Len())
	err := store.Healthy()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTierUnavailable))

	store.Start()
	assert.NoError(t, store.Healthy())
	store.Stop()
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := newTestMemoryStore(t, 50, EvictionLRU, time.Minute, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%120)
				store.Set(key, i, DefaultExpiration)
				store.Get(key)
				if i%10 == 0 {
					store.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Len(), 50)
}
