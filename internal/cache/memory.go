package cache

import (
	"path"
	"sort"
	"sync"
	"time"

	"aimake-cache/internal/common/errors"
	"aimake-cache/internal/common/logging"
)

const (
	// DefaultExpiration asks a store to apply its default TTL
	DefaultExpiration time.Duration = 0
	// NoExpiration stores an entry that never expires
	NoExpiration time.Duration = -1
)

// entry is one value held by the in-process tier
type entry struct {
	key            string
	value          interface{}
	expireAt       time.Time // zero means never
	createdAt      time.Time
	lastAccessedAt time.Time
	accessCount    int64

	// seq is the first-insertion order and survives overwrites; the ticks
	// come from a per-store logical clock so ordering never depends on
	// wall-clock resolution.
	seq        uint64
	writeTick  uint64
	accessTick uint64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// MemoryStats reports the in-process tier's counters
type MemoryStats struct {
	Size           int     `json:"size"`
	MaxSize        int     `json:"max_size"`
	EvictionPolicy string  `json:"eviction_policy"`
	DefaultTTL     string  `json:"default_ttl"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Evictions      int64   `json:"evictions"`
	Expirations    int64   `json:"expirations"`
	HitRate        float64 `json:"hit_rate"`
	SweeperRunning bool    `json:"sweeper_running"`
}

// MemoryStore is the bounded, TTL-aware in-process tier. Every operation
// holds one mutex for its whole duration; nothing under the lock blocks on I/O.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxSize         int
	defaultTTL      time.Duration
	policy          EvictionPolicy
	cleanupInterval time.Duration
	now             func() time.Time
	logger          logging.Logger

	seq  uint64
	tick uint64

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	running bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// MemoryOption customizes a MemoryStore
type MemoryOption func(*MemoryStore)

// WithMemoryClock replaces time.Now, mainly for tests
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMemoryLogger sets the store's logger
func WithMemoryLogger(logger logging.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMemoryStore creates a store. defaultTTL applies to DefaultExpiration
// writes; zero or negative means such writes never expire. The sweeper is
// not started until Start.
func NewMemoryStore(config MemoryConfig, defaultTTL time.Duration, opts ...MemoryOption) (*MemoryStore, error) {
	if config.MaxSize <= 0 {
		return nil, errors.ConfigError("memory max size must be positive")
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	s := &MemoryStore{
		entries:         make(map[string]*entry),
		maxSize:         config.MaxSize,
		defaultTTL:      defaultTTL,
		policy:          normalizePolicy(config.EvictionPolicy),
		cleanupInterval: config.CleanupInterval,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrGlobal(s.logger)

	return s, nil
}

// Get returns the value for key if present and unexpired. An expired entry
// found here is removed.
func (s *MemoryStore) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		s.misses++
		return nil, false
	}

	s.tick++
	e.accessTick = s.tick
	e.lastAccessedAt = s.now()
	e.accessCount++
	s.hits++

	return e.value, true
}

// Set stores value under key. A new key arriving at capacity first evicts
// by the configured policy.
func (s *MemoryStore) Set(key string, value interface{}, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.tick++

	if e, ok := s.entries[key]; ok {
		e.value = value
		e.expireAt = s.expiry(now, ttl)
		e.createdAt = now
		e.lastAccessedAt = now
		e.accessCount = 0
		e.writeTick = s.tick
		e.accessTick = s.tick
		return
	}

	for len(s.entries) >= s.maxSize {
		if !s.evictOne() {
			// Unreachable while maxSize > 0; surfaced in logs if it ever happens.
			s.logger.Error("Memory cache could not make room", errors.CapacityError(s.maxSize))
			return
		}
	}

	s.seq++
	s.entries[key] = &entry{
		key:            key,
		value:          value,
		expireAt:       s.expiry(now, ttl),
		createdAt:      now,
		lastAccessedAt: now,
		seq:            s.seq,
		writeTick:      s.tick,
		accessTick:     s.tick,
	}
}

// Delete removes key and reports whether it was present
func (s *MemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// Exists reports whether key holds an unexpired entry without touching its
// access statistics. An expired entry found here is removed.
func (s *MemoryStore) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lookup(key)
	return ok
}

// Clear drops every entry
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
}

// Keys returns a snapshot of stored keys in insertion order, optionally
// filtered by a path.Match glob. Expired entries are neither hidden nor purged.
func (s *MemoryStore) Keys(pattern string) []string {
	s.mu.Lock()
	matched := make([]*entry, 0, len(s.entries))
	for key, e := range s.entries {
		if pattern != "" {
			if ok, err := path.Match(pattern, key); err != nil || !ok {
				continue
			}
		}
		matched = append(matched, e)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	keys := make([]string, len(matched))
	for i, e := range matched {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of stored entries, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// DeleteExpired removes every expired entry and returns how many were removed
func (s *MemoryStore) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.expirations += int64(removed)
	return removed
}

// Stats returns a snapshot of the store's counters
func (s *MemoryStore) Stats() MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := MemoryStats{
		Size:           len(s.entries),
		MaxSize:        s.maxSize,
		EvictionPolicy: string(s.policy),
		DefaultTTL:     s.defaultTTL.String(),
		Hits:           s.hits,
		Misses:         s.misses,
		Evictions:      s.evictions,
		Expirations:    s.expirations,
		SweeperRunning: s.running,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats
}

// Start launches the background sweeper. Calling Start on a running store is a no-op.
func (s *MemoryStore) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.closed = false
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.sweepLoop(s.stopCh, s.doneCh)

	s.logger.Debug("Memory cache sweeper started",
		logging.Duration("interval", s.cleanupInterval),
		logging.String("policy", string(s.policy)),
		logging.Int("max_size", s.maxSize),
	)
}

// Stop halts the sweeper and waits for it to exit
func (s *MemoryStore) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Close stops the sweeper and releases every entry. The store reports
// unhealthy until started again.
func (s *MemoryStore) Close() {
	s.Stop()

	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.closed = true
	s.mu.Unlock()
}

// Healthy reports whether the store is open
func (s *MemoryStore) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.TierUnavailableError(TierMemory, "health_check", errors.NotInitializedError("memory store"))
	}
	return nil
}

func (s *MemoryStore) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if removed := s.DeleteExpired(); removed > 0 {
				s.logger.Debug("Memory cache sweep removed expired entries", logging.Int("removed", removed))
			}
		}
	}
}

// lookup returns the live entry for key, purging it if expired. Caller holds the lock.
func (s *MemoryStore) lookup(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		s.expirations++
		return nil, false
	}
	return e, true
}

// evictOne removes one entry chosen by policy. Caller holds the lock.
func (s *MemoryStore) evictOne() bool {
	key, ok := s.pickVictim()
	if !ok {
		return false
	}
	delete(s.entries, key)
	s.evictions++
	return true
}

func (s *MemoryStore) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl == DefaultExpiration {
		ttl = s.defaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
