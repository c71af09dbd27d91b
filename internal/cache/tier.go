package cache

import (
	"context"
	"time"
)

const (
	// TierMemory names the in-process tier in stats, health reports and errors
	TierMemory = "memory"
	// TierRemote names the Redis tier
	TierRemote = "remote"
)

// tier is the view of a store the Manager composes. Get reports (value,
// found, err); a clean miss is (nil, false, nil).
type tier interface {
	Name() string
	Get(ctx context.Context, key string) (interface{}, bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	MGet(ctx context.Context, keys []string) (map[string]interface{}, error)
	MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// memoryTier adapts MemoryStore, which never fails, to the tier interface
type memoryTier struct {
	store *MemoryStore
}

func (m memoryTier) Name() string { return TierMemory }

func (m memoryTier) Get(_ context.Context, key string) (interface{}, bool, error) {
	value, ok := m.store.Get(key)
	return value, ok, nil
}

func (m memoryTier) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	m.store.Set(key, value, ttl)
	return nil
}

func (m memoryTier) Delete(_ context.Context, key string) (bool, error) {
	return m.store.Delete(key), nil
}

func (m memoryTier) Exists(_ context.Context, key string) (bool, error) {
	return m.store.Exists(key), nil
}

func (m memoryTier) Clear(context.Context) error {
	m.store.Clear()
	return nil
}

// MGet probes key by key; the in-process store has no batch primitive
func (m memoryTier) MGet(_ context.Context, keys []string) (map[string]interface{}, error) {
	found := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if value, ok := m.store.Get(key); ok {
			found[key] = value
		}
	}
	return found, nil
}

func (m memoryTier) MSet(_ context.Context, values map[string]interface{}, ttl time.Duration) error {
	for key, value := range values {
		m.store.Set(key, value, ttl)
	}
	return nil
}

func (m memoryTier) Ping(context.Context) error {
	return m.store.Healthy()
}
