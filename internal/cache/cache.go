package cache

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Cache is the narrow interface application code depends on. Implementations
// never fail loudly: a broken cache behaves like an empty one.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	MGet(ctx context.Context, keys []string) map[string]interface{}
	MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) bool
}

var (
	_ Cache = (*Manager)(nil)
	_ Cache = (*NamespacedCache)(nil)
)

// NamespacedCache prefixes every key with "namespace:" so that several
// logical domains can share one Manager without colliding
type NamespacedCache struct {
	cache     Cache
	namespace string
}

// Namespace returns a view of c confined to namespace
func Namespace(c Cache, namespace string) *NamespacedCache {
	return &NamespacedCache{cache: c, namespace: strings.TrimSuffix(namespace, ":")}
}

func (n *NamespacedCache) key(key string) string {
	if n.namespace == "" {
		return key
	}
	return n.namespace + ":" + key
}

func (n *NamespacedCache) Get(ctx context.Context, key string) (interface{}, bool) {
	return n.cache.Get(ctx, n.key(key))
}

func (n *NamespacedCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	return n.cache.Set(ctx, n.key(key), value, ttl)
}

func (n *NamespacedCache) Delete(ctx context.Context, key string) bool {
	return n.cache.Delete(ctx, n.key(key))
}

func (n *NamespacedCache) Exists(ctx context.Context, key string) bool {
	return n.cache.Exists(ctx, n.key(key))
}

// MGet returns results keyed by the caller's un-namespaced keys
func (n *NamespacedCache) MGet(ctx context.Context, keys []string) map[string]interface{} {
	found := n.cache.MGet(ctx, lo.Map(keys, func(k string, _ int) string { return n.key(k) }))
	return lo.MapKeys(found, func(_ interface{}, k string) string {
		if n.namespace == "" {
			return k
		}
		return strings.TrimPrefix(k, n.namespace+":")
	})
}

func (n *NamespacedCache) MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) bool {
	return n.cache.MSet(ctx, lo.MapKeys(values, func(_ interface{}, k string) string { return n.key(k) }), ttl)
}
