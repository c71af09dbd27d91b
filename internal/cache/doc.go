// Package cache provides a two-tier cache: a bounded in-process store and a
// namespaced Redis store, composed by a Manager under one of five levels.
//
// Tiers:
//
//  1. MemoryStore - in-process map bounded by MaxSize
//     - LRU, LFU, FIFO or random eviction
//     - per-entry TTL, purged on access and by a background sweeper
//
//  2. RemoteStore - Redis via go-redis
//     - every key prefixed with a namespace
//     - values encoded by a Codec (json or raw)
//     - MGET and pipelined MSET, prefix-scoped Clear
//     - guarded by a circuit breaker and a per-call timeout
//
// Levels:
//
//	memory_only   memory
//	remote_only   remote
//	memory_first  read memory then remote, backfill memory on a remote hit
//	remote_first  read remote then memory, remote is the source of truth
//	both          write both, read memory then remote, no read-repair
//
// The Manager never surfaces tier failures. They are counted in Stats,
// logged, and treated as misses.
//
// Usage:
//
//	manager, err := cache.NewManager(cache.DefaultConfig(), cache.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//	defer manager.Cleanup()
//
//	manager.Set(ctx, "user:1", map[string]interface{}{"name": "Ann"}, cache.DefaultExpiration)
//	v, ok := manager.Get(ctx, "user:1")
//
//	profile := cache.Memoize(manager, cache.MemoizeConfig[int]{Namespace: "profile", TTL: time.Minute}, loadProfile)
package cache
