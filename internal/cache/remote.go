package cache

import (
	"bufio"
	"context"
	stderrors "errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"aimake-cache/internal/circuitbreaker"
	"aimake-cache/internal/common/errors"
	"aimake-cache/internal/common/logging"
	redisclient "aimake-cache/internal/redis"

	"github.com/go-redis/redis/v8"
	"github.com/samber/lo"
)

// scanBatch bounds both SCAN page size and the number of keys per DEL
const scanBatch = 500

// RemoteStats combines backend-reported INFO fields with client-side counters
type RemoteStats struct {
	KeyPrefix        string                 `json:"key_prefix"`
	Serialization    string                 `json:"serialization"`
	RedisVersion     string                 `json:"redis_version,omitempty"`
	ConnectedClients int64                  `json:"connected_clients"`
	UsedMemory       int64                  `json:"used_memory"`
	UsedMemoryHuman  string                 `json:"used_memory_human,omitempty"`
	KeyspaceHits     int64                  `json:"keyspace_hits"`
	KeyspaceMisses   int64                  `json:"keyspace_misses"`
	HitRate          float64                `json:"hit_rate"`
	Pool             map[string]interface{} `json:"pool"`
	Breaker          circuitbreaker.Stats   `json:"breaker"`
}

// RemoteStore is the Redis tier. Keys are namespaced with the configured
// prefix and values pass through the configured codec. Transport failures
// come back as tier_unavailable AppErrors; a missing key is never an error.
type RemoteStore struct {
	client     *redisclient.Client
	rdb        redis.UniversalClient
	prefix     string
	codec      Codec
	timeout    time.Duration
	defaultTTL time.Duration
	breaker    *circuitbreaker.Breaker
	logger     logging.Logger
}

// NewRemoteStore builds the remote tier on an existing client. It does not
// contact the server.
func NewRemoteStore(client *redisclient.Client, config RemoteConfig, defaultTTL time.Duration, logger logging.Logger) (*RemoteStore, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required for the remote tier")
	}
	// Clear deletes prefix+"*"; an empty prefix would match the whole database
	if config.KeyPrefix == "" {
		return nil, errors.ConfigError("remote key prefix must not be empty")
	}

	codec, err := NewCodec(config.Serialization)
	if err != nil {
		return nil, err
	}

	logger = logging.OrGlobal(logger).WithFields(logging.String("tier", TierRemote))

	// Values the codec rejects say nothing about backend health.
	isFailure := func(err error) bool {
		return !errors.IsType(err, errors.ErrTypeSerialization)
	}
	breaker, err := circuitbreaker.New("cache-remote", config.Breaker, isFailure, logger)
	if err != nil {
		return nil, err
	}

	return &RemoteStore{
		client:     client,
		rdb:        client.Raw(),
		prefix:     config.KeyPrefix,
		codec:      codec,
		timeout:    config.OperationTimeout,
		defaultTTL: defaultTTL,
		breaker:    breaker,
		logger:     logger,
	}, nil
}

func (r *RemoteStore) Name() string { return TierRemote }

// Prefix returns the namespace prepended to every key
func (r *RemoteStore) Prefix() string { return r.prefix }

// BreakerState returns the state of the breaker guarding this tier
func (r *RemoteStore) BreakerState() circuitbreaker.State { return r.breaker.State() }

func (r *RemoteStore) key(key string) string {
	return r.prefix + key
}

// expiration maps a caller TTL onto the go-redis convention, where 0 means
// no expiry and -1 would mean KEEPTTL.
func (r *RemoteStore) expiration(ttl time.Duration) time.Duration {
	if ttl == DefaultExpiration {
		ttl = r.defaultTTL
	}
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// do runs fn under the per-operation timeout and the circuit breaker, and
// converts any transport failure into a logged tier_unavailable error.
func (r *RemoteStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	err := r.breaker.Execute(func() error { return fn(ctx) })
	if err == nil {
		return nil
	}
	if errors.IsType(err, errors.ErrTypeSerialization) {
		return err
	}

	cause := err
	if isTimeout(err) {
		cause = errors.TimeoutError("remote "+op, err)
	}
	wrapped := errors.TierUnavailableError(TierRemote, op, cause)
	r.logger.Warn("Remote cache operation failed",
		logging.String("operation", op),
		logging.Err(err),
	)
	return wrapped
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// Get returns the decoded value for key
func (r *RemoteStore) Get(ctx context.Context, key string) (interface{}, bool, error) {
	var raw []byte
	var found bool

	err := r.do(ctx, "get", func(ctx context.Context) error {
		b, err := r.rdb.Get(ctx, r.key(key)).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		raw, found = b, true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}

	value, err := r.codec.Decode(raw)
	if err != nil {
		r.logger.Error("Failed to decode remote cache value", err, logging.String("key", key))
		return nil, false, err
	}
	return value, true, nil
}

// Set encodes value and stores it with its expiry in a single SET
func (r *RemoteStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := r.codec.Encode(value)
	if err != nil {
		r.logger.Error("Failed to encode remote cache value", err, logging.String("key", key))
		return err
	}

	return r.do(ctx, "set", func(ctx context.Context) error {
		return r.rdb.Set(ctx, r.key(key), data, r.expiration(ttl)).Err()
	})
}

// Delete removes key and reports whether it existed
func (r *RemoteStore) Delete(ctx context.Context, key string) (bool, error) {
	var removed int64
	err := r.do(ctx, "delete", func(ctx context.Context) error {
		n, err := r.rdb.Del(ctx, r.key(key)).Result()
		removed = n
		return err
	})
	return removed > 0, err
}

// Exists reports whether key is stored
func (r *RemoteStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.do(ctx, "exists", func(ctx context.Context) error {
		var err error
		n, err = r.rdb.Exists(ctx, r.key(key)).Result()
		return err
	})
	return n > 0, err
}

// Clear deletes every key under this store's prefix. Keys belonging to other
// namespaces on the same server are untouched.
func (r *RemoteStore) Clear(ctx context.Context) error {
	var deleted int64
	err := r.do(ctx, "clear", func(ctx context.Context) error {
		keys, err := r.scan(ctx, r.prefix+"*")
		if err != nil {
			return err
		}
		for _, batch := range lo.Chunk(keys, scanBatch) {
			n, err := r.rdb.Del(ctx, batch...).Result()
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err == nil {
		r.logger.Debug("Remote cache namespace cleared",
			logging.String("prefix", r.prefix),
			logging.Int64("deleted", deleted),
		)
	}
	return err
}

// MGet fetches keys in one MGET round trip. Absent keys are omitted and
// values that fail to decode are skipped with a warning.
func (r *RemoteStore) MGet(ctx context.Context, keys []string) (map[string]interface{}, error) {
	found := make(map[string]interface{}, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	var values []interface{}
	err := r.do(ctx, "mget", func(ctx context.Context) error {
		var err error
		values, err = r.rdb.MGet(ctx, lo.Map(keys, func(k string, _ int) string { return r.key(k) })...).Result()
		return err
	})
	if err != nil {
		return found, err
	}

	for i, raw := range values {
		if raw == nil || i >= len(keys) {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		value, err := r.codec.Decode([]byte(s))
		if err != nil {
			r.logger.Warn("Skipping undecodable remote cache value",
				logging.String("key", keys[i]),
				logging.Err(err),
			)
			continue
		}
		found[keys[i]] = value
	}
	return found, nil
}

// MSet encodes every value up front, then writes them in one MULTI/EXEC
// pipeline where each SET carries its own expiry. Nothing is written if any
// value fails to encode.
func (r *RemoteStore) MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}

	encoded := make(map[string][]byte, len(values))
	for key, value := range values {
		data, err := r.codec.Encode(value)
		if err != nil {
			r.logger.Error("Failed to encode remote cache value", err, logging.String("key", key))
			return err
		}
		encoded[r.key(key)] = data
	}

	exp := r.expiration(ttl)
	return r.do(ctx, "mset", func(ctx context.Context) error {
		_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, data := range encoded {
				pipe.Set(ctx, key, data, exp)
			}
			return nil
		})
		return err
	})
}

// TTL returns the remaining lifetime of key. found is false when the key is
// absent; a key without expiry reports NoExpiration.
func (r *RemoteStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	var ttl time.Duration
	err := r.do(ctx, "ttl", func(ctx context.Context) error {
		var err error
		ttl, err = r.rdb.TTL(ctx, r.key(key)).Result()
		return err
	})
	if err != nil {
		return 0, false, err
	}

	switch {
	case ttl == -2 || ttl == -2*time.Second:
		return 0, false, nil
	case ttl == -1 || ttl == -1*time.Second:
		return NoExpiration, true, nil
	default:
		return ttl, true, nil
	}
}

// Increment adds amount to the integer stored at key, creating it at zero
func (r *RemoteStore) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	var n int64
	err := r.do(ctx, "increment", func(ctx context.Context) error {
		var err error
		n, err = r.rdb.IncrBy(ctx, r.key(key), amount).Result()
		return err
	})
	return n, err
}

// Decrement subtracts amount from the integer stored at key
func (r *RemoteStore) Decrement(ctx context.Context, key string, amount int64) (int64, error) {
	var n int64
	err := r.do(ctx, "decrement", func(ctx context.Context) error {
		var err error
		n, err = r.rdb.DecrBy(ctx, r.key(key), amount).Result()
		return err
	})
	return n, err
}

// Keys lists keys in this namespace matching a Redis glob, with the prefix
// stripped and sorted.
func (r *RemoteStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}

	var keys []string
	err := r.do(ctx, "keys", func(ctx context.Context) error {
		var err error
		keys, err = r.scan(ctx, r.prefix+pattern)
		return err
	})
	if err != nil {
		return nil, err
	}

	keys = lo.Map(keys, func(k string, _ int) string { return strings.TrimPrefix(k, r.prefix) })
	sort.Strings(keys)
	return keys, nil
}

func (r *RemoteStore) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return lo.Uniq(keys), iter.Err()
}

// Ping checks the server answers
func (r *RemoteStore) Ping(ctx context.Context) error {
	return r.do(ctx, "ping", r.client.Connect)
}

// Stats reports INFO fields from the server plus pool and breaker counters.
// Client-side fields are filled even when INFO fails.
func (r *RemoteStore) Stats(ctx context.Context) (RemoteStats, error) {
	stats := RemoteStats{
		KeyPrefix:     r.prefix,
		Serialization: string(r.codec.Name()),
		Pool:          r.client.PoolStats(),
		Breaker:       r.breaker.Stats(),
	}

	var info string
	err := r.do(ctx, "stats", func(ctx context.Context) error {
		var err error
		info, err = r.rdb.Info(ctx).Result()
		return err
	})
	if err != nil {
		return stats, err
	}

	fields := parseInfo(info)
	stats.RedisVersion = fields["redis_version"]
	stats.UsedMemoryHuman = fields["used_memory_human"]
	stats.ConnectedClients = infoInt(fields, "connected_clients")
	stats.UsedMemory = infoInt(fields, "used_memory")
	stats.KeyspaceHits = infoInt(fields, "keyspace_hits")
	stats.KeyspaceMisses = infoInt(fields, "keyspace_misses")
	if total := stats.KeyspaceHits + stats.KeyspaceMisses; total > 0 {
		stats.HitRate = float64(stats.KeyspaceHits) / float64(total)
	}
	return stats, nil
}

// Close releases the client if this store owns it
func (r *RemoteStore) Close() error {
	return r.client.Close()
}

// parseInfo reads the "field:value" lines of an INFO reply
func parseInfo(info string) map[string]string {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}
	return fields
}

func infoInt(fields map[string]string, key string) int64 {
	n, _ := strconv.ParseInt(fields[key], 10, 64)
	return n
}
