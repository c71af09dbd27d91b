package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"aimake-cache/internal/common/logging"

	"golang.org/x/sync/singleflight"
)

// MakeKey derives a fixed-length key from a prefix and call arguments.
// Positional args keep their order; named args are sorted by name, so the
// same set of named args yields the same key in any order.
func MakeKey(prefix string, args []interface{}, kwargs map[string]interface{}) string {
	parts := make([]string, 0, len(args)+len(kwargs))
	for _, arg := range args {
		parts = append(parts, keyPart(arg))
	}

	names := make([]string, 0, len(kwargs))
	for name := range kwargs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+keyPart(kwargs[name]))
	}

	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	digest := hex.EncodeToString(sum[:])
	if prefix == "" {
		return digest
	}
	return prefix + ":" + digest
}

// keyPart renders one argument; JSON keeps maps ordered and distinguishes "1" from 1
func keyPart(v interface{}) string {
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%#v", v)
}

// MemoizeConfig controls a memoized function
type MemoizeConfig[A any] struct {
	// Namespace scopes the stored keys, e.g. "user_profile"
	Namespace string
	// TTL of stored results; DefaultExpiration uses the cache default
	TTL time.Duration
	// Key derives the key from the argument; defaults to MakeKey(Namespace, arg)
	Key    func(A) string
	Logger logging.Logger
}

// Memoize wraps a deterministic fn so that results are served from c when
// present. Concurrent misses for the same key share one call to fn. Errors
// from fn are returned and never cached. Values that come back from the
// remote tier in generic JSON form are converted into R.
func Memoize[A, R any](c Cache, config MemoizeConfig[A], fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	keyFn := config.Key
	if keyFn == nil {
		keyFn = func(arg A) string { return MakeKey("", []interface{}{arg}, nil) }
	}
	target := Cache(Namespace(c, config.Namespace))
	logger := logging.OrGlobal(config.Logger)

	var group singleflight.Group

	return func(ctx context.Context, arg A) (R, error) {
		key := keyFn(arg)

		if cached, ok := target.Get(ctx, key); ok {
			if result, ok := convertCached[R](cached); ok {
				return result, nil
			}
			logger.Debug("Cached value does not fit the memoized result type; recomputing",
				logging.String("key", key),
				logging.String("type", fmt.Sprintf("%T", cached)),
			)
		}

		v, err, _ := group.Do(key, func() (interface{}, error) {
			result, err := fn(ctx, arg)
			if err != nil {
				return result, err
			}
			target.Set(ctx, key, result, config.TTL)
			return result, nil
		})
		if err != nil {
			var zero R
			return zero, err
		}
		result, _ := v.(R)
		return result, nil
	}
}

func convertCached[R any](cached interface{}) (R, bool) {
	var result R
	if v, ok := cached.(R); ok {
		return v, true
	}
	// a stored nil result, e.g. a nil pointer that came back from JSON as null
	if cached == nil {
		return result, true
	}

	b, err := json.Marshal(cached)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, false
	}
	return result, true
}
