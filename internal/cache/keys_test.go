package cache

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aimake-cache/internal/common/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeKey(t *testing.T) {
	k1 := MakeKey("profile", []interface{}{42, "en"}, map[string]interface{}{"a": 1, "b": 2})
	k2 := MakeKey("profile", []interface{}{42, "en"}, map[string]interface{}{"b": 2, "a": 1})
	assert.Equal(t, k1, k2, "named argument order does not matter")

	assert.True(t, strings.HasPrefix(k1, "profile:"))
	assert.Len(t, strings.TrimPrefix(k1, "profile:"), 32)

	assert.NotEqual(t, k1, MakeKey("profile", []interface{}{"en", 42}, map[string]interface{}{"a": 1, "b": 2}),
		"positional order matters")
	assert.NotEqual(t, MakeKey("p", []interface{}{1}, nil), MakeKey("p", []interface{}{"1"}, nil),
		"types are distinguished")
	assert.NotEqual(t, MakeKey("p", nil, map[string]interface{}{"a": 1}), MakeKey("p", nil, map[string]interface{}{"b": 1}))

	long := strings.Repeat("x", 10_000)
	assert.Len(t, MakeKey("", []interface{}{long}, nil), 32, "key length is bounded")

	// map arguments are stable regardless of iteration order
	m := map[string]interface{}{"z": 1, "y": 2, "x": 3}
	assert.Equal(t, MakeKey("p", []interface{}{m}, nil), MakeKey("p", []interface{}{m}, nil))

	// non-JSON values still produce a key
	assert.NotEmpty(t, MakeKey("p", []interface{}{make(chan int)}, nil))
}

type profile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMemoize(t *testing.T) {
	for _, level := range []Level{LevelMemoryOnly, LevelRemoteOnly} {
		t.Run(string(level), func(t *testing.T) {
			tm := initialized(t, newTestManager(t, testManagerConfig(level)))
			ctx := context.Background()

			var calls atomic.Int32
			load := Memoize(tm.Manager, MemoizeConfig[int]{
				Namespace: "profile",
				TTL:       time.Minute,
				Logger:    logging.NewNopLogger(),
			}, func(_ context.Context, id int) (profile, error) {
				calls.Add(1)
				return profile{ID: id, Name: "Ann"}, nil
			})

			p, err := load(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, profile{ID: 1, Name: "Ann"}, p)

			p, err = load(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, profile{ID: 1, Name: "Ann"}, p, "cached value is converted back into the result type")
			assert.Equal(t, int32(1), calls.Load())

			_, err = load(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, int32(2), calls.Load())

			key := "profile:" + MakeKey("", []interface{}{1}, nil)
			assert.True(t, tm.Exists(ctx, key))
		})
	}
}

func TestMemoize_ErrorsAreNotCached(t *testing.T) {
	tm := initialized(t, newTestManager(t, testManagerConfig(LevelMemoryOnly)))
	ctx := context.Background()

	errBoom := stderrors.New("boom")
	var calls atomic.Int32
	load := Memoize(tm.Manager, MemoizeConfig[string]{Namespace: "n"}, func(_ context.Context, s string) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errBoom
		}
		return len(s), nil
	})

	_, err := load(ctx, "abc")
	assert.ErrorIs(t, err, errBoom)

	n, err := load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoize_NilResultIsCached(t *testing.T) {
	for _, level := range []Level{LevelMemoryOnly, LevelRemoteOnly} {
		t.Run(string(level), func(t *testing.T) {
			tm := initialized(t, newTestManager(t, testManagerConfig(level)))
			ctx := context.Background()

			var calls atomic.Int32
			find := Memoize(tm.Manager, MemoizeConfig[int]{Namespace: "lookup"}, func(_ context.Context, id int) (*profile, error) {
				calls.Add(1)
				return nil, nil
			})

			for i := 0; i < 3; i++ {
				p, err := find(ctx, 7)
				require.NoError(t, err)
				assert.Nil(t, p)
			}
			assert.Equal(t, int32(1), calls.Load(), "a nil result is served from the cache")
		})
	}
}

func TestMemoize_CustomKey(t *testing.T) {
	tm := initialized(t, newTestManager(t, testManagerConfig(LevelMemoryOnly)))
	ctx := context.Background()

	load := Memoize(tm.Manager, MemoizeConfig[string]{
		Namespace: "greeting",
		Key:       func(name string) string { return strings.ToLower(name) },
	}, func(_ context.Context, name string) (string, error) {
		return "hello " + name, nil
	})

	v, err := load(ctx, "Ann")
	require.NoError(t, err)
	assert.Equal(t, "hello Ann", v)

	v, err = load(ctx, "ANN")
	require.NoError(t, err)
	assert.Equal(t, "hello Ann", v, "keys that collide share the cached result")
	assert.True(t, tm.Memory().Exists("greeting:ann"))
}

func TestMemoize_ConcurrentMissesShareOneCall(t *testing.T) {
	tm := initialized(t, newTestManager(t, testManagerConfig(LevelMemoryOnly)))
	ctx := context.Background()

	release := make(chan struct{})
	var calls atomic.Int32
	load := Memoize(tm.Manager, MemoizeConfig[int]{Namespace: "slow"}, func(_ context.Context, id int) (int, error) {
		calls.Add(1)
		<-release
		return id * 2, nil
	})

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := load(ctx, 21)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// let every goroutine reach the flight before releasing it
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestNamespace_EmptyNamespace(t *testing.T) {
	tm := initialized(t, newTestManager(t, testManagerConfig(LevelMemoryOnly)))
	ctx := context.Background()

	plain := Namespace(tm.Manager, "")
	require.True(t, plain.Set(ctx, "k", 1, time.Minute))
	assert.True(t, tm.Memory().Exists("k"))
	assert.Equal(t, map[string]interface{}{"k": 1}, plain.MGet(ctx, []string{"k"}))
}
