package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// setupTestRedis connects to a local Redis and skips when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

// unreachableClient points at a port nothing listens on.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewRedis_Panic(t *testing.T) {
	assert.Panics(t, func() {
		NewRedis(nil, Options{})
	})
}

func TestNewRedis_Defaults(t *testing.T) {
	r := NewRedis(unreachableClient(t), Options{})
	assert.Equal(t, DefaultOptions().Timeout, r.timeout)
	assert.Equal(t, gobreaker.StateClosed, r.State())
}

func TestRedis_BreakerOpensAfterFailures(t *testing.T) {
	r := NewRedis(unreachableClient(t), Options{
		Timeout:         50 * time.Millisecond,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	})
	ctx := context.Background()
	key := cache.CacheKey{Prefix: "test", StrategyID: "s1", Key: "a"}

	for i := 0; i < 2; i++ {
		_, err := r.Load(ctx, key)
		require.Error(t, err)
		assert.False(t, errors.Is(err, cache.ErrBackendUnavailable))
	}
	assert.Equal(t, gobreaker.StateOpen, r.State())

	_, err := r.Load(ctx, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cache.ErrBackendUnavailable))

	err = r.Store(ctx, key, "v", 0)
	assert.True(t, errors.Is(err, cache.ErrBackendUnavailable))
}

func TestRedis_StoreRejectsUnencodableValue(t *testing.T) {
	r := NewRedis(unreachableClient(t), Options{})

	err := r.Store(context.Background(), cache.CacheKey{Key: "a"}, func() {}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cache.ErrValidation))
	assert.Equal(t, gobreaker.StateClosed, r.State(), "encoding errors never reach Redis")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: cache.ErrBackendTimeout},
		{name: "breaker open", err: gobreaker.ErrOpenState, want: cache.ErrBackendUnavailable},
		{name: "half-open saturated", err: gobreaker.ErrTooManyRequests, want: cache.ErrBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(classify(tt.err), tt.want))
		})
	}

	other := errors.New("boom")
	assert.Equal(t, other, classify(other))
}

func TestRedis_RoundTrip(t *testing.T) {
	r := NewRedis(setupTestRedis(t), Options{})
	ctx := context.Background()
	key := cache.CacheKey{Prefix: "test", StrategyID: "s1", Key: "user:42"}

	_, err := r.Load(ctx, key)
	assert.True(t, errors.Is(err, cache.ErrBackendMiss))

	value := map[string]any{"name": "Ada", "age": 36}
	require.NoError(t, r.Store(ctx, key, value, time.Minute))

	got, err := r.Load(ctx, key)
	require.NoError(t, err)
	// JSON numbers decode as float64.
	assert.Equal(t, map[string]any{"name": "Ada", "age": float64(36)}, got)

	require.NoError(t, r.Remove(ctx, key))
	_, err = r.Load(ctx, key)
	assert.True(t, errors.Is(err, cache.ErrBackendMiss))

	require.NoError(t, r.Ping(ctx))
}
