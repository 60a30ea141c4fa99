// Package backend provides shared value stores for the cache manager.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// Options configures the Redis backend.
type Options struct {
	// Timeout bounds every Redis call.
	Timeout time.Duration

	// BreakerFailures is the number of consecutive failures that opens the
	// circuit breaker.
	BreakerFailures uint32

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration

	// Logger receives breaker state changes.
	Logger *zerolog.Logger
}

// DefaultOptions returns the default backend options.
func DefaultOptions() Options {
	return Options{
		Timeout:         100 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

var _ cache.Backend = (*Redis)(nil)

// Redis stores cache values as JSON in Redis behind a circuit breaker.
type Redis struct {
	client  redis.Cmdable
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewRedis creates a Redis backend on top of client.
func NewRedis(client redis.Cmdable, opts Options) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = def.BreakerFailures
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = def.BreakerTimeout
	}
	logger := log.With().Str("component", "redis-backend").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			BreakerState.Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &Redis{
		client:  client,
		breaker: breaker,
		timeout: opts.Timeout,
	}
}

// Load implements cache.Backend.
func (r *Redis) Load(ctx context.Context, key cache.CacheKey) (any, error) {
	var data []byte
	err := r.execute(ctx, "load", func(ctx context.Context) error {
		var err error
		data, err = r.client.Get(ctx, key.String()).Bytes()
		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cache.ErrBackendMiss
		}
		return nil, err
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return value, nil
}

// Store implements cache.Backend. A zero ttl stores without expiry.
func (r *Redis) Store(ctx context.Context, key cache.CacheKey, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: value is not JSON encodable: %v", cache.ErrValidation, err)
	}

	return r.execute(ctx, "store", func(ctx context.Context) error {
		return r.client.Set(ctx, key.String(), data, ttl).Err()
	})
}

// Remove implements cache.Backend.
func (r *Redis) Remove(ctx context.Context, keys ...cache.CacheKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}

	return r.execute(ctx, "remove", func(ctx context.Context) error {
		return r.client.Del(ctx, names...).Err()
	})
}

// Ping checks the Redis connection. It bypasses the breaker so readiness
// reflects the server itself.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", classify(err))
	}
	return nil
}

// State returns the breaker state.
func (r *Redis) State() gobreaker.State {
	return r.breaker.State()
}

func (r *Redis) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	defer func() {
		OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	_, err := r.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return nil, fn(ctx)
	})
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	return fmt.Errorf("redis %s: %w", op, classify(err))
}

// classify maps transport errors onto the cache sentinels.
func classify(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", cache.ErrBackendUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", cache.ErrBackendTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", cache.ErrBackendTimeout, err)
	}
	return err
}
