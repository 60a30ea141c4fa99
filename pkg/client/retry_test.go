package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 2*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestRetryWithBackoff(t *testing.T) {
	serverErr := &APIError{StatusCode: 503, ErrorClass: ErrorClassServer, Label: "unavailable"}
	clientErr := &APIError{StatusCode: 400, ErrorClass: ErrorClassClient, Label: "validation_error"}
	networkErr := errors.New("connection reset")

	tests := []struct {
		name          string
		errs          []error
		wantCalls     int
		wantErr       error
		wantExhausted bool
	}{
		{name: "success first try", errs: []error{nil}, wantCalls: 1},
		{name: "server error then success", errs: []error{serverErr, nil}, wantCalls: 2},
		{name: "network error then success", errs: []error{networkErr, networkErr, nil}, wantCalls: 3},
		{name: "client error not retried", errs: []error{clientErr}, wantCalls: 1, wantErr: clientErr},
		{name: "server errors exhaust", errs: []error{serverErr, serverErr, serverErr}, wantCalls: 3, wantErr: serverErr, wantExhausted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryWithBackoff(context.Background(), fastRetry(3), zerolog.Nop(), func() error {
				e := tt.errs[calls]
				calls++
				return e
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantExhausted {
				assert.ErrorIs(t, err, ErrRetryExhausted)
			} else {
				assert.NotErrorIs(t, err, ErrRetryExhausted)
			}
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiplier: 2}

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := retryWithBackoff(ctx, cfg, zerolog.Nop(), func() error {
		calls++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextCancelled)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_CancelledBeforeFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryWithBackoff(ctx, fastRetry(3), zerolog.Nop(), func() error {
		calls++
		return ctx.Err()
	})

	assert.ErrorIs(t, err, ErrContextCancelled)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ZeroAttempts(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), RetryConfig{}, zerolog.Nop(), func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}
