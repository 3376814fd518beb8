// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/visionsync/pkg/errors"
)

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(10))

	j := Backoff{Initial: time.Second, Jitter: 0.1}
	for range 20 {
		d := j.Delay(1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	var delays []time.Duration
	rc := DefaultRetryConfig()
	rc.Backoff.Jitter = 0
	rc.Sleep = noSleep(&delays)

	attempts := 0
	err := rc.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestRetryLimits(t *testing.T) {
	var delays []time.Duration
	tests := []struct {
		name     string
		max      int
		err      error
		attempts int
	}{
		{"max attempts", 2, stderrors.New("always"), 2},
		{"unrecoverable typed error", 5, errors.New(errors.CodeInvalidInput, "bad", nil), 1},
		{"recoverable typed error", 4, errors.TurnFailure("generate", nil), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := RetryConfig{MaxAttempts: tt.max, Sleep: noSleep(&delays)}
			attempts := 0
			err := rc.Do(context.Background(), func(context.Context) error {
				attempts++
				return tt.err
			})
			assert.Same(t, tt.err, err)
			assert.Equal(t, tt.attempts, attempts)
		})
	}
}

func TestRetryUnboundedStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	rc := RetryConfig{
		Sleep: func(ctx context.Context, _ time.Duration) error {
			if attempts == 10 {
				cancel()
			}
			return ctx.Err()
		},
	}
	err := rc.Do(ctx, func(context.Context) error {
		attempts++
		return stderrors.New("transient")
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeTimeout))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, attempts)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestCircuitBreakerTransitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var changes []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Cooldown:         time.Minute,
		Name:             "llm",
		Now:              func() time.Time { return now },
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, name+":"+string(from)+"->"+string(to))
		},
	})
	ctx := context.Background()
	fail := func(context.Context) error { return stderrors.New("down") }
	ok := func(context.Context) error { return nil }

	require.Error(t, cb.Call(ctx, fail))
	assert.Equal(t, StateClosed, cb.State())
	require.Error(t, cb.Call(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Call(ctx, ok)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.True(t, errors.IsRecoverable(err))

	now = now.Add(time.Minute)
	require.NoError(t, cb.Call(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Call(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{
		"llm:closed->open",
		"llm:open->half-open",
		"llm:half-open->closed",
	}, changes)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Second, Now: func() time.Time { return now }})
	ctx := context.Background()
	fail := func(context.Context) error { return stderrors.New("down") }

	require.Error(t, cb.Call(ctx, fail))
	now = now.Add(2 * time.Second)
	require.Error(t, cb.Call(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, int64(2), cb.State().Gauge())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}
