// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry backoff and a circuit breaker.
package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jllopis/visionsync/pkg/errors"
)

// Backoff computes exponential delays with jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64 // default 2
	Jitter     float64 // 0.1 means +-10%
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	mult := b.Multiplier
	if mult == 0 {
		mult = 2
	}
	d := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(max(d, 0))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryConfig controls Do.
type RetryConfig struct {
	// MaxAttempts bounds the number of calls. Zero means no bound.
	MaxAttempts int
	Backoff     Backoff

	// IsRecoverable decides whether an error is retried. Nil uses
	// errors.IsRecoverable for typed errors and retries everything else.
	IsRecoverable func(error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep replaces the context-aware timer. Tests use it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig retries three times starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff: Backoff{
			Initial:    100 * time.Millisecond,
			Max:        10 * time.Second,
			Multiplier: 2,
			Jitter:     0.1,
		},
	}
}

// Do calls fn until it succeeds, returns an unrecoverable error, runs out of
// attempts or ctx is done.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = isRecoverableDefault
	}
	sleep := rc.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !recoverable(err) || (rc.MaxAttempts > 0 && attempt >= rc.MaxAttempts) {
			return err
		}
		delay := rc.Backoff.Delay(attempt)
		if rc.OnRetry != nil {
			rc.OnRetry(attempt, err, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return errors.New(errors.CodeTimeout, "context done during retry", serr).
				WithContext("attempt", attempt).
				WithContext("last_error", err.Error())
		}
	}
}

// isRecoverableDefault honors the flag on typed errors and retries plain
// errors.
func isRecoverableDefault(err error) bool {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Recoverable
	}
	return true
}
