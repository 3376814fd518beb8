// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jllopis/visionsync/pkg/config"
)

// Rate limits are expressed per minute.
const window = time.Minute

// Limiter throttles one provider model on requests, input tokens and
// output tokens. A zero limit disables that dimension.
type Limiter struct {
	requests *rate.Limiter
	input    *rate.Limiter
	output   *rate.Limiter
}

func perWindow(n int) (rate.Limit, int) {
	if n <= 0 {
		return rate.Inf, 0
	}
	return rate.Limit(float64(n) / window.Seconds()), n
}

func newRate(n int) *rate.Limiter {
	r, b := perWindow(n)
	return rate.NewLimiter(r, b)
}

func setRate(l *rate.Limiter, n int) {
	r, b := perWindow(n)
	l.SetLimit(r)
	l.SetBurst(b)
}

// clamp keeps n within the burst so WaitN never fails on size alone.
func clamp(l *rate.Limiter, n int) int {
	if l.Limit() == rate.Inf {
		return 0
	}
	return max(0, min(n, l.Burst()))
}

// WaitInput blocks until a request carrying inputTokens may be sent and any
// output token debt is repaid.
func (l *Limiter) WaitInput(ctx context.Context, inputTokens int) error {
	if err := l.requests.Wait(ctx); err != nil {
		return err
	}
	if err := l.input.WaitN(ctx, clamp(l.input, inputTokens)); err != nil {
		return err
	}
	if n := clamp(l.output, 1); n > 0 {
		return l.output.WaitN(ctx, n)
	}
	return nil
}

// RecordOutput charges generated tokens without blocking the caller. The
// debt delays later requests.
func (l *Limiter) RecordOutput(outputTokens int) {
	if n := clamp(l.output, outputTokens); n > 0 {
		l.output.ReserveN(time.Now(), n)
	}
}

// Limiters shares one Limiter per provider model across every caller.
type Limiters struct {
	mu sync.Mutex
	m  map[string]*Limiter
}

func NewLimiters() *Limiters {
	return &Limiters{m: map[string]*Limiter{}}
}

// For returns the limiter keyed by mc.Key(), applying mc's current limits.
func (ls *Limiters) For(mc config.ModelConfig) *Limiter {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	key := mc.Key()
	l, ok := ls.m[key]
	if !ok {
		l = &Limiter{
			requests: newRate(mc.RateLimitRequests),
			input:    newRate(mc.RateLimitInputTokens),
			output:   newRate(mc.RateLimitOutputTokens),
		}
		ls.m[key] = l
		return l
	}
	setRate(l.requests, mc.RateLimitRequests)
	setRate(l.input, mc.RateLimitInputTokens)
	setRate(l.output, mc.RateLimitOutputTokens)
	return l
}

// Len returns the number of distinct models seen.
func (ls *Limiters) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.m)
}
