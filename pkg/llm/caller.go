// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/resilience"
	"github.com/jllopis/visionsync/pkg/telemetry"
)

// Prompt is the fully prepared input of one model call.
type Prompt struct {
	System   string
	Messages []Message
}

// Chat returns the system prompt followed by the messages.
func (p Prompt) Chat() []Message {
	out := make([]Message, 0, len(p.Messages)+1)
	if p.System != "" {
		out = append(out, Message{Role: RoleSystem, Content: p.System})
	}
	return append(out, p.Messages...)
}

// Tokens estimates the prompt size at four characters per token.
func (p Prompt) Tokens() int {
	n := len(p.System)
	for _, m := range p.Messages {
		n += len(m.Content)
	}
	return n / 4
}

// Caller is the opaque model boundary: prompt in, text out.
type Caller interface {
	CallModel(ctx context.Context, prompt Prompt) (string, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f CallerFunc) CallModel(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// ModelCaller calls one provider model behind the shared rate limiter and a
// circuit breaker.
type ModelCaller struct {
	provider Provider
	mc       config.ModelConfig
	limiter  *Limiter
	breaker  *resilience.CircuitBreaker
	tracer   trace.Tracer
	logger   *slog.Logger
}

type CallerOption func(*ModelCaller)

// WithLimiters shares rate limits with every caller using ls.
func WithLimiters(ls *Limiters) CallerOption {
	return func(c *ModelCaller) { c.limiter = ls.For(c.mc) }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) CallerOption {
	return func(c *ModelCaller) { c.breaker = cb }
}

func WithTracer(t trace.Tracer) CallerOption {
	return func(c *ModelCaller) { c.tracer = t }
}

func WithLogger(l *slog.Logger) CallerOption {
	return func(c *ModelCaller) { c.logger = l }
}

// NewCaller binds p to mc. Without WithLimiters the caller gets a private
// limiter.
func NewCaller(p Provider, mc config.ModelConfig, opts ...CallerOption) *ModelCaller {
	c := &ModelCaller{
		provider: p,
		mc:       mc.Clone(),
		tracer:   otel.Tracer("visionsync/llm"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewLimiters().For(c.mc)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: c.mc.Key()})
	}
	return c
}

// Model returns the bound model configuration.
func (c *ModelCaller) Model() config.ModelConfig { return c.mc.Clone() }

// CallModel sends prompt and returns the response text. Failures are
// recoverable LLM_ERROR, RATE_LIMITED or CIRCUIT_OPEN errors.
func (c *ModelCaller) CallModel(ctx context.Context, prompt Prompt) (string, error) {
	in := prompt.Tokens()
	ctx, span := c.tracer.Start(ctx, "llm.CallModel",
		trace.WithAttributes(telemetry.LLMAttributes(string(c.mc.Provider), c.mc.Name, in, 0)...))
	defer span.End()

	if err := c.limiter.WaitInput(ctx, in); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limited")
		return "", errors.New(errors.CodeRateLimit, "wait for rate limiter", err).
			WithAttribute("model", c.mc.Key()).
			WithRecoverable(true)
	}

	start := time.Now()
	var resp *ChatResponse
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.provider.Chat(ctx, Request(c.mc, prompt.Chat()))
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.WarnContext(ctx, "llm.call.failed",
			slog.String("model", c.mc.Key()),
			slog.String("error", err.Error()),
		)
		if errors.HasCode(err, errors.CodeCircuitOpen) {
			return "", err
		}
		return "", errors.New(errors.CodeLLMError, "model call failed", err).
			WithAttribute("model", c.mc.Key()).
			WithRecoverable(true)
	}

	out := resp.Usage.CompletionTokens
	if out == 0 {
		out = len(resp.Content) / 4
	}
	c.limiter.RecordOutput(out)
	span.SetAttributes(telemetry.LLMAttributes(string(c.mc.Provider), c.mc.Name, resp.Usage.PromptTokens, out)...)
	c.logger.DebugContext(ctx, "llm.call.completed",
		slog.String("model", c.mc.Key()),
		slog.Int("output_tokens", out),
		slog.Duration("duration", time.Since(start)),
	)
	return resp.Content, nil
}

var _ Caller = (*ModelCaller)(nil)
