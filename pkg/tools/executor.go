// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/telemetry"
)

// Outcome is the result of processing one model response.
type Outcome struct {
	// Result is non-nil when the loop should end with it.
	Result any
	// Feedback is the message for the model when the loop continues.
	Feedback string
	// Tool names the tool that ran, if any.
	Tool string
	// Thoughts are the model's reasoning lines from the request.
	Thoughts []string
}

// Done reports whether the outcome ends the loop.
func (o Outcome) Done() bool { return o.Result != nil }

// Processor turns a formatted model response into an Outcome.
type Processor interface {
	ProcessTools(ctx context.Context, response string) (Outcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, response string) (Outcome, error)

func (f ProcessorFunc) ProcessTools(ctx context.Context, response string) (Outcome, error) {
	return f(ctx, response)
}

const (
	nudgeNoRequest = "Your reply did not contain a JSON tool request. " +
		`Answer with {"thoughts": [...], "tool_name": "...", "tool_args": {...}}.`
	nudgeUnknown = "Tool %q does not exist. Available tools: %v."
	nudgeInvalid = "Your tool request could not be decoded: %v. Send valid JSON."
)

type ExecutorOption func(*Executor)

func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// Executor runs tool requests against a Registry.
type Executor struct {
	reg    *Registry
	logger *slog.Logger
	tracer trace.Tracer
}

var _ Processor = (*Executor)(nil)

// NewExecutor returns an Executor over reg. A nil reg gets a registry with
// only the response tool.
func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	if reg == nil {
		reg = NewRegistry(Response{})
	}
	e := &Executor{
		reg:    reg,
		logger: slog.Default(),
		tracer: otel.Tracer("visionsync/tools"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Registry() *Registry { return e.reg }

// ProcessTools parses response and runs the requested tool. Missing,
// malformed or unknown requests are not errors: they come back as
// feedback so the model can correct itself. A failing tool is a
// TOOL_FAILURE error.
func (e *Executor) ProcessTools(ctx context.Context, response string) (Outcome, error) {
	req, err := Parse(response)
	switch {
	case stderrors.Is(err, ErrNoRequest):
		return Outcome{Feedback: nudgeNoRequest}, nil
	case err != nil:
		return Outcome{Feedback: fmt.Sprintf(nudgeInvalid, err)}, nil
	}

	tool, ok := e.reg.Get(req.Name)
	if !ok {
		e.logger.Warn("tool.unknown", slog.String("tool", req.Name))
		return Outcome{
			Feedback: fmt.Sprintf(nudgeUnknown, req.Name, e.reg.Names()),
			Tool:     req.Name,
			Thoughts: req.Thoughts,
		}, nil
	}

	ctx, span := e.tracer.Start(ctx, "tools.Execute", trace.WithAttributes(telemetry.ToolAttributes(req.Name)...))
	defer span.End()

	res, err := tool.Execute(ctx, req.Args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")
		e.logger.Error("tool.error", slog.String("tool", req.Name), slog.String("error", err.Error()))
		return Outcome{}, errors.New(errors.CodeToolFailure, fmt.Sprintf("tool %s failed", req.Name), err).
			WithAttribute("tool", req.Name).
			WithRecoverable(true)
	}
	span.SetStatus(codes.Ok, "")
	e.logger.Debug("tool.done", slog.String("tool", req.Name), slog.Bool("break_loop", res.BreakLoop))

	out := Outcome{Tool: req.Name, Thoughts: req.Thoughts}
	if res.BreakLoop {
		out.Result = res.Message
	} else {
		out.Feedback = res.Message
	}
	return out, nil
}
