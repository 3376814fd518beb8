// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/visionsync/pkg/errors"
)

// ErrorMetrics counts classified errors per component.
type ErrorMetrics struct {
	errorCounter    metric.Int64Counter
	recoveryCounter metric.Int64Counter
	breakerState    metric.Int64Gauge
}

// NewErrorMetrics creates the error instruments on mp. A nil mp uses the
// global meter provider.
func NewErrorMetrics(mp metric.MeterProvider) (*ErrorMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("visionsync/errors")

	errorCounter, err := meter.Int64Counter(
		"visionsync.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}
	recoveryCounter, err := meter.Int64Counter(
		"visionsync.errors.recovered",
		metric.WithDescription("Errors recovered by retry, by code"),
	)
	if err != nil {
		return nil, err
	}
	breakerState, err := meter.Int64Gauge(
		"visionsync.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per component (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}
	return &ErrorMetrics{
		errorCounter:    errorCounter,
		recoveryCounter: recoveryCounter,
		breakerState:    breakerState,
	}, nil
}

// RecordError counts err under its code. Errors without a code count as
// INTERNAL_ERROR.
func (em *ErrorMetrics) RecordError(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}
	e := errors.AsError(err)
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(e.Code)),
			attribute.String("component", component),
			attribute.String("recoverable", e.RecoverableString()),
		),
	)
}

// RecordRecovery counts an error that a later retry got past.
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, code errors.ErrorCode) {
	if em == nil {
		return
	}
	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("error.code", string(code))),
	)
}

// RecordCircuitBreakerState records 0=open, 1=half-open, 2=closed.
func (em *ErrorMetrics) RecordCircuitBreakerState(ctx context.Context, component string, state int64) {
	if em == nil {
		return
	}
	em.breakerState.Record(ctx, state,
		metric.WithAttributes(attribute.String("component", component)),
	)
}

// LoopMetrics measures agent loop turns.
type LoopMetrics struct {
	turns    metric.Int64Counter
	retries  metric.Int64Counter
	critical metric.Int64Counter
	duration metric.Float64Histogram
}

// NewLoopMetrics creates the loop instruments on mp. A nil mp uses the
// global meter provider.
func NewLoopMetrics(mp metric.MeterProvider) (*LoopMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("visionsync/agent")

	turns, err := meter.Int64Counter("visionsync.turns.total",
		metric.WithDescription("Loop turns by outcome"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("visionsync.turns.retries",
		metric.WithDescription("Turns retried after a non-critical failure"))
	if err != nil {
		return nil, err
	}
	critical, err := meter.Int64Counter("visionsync.loops.critical",
		metric.WithDescription("Monologues ended by a critical failure"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("visionsync.turn.duration",
		metric.WithDescription("Turn duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &LoopMetrics{turns: turns, retries: retries, critical: critical, duration: duration}, nil
}

// RecordTurn counts a finished turn and its duration.
func (lm *LoopMetrics) RecordTurn(ctx context.Context, outcome string, d time.Duration, attrs ...attribute.KeyValue) {
	if lm == nil {
		return
	}
	attrs = append(attrs, attribute.String(AttrOutcome, outcome))
	set := metric.WithAttributes(attrs...)
	lm.turns.Add(ctx, 1, set)
	lm.duration.Record(ctx, float64(d.Microseconds())/1000, set)
	switch outcome {
	case OutcomeRetried:
		lm.retries.Add(ctx, 1)
	case OutcomeCritical:
		lm.critical.Add(ctx, 1)
	}
}
