// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package analytics keeps a sampled window of turn outcomes, exports them as
// OpenTelemetry metrics and reports trends.
package analytics

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

// EventKind tells responses from errors.
type EventKind string

const (
	EventResponse EventKind = "response"
	EventError    EventKind = "error"
)

// Event is one recorded outcome.
type Event struct {
	Kind   EventKind `json:"kind"`
	Text   string    `json:"text"`
	Length int       `json:"length"`
	At     time.Time `json:"at"`
}

type instruments struct {
	responses metric.Int64Counter
	errors    metric.Int64Counter
	length    metric.Int64Histogram
	latency   metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider) (instruments, error) {
	meter := mp.Meter("visionsync/analytics")
	var (
		in  instruments
		err error
	)
	if in.responses, err = meter.Int64Counter("visionsync.responses.total",
		metric.WithDescription("Responses recorded by the analytics system")); err != nil {
		return in, err
	}
	if in.errors, err = meter.Int64Counter("visionsync.errors.recorded",
		metric.WithDescription("Errors recorded by the analytics system")); err != nil {
		return in, err
	}
	if in.length, err = meter.Int64Histogram("visionsync.response.length",
		metric.WithDescription("Response length in characters")); err != nil {
		return in, err
	}
	if in.latency, err = meter.Float64Histogram("visionsync.turn.latency",
		metric.WithDescription("Turn latency"), metric.WithUnit("ms")); err != nil {
		return in, err
	}
	return in, nil
}

type Option func(*System)

// WithMeterProvider replaces the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *System) { s.mp = mp }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

// WithRand fixes the sampling source.
func WithRand(r *rand.Rand) Option {
	return func(s *System) { s.rng = r }
}

// System implements subsystem.AnalyticsSystem.
type System struct {
	cfg  config.AnalyticsConfig
	mp   metric.MeterProvider
	inst instruments
	now  func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	events    []Event
	responses int
	errs      int
}

var _ subsystem.AnalyticsSystem = (*System)(nil)

func New(cfg config.AnalyticsConfig, opts ...Option) (*System, error) {
	s := &System{
		cfg: cfg,
		mp:  otel.GetMeterProvider(),
		now: time.Now,
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	inst, err := newInstruments(s.mp)
	if err != nil {
		return nil, err
	}
	s.inst = inst
	return s, nil
}

func (s *System) Kind() subsystem.Kind { return subsystem.KindAnalytics }

// add stores e in the window when it is sampled. Counters and metrics
// always see it. Caller holds s.mu.
func (s *System) add(e Event) {
	if s.cfg.SamplingRate < 1 && s.rng.Float64() >= s.cfg.SamplingRate {
		return
	}
	s.events = append(s.events, e)
	s.trim()
}

// trim enforces the window size and retention. Caller holds s.mu.
func (s *System) trim() {
	if s.cfg.MetricsRetentionDays > 0 {
		cutoff := s.now().AddDate(0, 0, -s.cfg.MetricsRetentionDays)
		i := 0
		for i < len(s.events) && s.events[i].At.Before(cutoff) {
			i++
		}
		s.events = s.events[i:]
	}
	if s.cfg.AnalysisWindow > 0 && len(s.events) > s.cfg.AnalysisWindow {
		s.events = s.events[len(s.events)-s.cfg.AnalysisWindow:]
	}
}

func (s *System) RecordResponse(ctx context.Context, response string) error {
	s.inst.responses.Add(ctx, 1)
	s.inst.length.Record(ctx, int64(len(response)))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses++
	s.add(Event{Kind: EventResponse, Text: response, Length: len(response), At: s.now()})
	return nil
}

func (s *System) RecordError(ctx context.Context, message string) error {
	s.inst.errors.Add(ctx, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs++
	s.add(Event{Kind: EventError, Text: message, Length: len(message), At: s.now()})
	return nil
}

// Events returns a copy of the current window.
func (s *System) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type stats struct {
	responses, errors int
	avgLength         float64
}

func summarize(evs []Event) stats {
	var st stats
	total := 0
	for _, e := range evs {
		if e.Kind == EventError {
			st.errors++
			continue
		}
		st.responses++
		total += e.Length
	}
	if st.responses > 0 {
		st.avgLength = float64(total) / float64(st.responses)
	}
	return st
}

func (st stats) errorRate() float64 {
	n := st.responses + st.errors
	if n == 0 {
		return 0
	}
	return float64(st.errors) / float64(n)
}

func latency(in subsystem.Data, now time.Time) (float64, bool) {
	if v, ok := in[subsystem.KeyLatencyMS].(float64); ok {
		return v, true
	}
	if start, ok := in[subsystem.KeyStartTime].(time.Time); ok {
		return float64(now.Sub(start).Microseconds()) / 1000, true
	}
	return 0, false
}

// CollectMetrics summarizes the window and records the turn latency when
// the loop data carries one.
func (s *System) CollectMetrics(ctx context.Context, in subsystem.Data) (subsystem.Data, error) {
	s.mu.Lock()
	s.trim()
	st := summarize(s.events)
	totalResp, totalErr := s.responses, s.errs
	s.mu.Unlock()

	m := subsystem.Data{
		"responses_total":     totalResp,
		"errors_total":        totalErr,
		"window_size":         st.responses + st.errors,
		"error_rate":          st.errorRate(),
		"avg_response_length": st.avgLength,
	}
	if lat, ok := latency(in, s.now()); ok {
		m[subsystem.KeyLatencyMS] = lat
		s.inst.latency.Record(ctx, lat, metric.WithAttributes(attribute.Int("turn", intValue(in[subsystem.KeyTurn]))))
	}
	return m, nil
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// AnalyzeTrends compares the older and newer halves of the window. The
// trend is reported as confident once the window holds enough events
// relative to its size.
func (s *System) AnalyzeTrends(_ context.Context) (subsystem.Data, error) {
	s.mu.Lock()
	s.trim()
	evs := append([]Event(nil), s.events...)
	s.mu.Unlock()

	n := len(evs)
	older, newer := summarize(evs[:n/2]), summarize(evs[n/2:])
	delta := newer.errorRate() - older.errorRate()
	trend := "stable"
	switch {
	case n < 4:
		trend = "insufficient_data"
	case delta < -0.05:
		trend = "improving"
	case delta > 0.05:
		trend = "degrading"
	}

	confidence := 1.0
	if s.cfg.AnalysisWindow > 0 {
		confidence = min(1, float64(n)/float64(s.cfg.AnalysisWindow))
	}
	return subsystem.Data{
		"trend":             trend,
		"error_rate_delta":  delta,
		"length_delta":      newer.avgLength - older.avgLength,
		"confidence":        confidence,
		"confident":         confidence >= s.cfg.ConfidenceThreshold,
		"events_considered": n,
	}, nil
}

// Process attaches the current metrics to the loop data.
func (s *System) Process(ctx context.Context, in subsystem.Data) (subsystem.Data, error) {
	m, err := s.CollectMetrics(ctx, in)
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	out[subsystem.KeyMetrics] = m
	return out, nil
}

func (s *System) Analyze(ctx context.Context, _ subsystem.Data) (subsystem.Data, error) {
	return s.AnalyzeTrends(ctx)
}

// Adapt records the latency of a finished turn.
func (s *System) Adapt(ctx context.Context, feedback subsystem.Data) error {
	if lat, ok := latency(feedback, s.now()); ok {
		s.inst.latency.Record(ctx, lat)
	}
	return nil
}

func (s *System) Close(context.Context) error { return nil }
