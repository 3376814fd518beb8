// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package evolution tunes the agent's response strategy across generations
// from observed turn performance.
package evolution

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

// window is how many recent samples feed an evaluation.
const window = 50

// Strategy is the evolvable response policy.
type Strategy struct {
	Generation int `json:"generation"`
	// Temperature is a sampling hint for the chat model.
	Temperature float64 `json:"temperature"`
	// Detail in [0,1] steers response length.
	Detail float64 `json:"detail"`
}

func (st Strategy) data() subsystem.Data {
	return subsystem.Data{"generation": st.Generation, "temperature": st.Temperature, "detail": st.Detail}
}

type sample struct {
	success bool
	latency float64
}

type Option func(*System)

// WithRand fixes the mutation source.
func WithRand(r *rand.Rand) Option {
	return func(s *System) { s.rng = r }
}

// System implements subsystem.EvolutionSystem.
type System struct {
	cfg config.EvolutionConfig

	mu       sync.Mutex
	rng      *rand.Rand
	strategy Strategy
	best     Strategy
	bestFit  float64
	samples  []sample
}

var _ subsystem.EvolutionSystem = (*System)(nil)

func New(cfg config.EvolutionConfig, opts ...Option) *System {
	s := &System{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		strategy: Strategy{Temperature: 0.7, Detail: 0.5},
		bestFit:  -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.best = s.strategy
	return s
}

func (s *System) Kind() subsystem.Kind { return subsystem.KindEvolution }

// Strategy returns the active strategy.
func (s *System) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

func (s *System) record(d subsystem.Data) {
	ok, has := d[subsystem.KeySuccess].(bool)
	if !has {
		return
	}
	lat, _ := d[subsystem.KeyLatencyMS].(float64)
	s.samples = append(s.samples, sample{success: ok, latency: lat})
	if len(s.samples) > window {
		s.samples = s.samples[len(s.samples)-window:]
	}
}

// Evaluate folds an optional performance sample in and scores the window.
// Fitness is the success rate; should_evolve is set when it falls under the
// adaptation threshold and generations remain.
func (s *System) Evaluate(_ context.Context, performance subsystem.Data) (subsystem.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(performance)

	n := len(s.samples)
	rate, lat := 1.0, 0.0
	if n > 0 {
		ok := 0
		for _, smp := range s.samples {
			if smp.success {
				ok++
			}
			lat += smp.latency
		}
		rate = float64(ok) / float64(n)
		lat /= float64(n)
	}
	return subsystem.Data{
		"samples":         n,
		"success_rate":    rate,
		"avg_latency_ms":  lat,
		"fitness":         rate,
		"generation":      s.strategy.Generation,
		"should_evolve":   n > 0 && rate < s.cfg.AdaptationThreshold && s.strategy.Generation < s.cfg.GenerationLimit,
		"generation_left": max(0, s.cfg.GenerationLimit-s.strategy.Generation),
	}, nil
}

func clamp(v, lo, hi float64) float64 { return min(hi, max(lo, v)) }

// Evolve advances one generation when the evaluation asks for it. The
// fittest strategy seen so far is the parent; each parameter moves by
// evolution_rate and is perturbed with probability mutation_rate.
func (s *System) Evolve(_ context.Context, evaluation subsystem.Data) (subsystem.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fit, _ := evaluation["fitness"].(float64)
	if fit > s.bestFit {
		s.bestFit, s.best = fit, s.strategy
	}
	if ok, _ := evaluation["should_evolve"].(bool); !ok || s.strategy.Generation >= s.cfg.GenerationLimit {
		return subsystem.Data{"evolved": false, subsystem.KeyStrategy: s.strategy.data()}, nil
	}

	next := s.best
	next.Generation = s.strategy.Generation + 1
	step := s.cfg.EvolutionRate
	// Failing turns lean towards more careful, more detailed answers.
	next.Temperature = clamp(next.Temperature-step*0.5, 0, 1.5)
	next.Detail = clamp(next.Detail+step, 0, 1)
	if s.rng.Float64() < s.cfg.MutationRate {
		next.Temperature = clamp(next.Temperature+(s.rng.Float64()*2-1)*step, 0, 1.5)
	}
	if s.rng.Float64() < s.cfg.MutationRate {
		next.Detail = clamp(next.Detail+(s.rng.Float64()*2-1)*step, 0, 1)
	}
	s.strategy = next
	s.samples = nil
	return subsystem.Data{"evolved": true, subsystem.KeyStrategy: next.data()}, nil
}

// Process publishes the active strategy.
func (s *System) Process(_ context.Context, in subsystem.Data) (subsystem.Data, error) {
	st := s.Strategy()
	out := in.Clone()
	out[subsystem.KeyGeneration] = st.Generation
	out[subsystem.KeyStrategy] = st.data()
	return out, nil
}

func (s *System) Analyze(ctx context.Context, _ subsystem.Data) (subsystem.Data, error) {
	ev, err := s.Evaluate(ctx, nil)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	ev["best_fitness"] = s.bestFit
	ev["best_generation"] = s.best.Generation
	s.mu.Unlock()
	return ev, nil
}

// Adapt records the turn outcome and evolves when warranted.
func (s *System) Adapt(ctx context.Context, feedback subsystem.Data) error {
	ev, err := s.Evaluate(ctx, feedback)
	if err != nil {
		return err
	}
	_, err = s.Evolve(ctx, ev)
	return err
}

// Close implements subsystem.System; the system holds nothing to release.
func (s *System) Close(context.Context) error { return nil }
