// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package learning remembers turn outcomes and recalls related experience
// into later turns.
package learning

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

// RecallLimit is how many experiences ApplyLearning attaches.
const RecallLimit = 3

// pruneEvery spaces retention sweeps.
const pruneEvery = time.Hour

type Option func(*System)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

// System implements subsystem.LearningSystem.
type System struct {
	cfg   config.LearningConfig
	store Store
	now   func() time.Time

	mu        sync.Mutex
	stored    int
	skipped   int
	recalls   int
	avgScore  float64
	lastPrune time.Time
}

var _ subsystem.LearningSystem = (*System)(nil)

func New(cfg config.LearningConfig, store Store, opts ...Option) *System {
	if store == nil {
		store = NewMemoryStore(cfg.MaxMemoryEntries)
	}
	s := &System{cfg: cfg, store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.lastPrune = s.now()
	return s
}

func (s *System) Kind() subsystem.Kind { return subsystem.KindLearning }

// Store exposes the backing experience store.
func (s *System) Store() Store { return s.store }

func score(exp subsystem.Data) (float64, bool) {
	success, _ := exp[subsystem.KeySuccess].(bool)
	if v, ok := exp["score"].(float64); ok {
		return v, success
	}
	if success {
		return 1, true
	}
	return 0, false
}

// Learn stores exp when its score reaches the experience threshold. exp
// carries user_message, response, success and an optional score.
func (s *System) Learn(ctx context.Context, exp subsystem.Data) error {
	input := exp.GetString(subsystem.KeyUserMessage)
	sc, success := score(exp)

	s.mu.Lock()
	s.avgScore += s.cfg.LearningRate * (sc - s.avgScore)
	if input == "" || sc < s.cfg.ExperienceThreshold {
		s.skipped++
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	now := s.now()
	if err := s.store.Add(ctx, newExperience(input, exp.GetString(subsystem.KeyResponse), sc, success, now)); err != nil {
		return err
	}

	s.mu.Lock()
	s.stored++
	due := s.cfg.RetentionDays > 0 && now.Sub(s.lastPrune) >= pruneEvery
	if due {
		s.lastPrune = now
	}
	s.mu.Unlock()

	if due {
		return s.Prune(ctx)
	}
	return nil
}

// Prune drops experiences older than the retention window.
func (s *System) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	return s.store.Prune(ctx, s.now().AddDate(0, 0, -s.cfg.RetentionDays))
}

// ApplyLearning attaches experiences related to the user message.
func (s *System) ApplyLearning(ctx context.Context, in subsystem.Data) (subsystem.Data, error) {
	out := in.Clone()
	q := in.GetString(subsystem.KeyUserMessage)
	if q == "" {
		return out, nil
	}
	exps, err := s.store.Recall(ctx, q, RecallLimit)
	if err != nil {
		return nil, err
	}
	if len(exps) > 0 {
		out[subsystem.KeyRecall] = exps
		s.mu.Lock()
		s.recalls++
		s.mu.Unlock()
	}
	return out, nil
}

func (s *System) Process(ctx context.Context, in subsystem.Data) (subsystem.Data, error) {
	return s.ApplyLearning(ctx, in)
}

func (s *System) Analyze(_ context.Context, _ subsystem.Data) (subsystem.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return subsystem.Data{
		"backend":       s.cfg.Backend,
		"stored":        s.stored,
		"skipped":       s.skipped,
		"recalls":       s.recalls,
		"average_score": s.avgScore,
	}, nil
}

// Adapt learns from turn feedback.
func (s *System) Adapt(ctx context.Context, feedback subsystem.Data) error {
	return s.Learn(ctx, feedback)
}

// Close releases the store.
func (s *System) Close(context.Context) error { return s.store.Close() }
