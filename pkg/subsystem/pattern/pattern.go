// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package pattern recognises recurring request shapes.
//
// Patterns are glob expressions over the lower-cased user message. Each
// carries an effectiveness score adapted from turn feedback with an
// exponential moving average; a match is reported only when its confidence
// clears the configured similarity threshold. Request prefixes seen at least
// min_examples times are promoted to learned patterns.
package pattern

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

// Pattern is one recognisable request shape.
type Pattern struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Expr          string  `json:"expr"`
	Action        string  `json:"action,omitempty"`
	Effectiveness float64 `json:"effectiveness"`
	Uses          int     `json:"uses"`
	Learned       bool    `json:"learned"`

	matcher glob.Glob
}

// System implements subsystem.PatternSystem.
type System struct {
	cfg config.PatternConfig

	mu       sync.RWMutex
	patterns map[string]*Pattern
	order    []string
	prefixes map[string]int
}

var _ subsystem.PatternSystem = (*System)(nil)

// New builds the system and registers seed patterns.
func New(cfg config.PatternConfig, seed ...Pattern) (*System, error) {
	s := &System{
		cfg:      cfg,
		patterns: map[string]*Pattern{},
		prefixes: map[string]int{},
	}
	for _, p := range seed {
		if err := s.Register(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *System) Kind() subsystem.Kind { return subsystem.KindPattern }

// Register compiles and stores p, replacing any pattern with the same id.
// A zero effectiveness starts at 0.5.
func (s *System) Register(p Pattern) error {
	if p.ID == "" {
		p.ID = p.Expr
	}
	g, err := glob.Compile(strings.ToLower(p.Expr))
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", p.Expr, err)
	}
	p.matcher = g
	if p.Effectiveness == 0 {
		p.Effectiveness = 0.5
	}
	if p.Name == "" {
		p.Name = p.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patterns[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.patterns[p.ID] = &p
	return nil
}

// Patterns returns copies of every known pattern in registration order.
func (s *System) Patterns() []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pattern, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.patterns[id])
	}
	return out
}

func text(in subsystem.Data) string {
	return strings.ToLower(strings.TrimSpace(in.GetString(subsystem.KeyUserMessage)))
}

// confidence scales a full glob match by the pattern's track record:
// a fresh pattern (0.5) scores 0.75, a perfect one 1.0.
func confidence(p *Pattern) float64 {
	return 0.5 + 0.5*p.Effectiveness
}

func (s *System) DetectPatterns(_ context.Context, in subsystem.Data) ([]subsystem.Match, error) {
	msg := text(in)
	if msg == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []subsystem.Match
	for _, id := range s.order {
		p := s.patterns[id]
		if !p.matcher.Match(msg) {
			continue
		}
		c := confidence(p)
		if c < s.cfg.SimilarityThreshold {
			continue
		}
		matches = append(matches, subsystem.Match{PatternID: p.ID, Name: p.Name, Confidence: c, Action: p.Action})
	}
	slices.SortStableFunc(matches, func(a, b subsystem.Match) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
	return matches, nil
}

func (s *System) ApplyPatterns(_ context.Context, in subsystem.Data, matches []subsystem.Match) (subsystem.Data, error) {
	out := in.Clone()
	out[subsystem.KeyPatterns] = matches
	var hints []string

	s.mu.Lock()
	for _, m := range matches {
		if p, ok := s.patterns[m.PatternID]; ok {
			p.Uses++
		}
		if m.Action != "" {
			hints = append(hints, m.Action)
		}
	}
	s.mu.Unlock()

	if len(hints) > 0 {
		out[subsystem.KeyPatternHints] = hints
	}
	return out, nil
}

// Process detects and applies patterns, and counts the message prefix
// towards learning a new pattern.
func (s *System) Process(ctx context.Context, in subsystem.Data) (subsystem.Data, error) {
	matches, err := s.DetectPatterns(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.observe(text(in)); err != nil {
		return nil, err
	}
	return s.ApplyPatterns(ctx, in, matches)
}

// prefix is the first two words of msg.
func prefix(msg string) string {
	fields := strings.Fields(msg)
	if len(fields) > 2 {
		fields = fields[:2]
	}
	return strings.Join(fields, " ")
}

func (s *System) observe(msg string) error {
	pre := prefix(msg)
	if pre == "" || strings.ContainsAny(pre, `*?[]{}\`) {
		return nil
	}
	s.mu.Lock()
	s.prefixes[pre]++
	n := s.prefixes[pre]
	_, known := s.patterns["learned:"+pre]
	s.mu.Unlock()

	if known || n < s.cfg.MinExamples {
		return nil
	}
	return s.Register(Pattern{
		ID:      "learned:" + pre,
		Name:    pre,
		Expr:    pre + "*",
		Learned: true,
	})
}

// Analyze reports pattern statistics and recommendations.
func (s *System) Analyze(_ context.Context, _ subsystem.Data) (subsystem.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []string
	learned := 0
	for _, id := range s.order {
		p := s.patterns[id]
		if p.Learned {
			learned++
		}
		if p.Uses >= s.cfg.MinExamples && confidence(p) < s.cfg.SimilarityThreshold {
			recs = append(recs, fmt.Sprintf("pattern %s underperforms (effectiveness %.2f)", p.ID, p.Effectiveness))
		}
	}
	return subsystem.Data{
		"pattern_count":   len(s.order),
		"learned_count":   learned,
		"recommendations": recs,
	}, nil
}

// Adapt moves the effectiveness of the patterns named in feedback towards
// 1 on success and 0 on failure. Feedback carries either "patterns"
// ([]subsystem.Match) or a single "pattern_id", plus "success".
func (s *System) Adapt(_ context.Context, feedback subsystem.Data) error {
	success, _ := feedback[subsystem.KeySuccess].(bool)
	target := 0.0
	if success {
		target = 1.0
	}

	var ids []string
	if ms, ok := feedback[subsystem.KeyPatterns].([]subsystem.Match); ok {
		for _, m := range ms {
			ids = append(ids, m.PatternID)
		}
	}
	if id := feedback.GetString("pattern_id"); id != "" {
		ids = append(ids, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		p, ok := s.patterns[id]
		if !ok {
			continue
		}
		p.Effectiveness += s.cfg.LearningRate * (target - p.Effectiveness)
	}
	return nil
}

// Close implements subsystem.System; the system holds nothing to release.
func (s *System) Close(context.Context) error { return nil }
