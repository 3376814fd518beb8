// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package cooperation coordinates work across a team of agents.
//
// Delegation is performed by an injected Delegator (the agent package spawns
// a subordinate agent in a child context). Depth is tracked in the task data
// under "delegation_depth" and bounded by max_delegation_depth; every
// delegation runs under the configured timeout.
package cooperation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

// KeyDepth carries the delegation depth in task data.
const KeyDepth = "delegation_depth"

var (
	ErrNoDelegator   = errors.New("cooperation: no delegator configured")
	ErrDepthExceeded = errors.New("cooperation: delegation depth exceeded")
)

// Delegator runs a task on a subordinate agent.
type Delegator interface {
	Delegate(ctx context.Context, task subsystem.Data) (subsystem.Data, error)
}

// DelegatorFunc adapts a function to Delegator.
type DelegatorFunc func(ctx context.Context, task subsystem.Data) (subsystem.Data, error)

func (f DelegatorFunc) Delegate(ctx context.Context, task subsystem.Data) (subsystem.Data, error) {
	return f(ctx, task)
}

// Member is one team participant.
type Member struct {
	ID     string   `json:"id"`
	Role   string   `json:"role"`
	Skills []string `json:"skills,omitempty"`
}

type Option func(*System)

func WithDelegator(d Delegator) Option {
	return func(s *System) { s.delegator = d }
}

func WithMembers(ms ...Member) Option {
	return func(s *System) { s.members = append(s.members, ms...) }
}

// System implements subsystem.CooperationSystem.
type System struct {
	cfg config.CooperationConfig

	mu        sync.RWMutex
	delegator Delegator
	members   []Member
	delegated int
	succeeded int
	failed    int
}

var _ subsystem.CooperationSystem = (*System)(nil)

func New(cfg config.CooperationConfig, opts ...Option) *System {
	s := &System{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *System) Kind() subsystem.Kind { return subsystem.KindCooperation }

// SetDelegator installs d after construction.
func (s *System) SetDelegator(d Delegator) {
	s.mu.Lock()
	s.delegator = d
	s.mu.Unlock()
}

// Join adds m to the roster, replacing a member with the same id.
func (s *System) Join(m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = slices.DeleteFunc(s.members, func(x Member) bool { return x.ID == m.ID })
	s.members = append(s.members, m)
}

func (s *System) Leave(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = slices.DeleteFunc(s.members, func(x Member) bool { return x.ID == id })
}

// Team returns at most team_size members in join order.
func (s *System) Team() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.members)
	if s.cfg.TeamSize > 0 && n > s.cfg.TeamSize {
		n = s.cfg.TeamSize
	}
	return slices.Clone(s.members[:n])
}

func depth(d subsystem.Data) int {
	switch v := d[KeyDepth].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func (s *System) timeout() time.Duration {
	return time.Duration(s.cfg.TimeoutSeconds) * time.Second
}

// Delegate hands task to the delegator one level deeper.
func (s *System) Delegate(ctx context.Context, task subsystem.Data) (subsystem.Data, error) {
	s.mu.RLock()
	d := s.delegator
	s.mu.RUnlock()
	if d == nil {
		return nil, ErrNoDelegator
	}
	level := depth(task)
	if level >= s.cfg.MaxDelegationDepth {
		return nil, fmt.Errorf("%w: %d >= %d", ErrDepthExceeded, level, s.cfg.MaxDelegationDepth)
	}

	if t := s.timeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	sub := task.Clone()
	sub[KeyDepth] = level + 1

	s.mu.Lock()
	s.delegated++
	s.mu.Unlock()

	out, err := d.Delegate(ctx, sub)

	s.mu.Lock()
	if err != nil {
		s.failed++
	} else {
		s.succeeded++
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("delegate: %w", err)
	}
	return out, nil
}

// Coordinate delegates every task concurrently, at most team_size at a
// time, and returns results in task order. The first failure cancels the
// rest.
func (s *System) Coordinate(ctx context.Context, tasks []subsystem.Data) ([]subsystem.Data, error) {
	results := make([]subsystem.Data, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.TeamSize > 0 {
		g.SetLimit(s.cfg.TeamSize)
	}
	for i, task := range tasks {
		g.Go(func() error {
			out, err := s.Delegate(gctx, task)
			if err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Process publishes the team and whether this turn may still delegate.
func (s *System) Process(_ context.Context, in subsystem.Data) (subsystem.Data, error) {
	s.mu.RLock()
	canDelegate := s.delegator != nil && depth(in) < s.cfg.MaxDelegationDepth
	s.mu.RUnlock()

	out := in.Clone()
	out[subsystem.KeyTeam] = subsystem.Data{
		"members":      s.Team(),
		"can_delegate": canDelegate,
		"depth":        depth(in),
	}
	return out, nil
}

func (s *System) successRate() float64 {
	done := s.succeeded + s.failed
	if done == 0 {
		return 1
	}
	return float64(s.succeeded) / float64(done)
}

func (s *System) Analyze(_ context.Context, _ subsystem.Data) (subsystem.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate := s.successRate()
	var recs []string
	if rate < s.cfg.CoordinationThreshold {
		recs = append(recs, fmt.Sprintf("delegation success %.2f below coordination threshold", rate))
	}
	return subsystem.Data{
		"team_size":       len(s.members),
		"delegated":       s.delegated,
		"succeeded":       s.succeeded,
		"failed":          s.failed,
		"success_rate":    rate,
		"recommendations": recs,
	}, nil
}

// Adapt records delegation outcomes reported outside Delegate.
func (s *System) Adapt(_ context.Context, feedback subsystem.Data) error {
	if _, ok := feedback["delegated"]; !ok {
		return nil
	}
	ok, _ := feedback[subsystem.KeySuccess].(bool)
	s.mu.Lock()
	if ok {
		s.succeeded++
	} else {
		s.failed++
	}
	s.mu.Unlock()
	return nil
}

// Close implements subsystem.System; the system holds nothing to release.
func (s *System) Close(context.Context) error { return nil }
