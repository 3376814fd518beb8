// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package subsystem

import (
	"context"

	"github.com/jllopis/visionsync/pkg/errors"
)

// gate enforces the enabled flag and tags failures for one system.
type gate struct {
	sys     System
	enabled bool
}

func (g gate) Kind() Kind { return g.sys.Kind() }

// Enabled reports whether the wrapped system runs.
func (g gate) Enabled() bool { return g.enabled }

func (g gate) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.HasCode(err, errors.CodeSubsystemFailure) {
		return err
	}
	return errors.SubsystemFailure(string(g.sys.Kind()), op, err)
}

func (g gate) Process(ctx context.Context, in Data) (Data, error) {
	if !g.enabled {
		return in, nil
	}
	out, err := g.sys.Process(ctx, in)
	return out, g.wrap("process", err)
}

func (g gate) Analyze(ctx context.Context, in Data) (Data, error) {
	if !g.enabled {
		return in, nil
	}
	out, err := g.sys.Analyze(ctx, in)
	return out, g.wrap("analyze", err)
}

func (g gate) Adapt(ctx context.Context, feedback Data) error {
	if !g.enabled {
		return nil
	}
	return g.wrap("adapt", g.sys.Adapt(ctx, feedback))
}

// Close always reaches the system, enabled or not.
func (g gate) Close(ctx context.Context) error {
	return g.wrap("close", g.sys.Close(ctx))
}

// Gate wraps sys so that a disabled system is a pass-through and every
// failure surfaces as SUBSYSTEM_FAILURE tagged with the system kind.
func Gate(sys System, enabled bool) System {
	return gate{sys: sys, enabled: enabled}
}

type gatedPattern struct {
	gate
	s PatternSystem
}

func (g gatedPattern) DetectPatterns(ctx context.Context, in Data) ([]Match, error) {
	if !g.enabled {
		return nil, nil
	}
	m, err := g.s.DetectPatterns(ctx, in)
	return m, g.wrap("detect_patterns", err)
}

func (g gatedPattern) ApplyPatterns(ctx context.Context, in Data, matches []Match) (Data, error) {
	if !g.enabled {
		return in, nil
	}
	out, err := g.s.ApplyPatterns(ctx, in, matches)
	return out, g.wrap("apply_patterns", err)
}

type gatedResource struct {
	gate
	s ResourceSystem
}

func (g gatedResource) AllocateResources(ctx context.Context, req Data) (Data, error) {
	if !g.enabled {
		return Data{}, nil
	}
	out, err := g.s.AllocateResources(ctx, req)
	return out, g.wrap("allocate_resources", err)
}

func (g gatedResource) MonitorUsage(ctx context.Context) (Data, error) {
	if !g.enabled {
		return Data{}, nil
	}
	out, err := g.s.MonitorUsage(ctx)
	return out, g.wrap("monitor_usage", err)
}

type gatedLearning struct {
	gate
	s LearningSystem
}

func (g gatedLearning) Learn(ctx context.Context, experience Data) error {
	if !g.enabled {
		return nil
	}
	return g.wrap("learn", g.s.Learn(ctx, experience))
}

func (g gatedLearning) Prune(ctx context.Context) error {
	if !g.enabled {
		return nil
	}
	return g.wrap("prune", g.s.Prune(ctx))
}

func (g gatedLearning) ApplyLearning(ctx context.Context, in Data) (Data, error) {
	if !g.enabled {
		return in, nil
	}
	out, err := g.s.ApplyLearning(ctx, in)
	return out, g.wrap("apply_learning", err)
}

type gatedCooperation struct {
	gate
	s CooperationSystem
}

func (g gatedCooperation) Coordinate(ctx context.Context, tasks []Data) ([]Data, error) {
	if !g.enabled {
		return tasks, nil
	}
	out, err := g.s.Coordinate(ctx, tasks)
	return out, g.wrap("coordinate", err)
}

func (g gatedCooperation) Delegate(ctx context.Context, task Data) (Data, error) {
	if !g.enabled {
		return task, nil
	}
	out, err := g.s.Delegate(ctx, task)
	return out, g.wrap("delegate", err)
}

type gatedEvolution struct {
	gate
	s EvolutionSystem
}

func (g gatedEvolution) Evaluate(ctx context.Context, performance Data) (Data, error) {
	if !g.enabled {
		return Data{}, nil
	}
	out, err := g.s.Evaluate(ctx, performance)
	return out, g.wrap("evaluate", err)
}

func (g gatedEvolution) Evolve(ctx context.Context, evaluation Data) (Data, error) {
	if !g.enabled {
		return evaluation, nil
	}
	out, err := g.s.Evolve(ctx, evaluation)
	return out, g.wrap("evolve", err)
}

type gatedAnalytics struct {
	gate
	s AnalyticsSystem
}

func (g gatedAnalytics) CollectMetrics(ctx context.Context, in Data) (Data, error) {
	if !g.enabled {
		return Data{}, nil
	}
	out, err := g.s.CollectMetrics(ctx, in)
	return out, g.wrap("collect_metrics", err)
}

func (g gatedAnalytics) AnalyzeTrends(ctx context.Context) (Data, error) {
	if !g.enabled {
		return Data{}, nil
	}
	out, err := g.s.AnalyzeTrends(ctx)
	return out, g.wrap("analyze_trends", err)
}

func (g gatedAnalytics) RecordResponse(ctx context.Context, response string) error {
	if !g.enabled {
		return nil
	}
	return g.wrap("record_response", g.s.RecordResponse(ctx, response))
}

func (g gatedAnalytics) RecordError(ctx context.Context, message string) error {
	if !g.enabled {
		return nil
	}
	return g.wrap("record_error", g.s.RecordError(ctx, message))
}

type gatedInterface struct {
	gate
	s InterfaceSystem
}

func (g gatedInterface) FormatInput(ctx context.Context, in Data) (Data, error) {
	if !g.enabled {
		return in, nil
	}
	out, err := g.s.FormatInput(ctx, in)
	return out, g.wrap("format_input", err)
}

func (g gatedInterface) FormatOutput(ctx context.Context, out Data) (Data, error) {
	if !g.enabled {
		return out, nil
	}
	res, err := g.s.FormatOutput(ctx, out)
	return res, g.wrap("format_output", err)
}

func (g gatedInterface) FormatPrompt(ctx context.Context, prompt string) (string, error) {
	if !g.enabled {
		return prompt, nil
	}
	out, err := g.s.FormatPrompt(ctx, prompt)
	return out, g.wrap("format_prompt", err)
}

func (g gatedInterface) FormatResponse(ctx context.Context, response string) (string, error) {
	if !g.enabled {
		return response, nil
	}
	out, err := g.s.FormatResponse(ctx, response)
	return out, g.wrap("format_response", err)
}
