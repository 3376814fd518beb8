// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package subsystem defines the contract shared by the enhancement systems
// that shape every agent turn.
//
// Each system implements System (process, analyze, adapt) plus the
// capability interface for its kind. The agent runs them in PipelineOrder
// through a Gate, which turns a disabled system into a pass-through and tags
// failures as SUBSYSTEM_FAILURE.
package subsystem

import (
	"context"
	"maps"
)

// Data is the loop data map threaded through the pipeline.
type Data map[string]any

// Clone copies the top level of d.
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	return maps.Clone(d)
}

// GetString returns d[key] when it is a string.
func (d Data) GetString(key string) string {
	s, _ := d[key].(string)
	return s
}

// Kind names an enhancement system.
type Kind string

const (
	KindPattern     Kind = "pattern"
	KindResource    Kind = "resource"
	KindLearning    Kind = "learning"
	KindCooperation Kind = "cooperation"
	KindEvolution   Kind = "evolution"
	KindAnalytics   Kind = "analytics"
	KindInterface   Kind = "interface"
)

// PipelineOrder is the fixed order systems see loop data in.
var PipelineOrder = []Kind{
	KindPattern,
	KindResource,
	KindLearning,
	KindCooperation,
	KindEvolution,
	KindAnalytics,
	KindInterface,
}

// System is the uniform capability contract. Close releases whatever the
// system holds beyond a turn; the owning agent calls it exactly once.
type System interface {
	Kind() Kind
	Process(ctx context.Context, in Data) (Data, error)
	Analyze(ctx context.Context, in Data) (Data, error)
	Adapt(ctx context.Context, feedback Data) error
	Close(ctx context.Context) error
}

type PatternSystem interface {
	System
	DetectPatterns(ctx context.Context, in Data) ([]Match, error)
	ApplyPatterns(ctx context.Context, in Data, matches []Match) (Data, error)
}

type ResourceSystem interface {
	System
	AllocateResources(ctx context.Context, req Data) (Data, error)
	MonitorUsage(ctx context.Context) (Data, error)
}

type LearningSystem interface {
	System
	Learn(ctx context.Context, experience Data) error
	ApplyLearning(ctx context.Context, in Data) (Data, error)
	// Prune drops experiences past their retention.
	Prune(ctx context.Context) error
}

type CooperationSystem interface {
	System
	Coordinate(ctx context.Context, tasks []Data) ([]Data, error)
	Delegate(ctx context.Context, task Data) (Data, error)
}

type EvolutionSystem interface {
	System
	Evaluate(ctx context.Context, performance Data) (Data, error)
	Evolve(ctx context.Context, evaluation Data) (Data, error)
}

type AnalyticsSystem interface {
	System
	CollectMetrics(ctx context.Context, in Data) (Data, error)
	AnalyzeTrends(ctx context.Context) (Data, error)
	RecordResponse(ctx context.Context, response string) error
	RecordError(ctx context.Context, message string) error
}

type InterfaceSystem interface {
	System
	FormatInput(ctx context.Context, in Data) (Data, error)
	FormatOutput(ctx context.Context, out Data) (Data, error)
	FormatPrompt(ctx context.Context, prompt string) (string, error)
	FormatResponse(ctx context.Context, response string) (string, error)
}

// Match is one pattern hit.
type Match struct {
	PatternID  string  `json:"pattern_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Action     string  `json:"action,omitempty"`
}
