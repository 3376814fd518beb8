// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package subsystem

import (
	"fmt"

	"github.com/jllopis/visionsync/pkg/config"
)

// Set bundles one system of each kind.
type Set struct {
	Pattern     PatternSystem
	Resource    ResourceSystem
	Learning    LearningSystem
	Cooperation CooperationSystem
	Evolution   EvolutionSystem
	Analytics   AnalyticsSystem
	Interface   InterfaceSystem
}

// Validate reports the first missing system.
func (s Set) Validate() error {
	for _, k := range PipelineOrder {
		if s.Get(k) == nil {
			return fmt.Errorf("subsystem %s not configured", k)
		}
	}
	return nil
}

// Get returns the system of kind k, or nil.
func (s Set) Get(k Kind) System {
	var sys System
	switch k {
	case KindPattern:
		if s.Pattern != nil {
			sys = s.Pattern
		}
	case KindResource:
		if s.Resource != nil {
			sys = s.Resource
		}
	case KindLearning:
		if s.Learning != nil {
			sys = s.Learning
		}
	case KindCooperation:
		if s.Cooperation != nil {
			sys = s.Cooperation
		}
	case KindEvolution:
		if s.Evolution != nil {
			sys = s.Evolution
		}
	case KindAnalytics:
		if s.Analytics != nil {
			sys = s.Analytics
		}
	case KindInterface:
		if s.Interface != nil {
			sys = s.Interface
		}
	}
	return sys
}

// Pipeline returns the systems in PipelineOrder.
func (s Set) Pipeline() []System {
	out := make([]System, 0, len(PipelineOrder))
	for _, k := range PipelineOrder {
		if sys := s.Get(k); sys != nil {
			out = append(out, sys)
		}
	}
	return out
}

// Gated wraps every system with the enabled flag from cfg.
func (s Set) Gated(cfg *config.AgentConfig) Set {
	return Set{
		Pattern:     gatedPattern{gate{s.Pattern, cfg.Pattern().Enabled}, s.Pattern},
		Resource:    gatedResource{gate{s.Resource, cfg.Resource().Enabled}, s.Resource},
		Learning:    gatedLearning{gate{s.Learning, cfg.Learning().Enabled}, s.Learning},
		Cooperation: gatedCooperation{gate{s.Cooperation, cfg.Cooperation().Enabled}, s.Cooperation},
		Evolution:   gatedEvolution{gate{s.Evolution, cfg.Evolution().Enabled}, s.Evolution},
		Analytics:   gatedAnalytics{gate{s.Analytics, cfg.Analytics().Enabled}, s.Analytics},
		Interface:   gatedInterface{gate{s.Interface, cfg.Interface().Enabled}, s.Interface},
	}
}

// Enabled reports whether sys is a gated system switched on. Ungated
// systems are always enabled.
func Enabled(sys System) bool {
	if g, ok := sys.(interface{ Enabled() bool }); ok {
		return g.Enabled()
	}
	return true
}
