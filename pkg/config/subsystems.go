// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package config

import "maps"

// SubsystemConfig holds the fields shared by every enhancement subsystem.
type SubsystemConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Debug    bool   `koanf:"debug"`
	LogLevel string `koanf:"log_level"`
}

func defaultBase() SubsystemConfig {
	return SubsystemConfig{Enabled: true, LogLevel: "INFO"}
}

type PatternConfig struct {
	SubsystemConfig     `koanf:",squash"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	MinExamples         int     `koanf:"min_examples"`
	LearningRate        float64 `koanf:"learning_rate"`
}

type ResourceConfig struct {
	SubsystemConfig       `koanf:",squash"`
	OptimizationThreshold float64 `koanf:"optimization_threshold"`
	AllocationStrategy    string  `koanf:"allocation_strategy"`
	MaxMemoryUsage        float64 `koanf:"max_memory_usage"`
	MaxCPUUsage           float64 `koanf:"max_cpu_usage"`
}

// LearningConfig also selects the experience store backend:
// "memory", "sqlite" (DSN is a file path) or "vector" (DSN is a qdrant address).
type LearningConfig struct {
	SubsystemConfig     `koanf:",squash"`
	ExperienceThreshold float64 `koanf:"experience_threshold"`
	LearningRate        float64 `koanf:"learning_rate"`
	MaxMemoryEntries    int     `koanf:"max_memory_entries"`
	RetentionDays       int     `koanf:"retention_days"`
	Backend             string  `koanf:"backend"`
	DSN                 string  `koanf:"dsn"`
	Collection          string  `koanf:"collection"`
}

type CooperationConfig struct {
	SubsystemConfig       `koanf:",squash"`
	CoordinationThreshold float64 `koanf:"coordination_threshold"`
	TeamSize              int     `koanf:"team_size"`
	MaxDelegationDepth    int     `koanf:"max_delegation_depth"`
	TimeoutSeconds        int     `koanf:"timeout_seconds"`
}

type EvolutionConfig struct {
	SubsystemConfig     `koanf:",squash"`
	EvolutionRate       float64 `koanf:"evolution_rate"`
	AdaptationThreshold float64 `koanf:"adaptation_threshold"`
	MutationRate        float64 `koanf:"mutation_rate"`
	GenerationLimit     int     `koanf:"generation_limit"`
}

type AnalyticsConfig struct {
	SubsystemConfig      `koanf:",squash"`
	AnalysisWindow       int     `koanf:"analysis_window"`
	ConfidenceThreshold  float64 `koanf:"confidence_threshold"`
	MetricsRetentionDays int     `koanf:"metrics_retention_days"`
	SamplingRate         float64 `koanf:"sampling_rate"`
}

// InterfaceConfig configures prompt and response formatting.
// ResponseFormat is one of "markdown", "plain" or "html".
type InterfaceConfig struct {
	SubsystemConfig   `koanf:",squash"`
	ResponseFormat    string         `koanf:"response_format"`
	StylePreferences  map[string]any `koanf:"style_preferences"`
	MaxResponseLength int            `koanf:"max_response_length"`
	StreamOutput      bool           `koanf:"stream_output"`
}

func (c InterfaceConfig) clone() InterfaceConfig {
	c.StylePreferences = maps.Clone(c.StylePreferences)
	if c.StylePreferences == nil {
		c.StylePreferences = map[string]any{}
	}
	return c
}

// LoopConfig tunes the agent loop retry policy.
// MaxTurnRetries 0 retries failed turns forever.
type LoopConfig struct {
	MaxTurnRetries      int `koanf:"max_turn_retries"`
	RetryInitialDelayMS int `koanf:"retry_initial_delay_ms"`
	RetryMaxDelayMS     int `koanf:"retry_max_delay_ms"`
}

func DefaultPattern() PatternConfig {
	return PatternConfig{SubsystemConfig: defaultBase(), SimilarityThreshold: 0.75, MinExamples: 5, LearningRate: 0.1}
}

func DefaultResource() ResourceConfig {
	return ResourceConfig{
		SubsystemConfig:       defaultBase(),
		OptimizationThreshold: 0.8,
		AllocationStrategy:    "dynamic",
		MaxMemoryUsage:        0.8,
		MaxCPUUsage:           0.8,
	}
}

func DefaultLearning() LearningConfig {
	return LearningConfig{
		SubsystemConfig:     defaultBase(),
		ExperienceThreshold: 0.7,
		LearningRate:        0.1,
		MaxMemoryEntries:    1000,
		RetentionDays:       7,
		Backend:             "memory",
		Collection:          "experiences",
	}
}

func DefaultCooperation() CooperationConfig {
	return CooperationConfig{
		SubsystemConfig:       defaultBase(),
		CoordinationThreshold: 0.8,
		TeamSize:              3,
		MaxDelegationDepth:    3,
		TimeoutSeconds:        300,
	}
}

func DefaultEvolution() EvolutionConfig {
	return EvolutionConfig{
		SubsystemConfig:     defaultBase(),
		EvolutionRate:       0.2,
		AdaptationThreshold: 0.7,
		MutationRate:        0.1,
		GenerationLimit:     10,
	}
}

func DefaultAnalytics() AnalyticsConfig {
	return AnalyticsConfig{
		SubsystemConfig:      defaultBase(),
		AnalysisWindow:       1000,
		ConfidenceThreshold:  0.8,
		MetricsRetentionDays: 30,
		SamplingRate:         1.0,
	}
}

func DefaultInterface() InterfaceConfig {
	return InterfaceConfig{
		SubsystemConfig:   defaultBase(),
		ResponseFormat:    "markdown",
		StylePreferences:  map[string]any{},
		MaxResponseLength: 2000,
		StreamOutput:      true,
	}
}

func DefaultLoop() LoopConfig {
	return LoopConfig{RetryInitialDelayMS: 100, RetryMaxDelayMS: 10_000}
}
