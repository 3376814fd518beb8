// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"reflect"
	"time"
)

// agentData is the serialisable shape of AgentConfig.
// Its koanf tags double as the ToMap/FromMap key names.
type agentData struct {
	ChatModel       ModelConfig       `koanf:"chat_model"`
	UtilityModel    ModelConfig       `koanf:"utility_model"`
	EmbeddingsModel ModelConfig       `koanf:"embeddings_model"`
	Pattern         PatternConfig     `koanf:"pattern"`
	Resource        ResourceConfig    `koanf:"resource"`
	Learning        LearningConfig    `koanf:"learning"`
	Cooperation     CooperationConfig `koanf:"cooperation"`
	Evolution       EvolutionConfig   `koanf:"evolution"`
	Analytics       AnalyticsConfig   `koanf:"analytics"`
	Interface       InterfaceConfig   `koanf:"interface"`
	Loop            LoopConfig        `koanf:"loop"`
	PromptsSubdir   string            `koanf:"prompts_subdir"`
	MemorySubdir    string            `koanf:"memory_subdir"`
	Debug           bool              `koanf:"debug"`
	LogLevel        string            `koanf:"log_level"`
}

func defaultData() agentData {
	return agentData{
		ChatModel:       DefaultChatModel(),
		UtilityModel:    DefaultUtilityModel(),
		EmbeddingsModel: DefaultEmbeddingsModel(),
		Pattern:         DefaultPattern(),
		Resource:        DefaultResource(),
		Learning:        DefaultLearning(),
		Cooperation:     DefaultCooperation(),
		Evolution:       DefaultEvolution(),
		Analytics:       DefaultAnalytics(),
		Interface:       DefaultInterface(),
		Loop:            DefaultLoop(),
		PromptsSubdir:   "default",
		MemorySubdir:    "",
		LogLevel:        "INFO",
	}
}

// AgentConfig is the immutable settings aggregate for an agent.
// Every accessor returns a copy; there is no way to mutate a built config.
type AgentConfig struct {
	d agentData
}

// Option customises a config under construction.
type Option func(*agentData)

func WithChatModel(m ModelConfig) Option    { return func(d *agentData) { d.ChatModel = m.Clone() } }
func WithUtilityModel(m ModelConfig) Option { return func(d *agentData) { d.UtilityModel = m.Clone() } }
func WithEmbeddingsModel(m ModelConfig) Option {
	return func(d *agentData) { d.EmbeddingsModel = m.Clone() }
}
func WithPattern(c PatternConfig) Option   { return func(d *agentData) { d.Pattern = c } }
func WithResource(c ResourceConfig) Option { return func(d *agentData) { d.Resource = c } }
func WithLearning(c LearningConfig) Option { return func(d *agentData) { d.Learning = c } }
func WithCooperation(c CooperationConfig) Option {
	return func(d *agentData) { d.Cooperation = c }
}
func WithEvolution(c EvolutionConfig) Option { return func(d *agentData) { d.Evolution = c } }
func WithAnalytics(c AnalyticsConfig) Option { return func(d *agentData) { d.Analytics = c } }
func WithInterface(c InterfaceConfig) Option { return func(d *agentData) { d.Interface = c.clone() } }
func WithLoop(c LoopConfig) Option           { return func(d *agentData) { d.Loop = c } }
func WithPromptsSubdir(s string) Option      { return func(d *agentData) { d.PromptsSubdir = s } }
func WithMemorySubdir(s string) Option       { return func(d *agentData) { d.MemorySubdir = s } }
func WithDebug(b bool) Option                { return func(d *agentData) { d.Debug = b } }
func WithLogLevel(l string) Option           { return func(d *agentData) { d.LogLevel = l } }

// Default returns the stock configuration.
func Default() *AgentConfig {
	return &AgentConfig{d: defaultData()}
}

// New returns the stock configuration with opts applied.
func New(opts ...Option) *AgentConfig {
	d := defaultData()
	for _, opt := range opts {
		opt(&d)
	}
	return &AgentConfig{d: d}
}

// With derives a new config from c with opts applied. c is unchanged.
func (c *AgentConfig) With(opts ...Option) *AgentConfig {
	d := c.copyData()
	for _, opt := range opts {
		opt(&d)
	}
	return &AgentConfig{d: d}
}

func (c *AgentConfig) copyData() agentData {
	d := c.d
	d.ChatModel = d.ChatModel.Clone()
	d.UtilityModel = d.UtilityModel.Clone()
	d.EmbeddingsModel = d.EmbeddingsModel.Clone()
	d.Interface = d.Interface.clone()
	return d
}

func (c *AgentConfig) ChatModel() ModelConfig       { return c.d.ChatModel.Clone() }
func (c *AgentConfig) UtilityModel() ModelConfig    { return c.d.UtilityModel.Clone() }
func (c *AgentConfig) EmbeddingsModel() ModelConfig { return c.d.EmbeddingsModel.Clone() }
func (c *AgentConfig) Pattern() PatternConfig       { return c.d.Pattern }
func (c *AgentConfig) Resource() ResourceConfig     { return c.d.Resource }
func (c *AgentConfig) Learning() LearningConfig     { return c.d.Learning }
func (c *AgentConfig) Cooperation() CooperationConfig {
	return c.d.Cooperation
}
func (c *AgentConfig) Evolution() EvolutionConfig { return c.d.Evolution }
func (c *AgentConfig) Analytics() AnalyticsConfig { return c.d.Analytics }
func (c *AgentConfig) Interface() InterfaceConfig { return c.d.Interface.clone() }
func (c *AgentConfig) Loop() LoopConfig           { return c.d.Loop }
func (c *AgentConfig) PromptsSubdir() string      { return c.d.PromptsSubdir }
func (c *AgentConfig) MemorySubdir() string       { return c.d.MemorySubdir }
func (c *AgentConfig) Debug() bool                { return c.d.Debug }
func (c *AgentConfig) LogLevel() string           { return c.d.LogLevel }

// Equal reports field-for-field equality.
func (c *AgentConfig) Equal(other *AgentConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	return reflect.DeepEqual(normalize(c.copyData()), normalize(other.copyData()))
}

// normalize makes numeric extra params comparable after a YAML or JSON trip,
// where integers may come back as float64 or int64.
func normalize(d agentData) agentData {
	for _, m := range []map[string]any{
		d.ChatModel.ExtraParams, d.UtilityModel.ExtraParams,
		d.EmbeddingsModel.ExtraParams, d.Interface.StylePreferences,
	} {
		for k, v := range m {
			switch n := v.(type) {
			case int:
				m[k] = float64(n)
			case int64:
				m[k] = float64(n)
			case uint64:
				m[k] = float64(n)
			case float32:
				m[k] = float64(n)
			}
		}
	}
	return d
}

// InitialRetryDelay returns the first backoff step.
func (l LoopConfig) InitialRetryDelay() time.Duration {
	return time.Duration(l.RetryInitialDelayMS) * time.Millisecond
}

// MaxRetryDelay returns the backoff cap.
func (l LoopConfig) MaxRetryDelay() time.Duration {
	return time.Duration(l.RetryMaxDelayMS) * time.Millisecond
}
