// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package config

import "maps"

// Provider names a model vendor or gateway.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderOllama     Provider = "ollama"
	ProviderLMStudio   Provider = "lmstudio"
	ProviderGroq       Provider = "groq"
	ProviderMistral    Provider = "mistralai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderSambaNova  Provider = "sambanova"
	ProviderOther      Provider = "other"
)

// ModelConfig binds a logical model slot to a concrete provider model.
type ModelConfig struct {
	Provider              Provider       `koanf:"provider"`
	Name                  string         `koanf:"name"`
	ContextLength         int            `koanf:"context_length"`
	RateLimitRequests     int            `koanf:"rate_limit_requests"`
	RateLimitInputTokens  int            `koanf:"rate_limit_input_tokens"`
	RateLimitOutputTokens int            `koanf:"rate_limit_output_tokens"`
	ExtraParams           map[string]any `koanf:"extra_params"`
}

// Clone returns a deep-enough copy: ExtraParams is copied one level.
func (m ModelConfig) Clone() ModelConfig {
	m.ExtraParams = maps.Clone(m.ExtraParams)
	if m.ExtraParams == nil {
		m.ExtraParams = map[string]any{}
	}
	return m
}

// Key identifies the model for rate limiting: "provider\name".
func (m ModelConfig) Key() string {
	return string(m.Provider) + "\\" + m.Name
}

// FloatParam returns a numeric extra parameter, or def.
func (m ModelConfig) FloatParam(key string, def float64) float64 {
	switch v := m.ExtraParams[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// StringParam returns a string extra parameter, or def.
func (m ModelConfig) StringParam(key, def string) string {
	if v, ok := m.ExtraParams[key].(string); ok {
		return v
	}
	return def
}

// DefaultChatModel is the primary conversational model binding.
func DefaultChatModel() ModelConfig {
	return ModelConfig{
		Provider:              ProviderOpenAI,
		Name:                  "gpt-4",
		ContextLength:         8192,
		RateLimitRequests:     100,
		RateLimitInputTokens:  4000,
		RateLimitOutputTokens: 4000,
		ExtraParams:           map[string]any{"temperature": 0.7},
	}
}

// DefaultUtilityModel is the cheaper model used for internal chores.
func DefaultUtilityModel() ModelConfig {
	return ModelConfig{
		Provider:              ProviderOpenAI,
		Name:                  "gpt-3.5-turbo",
		ContextLength:         4096,
		RateLimitRequests:     100,
		RateLimitInputTokens:  2000,
		RateLimitOutputTokens: 2000,
		ExtraParams:           map[string]any{"temperature": 0.3},
	}
}

// DefaultEmbeddingsModel is the embedding model binding.
func DefaultEmbeddingsModel() ModelConfig {
	return ModelConfig{
		Provider:              ProviderOpenAI,
		Name:                  "text-embedding-ada-002",
		ContextLength:         8191,
		RateLimitRequests:     100,
		RateLimitInputTokens:  8191,
		RateLimitOutputTokens: 1536,
		ExtraParams:           map[string]any{},
	}
}
