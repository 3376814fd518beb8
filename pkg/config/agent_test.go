// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	chat := cfg.ChatModel()
	assert.Equal(t, ProviderOpenAI, chat.Provider)
	assert.Equal(t, "gpt-4", chat.Name)
	assert.Equal(t, 8192, chat.ContextLength)
	assert.Equal(t, 0.7, chat.FloatParam("temperature", 0))

	assert.Equal(t, "gpt-3.5-turbo", cfg.UtilityModel().Name)
	assert.Equal(t, 0.3, cfg.UtilityModel().FloatParam("temperature", 0))
	assert.Equal(t, "text-embedding-ada-002", cfg.EmbeddingsModel().Name)
	assert.Equal(t, 1536, cfg.EmbeddingsModel().RateLimitOutputTokens)

	assert.Equal(t, 0.75, cfg.Pattern().SimilarityThreshold)
	assert.Equal(t, 5, cfg.Pattern().MinExamples)
	assert.Equal(t, "dynamic", cfg.Resource().AllocationStrategy)
	assert.Equal(t, 1000, cfg.Learning().MaxMemoryEntries)
	assert.Equal(t, 7, cfg.Learning().RetentionDays)
	assert.Equal(t, 3, cfg.Cooperation().MaxDelegationDepth)
	assert.Equal(t, 300, cfg.Cooperation().TimeoutSeconds)
	assert.Equal(t, 10, cfg.Evolution().GenerationLimit)
	assert.Equal(t, 1.0, cfg.Analytics().SamplingRate)
	assert.Equal(t, "markdown", cfg.Interface().ResponseFormat)
	assert.Equal(t, 2000, cfg.Interface().MaxResponseLength)
	assert.True(t, cfg.Interface().StreamOutput)

	assert.Equal(t, "default", cfg.PromptsSubdir())
	assert.Equal(t, "", cfg.MemorySubdir())
	assert.False(t, cfg.Debug())
	assert.Equal(t, "INFO", cfg.LogLevel())
	assert.Equal(t, 0, cfg.Loop().MaxTurnRetries)

	for _, base := range []SubsystemConfig{
		cfg.Pattern().SubsystemConfig, cfg.Resource().SubsystemConfig,
		cfg.Learning().SubsystemConfig, cfg.Cooperation().SubsystemConfig,
		cfg.Evolution().SubsystemConfig, cfg.Analytics().SubsystemConfig,
		cfg.Interface().SubsystemConfig,
	} {
		assert.True(t, base.Enabled)
		assert.False(t, base.Debug)
		assert.Equal(t, "INFO", base.LogLevel)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	cfg := Default()

	chat := cfg.ChatModel()
	chat.Name = "changed"
	chat.ExtraParams["temperature"] = 2.0
	assert.Equal(t, "gpt-4", cfg.ChatModel().Name)
	assert.Equal(t, 0.7, cfg.ChatModel().FloatParam("temperature", 0))

	ui := cfg.Interface()
	ui.StylePreferences["tone"] = "loud"
	assert.Empty(t, cfg.Interface().StylePreferences)
}

func TestWithDerivesNewConfig(t *testing.T) {
	base := Default()
	p := base.Pattern()
	p.Enabled = false
	derived := base.With(WithPattern(p), WithDebug(true))

	assert.True(t, base.Pattern().Enabled)
	assert.False(t, derived.Pattern().Enabled)
	assert.True(t, derived.Debug())
	assert.False(t, base.Equal(derived))
}

func TestMapRoundTrip(t *testing.T) {
	ui := DefaultInterface()
	ui.StylePreferences = map[string]any{"tone": "formal", "emoji": false}
	ui.ResponseFormat = "html"

	cfg := New(
		WithChatModel(ModelConfig{
			Provider:      ProviderAnthropic,
			Name:          "claude-sonnet",
			ContextLength: 200000,
			ExtraParams:   map[string]any{"temperature": 0.2, "max_tokens": 1024},
		}),
		WithInterface(ui),
		WithLoop(LoopConfig{MaxTurnRetries: 4, RetryInitialDelayMS: 5, RetryMaxDelayMS: 50}),
		WithMemorySubdir("team-a"),
		WithLogLevel("DEBUG"),
	)

	m := cfg.ToMap()
	chat, ok := m["chat_model"].(map[string]any)
	require.True(t, ok, "chat_model should be a nested map")
	assert.Equal(t, "claude-sonnet", chat["name"])

	pattern, ok := m["pattern"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, pattern["enabled"], "base fields are flattened into each subsystem")
	assert.Equal(t, 0.75, pattern["similarity_threshold"])

	back, err := FromMap(m)
	require.NoError(t, err)
	assert.True(t, cfg.Equal(back))
	assert.Equal(t, 4, back.Loop().MaxTurnRetries)
	assert.Equal(t, "formal", back.Interface().StylePreferences["tone"])
}

func TestFromMapFillsDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"debug": true,
		"pattern": map[string]any{
			"similarity_threshold": "0.5",
			"enabled":              false,
		},
		"chat_model": map[string]any{"name": "gpt-4o"},
	})
	require.NoError(t, err)

	assert.True(t, cfg.Debug())
	assert.Equal(t, 0.5, cfg.Pattern().SimilarityThreshold)
	assert.False(t, cfg.Pattern().Enabled)
	assert.Equal(t, 5, cfg.Pattern().MinExamples)
	assert.Equal(t, "gpt-4o", cfg.ChatModel().Name)
	assert.Equal(t, 8192, cfg.ChatModel().ContextLength)
	assert.Equal(t, "default", cfg.PromptsSubdir())

	empty, err := FromMap(nil)
	require.NoError(t, err)
	assert.True(t, empty.Equal(Default()))
}

func TestFromMapRejectsBadTypes(t *testing.T) {
	_, err := FromMap(map[string]any{"pattern": map[string]any{"min_examples": "many"}})
	assert.Error(t, err)
}

func TestModelKey(t *testing.T) {
	assert.Equal(t, `openai\gpt-4`, DefaultChatModel().Key())
}

func TestMerge(t *testing.T) {
	cfg := Default()
	patched, err := cfg.Merge(map[string]any{
		"debug":     true,
		"interface": map[string]any{"response_format": "plain"},
	})
	require.NoError(t, err)
	assert.True(t, patched.Debug())
	assert.Equal(t, "plain", patched.Interface().ResponseFormat)
	assert.Equal(t, 2000, patched.Interface().MaxResponseLength)
	assert.False(t, cfg.Debug(), "receiver is left untouched")

	_, err = cfg.Merge(map[string]any{"pattern": map[string]any{"min_examples": "many"}})
	assert.Error(t, err)
}
