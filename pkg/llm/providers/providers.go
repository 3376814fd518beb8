// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package providers holds the table of every supported model provider.
package providers

import (
	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/llm"
	"github.com/jllopis/visionsync/pkg/llm/anthropic"
	"github.com/jllopis/visionsync/pkg/llm/openai"
)

// Base URLs of the OpenAI-compatible gateways.
const (
	GroqURL       = "https://api.groq.com/openai/v1"
	MistralURL    = "https://api.mistral.ai/v1"
	OpenRouterURL = "https://openrouter.ai/api/v1"
	SambaNovaURL  = "https://api.sambanova.ai/v1"
	LMStudioURL   = "http://localhost:1234/v1"
)

// Table returns a fresh provider table. Callers may add or replace entries.
// ProviderOther needs a "base_url" extra parameter.
func Table() llm.Table {
	return llm.Table{
		config.ProviderOpenAI:     openai.Factory(""),
		config.ProviderAnthropic:  anthropic.Factory,
		config.ProviderOllama:     llm.OllamaFactory,
		config.ProviderGroq:       openai.Factory(GroqURL),
		config.ProviderMistral:    openai.Factory(MistralURL),
		config.ProviderOpenRouter: openai.Factory(OpenRouterURL),
		config.ProviderSambaNova:  openai.Factory(SambaNovaURL),
		config.ProviderLMStudio:   openai.Factory(LMStudioURL),
		config.ProviderOther:      openai.Factory(""),
	}
}

// New builds the provider bound by mc from the default table.
func New(mc config.ModelConfig) (llm.Provider, error) {
	return Table().New(mc)
}
