// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm is the model boundary: provider adapters, a provider table
// keyed by config.Provider, shared rate limiters and the Caller used by the
// agent loop.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/errors"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single unit of communication.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest encapsulates the input for the model.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse encapsulates the output from the model.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider talks to one model backend.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Factory builds a provider for a model binding.
type Factory func(mc config.ModelConfig) (Provider, error)

// Table maps provider identifiers to factories. It is the single place
// where providers are selected.
type Table map[config.Provider]Factory

// New builds the provider bound by mc.
func (t Table) New(mc config.ModelConfig) (Provider, error) {
	f, ok := t[mc.Provider]
	if !ok {
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown model provider %q", mc.Provider), nil)
	}
	p, err := f(mc)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "create provider "+string(mc.Provider), err)
	}
	return p, nil
}

// APIKey resolves the key for mc: the "api_key" extra parameter, then
// API_KEY_<PROVIDER>, then <PROVIDER>_API_KEY.
func APIKey(mc config.ModelConfig) string {
	if k := mc.StringParam("api_key", ""); k != "" {
		return k
	}
	name := strings.ToUpper(string(mc.Provider))
	if k := os.Getenv("API_KEY_" + name); k != "" {
		return k
	}
	return os.Getenv(name + "_API_KEY")
}

// Request builds a chat request from mc's name and extra parameters.
func Request(mc config.ModelConfig, msgs []Message) ChatRequest {
	return ChatRequest{
		Model:       mc.Name,
		Messages:    msgs,
		Temperature: mc.FloatParam("temperature", 0),
		MaxTokens:   int(mc.FloatParam("max_tokens", 0)),
	}
}
