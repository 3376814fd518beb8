// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai adapts the OpenAI chat completions API, and any
// OpenAI-compatible gateway, to llm.Provider.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/llm"
)

// Provider implements llm.Provider for OpenAI.
type Provider struct {
	client openai.Client
	model  string
}

// Option configures the Provider.
type Option func(*settings)

type settings struct {
	model   string
	apiKey  string
	baseURL string
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithBaseURL points the client at a compatible gateway.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithAPIKey sets the API key. Without it the SDK reads OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(s *settings) { s.apiKey = key }
}

// New creates a provider.
func New(opts ...Option) *Provider {
	s := settings{model: "gpt-4o-mini"}
	for _, opt := range opts {
		opt(&s)
	}
	var reqOpts []option.RequestOption
	if s.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(s.apiKey))
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	return &Provider{client: openai.NewClient(reqOpts...), model: s.model}
}

// Factory returns an llm.Factory for an OpenAI-compatible endpoint.
// defaultURL is used unless the binding sets "base_url"; empty means the
// OpenAI API itself.
func Factory(defaultURL string) llm.Factory {
	return func(mc config.ModelConfig) (llm.Provider, error) {
		opts := []Option{WithModel(mc.Name)}
		if key := llm.APIKey(mc); key != "" {
			opts = append(opts, WithAPIKey(key))
		}
		if url := mc.StringParam("base_url", defaultURL); url != "" {
			opts = append(opts, WithBaseURL(url))
		}
		return New(opts...), nil
	}
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion returned no choices")
	}
	return &llm.ChatResponse{
		Content: completion.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleAssistant:
		return openai.AssistantMessage(msg.Content)
	default:
		return openai.UserMessage(msg.Content)
	}
}

var _ llm.Provider = (*Provider)(nil)
