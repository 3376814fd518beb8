// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jllopis/visionsync/pkg/llm"
)

// ScenarioModel is a scripted llm.Caller. It replays queued responses in
// order and captures every prompt it receives.
type ScenarioModel struct {
	mu           sync.Mutex
	responses    []ScriptedResponse
	currentIndex int
	prompts      []llm.Prompt
	defaultError error
	onCall       func(p llm.Prompt) (string, error)
}

// ScriptedResponse defines one model answer.
type ScriptedResponse struct {
	Content string
	Error   error
	// Condition skips this response when it returns false for the prompt.
	Condition func(p llm.Prompt) bool
}

var _ llm.Caller = (*ScenarioModel)(nil)

// NewScenarioModel creates an empty script.
func NewScenarioModel() *ScenarioModel {
	return &ScenarioModel{}
}

// AddResponse queues raw model output.
func (m *ScenarioModel) AddResponse(content string) *ScenarioModel {
	return m.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddReply queues a final answer through the response tool.
func (m *ScenarioModel) AddReply(text string) *ScenarioModel {
	return m.AddResponse(NewToolRequest("response").WithArg("text", text).Build())
}

// AddToolRequest queues a tool request.
func (m *ScenarioModel) AddToolRequest(b *ToolRequestBuilder) *ScenarioModel {
	return m.AddResponse(b.Build())
}

// AddErrorResponse queues a failed call.
func (m *ScenarioModel) AddErrorResponse(err error) *ScenarioModel {
	return m.AddScriptedResponse(ScriptedResponse{Error: err})
}

// AddScriptedResponse adds a fully configured response.
func (m *ScenarioModel) AddScriptedResponse(resp ScriptedResponse) *ScenarioModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m
}

// WithDefaultError sets the error returned once the script is exhausted.
func (m *ScenarioModel) WithDefaultError(err error) *ScenarioModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultError = err
	return m
}

// WithCallFunc answers every call with fn instead of the script.
func (m *ScenarioModel) WithCallFunc(fn func(p llm.Prompt) (string, error)) *ScenarioModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCall = fn
	return m
}

// CallModel implements llm.Caller.
func (m *ScenarioModel) CallModel(ctx context.Context, p llm.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, p)
	if m.onCall != nil {
		return m.onCall(p)
	}

	for m.currentIndex < len(m.responses) {
		resp := m.responses[m.currentIndex]
		m.currentIndex++
		if resp.Condition != nil && !resp.Condition(p) {
			continue
		}
		if resp.Error != nil {
			return "", resp.Error
		}
		return resp.Content, nil
	}
	if m.defaultError != nil {
		return "", m.defaultError
	}
	return "", fmt.Errorf("no more scripted responses (call %d)", len(m.prompts))
}

// Prompts returns all captured prompts.
func (m *ScenarioModel) Prompts() []llm.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Prompt, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// LastPrompt returns the most recent prompt, or nil.
func (m *ScenarioModel) LastPrompt() *llm.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return nil
	}
	p := m.prompts[len(m.prompts)-1]
	return &p
}

// CallCount returns the number of CallModel calls made.
func (m *ScenarioModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Reset rewinds the script and forgets captured prompts.
func (m *ScenarioModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentIndex = 0
	m.prompts = m.prompts[:0]
}

// ToolRequestBuilder builds the JSON tool request the agent loop parses.
type ToolRequestBuilder struct {
	thoughts []string
	name     string
	args     map[string]any
}

// NewToolRequest starts a request for tool name.
func NewToolRequest(name string) *ToolRequestBuilder {
	return &ToolRequestBuilder{name: name, args: map[string]any{}}
}

// WithThought appends a line of reasoning.
func (b *ToolRequestBuilder) WithThought(s string) *ToolRequestBuilder {
	b.thoughts = append(b.thoughts, s)
	return b
}

// WithArg sets one argument.
func (b *ToolRequestBuilder) WithArg(key string, value any) *ToolRequestBuilder {
	b.args[key] = value
	return b
}

// WithArgs replaces all arguments.
func (b *ToolRequestBuilder) WithArgs(args map[string]any) *ToolRequestBuilder {
	b.args = args
	return b
}

// Build renders the request.
func (b *ToolRequestBuilder) Build() string {
	body := map[string]any{
		"tool_name": b.name,
		"tool_args": b.args,
	}
	if len(b.thoughts) > 0 {
		body["thoughts"] = b.thoughts
	}
	out, _ := json.Marshal(body)
	return string(out)
}
