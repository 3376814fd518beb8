// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	stderrors "errors"
	"sync"
)

// ErrScriptExhausted is returned once every scripted step was consumed.
var ErrScriptExhausted = stderrors.New("scripted mock: no more responses available")

// Step is one scripted outcome: a response or an error.
type Step struct {
	Content string
	Err     error
}

// ScriptedMockProvider replays a fixed sequence of steps. Useful for
// multi-turn loop tests.
type ScriptedMockProvider struct {
	mu       sync.Mutex
	steps    []Step
	requests []ChatRequest
}

// NewScriptedMockProvider scripts one successful response per argument.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, r := range responses {
		s.steps = append(s.steps, Step{Content: r})
	}
	return s
}

// NewScriptedSteps scripts arbitrary steps.
func NewScriptedSteps(steps ...Step) *ScriptedMockProvider {
	return &ScriptedMockProvider{steps: append([]Step(nil), steps...)}
}

// Chat pops the next step.
func (s *ScriptedMockProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return nil, ErrScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return &ChatResponse{
		Content: step.Content,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// AddResponse appends a successful step.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, Step{Content: response})
}

// Requests returns every request received so far.
func (s *ScriptedMockProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

// Calls returns the number of Chat calls.
func (s *ScriptedMockProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

var _ Provider = (*ScriptedMockProvider)(nil)
