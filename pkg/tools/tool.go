// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools is the tool extraction and execution boundary of the agent
// loop. A model response carries at most one JSON tool request; the
// Executor parses it, runs the named tool and reports whether the loop
// should stop with a result or keep going with feedback for the model.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Result is what a tool hands back to the loop.
type Result struct {
	// Message is fed back to the model, or returned to the user when
	// BreakLoop is set.
	Message string
	// BreakLoop ends the monologue with Message as its result.
	BreakLoop bool
}

// Tool is a capability the model can invoke.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Func adapts a function to Tool.
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, args map[string]any) (Result, error)
}

func (f Func) Name() string        { return f.ToolName }
func (f Func) Description() string { return f.Desc }

func (f Func) Execute(ctx context.Context, args map[string]any) (Result, error) {
	return f.Fn(ctx, args)
}

// Registry holds tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns a registry holding ts. Later tools replace earlier
// ones with the same name.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		r.tools[t.Name()] = t
	}
	return r
}

// Register adds t, failing when the name is taken.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe renders one "- name: description" line per tool for the system
// prompt.
func (r *Registry) Describe() string {
	var lines []string
	for _, n := range r.Names() {
		t, _ := r.Get(n)
		lines = append(lines, fmt.Sprintf("- %s: %s", n, t.Description()))
	}
	return strings.Join(lines, "\n")
}

// ResponseToolName is the tool that answers the user.
const ResponseToolName = "response"

// Response returns its "text" argument as the final result.
type Response struct{}

func (Response) Name() string { return ResponseToolName }

func (Response) Description() string {
	return `final answer to the user, args: {"text": "<answer>"}`
}

func (Response) Execute(_ context.Context, args map[string]any) (Result, error) {
	text, _ := args["text"].(string)
	if text == "" {
		return Result{Message: "The response tool needs a non-empty \"text\" argument."}, nil
	}
	return Result{Message: text, BreakLoop: true}, nil
}
