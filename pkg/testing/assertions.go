// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"strings"
	"testing"

	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/llm"
	"github.com/jllopis/visionsync/pkg/log"
	"github.com/jllopis/visionsync/pkg/memory"
)

// Assertions groups fluent checks on prompts, histories and logs. Failures
// are reported with t.Errorf so a test sees every broken check at once.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

func (a *Assertions) errorf(format string, args ...any) {
	a.t.Helper()
	a.t.Errorf(format, args...)
	a.failed = true
}

// AssertErrorCode asserts err carries code somewhere in its chain.
func (a *Assertions) AssertErrorCode(err error, code errors.ErrorCode) {
	a.t.Helper()
	if !errors.HasCode(err, code) {
		a.errorf("expected error with code %s, got %v", code, err)
	}
}

// PromptAssertions checks one model prompt.
type PromptAssertions struct {
	a *Assertions
	p *llm.Prompt
}

// AssertPrompt starts checks on p. A nil prompt fails immediately.
func (a *Assertions) AssertPrompt(p *llm.Prompt) *PromptAssertions {
	a.t.Helper()
	if p == nil {
		a.errorf("prompt is nil")
		p = &llm.Prompt{}
	}
	return &PromptAssertions{a: a, p: p}
}

// HasSystem asserts the system prompt contains s.
func (r *PromptAssertions) HasSystem(s string) *PromptAssertions {
	r.a.t.Helper()
	if !strings.Contains(r.p.System, s) {
		r.a.errorf("system prompt does not contain %q", s)
	}
	return r
}

// HasMessageCount asserts the number of messages after the system prompt.
func (r *PromptAssertions) HasMessageCount(n int) *PromptAssertions {
	r.a.t.Helper()
	if len(r.p.Messages) != n {
		r.a.errorf("expected %d messages, got %d", n, len(r.p.Messages))
	}
	return r
}

// HasMessage asserts a message with role contains s.
func (r *PromptAssertions) HasMessage(role llm.Role, s string) *PromptAssertions {
	r.a.t.Helper()
	for _, m := range r.p.Messages {
		if m.Role == role && strings.Contains(m.Content, s) {
			return r
		}
	}
	r.a.errorf("no %s message contains %q", role, s)
	return r
}

// HasUserMessage asserts a user message contains s.
func (r *PromptAssertions) HasUserMessage(s string) *PromptAssertions {
	r.a.t.Helper()
	return r.HasMessage(llm.RoleUser, s)
}

// HistoryAssertions checks a committed conversation.
type HistoryAssertions struct {
	a    *Assertions
	msgs []memory.Message
}

// AssertHistory starts checks on msgs.
func (a *Assertions) AssertHistory(msgs []memory.Message) *HistoryAssertions {
	return &HistoryAssertions{a: a, msgs: msgs}
}

// HasLen asserts the number of messages.
func (h *HistoryAssertions) HasLen(n int) *HistoryAssertions {
	h.a.t.Helper()
	if len(h.msgs) != n {
		h.a.errorf("expected %d history messages, got %d", n, len(h.msgs))
	}
	return h
}

// HasRoles asserts the exact role sequence.
func (h *HistoryAssertions) HasRoles(roles ...string) *HistoryAssertions {
	h.a.t.Helper()
	got := make([]string, len(h.msgs))
	for i, m := range h.msgs {
		got[i] = m.Role
	}
	if strings.Join(got, ",") != strings.Join(roles, ",") {
		h.a.errorf("expected roles %v, got %v", roles, got)
	}
	return h
}

// LastContains asserts the newest message contains s.
func (h *HistoryAssertions) LastContains(s string) *HistoryAssertions {
	h.a.t.Helper()
	if len(h.msgs) == 0 {
		h.a.errorf("history is empty")
		return h
	}
	if last := h.msgs[len(h.msgs)-1]; !strings.Contains(last.Content, s) {
		h.a.errorf("last message %q does not contain %q", last.Content, s)
	}
	return h
}

// LogAssertions checks a context log.
type LogAssertions struct {
	a *Assertions
	l *log.Log
}

// AssertLog starts checks on l.
func (a *Assertions) AssertLog(l *log.Log) *LogAssertions {
	return &LogAssertions{a: a, l: l}
}

// HasEntry asserts an entry at level contains s.
func (r *LogAssertions) HasEntry(level log.Level, s string) *LogAssertions {
	r.a.t.Helper()
	for _, e := range r.l.Entries(log.ByLevel(level)) {
		if strings.Contains(e.Message, s) {
			return r
		}
	}
	r.a.errorf("no %s entry contains %q", level, s)
	return r
}

// CountAt asserts the number of entries at level.
func (r *LogAssertions) CountAt(level log.Level, n int) *LogAssertions {
	r.a.t.Helper()
	if got := len(r.l.Entries(log.ByLevel(level))); got != n {
		r.a.errorf("expected %d %s entries, got %d", n, level, got)
	}
	return r
}

// ScenarioResultAssertions provides assertions for scenario results.
type ScenarioResultAssertions struct {
	a      *Assertions
	result *ScenarioResult
}

// AssertScenarioResult creates assertions for a scenario result.
func (a *Assertions) AssertScenarioResult(result *ScenarioResult) *ScenarioResultAssertions {
	return &ScenarioResultAssertions{a: a, result: result}
}

// Succeeded asserts the scenario completed without error.
func (s *ScenarioResultAssertions) Succeeded() *ScenarioResultAssertions {
	s.a.t.Helper()
	if s.result.Error != nil {
		s.a.errorf("expected success, got error: %v", s.result.Error)
	}
	return s
}

// Failed asserts the scenario failed with an error.
func (s *ScenarioResultAssertions) Failed() *ScenarioResultAssertions {
	s.a.t.Helper()
	if s.result.Error == nil {
		s.a.errorf("expected failure, got success")
	}
	return s
}

// OutputContains asserts the output contains the substring.
func (s *ScenarioResultAssertions) OutputContains(substr string) *ScenarioResultAssertions {
	s.a.t.Helper()
	if !strings.Contains(s.result.Output, substr) {
		s.a.errorf("output %q does not contain %q", s.result.Output, substr)
	}
	return s
}

// OutputEquals asserts the output equals the expected string.
func (s *ScenarioResultAssertions) OutputEquals(expected string) *ScenarioResultAssertions {
	s.a.t.Helper()
	if s.result.Output != expected {
		s.a.errorf("expected output %q, got %q", expected, s.result.Output)
	}
	return s
}
