// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing runs scripted conversations against VisionSync agents.
//
// A scenario sends its messages in order to anything with a Communicate
// method, collects the answers and the events the agent emitted, and then
// checks them:
//
//	model := testing.NewScenarioModel().AddReply("Hello there")
//	events := testing.NewEventCollector()
//	a, _ := agent.New(0, cfg, agent.WithModel(model), agent.WithEmitter(events))
//
//	sc := testing.NewScenario("greeting").
//	    WithInput("Hello").
//	    WithCollector(events).
//	    ExpectOutput(testing.Contains("Hello")).
//	    ExpectNoToolCalls()
//	sc.Run(t, a).Assert(t, sc)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/visionsync/pkg/core"
)

// AgentRunner is what a scenario talks to. *agent.Agent satisfies it.
type AgentRunner interface {
	Communicate(ctx context.Context, message string) (any, error)
}

// Scenario is a named conversation plus the checks its outcome must pass.
type Scenario struct {
	name      string
	messages  []string
	parent    context.Context
	timeout   time.Duration
	collector *EventCollector
	checks    []Expectation
	before    []func() error
	after     []func() error
}

// Expectation is one named check over a scenario outcome.
type Expectation struct {
	Name  string
	Check func(*ScenarioResult) error
}

// ScenarioResult is what a run produced.
type ScenarioResult struct {
	// Output is the answer to the last message that completed.
	Output string
	// Outputs holds one answer per completed message.
	Outputs   []string
	Error     error
	Events    []core.Event
	ToolCalls []ToolCallRecord
	Duration  time.Duration
}

// ToolCallRecord is a tool execution seen through EventToolExecuted.
type ToolCallRecord struct {
	Name      string
	Done      bool
	ContextID string
}

// NewScenario returns an empty scenario bounded to 30 seconds.
func NewScenario(name string) *Scenario {
	return &Scenario{name: name, parent: context.Background(), timeout: 30 * time.Second}
}

// WithInput queues a user message. The run stops at the first error.
func (s *Scenario) WithInput(message string) *Scenario {
	s.messages = append(s.messages, message)
	return s
}

// WithContext sets the parent of the run context.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.parent = ctx
	return s
}

// WithTimeout bounds the whole run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithCollector reads events and tool calls from c, which must be the
// agent's emitter. c is reset when the run starts.
func (s *Scenario) WithCollector(c *EventCollector) *Scenario {
	s.collector = c
	return s
}

// WithSetup runs fn before the first message. A failure aborts the test.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.before = append(s.before, fn)
	return s
}

// WithTeardown runs fn after the run, even when it failed.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.after = append(s.after, fn)
	return s
}

// Expect adds a custom check.
func (s *Scenario) Expect(name string, check func(*ScenarioResult) error) *Scenario {
	s.checks = append(s.checks, Expectation{Name: name, Check: check})
	return s
}

func (s *Scenario) ExpectOutput(m StringMatcher) *Scenario {
	return s.Expect("output "+m.Description(), func(r *ScenarioResult) error {
		if !m.Match(r.Output) {
			return fmt.Errorf("got %q", r.Output)
		}
		return nil
	})
}

// ExpectOutputs requires exactly n completed answers.
func (s *Scenario) ExpectOutputs(n int) *Scenario {
	return s.Expect(fmt.Sprintf("%d outputs", n), func(r *ScenarioResult) error {
		if len(r.Outputs) != n {
			return fmt.Errorf("got %d: %q", len(r.Outputs), r.Outputs)
		}
		return nil
	})
}

func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect("no error", func(r *ScenarioResult) error {
		if r.Error != nil {
			return fmt.Errorf("got %v", r.Error)
		}
		return nil
	})
}

func (s *Scenario) ExpectError(m StringMatcher) *Scenario {
	return s.Expect("error "+m.Description(), func(r *ScenarioResult) error {
		switch {
		case r.Error == nil:
			return fmt.Errorf("run succeeded")
		case !m.Match(r.Error.Error()):
			return fmt.Errorf("got %q", r.Error.Error())
		}
		return nil
	})
}

// ExpectToolCall requires at least one execution of tool.
func (s *Scenario) ExpectToolCall(tool string) *Scenario {
	return s.Expect(fmt.Sprintf("tool %q called", tool), func(r *ScenarioResult) error {
		for _, tc := range r.ToolCalls {
			if tc.Name == tool {
				return nil
			}
		}
		return fmt.Errorf("calls were %v", toolNames(r.ToolCalls))
	})
}

// ExpectNoToolCalls allows only the calls that delivered an answer.
func (s *Scenario) ExpectNoToolCalls() *Scenario {
	return s.Expect("no tool calls besides answers", func(r *ScenarioResult) error {
		var extra []ToolCallRecord
		for _, tc := range r.ToolCalls {
			if !tc.Done {
				extra = append(extra, tc)
			}
		}
		if len(extra) > 0 {
			return fmt.Errorf("calls were %v", toolNames(extra))
		}
		return nil
	})
}

func (s *Scenario) ExpectEvent(t core.EventType) *Scenario {
	return s.ExpectEventOrder(t)
}

// ExpectEventOrder requires the types to appear in this order, not
// necessarily adjacent.
func (s *Scenario) ExpectEventOrder(types ...core.EventType) *Scenario {
	return s.Expect(fmt.Sprintf("events %v", types), func(r *ScenarioResult) error {
		next := 0
		for _, ev := range r.Events {
			if next < len(types) && ev.Type == types[next] {
				next++
			}
		}
		if next < len(types) {
			return fmt.Errorf("%q missing from %v", types[next], eventTypes(r.Events))
		}
		return nil
	})
}

// ExpectWithin requires the run to finish within d.
func (s *Scenario) ExpectWithin(d time.Duration) *Scenario {
	return s.Expect(fmt.Sprintf("within %v", d), func(r *ScenarioResult) error {
		if r.Duration > d {
			return fmt.Errorf("took %v", r.Duration)
		}
		return nil
	})
}

// Run sends every message to agent and gathers the outcome.
func (s *Scenario) Run(t *testing.T, agent AgentRunner) *ScenarioResult {
	t.Helper()
	for _, fn := range s.before {
		if err := fn(); err != nil {
			t.Fatalf("scenario %q: setup: %v", s.name, err)
		}
	}
	defer func() {
		for _, fn := range s.after {
			if err := fn(); err != nil {
				t.Errorf("scenario %q: teardown: %v", s.name, err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(s.parent, s.timeout)
	defer cancel()
	if s.collector != nil {
		s.collector.Reset()
	}

	res := &ScenarioResult{}
	start := time.Now()
	for _, msg := range s.messages {
		out, err := agent.Communicate(ctx, msg)
		if err != nil {
			res.Error = err
			break
		}
		res.Output = fmt.Sprint(out)
		res.Outputs = append(res.Outputs, res.Output)
	}
	res.Duration = time.Since(start)

	if s.collector != nil {
		res.Events = s.collector.Events()
		res.ToolCalls = s.collector.ToolCalls()
	}
	return res
}

// Assert reports every failed expectation of sc.
func (r *ScenarioResult) Assert(t *testing.T, sc *Scenario) {
	t.Helper()
	for _, e := range sc.checks {
		if err := e.Check(r); err != nil {
			t.Errorf("scenario %q: expected %s: %v", sc.name, e.Name, err)
		}
	}
}

// StringMatcher is a named string predicate.
type StringMatcher struct {
	desc  string
	match func(string) bool
}

func (m StringMatcher) Match(s string) bool { return m.match(s) }
func (m StringMatcher) Description() string { return m.desc }

func Contains(sub string) StringMatcher {
	return StringMatcher{fmt.Sprintf("contains %q", sub), func(s string) bool { return strings.Contains(s, sub) }}
}

func Equals(want string) StringMatcher {
	return StringMatcher{fmt.Sprintf("equals %q", want), func(s string) bool { return s == want }}
}

func HasPrefix(p string) StringMatcher {
	return StringMatcher{fmt.Sprintf("has prefix %q", p), func(s string) bool { return strings.HasPrefix(s, p) }}
}

func HasSuffix(p string) StringMatcher {
	return StringMatcher{fmt.Sprintf("has suffix %q", p), func(s string) bool { return strings.HasSuffix(s, p) }}
}

// Regex matches against pattern. An invalid pattern matches nothing.
func Regex(pattern string) StringMatcher {
	desc := fmt.Sprintf("matches %q", pattern)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return StringMatcher{desc, func(string) bool { return false }}
	}
	return StringMatcher{desc, re.MatchString}
}

func toolNames(calls []ToolCallRecord) []string {
	names := make([]string, len(calls))
	for i, tc := range calls {
		names[i] = tc.Name
	}
	return names
}

func eventTypes(evs []core.Event) []core.EventType {
	types := make([]core.EventType, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
	}
	return types
}
