// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a semantic event emitted by agents or runtimes.
type EventType string

const (
	EventTurnStarted      EventType = "agent.turn.started"
	EventTurnCompleted    EventType = "agent.turn.completed"
	EventTurnError        EventType = "agent.turn.error"
	EventCriticalError    EventType = "agent.critical"
	EventResponse         EventType = "agent.response"
	EventToolExecuted     EventType = "agent.tool"
	EventIntervention     EventType = "agent.intervention"
	EventDelegation       EventType = "agent.delegation"
	EventMonologueStarted EventType = "agent.monologue.started"
	EventMonologueDone    EventType = "agent.monologue.done"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType      `json:"type"`
	ContextID string         `json:"context_id"`
	Agent     int            `json:"agent"`
	RunID     string         `json:"run_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NewEvent builds an event stamped with the current time and, when ctx
// carries one, the run id.
func NewEvent(ctx context.Context, eventType EventType, contextID string, agent int, payload map[string]any) Event {
	runID, _ := RunID(ctx)
	return Event{
		Type:      eventType,
		ContextID: contextID,
		Agent:     agent,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Recorder keeps the last events it received, up to its capacity. The
// server exposes it to clients polling a context.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

// NewRecorder returns a Recorder holding at most capacity events;
// capacity <= 0 keeps everything.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{capacity: capacity}
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.capacity > 0 && len(r.events) > r.capacity {
		r.events = r.events[len(r.events)-r.capacity:]
	}
}

// Events returns the recorded events, optionally only those of contextID.
func (r *Recorder) Events(contextID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if contextID == "" || e.ContextID == contextID {
			out = append(out, e)
		}
	}
	return out
}

// Fanout sends every event to each emitter in order.
type Fanout []EventEmitter

func (f Fanout) Emit(ctx context.Context, event Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(ctx, event)
		}
	}
}
