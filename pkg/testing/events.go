// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"slices"
	"sync"

	"github.com/jllopis/visionsync/pkg/core"
)

// EventCollector is a core.EventEmitter that keeps every event in order.
type EventCollector struct {
	mu     sync.RWMutex
	events []core.Event
}

var _ core.EventEmitter = (*EventCollector)(nil)

func NewEventCollector() *EventCollector {
	return &EventCollector{}
}

func (c *EventCollector) Emit(_ context.Context, ev core.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// Events returns a copy of what was collected.
func (c *EventCollector) Events() []core.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.events)
}

func (c *EventCollector) EventTypes() []core.EventType {
	return eventTypes(c.Events())
}

// ToolCalls decodes the EventToolExecuted events.
func (c *EventCollector) ToolCalls() []ToolCallRecord {
	var calls []ToolCallRecord
	for _, ev := range c.Events() {
		if ev.Type != core.EventToolExecuted {
			continue
		}
		name, _ := ev.Payload["tool"].(string)
		done, _ := ev.Payload["done"].(bool)
		calls = append(calls, ToolCallRecord{Name: name, Done: done, ContextID: ev.ContextID})
	}
	return calls
}

func (c *EventCollector) HasEvent(t core.EventType) bool {
	return slices.Contains(c.EventTypes(), t)
}

func (c *EventCollector) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

func (c *EventCollector) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
