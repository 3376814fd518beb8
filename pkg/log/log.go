// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package log implements the per-context activity log.
//
// A Log keeps every entry in memory, in insertion order, and offers each entry
// exactly once to its sinks (rotating text and JSON files, slog). Entries can
// be queried with conjunctive filters on level, context id and time range.
package log

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Log is an ordered, concurrency-safe collection of entries.
type Log struct {
	mu        sync.Mutex
	name      string
	contextID string
	entries   []Entry
	sinks     []Sink
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithName sets the log name. Sinks created by NewFileSinks use it as file stem.
func WithName(name string) Option {
	return func(l *Log) { l.name = name }
}

// WithContextID sets the context id stamped on entries that carry none.
func WithContextID(id string) Option {
	return func(l *Log) { l.contextID = id }
}

// WithSinks appends durable sinks.
func WithSinks(sinks ...Sink) Option {
	return func(l *Log) { l.sinks = append(l.sinks, sinks...) }
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		name:   "visionsync",
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the log name.
func (l *Log) Name() string { return l.name }

// ContextID returns the default context id.
func (l *Log) ContextID() string { return l.contextID }

// EntryOption decorates an entry before it is stored.
type EntryOption func(*entryArgs)

type entryArgs struct {
	contextID string
	metadata  map[string]any
}

// ForContext overrides the context id of a single entry.
func ForContext(id string) EntryOption {
	return func(a *entryArgs) { a.contextID = id }
}

// WithMetadata attaches a metadata map to the entry.
func WithMetadata(md map[string]any) EntryOption {
	return func(a *entryArgs) {
		if a.metadata == nil {
			a.metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			a.metadata[k] = v
		}
	}
}

// Add parses level and appends an entry. Unknown levels fail with
// INVALID_LEVEL and nothing is stored.
func (l *Log) Add(level, message string, opts ...EntryOption) (Entry, error) {
	lv, err := ParseLevel(level)
	if err != nil {
		return Entry{}, err
	}
	return l.Append(lv, message, opts...), nil
}

// Append stores an entry at a known level and forwards it to every sink.
func (l *Log) Append(level Level, message string, opts ...EntryOption) Entry {
	args := entryArgs{contextID: l.contextID}
	for _, opt := range opts {
		opt(&args)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := NewEntry(level, message, args.contextID, l.now(), args.metadata)
	l.entries = append(l.entries, e)
	for _, s := range l.sinks {
		if err := s.Write(e.clone()); err != nil {
			l.logger.Warn("log.sink.write_failed",
				slog.String("log", l.name),
				slog.String("error", err.Error()),
			)
		}
	}
	return e.clone()
}

// Debug appends a DEBUG entry. kv are alternating key/value metadata pairs.
func (l *Log) Debug(message string, kv ...any) Entry {
	return l.Append(LevelDebug, message, WithMetadata(pairs(kv)))
}

// Info appends an INFO entry.
func (l *Log) Info(message string, kv ...any) Entry {
	return l.Append(LevelInfo, message, WithMetadata(pairs(kv)))
}

// Warning appends a WARNING entry.
func (l *Log) Warning(message string, kv ...any) Entry {
	return l.Append(LevelWarning, message, WithMetadata(pairs(kv)))
}

// Error appends an ERROR entry.
func (l *Log) Error(message string, kv ...any) Entry {
	return l.Append(LevelError, message, WithMetadata(pairs(kv)))
}

// Critical appends a CRITICAL entry.
func (l *Log) Critical(message string, kv ...any) Entry {
	return l.Append(LevelCritical, message, WithMetadata(pairs(kv)))
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns the entries matching every filter, in insertion order.
// With no filters it returns a copy of the whole log.
func (l *Log) Entries(filters ...Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
next:
	for _, e := range l.entries {
		for _, f := range filters {
			if !f(e) {
				continue next
			}
		}
		out = append(out, e.clone())
	}
	return out
}

// Clear drops every in-memory entry. Sinks keep what they already wrote.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Close closes every sink and returns the first error.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.sinks = nil
	return first
}

// MarshalJSON implements json.Marshaler.
func (l *Log) MarshalJSON() ([]byte, error) {
	entries := l.Entries()
	return json.Marshal(struct {
		Name      string  `json:"name"`
		ContextID string  `json:"context_id,omitempty"`
		Entries   []Entry `json:"entries"`
	}{l.name, l.contextID, entries})
}

func pairs(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	md := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		if i+1 < len(kv) {
			md[key] = kv[i+1]
		} else {
			md[key] = nil
		}
	}
	return md
}
