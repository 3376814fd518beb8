// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// TimeLayout is the timestamp layout used in the text rendering of an entry.
const TimeLayout = "2006-01-02 15:04:05"

// Entry is one immutable log record.
// Metadata is copied when the entry is created and when it is handed out.
type Entry struct {
	Message   string
	Level     Level
	ContextID string
	Timestamp time.Time
	Metadata  map[string]any
}

// NewEntry builds an entry, copying metadata.
func NewEntry(level Level, message, contextID string, ts time.Time, metadata map[string]any) Entry {
	return Entry{
		Message:   message,
		Level:     level,
		ContextID: contextID,
		Timestamp: ts,
		Metadata:  maps.Clone(metadata),
	}
}

func (e Entry) clone() Entry {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// String renders "ts LEVEL [ctx] message k=v ...". Metadata keys are sorted.
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format(TimeLayout))
	b.WriteByte(' ')
	b.WriteString(e.Level.String())
	if e.ContextID != "" {
		b.WriteString(" [")
		b.WriteString(e.ContextID)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)
	for _, k := range slices.Sorted(maps.Keys(e.Metadata)) {
		fmt.Fprintf(&b, " %s=%v", k, e.Metadata[k])
	}
	return b.String()
}

// Map flattens the entry into a single object. Metadata never overrides the
// reserved keys.
func (e Entry) Map() map[string]any {
	out := make(map[string]any, len(e.Metadata)+4)
	for k, v := range e.Metadata {
		out[k] = v
	}
	out["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	out["level"] = e.Level.String()
	out["message"] = e.Message
	if e.ContextID != "" {
		out["context_id"] = e.ContextID
	} else {
		out["context_id"] = nil
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}
