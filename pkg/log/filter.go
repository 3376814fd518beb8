// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package log

import "time"

// Filter selects entries. Filters passed together are ANDed.
type Filter func(Entry) bool

// ByLevel keeps entries of exactly level.
func ByLevel(level Level) Filter {
	return func(e Entry) bool { return e.Level == level }
}

// ByContext keeps entries stamped with id.
func ByContext(id string) Filter {
	return func(e Entry) bool { return e.ContextID == id }
}

// Since keeps entries at or after t.
func Since(t time.Time) Filter {
	return func(e Entry) bool { return !e.Timestamp.Before(t) }
}

// Until keeps entries at or before t.
func Until(t time.Time) Filter {
	return func(e Entry) bool { return !e.Timestamp.After(t) }
}

// Query is the declarative form of a filter set, used by the HTTP API.
// Zero fields are ignored.
type Query struct {
	Level     string    `json:"level,omitempty"`
	ContextID string    `json:"context_id,omitempty"`
	Start     time.Time `json:"start,omitempty"`
	End       time.Time `json:"end,omitempty"`
}

// Filters converts q into filters. An unknown level name is an error.
func (q Query) Filters() ([]Filter, error) {
	var fs []Filter
	if q.Level != "" {
		lv, err := ParseLevel(q.Level)
		if err != nil {
			return nil, err
		}
		fs = append(fs, ByLevel(lv))
	}
	if q.ContextID != "" {
		fs = append(fs, ByContext(q.ContextID))
	}
	if !q.Start.IsZero() {
		fs = append(fs, Since(q.Start))
	}
	if !q.End.IsZero() {
		fs = append(fs, Until(q.End))
	}
	return fs, nil
}
