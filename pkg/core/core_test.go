// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(s HealthStatus) HealthChecker {
	return HealthFunc(func(context.Context) HealthResult {
		return HealthResult{Status: s, Message: string(s)}
	})
}

func TestCheckAll(t *testing.T) {
	tests := []struct {
		name     string
		statuses []HealthStatus
		want     HealthStatus
	}{
		{"empty", nil, HealthHealthy},
		{"all healthy", []HealthStatus{HealthHealthy, HealthHealthy}, HealthHealthy},
		{"one degraded", []HealthStatus{HealthHealthy, HealthDegraded}, HealthDegraded},
		{"unhealthy wins", []HealthStatus{HealthUnhealthy, HealthDegraded, HealthHealthy}, HealthUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealth()
			for i, s := range tt.statuses {
				h.Register(string(rune('a'+i)), static(s))
			}
			results, overall := h.CheckAll(context.Background())
			assert.Equal(t, tt.want, overall)
			require.Len(t, results, len(tt.statuses))
			for i, r := range results {
				assert.Equal(t, string(rune('a'+i)), r.Component)
				assert.False(t, r.LastCheck.IsZero())
			}
		})
	}
}

func TestCheckOne(t *testing.T) {
	h := NewHealth()
	h.Register("model", static(HealthDegraded))

	r, err := h.Check(context.Background(), "model")
	require.NoError(t, err)
	assert.Equal(t, "model", r.Component)
	assert.Equal(t, HealthDegraded, r.Status)

	_, err = h.Check(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRunID(t *testing.T) {
	ctx := context.Background()
	_, ok := RunID(ctx)
	assert.False(t, ok)

	ctx, id := EnsureRunID(ctx)
	assert.True(t, strings.HasPrefix(id, "run-"))
	again, id2 := EnsureRunID(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, again)
}

func TestRecorderAndFanout(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	rec := NewRecorder(2)
	var seen []EventType
	emit := Fanout{rec, nil, EmitterFunc(func(_ context.Context, e Event) { seen = append(seen, e.Type) })}

	emit.Emit(ctx, NewEvent(ctx, EventTurnStarted, "a", 0, nil))
	emit.Emit(ctx, NewEvent(ctx, EventTurnCompleted, "b", 1, nil))
	emit.Emit(ctx, NewEvent(ctx, EventMonologueDone, "a", 0, map[string]any{"result": "ok"}))

	assert.Equal(t, []EventType{EventTurnStarted, EventTurnCompleted, EventMonologueDone}, seen)
	all := rec.Events("")
	require.Len(t, all, 2)
	assert.Equal(t, EventTurnCompleted, all[0].Type)
	assert.Equal(t, "run-1", all[1].RunID)
	assert.WithinDuration(t, time.Now(), all[1].Timestamp, time.Minute)

	onlyA := rec.Events("a")
	require.Len(t, onlyA, 1)
	assert.Equal(t, "ok", onlyA[0].Payload["result"])

	NoopEventEmitter{}.Emit(ctx, Event{})
}
