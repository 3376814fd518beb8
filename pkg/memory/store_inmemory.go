// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps sessions in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message
	cfg      StoreConfig
}

var _ ConversationStore = (*InMemoryStore)(nil)

func NewInMemoryStore(cfg StoreConfig) *InMemoryStore {
	return &InMemoryStore{sessions: map[string][]Message{}, cfg: cfg}
}

func (m *InMemoryStore) Append(_ context.Context, sessionID string, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		msg.fill(sessionID)
		m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	}
	return nil
}

func (m *InMemoryStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	m.mu.RLock()
	msgs := slices.Clone(m.sessions[sessionID])
	m.mu.RUnlock()

	if m.cfg.Strategy != nil && len(msgs) > 0 {
		return m.cfg.Strategy.Truncate(ctx, msgs)
	}
	return msgs, nil
}

func (m *InMemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(tail(m.sessions[sessionID], limit)), nil
}

func (m *InMemoryStore) Replace(_ context.Context, sessionID string, msgs []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		msg.fill(sessionID)
		out[i] = msg
	}
	m.sessions[sessionID] = out
	return nil
}

func (m *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *InMemoryStore) Prune(_ context.Context, sessionID string, olderThan time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msgs, ok := m.sessions[sessionID]; ok {
		m.sessions[sessionID] = keepAfter(msgs, time.Now().Add(-olderThan))
	}
	return nil
}

func (m *InMemoryStore) Sessions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements ConversationStore; nothing is held open.
func (m *InMemoryStore) Close() error { return nil }
