// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory stores conversation history and vector recall for agents.
//
// Conversation stores keep ordered per-session message sequences and can
// apply a truncation Strategy on read. Vector memory pairs an Embedder with a
// VectorStore (see the qdrant and ollama subpackages) for similarity recall.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates no matching item was found.
var ErrNotFound = errors.New("memory: not found")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one history entry.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id,omitempty"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage builds a message stamped with a fresh id and the current time.
func NewMessage(role, content string) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content, CreatedAt: time.Now()}
}

func (m *Message) fill(sessionID string) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SessionID == "" {
		m.SessionID = sessionID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
}

// ConversationStore persists ordered session histories.
type ConversationStore interface {
	// Append adds messages to the end of a session.
	Append(ctx context.Context, sessionID string, msgs ...Message) error
	// Messages returns a session in append order, truncated by the store's
	// strategy when one is configured. A missing session is empty.
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	// Recent returns at most the last limit messages.
	Recent(ctx context.Context, sessionID string, limit int) ([]Message, error)
	// Replace swaps the whole session content.
	Replace(ctx context.Context, sessionID string, msgs []Message) error
	// Clear drops a session.
	Clear(ctx context.Context, sessionID string) error
	// Prune drops messages older than olderThan.
	Prune(ctx context.Context, sessionID string, olderThan time.Duration) error
	// Sessions lists stored session ids in lexical order.
	Sessions(ctx context.Context) ([]string, error)
	// Close releases the backing storage. The store is unusable afterwards.
	Close() error
}

// StoreConfig configures conversation stores.
type StoreConfig struct {
	// Strategy is applied by Messages. Optional.
	Strategy Strategy
}

func tail(msgs []Message, limit int) []Message {
	if limit < 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}

func keepAfter(msgs []Message, cutoff time.Time) []Message {
	var kept []Message
	for _, m := range msgs {
		if m.CreatedAt.After(cutoff) {
			kept = append(kept, m)
		}
	}
	return kept
}
