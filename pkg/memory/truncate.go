// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"strconv"
)

// Strategy reduces a history while preserving the most recent context.
type Strategy interface {
	Truncate(ctx context.Context, msgs []Message) ([]Message, error)
}

// split separates system messages when keepSystem is set.
func split(msgs []Message, keepSystem bool) (system, rest []Message) {
	if !keepSystem {
		return nil, msgs
	}
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	return system, rest
}

func join(a, b []Message) []Message {
	out := make([]Message, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// WindowStrategy keeps the last MaxMessages messages.
type WindowStrategy struct {
	MaxMessages int
	// KeepSystem preserves system messages outside the window.
	KeepSystem bool
}

func NewWindowStrategy(maxMessages int, keepSystem bool) *WindowStrategy {
	return &WindowStrategy{MaxMessages: maxMessages, KeepSystem: keepSystem}
}

func (w *WindowStrategy) Truncate(_ context.Context, msgs []Message) ([]Message, error) {
	if len(msgs) <= w.MaxMessages {
		return msgs, nil
	}
	system, rest := split(msgs, w.KeepSystem)
	return join(system, tail(rest, max(0, w.MaxMessages-len(system)))), nil
}

// TokenCounter estimates the token cost of a message.
type TokenCounter func(Message) int

// ApproxTokens counts four characters per token.
func ApproxTokens(m Message) int { return len(m.Content) / 4 }

// TokenStrategy keeps the newest messages that fit within MaxTokens.
type TokenStrategy struct {
	MaxTokens  int
	Counter    TokenCounter
	KeepSystem bool
}

func NewTokenStrategy(maxTokens int, keepSystem bool) *TokenStrategy {
	return &TokenStrategy{MaxTokens: maxTokens, KeepSystem: keepSystem}
}

func (t *TokenStrategy) Truncate(_ context.Context, msgs []Message) ([]Message, error) {
	count := t.Counter
	if count == nil {
		count = ApproxTokens
	}
	total := 0
	for _, m := range msgs {
		total += count(m)
	}
	if total <= t.MaxTokens {
		return msgs, nil
	}

	system, rest := split(msgs, t.KeepSystem)
	budget := t.MaxTokens
	for _, m := range system {
		budget -= count(m)
	}

	start := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		c := count(rest[i])
		if used+c > budget {
			break
		}
		used += c
		start = i
	}
	return join(system, rest[start:]), nil
}

// Summarizer condenses a run of messages into one text.
type Summarizer func(ctx context.Context, msgs []Message) (string, error)

// SummaryStrategy replaces the oldest messages with a summary once the
// history grows past MaxMessages.
type SummaryStrategy struct {
	MaxMessages int
	// Batch is how many old messages are folded per summary.
	Batch      int
	Summarize  Summarizer
	KeepSystem bool
}

func NewSummaryStrategy(maxMessages, batch int, fn Summarizer) *SummaryStrategy {
	return &SummaryStrategy{MaxMessages: maxMessages, Batch: batch, Summarize: fn, KeepSystem: true}
}

func (s *SummaryStrategy) Truncate(ctx context.Context, msgs []Message) ([]Message, error) {
	if len(msgs) <= s.MaxMessages || s.Summarize == nil {
		return msgs, nil
	}
	system, rest := split(msgs, s.KeepSystem)
	if len(rest) <= s.MaxMessages {
		return join(system, rest), nil
	}

	n := min(s.Batch, len(rest)-s.MaxMessages+1)
	n = max(n, 2)
	summary, err := s.Summarize(ctx, rest[:n])
	if err != nil {
		return msgs, err
	}
	folded := Message{
		Role:      RoleSystem,
		Content:   "[Previous conversation summary]\n" + summary,
		CreatedAt: rest[0].CreatedAt,
		Metadata:  map[string]string{"type": "summary", "summarized_count": strconv.Itoa(n)},
	}
	return join(append(system, folded), rest[n:]), nil
}
