// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/memory"
	"github.com/jllopis/visionsync/pkg/memory/qdrant"
)

// Experience is one remembered turn outcome.
type Experience struct {
	ID        string    `json:"id"`
	Input     string    `json:"input"`
	Outcome   string    `json:"outcome"`
	Score     float64   `json:"score"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
	// Relevance is set by Recall.
	Relevance float64 `json:"relevance,omitempty"`
}

// vectorMinScore is the cosine similarity a vector recall must reach.
const vectorMinScore = 0.6

// Store persists experiences.
type Store interface {
	Add(ctx context.Context, e Experience) error
	// Recall returns up to limit experiences relevant to query, best first.
	Recall(ctx context.Context, query string, limit int) ([]Experience, error)
	// Prune drops experiences created before cutoff.
	Prune(ctx context.Context, cutoff time.Time) error
	Close() error
}

// OpenStore builds the backend named by cfg.Backend. The vector backend
// needs an embedder.
func OpenStore(ctx context.Context, cfg config.LearningConfig, embedder memory.Embedder) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.MaxMemoryEntries), nil
	case "sqlite":
		if cfg.DSN == "" {
			return nil, errors.New("sqlite experience store needs a dsn")
		}
		db, err := memory.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(ctx, db, cfg.MaxMemoryEntries)
	case "vector":
		if embedder == nil {
			return nil, errors.New("vector experience store needs an embedder")
		}
		qs, err := qdrant.New(cfg.DSN)
		if err != nil {
			return nil, err
		}
		vs := NewVectorStore(memory.NewVectorMemory(qs, embedder, cfg.Collection), vectorMinScore, qs)
		if err := vs.vm.Initialize(ctx); err != nil {
			_ = qs.Close()
			return nil, err
		}
		return vs, nil
	}
	return nil, fmt.Errorf("unknown experience backend %q", cfg.Backend)
}

func words(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[strings.Trim(w, ".,;:!?\"'()")] = struct{}{}
	}
	delete(out, "")
	return out
}

// overlap is the Jaccard index of the word sets of a and b.
func overlap(a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(wa)+len(wb)-inter)
}

// rank scores candidates against query and keeps the best limit with some
// word overlap.
func rank(cands []Experience, query string, limit int) []Experience {
	var out []Experience
	for _, e := range cands {
		if r := overlap(query, e.Input); r > 0 {
			e.Relevance = r
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Experience) int {
		switch {
		case a.Relevance > b.Relevance:
			return -1
		case a.Relevance < b.Relevance:
			return 1
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MemoryStore keeps at most capacity experiences in process, evicting the oldest.
type MemoryStore struct {
	mu       sync.RWMutex
	items    []Experience
	capacity int
}

func NewMemoryStore(capacity int) *MemoryStore { return &MemoryStore{capacity: capacity} }

func (m *MemoryStore) Add(_ context.Context, e Experience) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, e)
	if m.capacity > 0 && len(m.items) > m.capacity {
		m.items = slices.Clone(m.items[len(m.items)-m.capacity:])
	}
	return nil
}

func (m *MemoryStore) Recall(_ context.Context, query string, limit int) ([]Experience, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rank(m.items, query, limit), nil
}

func (m *MemoryStore) Prune(_ context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = slices.DeleteFunc(m.items, func(e Experience) bool { return e.CreatedAt.Before(cutoff) })
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryStore) Close() error { return nil }

// SQLiteStore persists experiences in SQLite and ranks recent rows in
// process.
type SQLiteStore struct {
	db       *sql.DB
	capacity int
}

// recallScan bounds how many recent rows Recall ranks.
const recallScan = 500

func NewSQLiteStore(ctx context.Context, db *sql.DB, capacity int) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS experiences (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			input TEXT NOT NULL,
			outcome TEXT,
			score REAL NOT NULL,
			success INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_experiences_created ON experiences(created_at);
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure experience schema: %w", err)
	}
	return &SQLiteStore{db: db, capacity: capacity}, nil
}

func (s *SQLiteStore) Add(ctx context.Context, e Experience) error {
	success := 0
	if e.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiences (id, input, outcome, score, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Input, e.Outcome, e.Score, success, e.CreatedAt.UnixNano())
	if err != nil {
		return err
	}
	if s.capacity > 0 {
		_, err = s.db.ExecContext(ctx, `
			DELETE FROM experiences WHERE seq NOT IN (
				SELECT seq FROM experiences ORDER BY seq DESC LIMIT ?
			)`, s.capacity)
	}
	return err
}

func (s *SQLiteStore) Recall(ctx context.Context, query string, limit int) ([]Experience, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, input, outcome, score, success, created_at
		FROM experiences ORDER BY seq DESC LIMIT ?`, recallScan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cands []Experience
	for rows.Next() {
		var (
			e       Experience
			success int
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Input, &e.Outcome, &e.Score, &success, &created); err != nil {
			return nil, err
		}
		e.Success = success == 1
		e.CreatedAt = time.Unix(0, created)
		cands = append(cands, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(cands, query, limit), nil
}

func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM experiences WHERE created_at < ?`, cutoff.UnixNano())
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// VectorStore recalls experiences by embedding similarity.
type VectorStore struct {
	vm        *memory.VectorMemory
	threshold float32
	closer    interface{ Close() error }
}

// NewVectorStore wraps vm. closer, when non-nil, is closed with the store.
func NewVectorStore(vm *memory.VectorMemory, minScore float64, closer interface{ Close() error }) *VectorStore {
	return &VectorStore{vm: vm, threshold: float32(minScore), closer: closer}
}

func (v *VectorStore) Add(ctx context.Context, e Experience) error {
	_, err := v.vm.Store(ctx, e.ID, e.Input, map[string]any{
		"outcome":   e.Outcome,
		"score":     e.Score,
		"success":   e.Success,
		"timestamp": e.CreatedAt.Unix(),
	})
	return err
}

func (v *VectorStore) Recall(ctx context.Context, query string, limit int) ([]Experience, error) {
	res, err := v.vm.Search(ctx, query, limit, v.threshold)
	if err != nil {
		return nil, err
	}
	out := make([]Experience, 0, len(res))
	for _, r := range res {
		p := r.Point.Payload
		e := Experience{ID: r.ID, Relevance: float64(r.Score)}
		e.Input, _ = p["text"].(string)
		e.Outcome, _ = p["outcome"].(string)
		e.Score, _ = p["score"].(float64)
		e.Success, _ = p["success"].(bool)
		if ts, ok := p["timestamp"].(int64); ok {
			e.CreatedAt = time.Unix(ts, 0)
		}
		out = append(out, e)
	}
	return out, nil
}

func (v *VectorStore) Prune(ctx context.Context, cutoff time.Time) error {
	return v.vm.Prune(ctx, cutoff)
}

func (v *VectorStore) Close() error {
	if v.closer == nil {
		return nil
	}
	return v.closer.Close()
}

func newExperience(input, outcome string, score float64, success bool, now time.Time) Experience {
	return Experience{
		ID:        uuid.NewString(),
		Input:     input,
		Outcome:   outcome,
		Score:     score,
		Success:   success,
		CreatedAt: now,
	}
}
