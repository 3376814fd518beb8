// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStore keeps one JSON file per session under a directory.
type FileStore struct {
	mu  sync.RWMutex
	dir string
	cfg StoreConfig
}

var _ ConversationStore = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string, cfg StoreConfig) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &FileStore{dir: dir, cfg: cfg}, nil
}

// path confines session files to the store directory.
func (f *FileStore) path(sessionID string) string {
	return filepath.Join(f.dir, filepath.Base(sessionID)+".json")
}

func (f *FileStore) load(sessionID string) ([]Message, error) {
	data, err := os.ReadFile(f.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", sessionID, err)
	}
	return msgs, nil
}

func (f *FileStore) save(sessionID string, msgs []Message) error {
	if len(msgs) == 0 {
		err := os.Remove(f.path(sessionID))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	tmp := f.path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path(sessionID))
}

func (f *FileStore) Append(_ context.Context, sessionID string, msgs ...Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, err := f.load(sessionID)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		msg.fill(sessionID)
		cur = append(cur, msg)
	}
	return f.save(sessionID, cur)
}

func (f *FileStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	f.mu.RLock()
	msgs, err := f.load(sessionID)
	f.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if f.cfg.Strategy != nil && len(msgs) > 0 {
		return f.cfg.Strategy.Truncate(ctx, msgs)
	}
	return msgs, nil
}

func (f *FileStore) Recent(_ context.Context, sessionID string, limit int) ([]Message, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	msgs, err := f.load(sessionID)
	if err != nil {
		return nil, err
	}
	return tail(msgs, limit), nil
}

func (f *FileStore) Replace(_ context.Context, sessionID string, msgs []Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		msg.fill(sessionID)
		out[i] = msg
	}
	return f.save(sessionID, out)
}

func (f *FileStore) Clear(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(sessionID, nil)
}

func (f *FileStore) Prune(_ context.Context, sessionID string, olderThan time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, err := f.load(sessionID)
	if err != nil || msgs == nil {
		return err
	}
	return f.save(sessionID, keepAfter(msgs, time.Now().Add(-olderThan)))
}

func (f *FileStore) Sessions(_ context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements ConversationStore; nothing is held open.
func (f *FileStore) Close() error { return nil }
