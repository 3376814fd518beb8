// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T, cfg StoreConfig) map[string]ConversationStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), cfg)
	require.NoError(t, err)

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	sqlStore, err := NewSQLStore(context.Background(), db, "", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]ConversationStore{
		"inmemory": NewInMemoryStore(cfg),
		"file":     fs,
		"sqlite":   sqlStore,
	}
}

func TestConversationStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t, StoreConfig{}) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append(ctx, "s1",
				Message{Role: RoleUser, Content: "hello"},
				Message{Role: RoleAssistant, Content: "hi", Metadata: map[string]string{"k": "v"}},
			))
			require.NoError(t, store.Append(ctx, "s2", Message{Role: RoleUser, Content: "other"}))

			msgs, err := store.Messages(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, "hello", msgs[0].Content)
			assert.Equal(t, "s1", msgs[0].SessionID)
			assert.NotEmpty(t, msgs[0].ID)
			assert.Equal(t, "v", msgs[1].Metadata["k"])

			recent, err := store.Recent(ctx, "s1", 1)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			assert.Equal(t, "hi", recent[0].Content)

			ids, err := store.Sessions(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"s1", "s2"}, ids)

			require.NoError(t, store.Replace(ctx, "s1", []Message{{Role: RoleUser, Content: "fresh"}}))
			msgs, err = store.Messages(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, "fresh", msgs[0].Content)

			require.NoError(t, store.Clear(ctx, "s1"))
			msgs, err = store.Messages(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, msgs)

			missing, err := store.Messages(ctx, "nope")
			require.NoError(t, err)
			assert.Empty(t, missing)
		})
	}
}

func TestStorePrune(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t, StoreConfig{}) {
		t.Run(name, func(t *testing.T) {
			old := Message{Role: RoleUser, Content: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}
			require.NoError(t, store.Append(ctx, "s", old, Message{Role: RoleUser, Content: "new"}))
			require.NoError(t, store.Prune(ctx, "s", 24*time.Hour))

			msgs, err := store.Messages(ctx, "s")
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, "new", msgs[0].Content)
		})
	}
}

func TestStoreAppliesStrategy(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t, StoreConfig{Strategy: NewWindowStrategy(2, false)}) {
		t.Run(name, func(t *testing.T) {
			for _, c := range []string{"a", "b", "c"} {
				require.NoError(t, store.Append(ctx, "s", Message{Role: RoleUser, Content: c}))
			}
			msgs, err := store.Messages(ctx, "s")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, "b", msgs[0].Content)
		})
	}
}

func contents(msgs []Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, ",")
}

func TestWindowStrategyKeepsSystem(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "1"},
		{Role: RoleAssistant, Content: "2"},
		{Role: RoleUser, Content: "3"},
	}
	out, err := NewWindowStrategy(2, true).Truncate(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "sys,3", contents(out))

	out, err = NewWindowStrategy(2, false).Truncate(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "2,3", contents(out))
}

func TestTokenStrategy(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: strings.Repeat("s", 8)},
		{Role: RoleUser, Content: strings.Repeat("a", 40)},
		{Role: RoleAssistant, Content: strings.Repeat("b", 8)},
		{Role: RoleUser, Content: strings.Repeat("c", 8)},
	}
	// 2 + 10 + 2 + 2 tokens; a budget of 6 keeps system plus the last two.
	out, err := NewTokenStrategy(6, true).Truncate(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.Equal(t, msgs[3].Content, out[2].Content)

	out, err = NewTokenStrategy(100, true).Truncate(context.Background(), msgs)
	require.NoError(t, err)
	assert.Len(t, out, 4)
}

func TestSummaryStrategy(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "1"},
		{Role: RoleAssistant, Content: "2"},
		{Role: RoleUser, Content: "3"},
		{Role: RoleAssistant, Content: "4"},
	}
	s := NewSummaryStrategy(3, 2, func(_ context.Context, in []Message) (string, error) {
		return "sum(" + contents(in) + ")", nil
	})
	out, err := s.Truncate(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "sum(1,2)")
	assert.Equal(t, "2", out[0].Metadata["summarized_count"])

	failing := NewSummaryStrategy(3, 2, func(context.Context, []Message) (string, error) {
		return "", errors.New("down")
	})
	out, err = failing.Truncate(context.Background(), msgs)
	assert.Error(t, err)
	assert.Len(t, out, 4)
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

type fakeVectors struct {
	created map[string]uint64
	points  []Point
	cutoff  time.Time
}

func (f *fakeVectors) CreateCollection(_ context.Context, name string, size uint64) error {
	if f.created == nil {
		f.created = map[string]uint64{}
	}
	f.created[name] = size
	return nil
}

func (f *fakeVectors) Upsert(_ context.Context, _ string, points []Point) error {
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeVectors) Search(_ context.Context, _ string, _ []float32, limit int, _ float32) ([]SearchResult, error) {
	var out []SearchResult
	for _, p := range f.points {
		if len(out) == limit {
			break
		}
		out = append(out, SearchResult{ID: p.ID, Score: 1, Point: p})
	}
	return out, nil
}

func (f *fakeVectors) DeleteBefore(_ context.Context, _ string, cutoff time.Time) error {
	f.cutoff = cutoff
	return nil
}

func TestVectorMemory(t *testing.T) {
	ctx := context.Background()
	store := &fakeVectors{}
	vm := NewVectorMemory(store, fakeEmbedder{}, "experiences")

	require.NoError(t, vm.Initialize(ctx))
	assert.Equal(t, uint64(2), store.created["experiences"])

	id, err := vm.Store(ctx, "", "deploy went fine", map[string]any{"score": 0.9})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, store.points, 1)
	assert.Equal(t, "deploy went fine", store.points[0].Payload["text"])
	assert.Contains(t, store.points[0].Payload, "timestamp")

	res, err := vm.Search(ctx, "deploy", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, id, res[0].ID)

	cut := time.Now()
	require.NoError(t, vm.Prune(ctx, cut))
	assert.Equal(t, cut, store.cutoff)
}
