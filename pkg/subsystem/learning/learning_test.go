// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package learning

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/memory"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

func turn(msg, resp string, success bool) subsystem.Data {
	return subsystem.Data{
		subsystem.KeyUserMessage: msg,
		subsystem.KeyResponse:    resp,
		subsystem.KeySuccess:     success,
	}
}

func TestLearnThresholdAndRecall(t *testing.T) {
	ctx := context.Background()
	s := New(config.DefaultLearning(), nil)

	require.NoError(t, s.Learn(ctx, turn("deploy the api service", "done via helm", true)))
	require.NoError(t, s.Learn(ctx, turn("deploy the worker", "failed", false)))
	require.NoError(t, s.Learn(ctx, subsystem.Data{subsystem.KeyUserMessage: "deploy docs", "score": 0.5}))

	out, err := s.Process(ctx, subsystem.Data{subsystem.KeyUserMessage: "please deploy the api"})
	require.NoError(t, err)
	exps, ok := out[subsystem.KeyRecall].([]Experience)
	require.True(t, ok)
	require.Len(t, exps, 1)
	assert.Equal(t, "done via helm", exps[0].Outcome)
	assert.Greater(t, exps[0].Relevance, 0.0)

	a, err := s.Analyze(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a["stored"])
	assert.Equal(t, 2, a["skipped"])
	assert.Equal(t, 1, a["recalls"])
}

func TestApplyLearningWithoutMatches(t *testing.T) {
	s := New(config.DefaultLearning(), nil)
	in := subsystem.Data{subsystem.KeyUserMessage: "unrelated"}
	out, err := s.ApplyLearning(context.Background(), in)
	require.NoError(t, err)
	assert.NotContains(t, out, subsystem.KeyRecall)
}

func TestRetentionPrunes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cfg := config.DefaultLearning()
	cfg.RetentionDays = 2
	store := NewMemoryStore(0)
	s := New(cfg, store, WithClock(clock))

	require.NoError(t, s.Learn(ctx, turn("old question", "x", true)))
	now = now.Add(72 * time.Hour)
	require.NoError(t, s.Learn(ctx, turn("new question", "y", true)))

	assert.Equal(t, 1, store.Len())
	exps, err := store.Recall(ctx, "question", 5)
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, "new question", exps[0].Input)
}

func TestMemoryStoreCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)
	for _, in := range []string{"alpha task", "beta task", "gamma task"} {
		require.NoError(t, store.Add(ctx, newExperience(in, "", 1, true, time.Now())))
	}
	assert.Equal(t, 2, store.Len())
	exps, err := store.Recall(ctx, "alpha task", 5)
	require.NoError(t, err)
	for _, e := range exps {
		assert.NotEqual(t, "alpha task", e.Input)
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultLearning()
	cfg.Backend = "sqlite"
	cfg.DSN = filepath.Join(t.TempDir(), "exp.db")
	cfg.MaxMemoryEntries = 2

	store, err := OpenStore(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Now().Add(-time.Hour)
	for i, in := range []string{"resize the cluster", "resize the disk", "rotate keys"} {
		require.NoError(t, store.Add(ctx, newExperience(in, "ok", 0.9, true, base.Add(time.Duration(i)*time.Minute))))
	}

	exps, err := store.Recall(ctx, "resize the cluster", 5)
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, "resize the disk", exps[0].Input)
	assert.True(t, exps[0].Success)

	require.NoError(t, store.Prune(ctx, time.Now()))
	exps, err = store.Recall(ctx, "rotate keys", 5)
	require.NoError(t, err)
	assert.Empty(t, exps)
}

func TestOpenStoreErrors(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultLearning()

	cfg.Backend = "sqlite"
	_, err := OpenStore(ctx, cfg, nil)
	assert.Error(t, err)

	cfg.Backend = "vector"
	_, err = OpenStore(ctx, cfg, nil)
	assert.Error(t, err)

	cfg.Backend = "tape"
	_, err = OpenStore(ctx, cfg, nil)
	assert.Error(t, err)
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

type stubVectors struct{ points []memory.Point }

func (s *stubVectors) CreateCollection(context.Context, string, uint64) error { return nil }
func (s *stubVectors) Upsert(_ context.Context, _ string, p []memory.Point) error {
	s.points = append(s.points, p...)
	return nil
}
func (s *stubVectors) Search(_ context.Context, _ string, _ []float32, _ int, _ float32) ([]memory.SearchResult, error) {
	var out []memory.SearchResult
	for _, p := range s.points {
		out = append(out, memory.SearchResult{ID: p.ID, Score: 0.8, Point: p})
	}
	return out, nil
}
func (s *stubVectors) DeleteBefore(context.Context, string, time.Time) error { return nil }

func TestVectorStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	vs := NewVectorStore(memory.NewVectorMemory(&stubVectors{}, stubEmbedder{}, "experiences"), 0.6, nil)

	e := newExperience("summarize logs", "used grep", 0.8, true, time.Unix(1700000000, 0))
	require.NoError(t, vs.Add(ctx, e))

	got, err := vs.Recall(ctx, "logs", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
	assert.Equal(t, "summarize logs", got[0].Input)
	assert.Equal(t, "used grep", got[0].Outcome)
	assert.True(t, got[0].Success)
	assert.Equal(t, e.CreatedAt.Unix(), got[0].CreatedAt.Unix())
	assert.InDelta(t, 0.8, got[0].Relevance, 1e-6)
}
