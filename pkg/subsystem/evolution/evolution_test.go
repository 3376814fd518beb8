// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package evolution

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

func outcome(ok bool, latency float64) subsystem.Data {
	return subsystem.Data{subsystem.KeySuccess: ok, subsystem.KeyLatencyMS: latency}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	s := New(config.DefaultEvolution())

	empty, err := s.Evaluate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty["samples"])
	assert.Equal(t, false, empty["should_evolve"])

	_, err = s.Evaluate(ctx, outcome(true, 100))
	require.NoError(t, err)
	ev, err := s.Evaluate(ctx, outcome(false, 300))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ev["success_rate"], 1e-9)
	assert.InDelta(t, 200.0, ev["avg_latency_ms"], 1e-9)
	assert.Equal(t, true, ev["should_evolve"])
}

func TestEvolveAdvancesGeneration(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultEvolution()
	cfg.MutationRate = 0
	s := New(cfg, WithRand(rand.New(rand.NewPCG(1, 2))))

	res, err := s.Evolve(ctx, subsystem.Data{"fitness": 0.2, "should_evolve": true})
	require.NoError(t, err)
	assert.Equal(t, true, res["evolved"])

	st := s.Strategy()
	assert.Equal(t, 1, st.Generation)
	assert.InDelta(t, 0.6, st.Temperature, 1e-9)
	assert.InDelta(t, 0.7, st.Detail, 1e-9)

	out, err := s.Process(ctx, subsystem.Data{})
	require.NoError(t, err)
	assert.Equal(t, 1, out[subsystem.KeyGeneration])
}

func TestEvolveStopsAtLimit(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultEvolution()
	cfg.GenerationLimit = 2
	s := New(cfg, WithRand(rand.New(rand.NewPCG(3, 4))))

	for range 5 {
		require.NoError(t, s.Adapt(ctx, outcome(false, 10)))
	}
	assert.Equal(t, 2, s.Strategy().Generation)

	ev, err := s.Evaluate(ctx, outcome(false, 10))
	require.NoError(t, err)
	assert.Equal(t, false, ev["should_evolve"])
	assert.Equal(t, 0, ev["generation_left"])
}

func TestSuccessDoesNotEvolve(t *testing.T) {
	ctx := context.Background()
	s := New(config.DefaultEvolution())
	for range 3 {
		require.NoError(t, s.Adapt(ctx, outcome(true, 5)))
	}
	assert.Zero(t, s.Strategy().Generation)

	a, err := s.Analyze(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, a["best_fitness"], 1e-9)
}
