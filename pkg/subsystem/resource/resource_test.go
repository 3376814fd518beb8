// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

func fixed(u Usage) Sampler { return func() Usage { return u } }

func TestManageReleasesOnError(t *testing.T) {
	s := New(config.DefaultResource())
	released := 0
	r := DisposeFunc(func(context.Context) error { released++; return nil })

	boom := errors.New("boom")
	err := s.Manage(context.Background(), r, func(context.Context) error {
		assert.Equal(t, 1, s.Tracked())
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, released)
	assert.Zero(t, s.Tracked())
}

func TestManageReleasesOnPanic(t *testing.T) {
	s := New(config.DefaultResource())
	released := false
	r := DisposeFunc(func(context.Context) error { released = true; return nil })

	assert.Panics(t, func() {
		_ = s.Manage(context.Background(), r, func(context.Context) error { panic("x") })
	})
	assert.True(t, released)
}

func TestManageJoinsReleaseError(t *testing.T) {
	s := New(config.DefaultResource())
	r := DisposeFunc(func(context.Context) error { return errors.New("stuck") })
	err := s.Manage(context.Background(), r, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release resource: stuck")
}

func TestAllocateDynamic(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultResource()

	s := New(cfg, WithSampler(fixed(Usage{HeapAlloc: 25, HeapSys: 100, Goroutines: 10, Procs: 8})))
	plan, err := s.AllocateResources(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, false, plan["throttle"])
	assert.Equal(t, 6, plan["workers"])

	hot := New(cfg, WithSampler(fixed(Usage{HeapAlloc: 95, HeapSys: 100, Goroutines: 10, Procs: 8})))
	plan, err = hot.AllocateResources(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, true, plan["throttle"])
	assert.Equal(t, 1, plan["workers"])
}

func TestAllocateStaticAndUnknown(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultResource()
	cfg.AllocationStrategy = "static"
	plan, err := New(cfg).AllocateResources(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "static", plan["strategy"])

	cfg.AllocationStrategy = "greedy"
	_, err = New(cfg).AllocateResources(ctx, nil)
	assert.Error(t, err)
}

func TestProcessAndAnalyze(t *testing.T) {
	ctx := context.Background()
	s := New(config.DefaultResource(), WithSampler(fixed(Usage{HeapAlloc: 90, HeapSys: 100, Procs: 2})))

	out, err := s.Process(ctx, subsystem.Data{subsystem.KeyUserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out[subsystem.KeyUserMessage])
	assert.Contains(t, out, subsystem.KeyUsage)
	assert.Contains(t, out, subsystem.KeyAllocation)

	require.NoError(t, s.Adapt(ctx, subsystem.Data{subsystem.KeySuccess: true}))
	require.NoError(t, s.Adapt(ctx, subsystem.Data{subsystem.KeySuccess: false}))

	a, err := s.Analyze(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, a["success_rate"], 1e-9)
	assert.InDelta(t, 0.9, a["peak_memory"], 1e-9)
	assert.NotEmpty(t, a["recommendations"])
}
