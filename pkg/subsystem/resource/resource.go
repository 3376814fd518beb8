// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package resource tracks disposable resources and process usage, and plans
// per-turn allocations.
package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

// Disposable is anything that must be released once a turn is done with it.
type Disposable interface {
	Dispose(ctx context.Context) error
}

// DisposeFunc adapts a function to Disposable.
type DisposeFunc func(ctx context.Context) error

func (f DisposeFunc) Dispose(ctx context.Context) error { return f(ctx) }

// Usage is one process usage sample.
type Usage struct {
	HeapAlloc  uint64
	HeapSys    uint64
	Goroutines int
	Procs      int
}

// MemoryRatio is the share of obtained heap currently allocated.
func (u Usage) MemoryRatio() float64 {
	if u.HeapSys == 0 {
		return 0
	}
	return float64(u.HeapAlloc) / float64(u.HeapSys)
}

// Load approximates CPU pressure as runnable goroutines per processor,
// saturating at 1 with 100 goroutines per processor.
func (u Usage) Load() float64 {
	if u.Procs <= 0 {
		return 0
	}
	l := float64(u.Goroutines) / float64(u.Procs*100)
	if l > 1 {
		return 1
	}
	return l
}

// Sampler reads current usage.
type Sampler func() Usage

// RuntimeSampler samples the Go runtime.
func RuntimeSampler() Usage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Usage{
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		Goroutines: runtime.NumGoroutine(),
		Procs:      runtime.GOMAXPROCS(0),
	}
}

// Option configures a System.
type Option func(*System)

// WithSampler replaces the runtime sampler.
func WithSampler(s Sampler) Option {
	return func(sys *System) { sys.sample = s }
}

// System implements subsystem.ResourceSystem.
type System struct {
	cfg    config.ResourceConfig
	sample Sampler

	mu        sync.Mutex
	tracked   map[string]Disposable
	successes int
	failures  int
	peak      float64
}

var _ subsystem.ResourceSystem = (*System)(nil)

func New(cfg config.ResourceConfig, opts ...Option) *System {
	s := &System{
		cfg:     cfg,
		sample:  RuntimeSampler,
		tracked: map[string]Disposable{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *System) Kind() subsystem.Kind { return subsystem.KindResource }

// Track registers r and returns its handle.
func (s *System) Track(r Disposable) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.tracked[id] = r
	s.mu.Unlock()
	return id
}

// Release disposes the resource behind id. Unknown ids are ignored.
func (s *System) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.tracked[id]
	delete(s.tracked, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Dispose(ctx)
}

// Manage tracks r for the duration of fn and releases it afterwards, even
// when fn fails or panics.
func (s *System) Manage(ctx context.Context, r Disposable, fn func(context.Context) error) (err error) {
	id := s.Track(r)
	defer func() {
		if rerr := s.Release(context.WithoutCancel(ctx), id); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release resource: %w", rerr))
		}
	}()
	return fn(ctx)
}

// Tracked returns the number of live resources.
func (s *System) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// Close releases every tracked resource.
func (s *System) Close(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		errs = append(errs, s.Release(ctx, id))
	}
	return errors.Join(errs...)
}

func (s *System) MonitorUsage(_ context.Context) (subsystem.Data, error) {
	u := s.sample()
	mem := u.MemoryRatio()

	s.mu.Lock()
	if mem > s.peak {
		s.peak = mem
	}
	tracked := len(s.tracked)
	s.mu.Unlock()

	return subsystem.Data{
		"heap_alloc":        u.HeapAlloc,
		"heap_sys":          u.HeapSys,
		"goroutines":        u.Goroutines,
		"memory_usage":      mem,
		"cpu_usage":         u.Load(),
		"tracked_resources": tracked,
	}, nil
}

// AllocateResources plans the turn budget. The static strategy always grants
// a single worker; the dynamic one scales workers with the headroom left
// under the configured ceilings and throttles when either is exceeded.
func (s *System) AllocateResources(ctx context.Context, req subsystem.Data) (subsystem.Data, error) {
	u := s.sample()
	mem, cpu := u.MemoryRatio(), u.Load()

	switch s.cfg.AllocationStrategy {
	case "static":
		return subsystem.Data{"strategy": "static", "workers": 1, "throttle": false}, nil
	case "dynamic", "":
	default:
		return nil, fmt.Errorf("unknown allocation strategy %q", s.cfg.AllocationStrategy)
	}

	throttle := mem > s.cfg.MaxMemoryUsage || cpu > s.cfg.MaxCPUUsage
	workers := 1
	if !throttle && u.Procs > 1 {
		headroom := min(1-mem, 1-cpu)
		workers = max(1, int(float64(u.Procs)*headroom))
	}
	if want, ok := req["workers"].(int); ok && want > 0 && want < workers {
		workers = want
	}
	return subsystem.Data{
		"strategy":     "dynamic",
		"workers":      workers,
		"throttle":     throttle,
		"memory_usage": mem,
		"cpu_usage":    cpu,
	}, nil
}

// Process attaches a usage sample and an allocation plan to the loop data.
func (s *System) Process(ctx context.Context, in subsystem.Data) (subsystem.Data, error) {
	usage, err := s.MonitorUsage(ctx)
	if err != nil {
		return nil, err
	}
	alloc, err := s.AllocateResources(ctx, in)
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	out[subsystem.KeyUsage] = usage
	out[subsystem.KeyAllocation] = alloc
	return out, nil
}

func (s *System) Analyze(_ context.Context, _ subsystem.Data) (subsystem.Data, error) {
	u := s.sample()
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.successes + s.failures
	rate := 0.0
	if total > 0 {
		rate = float64(s.successes) / float64(total)
	}
	var recs []string
	if u.MemoryRatio() > s.cfg.OptimizationThreshold {
		recs = append(recs, "memory usage above optimization threshold; release idle resources")
	}
	if len(s.tracked) > 0 {
		recs = append(recs, fmt.Sprintf("%d resources still tracked", len(s.tracked)))
	}
	return subsystem.Data{
		"successes":       s.successes,
		"failures":        s.failures,
		"success_rate":    rate,
		"peak_memory":     s.peak,
		"recommendations": recs,
	}, nil
}

// Adapt counts turn outcomes.
func (s *System) Adapt(_ context.Context, feedback subsystem.Data) error {
	ok, _ := feedback[subsystem.KeySuccess].(bool)
	s.mu.Lock()
	if ok {
		s.successes++
	} else {
		s.failures++
	}
	s.mu.Unlock()
	return nil
}
