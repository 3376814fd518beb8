// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/visionsync/pkg/agent"
	"github.com/jllopis/visionsync/pkg/memory"
)

// Pruner drops data past its retention.
type Pruner interface {
	Prune(ctx context.Context) error
}

// PrunerFunc adapts a function to Pruner.
type PrunerFunc func(ctx context.Context) error

func (f PrunerFunc) Prune(ctx context.Context) error { return f(ctx) }

// WithPruner registers p with the retention sweeper.
func WithPruner(p Pruner) Option {
	return func(r *LocalRuntime) {
		if p != nil {
			r.pruners = append(r.pruners, p)
		}
	}
}

// WithSweepInterval sets how often pruners run. Zero disables the sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(r *LocalRuntime) { r.sweepEvery = d }
}

// WithSweepTimeout bounds one sweep.
func WithSweepTimeout(d time.Duration) Option {
	return func(r *LocalRuntime) { r.sweepTimeout = d }
}

// StorePruner drops messages older than retention from every session of s.
func StorePruner(s memory.ConversationStore, retention time.Duration) Pruner {
	return PrunerFunc(func(ctx context.Context) error {
		ids, err := s.Sessions(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.Prune(ctx, id, retention); err != nil {
				return fmt.Errorf("prune session %s: %w", id, err)
			}
		}
		return nil
	})
}

// agentsPruner prunes the learning store of every live agent.
type agentsPruner struct{ r *LocalRuntime }

func (p agentsPruner) Prune(ctx context.Context) error {
	for _, c := range p.r.reg.List() {
		a, ok := c.Agent().(*agent.Agent)
		if !ok {
			continue
		}
		if err := a.Prune(ctx); err != nil {
			return fmt.Errorf("prune context %s: %w", c.ID(), err)
		}
	}
	return nil
}

// startSweeper is called with r.mu held.
func (r *LocalRuntime) startSweeper() {
	pruners := append([]Pruner{agentsPruner{r}}, r.pruners...)
	if r.sweepEvery <= 0 {
		r.logger.Info("runtime.sweeper.disabled", slog.Int("pruners", len(pruners)))
		return
	}
	if r.sweepCancel != nil {
		r.stopSweeper()
	}
	initSweepMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.sweepCancel = cancel
	r.sweepDone = done
	every, timeout := r.sweepEvery, r.sweepTimeout

	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		r.logger.Info("runtime.sweeper.start",
			slog.Duration("interval", every),
			slog.Int("pruners", len(pruners)),
		)
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("runtime.sweeper.stop")
				return
			case <-ticker.C:
				r.sweep(ctx, pruners, timeout)
			}
		}
	}()
}

func (r *LocalRuntime) sweep(ctx context.Context, pruners []Pruner, timeout time.Duration) {
	start := time.Now()
	sweepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sweepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	tracer := otel.Tracer("visionsync/runtime")
	sweepCtx, span := tracer.Start(sweepCtx, "runtime.sweep",
		trace.WithAttributes(attribute.Int("pruners", len(pruners))))
	defer span.End()
	traceID, spanID := traceIDs(span)

	for _, p := range pruners {
		name := prunerName(p)
		pctx, pspan := tracer.Start(sweepCtx, "runtime.prune",
			trace.WithAttributes(attribute.String("pruner", name)))
		pstart := time.Now()
		err := p.Prune(pctx)
		durationMs := float64(time.Since(pstart).Microseconds()) / 1000
		attrs := metric.WithAttributes(attribute.String("pruner", name))
		sweepCounter.Add(ctx, 1, attrs)
		sweepLatencyMs.Record(ctx, durationMs, attrs)
		if err != nil {
			sweepErrorCounter.Add(ctx, 1, attrs)
			pspan.RecordError(err)
			r.logger.Warn("runtime.prune.error",
				slog.String("pruner", name),
				slog.Float64("duration_ms", durationMs),
				slog.String("error", err.Error()),
			)
		}
		pspan.End()
	}
	r.logger.Debug("runtime.sweep.complete",
		slog.Int("pruners", len(pruners)),
		slog.Duration("elapsed", time.Since(start)),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
}

// stopSweeper is called with r.mu held.
func (r *LocalRuntime) stopSweeper() {
	if r.sweepCancel == nil {
		return
	}
	r.sweepCancel()
	if r.sweepDone != nil {
		<-r.sweepDone
	}
	r.sweepCancel = nil
	r.sweepDone = nil
}

var (
	sweepMetricsOnce  sync.Once
	sweepCounter      metric.Int64Counter
	sweepErrorCounter metric.Int64Counter
	sweepLatencyMs    metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("visionsync/runtime")
		sweepCounter, _ = meter.Int64Counter("visionsync.runtime.prune.count")
		sweepErrorCounter, _ = meter.Int64Counter("visionsync.runtime.prune.error.count")
		sweepLatencyMs, _ = meter.Float64Histogram("visionsync.runtime.prune.latency_ms")
	})
}

func prunerName(p Pruner) string {
	if _, ok := p.(PrunerFunc); ok {
		return "func"
	}
	return fmt.Sprintf("%T", p)
}
