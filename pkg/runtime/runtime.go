// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime hosts agent sessions in process: it owns the context
// registry, builds a root agent for every new context and runs messages
// through them with tracing and structured logs.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/visionsync/pkg/agent"
	"github.com/jllopis/visionsync/pkg/agentctx"
	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/core"
	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/log"
	"github.com/jllopis/visionsync/pkg/memory"
)

// ErrNotStarted is returned by Send before Start or after Stop.
var ErrNotStarted = stderrors.New("runtime not started")

// Runtime defines the minimal lifecycle for hosting agent sessions.
type Runtime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, contextID, message string) (Reply, error)
}

// Reply is the outcome of one message.
type Reply struct {
	ContextID string `json:"context_id"`
	Result    any    `json:"result"`
}

// LocalRuntime is the in-process Runtime.
type LocalRuntime struct {
	mu      sync.RWMutex
	started bool
	cfg     *config.AgentConfig

	// sessMu serializes context get-or-create, rebuilds and removal;
	// busy counts the Sends in flight per context.
	sessMu sync.Mutex
	busy   map[string]int

	reg       *agentctx.Registry
	agentOpts []agent.Option
	store     memory.ConversationStore
	events    *core.Recorder
	emitters  []core.EventEmitter
	health    *core.Health
	sinks     *log.SinkConfig
	tracer    trace.Tracer
	logger    *slog.Logger

	pruners      []Pruner
	sweepEvery   time.Duration
	sweepTimeout time.Duration
	sweepCancel  context.CancelFunc
	sweepDone    chan struct{}
}

var _ Runtime = (*LocalRuntime)(nil)

type Option func(*LocalRuntime)

// WithConfig sets the configuration new contexts start with.
func WithConfig(cfg *config.AgentConfig) Option {
	return func(r *LocalRuntime) { r.cfg = cfg }
}

// WithAgentOptions adds options to every root agent the runtime builds.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(r *LocalRuntime) { r.agentOpts = append(r.agentOpts, opts...) }
}

// WithStore persists conversations. Defaults to an in-memory store.
func WithStore(s memory.ConversationStore) Option {
	return func(r *LocalRuntime) { r.store = s }
}

// WithLogSinks writes every context log to rotating files under cfg.Dir.
func WithLogSinks(cfg log.SinkConfig) Option {
	return func(r *LocalRuntime) { r.sinks = &cfg }
}

// WithEventCapacity bounds the number of events kept for inspection.
func WithEventCapacity(n int) Option {
	return func(r *LocalRuntime) { r.events = core.NewRecorder(n) }
}

// WithEmitter forwards every agent event to e as well as to the recorder.
func WithEmitter(e core.EventEmitter) Option {
	return func(r *LocalRuntime) { r.emitters = append(r.emitters, e) }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *LocalRuntime) { r.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *LocalRuntime) { r.tracer = t }
}

// NewLocal creates a new LocalRuntime instance.
func NewLocal(opts ...Option) *LocalRuntime {
	r := &LocalRuntime{
		cfg:    config.Default(),
		busy:   map[string]int{},
		events: core.NewRecorder(1000),
		health: core.NewHealth(),
		tracer: otel.Tracer("visionsync/runtime"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = memory.NewInMemoryStore(memory.StoreConfig{})
	}

	regOpts := []agentctx.RegistryOption{
		agentctx.WithLogger(r.logger),
		agentctx.WithAgentFactory(r.newAgent),
	}
	if r.sinks != nil {
		regOpts = append(regOpts, agentctx.WithLogFactory(r.newLog))
	}
	r.reg = agentctx.NewRegistry(regOpts...)

	r.health.Register("runtime", core.HealthFunc(r.checkStarted))
	r.health.Register("store", core.HealthFunc(r.checkStore))
	return r
}

func (r *LocalRuntime) newAgent(c *agentctx.Context) (agentctx.Agent, error) {
	opts := append([]agent.Option{
		agent.WithStore(r.store),
		agent.WithEmitter(append(core.Fanout{r.events}, r.emitters...)),
		agent.WithLogger(r.logger),
		agent.WithTracer(otel.Tracer("visionsync/agent")),
	}, r.agentOpts...)
	a, err := agent.Factory(opts...)(c)
	if err != nil {
		return nil, err
	}
	if err := a.(*agent.Agent).LoadHistory(context.Background()); err != nil {
		r.logger.Warn("runtime.history.load_error",
			slog.String("context_id", c.ID()),
			slog.String("error", err.Error()),
		)
	}
	return a, nil
}

// newLog mirrors context logs to slog and to rotating text and JSON files.
func (r *LocalRuntime) newLog(id, name string) *log.Log {
	sinks := []log.Sink{log.NewSlogSink(r.logger)}
	files, err := log.NewFileSinks("context-"+id, *r.sinks)
	if err != nil {
		r.logger.Warn("runtime.log.sinks_error", slog.String("error", err.Error()))
	} else {
		sinks = append(sinks, files...)
	}
	return log.New(
		log.WithName(name),
		log.WithContextID(id),
		log.WithSinks(sinks...),
	)
}

// Start marks the runtime as ready and starts the retention sweeper.
func (r *LocalRuntime) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true
	r.startSweeper()
	r.logger.Info("runtime.start", slog.Int("contexts", r.reg.Len()))
	return nil
}

// Stop stops the sweeper, deactivates every context and releases agent
// resources. The store is closed last.
func (r *LocalRuntime) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.stopSweeper()
	r.mu.Unlock()

	var errs []error
	for _, c := range r.reg.List() {
		c.Deactivate()
		if a, ok := c.Agent().(*agent.Agent); ok {
			errs = append(errs, a.Close())
		}
	}
	errs = append(errs, r.reg.Close())
	errs = append(errs, r.store.Close())
	r.logger.Info("runtime.stop")
	return stderrors.Join(errs...)
}

func (r *LocalRuntime) isStarted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

// Registry returns the context registry.
func (r *LocalRuntime) Registry() *agentctx.Registry { return r.reg }

func (r *LocalRuntime) Store() memory.ConversationStore { return r.store }

// Events returns the recorded agent events.
func (r *LocalRuntime) Events() *core.Recorder { return r.events }

func (r *LocalRuntime) Health() *core.Health { return r.health }

// Config returns the configuration new contexts start with.
func (r *LocalRuntime) Config() *config.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// SetConfig replaces the configuration. Idle contexts get a fresh root agent
// built from cfg with their history carried over; busy ones keep theirs
// until the next SetConfig.
func (r *LocalRuntime) SetConfig(cfg *config.AgentConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	for _, c := range r.reg.List() {
		old, ok := c.Agent().(*agent.Agent)
		if !ok || old.Number() != 0 || c.Parent() != nil || old.Running() || r.busy[c.ID()] > 0 {
			continue
		}
		c.SetConfig(cfg)
		fresh, err := r.newAgent(c)
		if err != nil {
			r.logger.Warn("runtime.config.rebuild_error",
				slog.String("context_id", c.ID()),
				slog.String("error", err.Error()),
			)
			c.SetAgent(old)
			continue
		}
		fresh.(*agent.Agent).SetHistory(old.History())
		if err := old.Close(); err != nil {
			r.logger.Warn("runtime.agent.close_error", slog.String("error", err.Error()))
		}
	}
	r.logger.Info("runtime.config.updated")
}

// Agent returns the root agent of context id.
func (r *LocalRuntime) Agent(id string) (*agent.Agent, bool) {
	c, ok := r.reg.Get(id)
	if !ok {
		return nil, false
	}
	a, ok := c.Agent().(*agent.Agent)
	return a, ok
}

// Session returns the agent of context id, creating the context when it
// does not exist. An empty id creates a context with a fresh one.
func (r *LocalRuntime) Session(id string) (*agent.Agent, error) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	return r.sessionLocked(id)
}

func (r *LocalRuntime) sessionLocked(id string) (*agent.Agent, error) {
	if id != "" {
		if a, ok := r.Agent(id); ok {
			return a, nil
		}
	}
	var opts []agentctx.CreateOption
	if id != "" {
		opts = append(opts, agentctx.WithID(id))
	}
	c, err := r.reg.Create(r.Config(), opts...)
	if err != nil {
		return nil, err
	}
	a, ok := c.Agent().(*agent.Agent)
	if !ok {
		return nil, fmt.Errorf("context %s has no agent", c.ID())
	}
	return a, nil
}

// Send runs message through the root agent of contextID.
func (r *LocalRuntime) Send(ctx context.Context, contextID, message string) (Reply, error) {
	if !r.isStarted() {
		return Reply{}, ErrNotStarted
	}
	a, release, err := r.acquire(contextID)
	if err != nil {
		return Reply{}, err
	}
	defer release()
	id := a.Context().ID()

	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := r.tracer.Start(ctx, "Runtime.Send", trace.WithAttributes(
		attribute.String("context.id", id),
	))
	defer span.End()
	traceID, spanID := traceIDs(span)

	r.logger.Info("runtime.run.start",
		slog.String("context_id", id),
		slog.String("run_id", runID),
	)
	result, err := a.Communicate(ctx, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		r.logger.Error("runtime.run.error",
			slog.String("context_id", id),
			slog.String("run_id", runID),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
			slog.String("error", err.Error()),
		)
		return Reply{ContextID: id}, err
	}
	r.logger.Info("runtime.run.complete",
		slog.String("context_id", id),
		slog.String("run_id", runID),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
	return Reply{ContextID: id, Result: result}, nil
}

// acquire resolves the session for id and marks it busy until release is
// called, so SetConfig leaves its agent in place.
func (r *LocalRuntime) acquire(id string) (*agent.Agent, func(), error) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	a, err := r.sessionLocked(id)
	if err != nil {
		return nil, nil, err
	}
	id = a.Context().ID()
	r.busy[id]++
	return a, func() {
		r.sessMu.Lock()
		defer r.sessMu.Unlock()
		if r.busy[id]--; r.busy[id] <= 0 {
			delete(r.busy, id)
		}
	}, nil
}

func notFound(id string) error {
	return errors.New(errors.CodeNotFound, fmt.Sprintf("context %s not found", id), nil).
		WithContext("context_id", id)
}

func (r *LocalRuntime) get(id string) (*agentctx.Context, error) {
	c, ok := r.reg.Get(id)
	if !ok {
		return nil, notFound(id)
	}
	return c, nil
}

func (r *LocalRuntime) Pause(id string) error {
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.Pause()
	return nil
}

func (r *LocalRuntime) Resume(id string) error {
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.Resume()
	return nil
}

// Intervene queues msg for the monologue running in context id.
func (r *LocalRuntime) Intervene(ctx context.Context, id, msg string) error {
	a, ok := r.Agent(id)
	if !ok {
		return notFound(id)
	}
	a.Intervene(ctx, msg)
	return nil
}

// Remove deactivates context id and its subtree, releases its agent, closes
// every log in the subtree and forgets them all. The persisted conversation
// is dropped too.
func (r *LocalRuntime) Remove(ctx context.Context, id string) error {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.Deactivate()
	if a, ok := c.Agent().(*agent.Agent); ok {
		if err := a.Close(); err != nil {
			r.logger.Warn("runtime.agent.close_error", slog.String("context_id", id), slog.String("error", err.Error()))
		}
	}
	for _, n := range r.reg.RemoveTree(id) {
		if err := n.Log().Close(); err != nil {
			r.logger.Warn("runtime.log.close_error", slog.String("context_id", n.ID()), slog.String("error", err.Error()))
		}
	}
	return r.store.Clear(ctx, id)
}

// History returns the committed conversation of context id.
func (r *LocalRuntime) History(id string) ([]memory.Message, error) {
	a, ok := r.Agent(id)
	if !ok {
		return nil, notFound(id)
	}
	return a.History(), nil
}

// ImportHistory replaces the conversation of context id, creating the
// context when needed.
func (r *LocalRuntime) ImportHistory(ctx context.Context, id string, msgs []memory.Message) (string, error) {
	a, err := r.Session(id)
	if err != nil {
		return "", err
	}
	id = a.Context().ID()
	msgs = slices.Clone(msgs)
	for i := range msgs {
		msgs[i].SessionID = id
	}
	if err := r.store.Replace(ctx, id, msgs); err != nil {
		return "", err
	}
	a.SetHistory(msgs)
	return id, nil
}

func (r *LocalRuntime) checkStarted(context.Context) core.HealthResult {
	if r.isStarted() {
		return core.HealthResult{Status: core.HealthHealthy, Component: "runtime",
			Message: fmt.Sprintf("%d contexts", r.reg.Len())}
	}
	return core.HealthResult{Status: core.HealthUnhealthy, Component: "runtime", Message: "not started"}
}

func (r *LocalRuntime) checkStore(ctx context.Context) core.HealthResult {
	if _, err := r.store.Sessions(ctx); err != nil {
		return core.HealthResult{Status: core.HealthDegraded, Component: "store", Message: err.Error()}
	}
	return core.HealthResult{Status: core.HealthHealthy, Component: "store"}
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}
