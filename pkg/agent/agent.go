// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the agent execution loop: per-turn subsystem
// processing, prompt assembly, model invocation and response handling with
// two-tier error recovery.
package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/visionsync/pkg/agentctx"
	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/core"
	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/llm"
	"github.com/jllopis/visionsync/pkg/llm/providers"
	"github.com/jllopis/visionsync/pkg/memory"
	"github.com/jllopis/visionsync/pkg/resilience"
	"github.com/jllopis/visionsync/pkg/subsystem"
	"github.com/jllopis/visionsync/pkg/subsystem/cooperation"
	"github.com/jllopis/visionsync/pkg/telemetry"
	"github.com/jllopis/visionsync/pkg/tools"
)

var (
	// ErrContextInactive is returned when a turn would start on an
	// inactive context.
	ErrContextInactive = stderrors.New("agent: context is inactive")

	// ErrBusy is returned when a monologue is already running.
	ErrBusy = errors.New(errors.CodeInvalidInput, "agent is busy with another message", nil)
)

// defaultLimiters is shared by agents built without WithLimiters so every
// caller of one provider model draws from the same budget.
var defaultLimiters = llm.NewLimiters()

// SystemsFactory builds the enhancement systems of one agent.
type SystemsFactory func(ctx context.Context, cfg *config.AgentConfig) (subsystem.Set, error)

// Agent owns one context, its configuration, seven enhancement systems and
// the conversation history, and runs the monologue loop over them.
type Agent struct {
	number int
	cfg    *config.AgentConfig

	reg        *agentctx.Registry
	actx       *agentctx.Context
	raw        subsystem.Set
	systems    subsystem.Set
	newSystems SystemsFactory
	model      llm.Caller
	limiters   *llm.Limiters
	tools      tools.Processor
	prompts    Prompts
	truncate   memory.Strategy
	store      memory.ConversationStore

	emitter     core.EventEmitter
	tracer      trace.Tracer
	logger      *slog.Logger
	loopMetrics *telemetry.LoopMetrics
	errMetrics  *telemetry.ErrorMetrics
	sleep       func(ctx context.Context, d time.Duration) error

	steps     Steps
	overrides func(Steps) Steps

	superior *Agent
	depth    int

	mu              sync.Mutex
	history         []memory.Message
	pending         []memory.Message
	lastUserMessage string
	intervention    *string
	loopData        subsystem.Data
	turn            int
	running         bool
}

var _ agentctx.Agent = (*Agent)(nil)

// Option configures an Agent instance.
type Option func(*Agent) error

// WithContext attaches the agent to an existing context.
func WithContext(c *agentctx.Context) Option {
	return func(a *Agent) error {
		a.actx = c
		return nil
	}
}

// WithRegistry sets the registry used to create this agent's context when
// none is supplied, and the contexts of delegated sub-agents.
func WithRegistry(r *agentctx.Registry) Option {
	return func(a *Agent) error {
		a.reg = r
		return nil
	}
}

// WithSystems sets the enhancement systems. They are gated by the agent
// configuration.
func WithSystems(s subsystem.Set) Option {
	return func(a *Agent) error {
		if err := s.Validate(); err != nil {
			return err
		}
		a.raw = s
		return nil
	}
}

// WithSystemsFactory sets how systems are built for this agent when
// WithSystems is absent, and for its sub-agents.
func WithSystemsFactory(f SystemsFactory) Option {
	return func(a *Agent) error {
		a.newSystems = f
		return nil
	}
}

// WithModel sets the chat model boundary.
func WithModel(m llm.Caller) Option {
	return func(a *Agent) error {
		a.model = m
		return nil
	}
}

// WithLimiters shares rate limiters when the agent builds its own model
// caller.
func WithLimiters(ls *llm.Limiters) Option {
	return func(a *Agent) error {
		a.limiters = ls
		return nil
	}
}

// WithTools replaces the tool execution boundary.
func WithTools(p tools.Processor) Option {
	return func(a *Agent) error {
		a.tools = p
		return nil
	}
}

// WithPrompts sets the prompt templates.
func WithPrompts(p Prompts) Option {
	return func(a *Agent) error {
		a.prompts = p
		return nil
	}
}

// WithTruncation sets how history is cut to fit the model context.
func WithTruncation(s memory.Strategy) Option {
	return func(a *Agent) error {
		a.truncate = s
		return nil
	}
}

// WithStore persists committed history under the context id.
func WithStore(s memory.ConversationStore) Option {
	return func(a *Agent) error {
		a.store = s
		return nil
	}
}

// WithEmitter sets the event sink.
func WithEmitter(e core.EventEmitter) Option {
	return func(a *Agent) error {
		a.emitter = e
		return nil
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) error {
		a.tracer = t
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) error {
		a.logger = l
		return nil
	}
}

// WithMetrics records loop and error metrics.
func WithMetrics(lm *telemetry.LoopMetrics, em *telemetry.ErrorMetrics) Option {
	return func(a *Agent) error {
		a.loopMetrics, a.errMetrics = lm, em
		return nil
	}
}

// WithSleep replaces the backoff wait between retried turns.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Agent) error {
		a.sleep = fn
		return nil
	}
}

// WithSteps overrides loop steps. fn receives the defaults and returns the
// steps to use.
func WithSteps(fn func(Steps) Steps) Option {
	return func(a *Agent) error {
		a.overrides = fn
		return nil
	}
}

func withSuperior(s *Agent, depth int) Option {
	return func(a *Agent) error {
		a.superior, a.depth = s, depth
		return nil
	}
}

// New builds agent number for cfg. Without WithContext a context is created
// in the registry with this agent attached. Without WithModel the chat
// model binding is resolved from the provider table. A nil cfg means
// config.Default().
func New(number int, cfg *config.AgentConfig, opts ...Option) (*Agent, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &Agent{
		number:     number,
		cfg:        cfg,
		newSystems: DefaultSystems,
		prompts:    DefaultPrompts(),
		emitter:    core.NoopEventEmitter{},
		tracer:     otel.Tracer("visionsync/agent"),
		logger:     slog.Default(),
		sleep:      resilience.Sleep,
		loopData:   subsystem.Data{},
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.reg == nil {
		a.reg = agentctx.NewRegistry(agentctx.WithLogger(a.logger))
	}

	if a.raw.Validate() != nil {
		set, err := a.newSystems(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("build systems: %w", err)
		}
		a.raw = set
	}
	if coop, ok := a.raw.Cooperation.(*cooperation.System); ok {
		coop.SetDelegator(cooperation.DelegatorFunc(a.Delegate))
	}
	a.systems = a.raw.Gated(cfg)

	if a.model == nil {
		mc := cfg.ChatModel()
		p, err := providers.New(mc)
		if err != nil {
			return nil, err
		}
		ls := a.limiters
		if ls == nil {
			ls = defaultLimiters
		}
		a.model = llm.NewCaller(p, mc,
			llm.WithLimiters(ls),
			llm.WithTracer(a.tracer),
			llm.WithLogger(a.logger),
		)
	}
	if a.tools == nil {
		reg := tools.NewRegistry(tools.Response{}, subordinateTool(a))
		a.tools = tools.NewExecutor(reg, tools.WithLogger(a.logger), tools.WithTracer(a.tracer))
	}
	if a.truncate == nil {
		if budget := historyBudget(cfg.ChatModel()); budget > 0 {
			a.truncate = memory.NewTokenStrategy(budget, false)
		}
	}

	a.steps = a.defaultSteps()
	if a.overrides != nil {
		a.steps = a.overrides(a.steps)
	}

	if a.actx == nil {
		c, err := a.reg.Create(cfg,
			agentctx.WithName(fmt.Sprintf("agent%d", number)),
			agentctx.WithAgent(a),
		)
		if err != nil {
			return nil, err
		}
		a.actx = c
	} else {
		a.actx.SetAgent(a)
	}
	return a, nil
}

// historyBudget leaves a quarter of the model context for the system
// prompt and the reply.
func historyBudget(mc config.ModelConfig) int {
	if mc.ContextLength <= 0 {
		return 0
	}
	return mc.ContextLength * 3 / 4
}

// Number is the agent's position in its delegation chain; the root agent
// of a session is 0.
func (a *Agent) Number() int { return a.number }

func (a *Agent) Config() *config.AgentConfig { return a.cfg }

// Context returns the context the agent runs in.
func (a *Agent) Context() *agentctx.Context { return a.actx }

// Systems returns the gated enhancement systems.
func (a *Agent) Systems() subsystem.Set { return a.systems }

// Superior returns the agent that delegated to this one, if any.
func (a *Agent) Superior() *Agent { return a.superior }

// History returns a copy of the committed conversation.
func (a *Agent) History() []memory.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.history)
}

// SetHistory replaces the committed conversation.
func (a *Agent) SetHistory(msgs []memory.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = slices.Clone(msgs)
}

// LoadHistory replaces the committed conversation with the one persisted
// for this context. Without a store it is a no-op.
func (a *Agent) LoadHistory(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	msgs, err := a.store.Messages(ctx, a.actx.ID())
	if err != nil && !stderrors.Is(err, memory.ErrNotFound) {
		return err
	}
	a.SetHistory(msgs)
	return nil
}

// LastUserMessage returns the message the current or last monologue
// answers.
func (a *Agent) LastUserMessage() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUserMessage
}

// Running reports whether a monologue is in progress.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// LoopData returns a copy of the loop data of the last turn.
func (a *Agent) LoopData() subsystem.Data {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loopData.Clone()
}

// Intervene queues msg for the running monologue. A newer intervention
// replaces one not yet consumed.
func (a *Agent) Intervene(ctx context.Context, msg string) {
	a.mu.Lock()
	a.intervention = &msg
	a.mu.Unlock()
	a.actx.Log().Info("Intervention queued")
	a.emit(ctx, core.EventIntervention, map[string]any{"message": msg})
}

func (a *Agent) takeIntervention() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.intervention == nil {
		return "", false
	}
	msg := *a.intervention
	a.intervention = nil
	return msg, true
}

// Communicate answers message: it becomes the last user message and a
// monologue runs until it produces a result.
func (a *Agent) Communicate(ctx context.Context, message string) (any, error) {
	return a.monologue(ctx, &message)
}

func (a *Agent) emit(ctx context.Context, t core.EventType, payload map[string]any) {
	a.emitter.Emit(ctx, core.NewEvent(ctx, t, a.actx.ID(), a.number, payload))
}

// Analyze returns every enhancement system's analysis of data, keyed by
// kind. Disabled systems answer with data itself.
func (a *Agent) Analyze(ctx context.Context, data subsystem.Data) (map[subsystem.Kind]subsystem.Data, error) {
	out := make(map[subsystem.Kind]subsystem.Data, 7)
	for _, sys := range a.systems.Pipeline() {
		res, err := a.runSystem(ctx, sys, "analyze", sys.Analyze, data)
		if err != nil {
			return nil, err
		}
		out[sys.Kind()] = res
	}
	return out, nil
}

// Prune drops learning experiences past their retention.
func (a *Agent) Prune(ctx context.Context) error {
	return a.raw.Learning.Prune(ctx)
}

// Close releases resources held by the enhancement systems. The context
// log is owned by the registry and stays open.
func (a *Agent) Close() error {
	ctx := context.Background()
	var errs []error
	for _, sys := range a.raw.Pipeline() {
		errs = append(errs, sys.Close(ctx))
	}
	return stderrors.Join(errs...)
}
