// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentctx tracks agent contexts and their hierarchy.
//
// A Registry is an explicit service: it owns the id -> Context map and the
// monotonic context counter. Nothing here is package-global, so independent
// registries can live side by side (one per server, one per test).
package agentctx

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/log"
)

// AgentFactory builds the root agent (number 0) for a new context.
type AgentFactory func(c *Context) (Agent, error)

// LogFactory builds the activity log for a new context.
type LogFactory func(id, name string) *log.Log

// Registry owns every live context.
type Registry struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	counter  int

	newAgent AgentFactory
	newLog   LogFactory
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithAgentFactory sets how root agents are built.
func WithAgentFactory(f AgentFactory) RegistryOption {
	return func(r *Registry) { r.newAgent = f }
}

// WithLogFactory sets how context logs are built.
func WithLogFactory(f LogFactory) RegistryOption {
	return func(r *Registry) { r.newLog = f }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		contexts: map[string]*Context{},
		newAgent: func(*Context) (Agent, error) { return rootAgent{}, nil },
		logger:   slog.Default(),
	}
	r.newLog = func(id, name string) *log.Log {
		return log.New(
			log.WithName("context-"+id),
			log.WithContextID(id),
			log.WithLogger(r.logger),
		)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// rootAgent stands in when no AgentFactory is configured.
type rootAgent struct{}

func (rootAgent) Number() int { return 0 }

// CreateOption customises a context at creation.
type CreateOption func(*createArgs)

type createArgs struct {
	id    string
	name  string
	agent Agent
	log   *log.Log
}

// WithID fixes the context id. Registering an id already in use evicts the
// previous holder, detaching it from its parent and children.
func WithID(id string) CreateOption { return func(a *createArgs) { a.id = id } }

// WithName sets a display name.
func WithName(name string) CreateOption { return func(a *createArgs) { a.name = name } }

// WithAgent attaches a; the registry's factory is not called.
func WithAgent(a Agent) CreateOption { return func(a2 *createArgs) { a2.agent = a } }

// WithLog uses l instead of the registry's log factory.
func WithLog(l *log.Log) CreateOption { return func(a *createArgs) { a.log = l } }

// Create builds, registers and returns a new context with an agent attached.
// A nil cfg means config.Default().
func (r *Registry) Create(cfg *config.AgentConfig, opts ...CreateOption) (*Context, error) {
	args := createArgs{}
	for _, opt := range opts {
		opt(&args)
	}
	if args.id == "" {
		args.id = uuid.NewString()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if args.log == nil {
		args.log = r.newLog(args.id, args.name)
	}

	r.mu.Lock()
	r.counter++
	c := newContext(r, args.id, args.name, r.counter, cfg, args.log)
	if old, ok := r.contexts[args.id]; ok {
		r.detachLocked(old)
		r.logger.Warn("agentctx.evicted", slog.String("context_id", args.id))
	}
	r.contexts[args.id] = c
	r.mu.Unlock()

	agent := args.agent
	if agent == nil {
		a, err := r.newAgent(c)
		if err != nil {
			r.Remove(c.id)
			return nil, err
		}
		agent = a
	}
	c.SetAgent(agent)

	r.logger.Debug("agentctx.created",
		slog.String("context_id", c.id),
		slog.Int("number", c.number),
	)
	return c, nil
}

// Get returns the context registered under id.
func (r *Registry) Get(id string) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contexts[id]
	return c, ok
}

// Remove detaches the context from its parent and children and forgets it.
// Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	if !ok {
		return
	}
	r.detachLocked(c)
	delete(r.contexts, id)
}

// RemoveTree forgets the context with id and every descendant, and returns
// them in depth-first pre-order. Unknown ids return nil.
func (r *Registry) RemoveTree(id string) []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	if !ok {
		return nil
	}
	var out []*Context
	var walk func(*Context)
	walk = func(n *Context) {
		out = append(out, n)
		for _, ch := range n.children {
			walk(ch)
		}
	}
	walk(c)
	if c.parent != nil {
		c.parent.removeChildLocked(c.id)
	}
	for _, n := range out {
		if r.contexts[n.id] == n {
			delete(r.contexts, n.id)
		}
		n.children = nil
	}
	return out
}

func (r *Registry) detachLocked(c *Context) {
	if c.parent != nil {
		c.parent.removeChildLocked(c.id)
	}
	for _, ch := range c.children {
		ch.parent = nil
	}
	c.children = nil
}

// List returns every context ordered by creation number.
func (r *Registry) List() []*Context {
	r.mu.RLock()
	out := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		out = append(out, c)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Context) int { return a.number - b.number })
	return out
}

// Len returns the number of registered contexts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}

// Counter returns the last number handed out.
func (r *Registry) Counter() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counter
}

// Close closes every context log.
func (r *Registry) Close() error {
	var first error
	for _, c := range r.List() {
		if err := c.log.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
