// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package agentctx

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"sync"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/log"
)

// ErrAlreadyParented is returned by AddChild when the child belongs to
// another parent. Remove it from that parent first.
var ErrAlreadyParented = stderrors.New("context already has a different parent")

// Agent is what a context needs to know about the agent it hosts.
type Agent interface {
	Number() int
}

// Context is the runtime scope of one agent: identity, configuration,
// activity log, free-form data, lifecycle flags and its place in the
// parent/child hierarchy.
//
// Configuration, flags and data are guarded by the context's own lock.
// Hierarchy links are guarded by the owning registry's lock.
type Context struct {
	id     string
	name   string
	number int
	log    *log.Log
	reg    *Registry

	mu      sync.Mutex
	cfg     *config.AgentConfig
	agent   Agent
	data    map[string]any
	paused  bool
	active  bool
	resumed chan struct{} // closed while not paused

	// guarded by reg.mu
	parent   *Context
	children []*Context
}

func newContext(reg *Registry, id, name string, number int, cfg *config.AgentConfig, l *log.Log) *Context {
	resumed := make(chan struct{})
	close(resumed)
	return &Context{
		id:      id,
		name:    name,
		number:  number,
		cfg:     cfg,
		log:     l,
		reg:     reg,
		data:    map[string]any{},
		active:  true,
		resumed: resumed,
	}
}

func (c *Context) ID() string    { return c.id }
func (c *Context) Name() string  { return c.name }
func (c *Context) Number() int   { return c.number }
func (c *Context) Log() *log.Log { return c.log }

// Registry returns the registry that owns c.
func (c *Context) Registry() *Registry { return c.reg }

func (c *Context) Config() *config.AgentConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig replaces the configuration. The attached agent keeps the one it
// was built with.
func (c *Context) SetConfig(cfg *config.AgentConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Agent returns the attached agent.
func (c *Context) Agent() Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent
}

// SetAgent replaces the attached agent.
func (c *Context) SetAgent(a Agent) {
	c.mu.Lock()
	c.agent = a
	c.mu.Unlock()
}

// Data returns a copy of the context's free-form data.
func (c *Context) Data() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.data)
}

// GetData returns one data value.
func (c *Context) GetData(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

// SetData stores one data value.
func (c *Context) SetData(key string, value any) {
	c.mu.Lock()
	c.data[key] = value
	c.mu.Unlock()
}

// Parent returns the parent context, or nil.
func (c *Context) Parent() *Context {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	return c.parent
}

// Children returns the direct children in insertion order.
func (c *Context) Children() []*Context {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	return append([]*Context(nil), c.children...)
}

// AddChild links child under c. Adding an existing child is a no-op.
func (c *Context) AddChild(child *Context) error {
	if child == nil || child == c {
		return errors.New(errors.CodeInvalidInput, "invalid child context", nil)
	}
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	switch child.parent {
	case c:
		return nil
	case nil:
	default:
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("cannot add %s to %s", child.id, c.id), ErrAlreadyParented).
			WithContext("parent", child.parent.id)
	}
	for p := c; p != nil; p = p.parent {
		if p == child {
			return errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("context %s is an ancestor of %s", child.id, c.id), nil)
		}
	}
	child.parent = c
	c.children = append(c.children, child)
	return nil
}

// RemoveChild unlinks the child with id. Absent children are ignored.
func (c *Context) RemoveChild(id string) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	c.removeChildLocked(id)
}

func (c *Context) removeChildLocked(id string) {
	for i, ch := range c.children {
		if ch.id == id {
			ch.parent = nil
			c.children = append(c.children[:i], c.children[i+1:]...)
			return
		}
	}
}

// Pause stops the agent at its next turn boundary.
func (c *Context) Pause() {
	c.mu.Lock()
	if !c.paused {
		c.paused = true
		c.resumed = make(chan struct{})
	}
	c.mu.Unlock()
	c.log.Info(fmt.Sprintf("Context %s paused", c.id))
}

// Resume releases a paused agent.
func (c *Context) Resume() {
	c.mu.Lock()
	if c.paused {
		c.paused = false
		close(c.resumed)
	}
	c.mu.Unlock()
	c.log.Info(fmt.Sprintf("Context %s resumed", c.id))
}

// IsPaused reports the paused flag.
func (c *Context) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// WaitResumed blocks while the context is paused.
func (c *Context) WaitResumed(ctx context.Context) error {
	c.mu.Lock()
	ch := c.resumed
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Activate marks only this context active. Descendants keep their state.
func (c *Context) Activate() {
	c.setActive(true)
	c.log.Info(fmt.Sprintf("Context %s activated", c.id))
}

// Deactivate marks this context and every descendant inactive, depth first.
func (c *Context) Deactivate() {
	for _, ctx := range c.subtree() {
		ctx.setActive(false)
		ctx.log.Info(fmt.Sprintf("Context %s deactivated", ctx.id))
	}
}

// IsActive reports the active flag.
func (c *Context) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Context) setActive(v bool) {
	c.mu.Lock()
	c.active = v
	c.mu.Unlock()
}

// subtree returns c and its descendants in depth-first pre-order.
func (c *Context) subtree() []*Context {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	var out []*Context
	var walk func(*Context)
	walk = func(n *Context) {
		out = append(out, n)
		for _, ch := range n.children {
			walk(ch)
		}
	}
	walk(c)
	return out
}
