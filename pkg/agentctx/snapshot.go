// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package agentctx

import "maps"

// Snapshot is a point-in-time copy of a context's observable state.
type Snapshot struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Number   int            `json:"number"`
	ParentID string         `json:"parent_id,omitempty"`
	ChildIDs []string       `json:"child_ids"`
	Data     map[string]any `json:"data"`
	Paused   bool           `json:"paused"`
	Active   bool           `json:"active"`
}

// FullSnapshot adds the parent and the direct children, one level deep.
type FullSnapshot struct {
	Snapshot
	Parent   *Snapshot           `json:"parent,omitempty"`
	Children map[string]Snapshot `json:"children"`
}

// CurrentContext returns a snapshot of c.
func (c *Context) CurrentContext() Snapshot {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	return c.snapshotLocked()
}

// FullContext returns c's snapshot plus those of its parent and children.
func (c *Context) FullContext() FullSnapshot {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()

	full := FullSnapshot{
		Snapshot: c.snapshotLocked(),
		Children: make(map[string]Snapshot, len(c.children)),
	}
	if c.parent != nil {
		p := c.parent.snapshotLocked()
		full.Parent = &p
	}
	for _, ch := range c.children {
		full.Children[ch.id] = ch.snapshotLocked()
	}
	return full
}

// snapshotLocked requires c.reg.mu held for reading.
func (c *Context) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:       c.id,
		Name:     c.name,
		Number:   c.number,
		ChildIDs: make([]string, 0, len(c.children)),
	}
	if c.parent != nil {
		s.ParentID = c.parent.id
	}
	for _, ch := range c.children {
		s.ChildIDs = append(s.ChildIDs, ch.id)
	}

	c.mu.Lock()
	s.Data = maps.Clone(c.data)
	s.Paused = c.paused
	s.Active = c.active
	c.mu.Unlock()
	return s
}
