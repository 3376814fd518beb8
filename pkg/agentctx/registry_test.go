// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package agentctx

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/log"
)

type numberedAgent int

func (n numberedAgent) Number() int { return int(n) }

func mustCreate(t *testing.T, r *Registry, opts ...CreateOption) *Context {
	t.Helper()
	c, err := r.Create(nil, opts...)
	require.NoError(t, err)
	return c
}

func messages(l *log.Log) []string {
	var out []string
	for _, e := range l.Entries() {
		out = append(out, e.Message)
	}
	return out
}

func TestCreateAttachesRootAgent(t *testing.T) {
	r := NewRegistry()
	c := mustCreate(t, r)

	require.NotNil(t, c.Agent())
	assert.Equal(t, 0, c.Agent().Number())
	assert.NotEmpty(t, c.ID())
	assert.True(t, c.IsActive())
	assert.False(t, c.IsPaused())
	assert.True(t, c.Config().Equal(config.Default()))

	got, ok := r.Get(c.ID())
	assert.True(t, ok)
	assert.Same(t, c, got)
}

func TestCreateUsesSuppliedAgentAndFactory(t *testing.T) {
	var built []string
	r := NewRegistry(WithAgentFactory(func(c *Context) (Agent, error) {
		built = append(built, c.ID())
		return numberedAgent(0), nil
	}))

	c := mustCreate(t, r, WithAgent(numberedAgent(7)))
	assert.Equal(t, 7, c.Agent().Number())
	assert.Empty(t, built)

	c2 := mustCreate(t, r)
	assert.Equal(t, []string{c2.ID()}, built)
}

func TestCreateFactoryErrorUnregisters(t *testing.T) {
	r := NewRegistry(WithAgentFactory(func(*Context) (Agent, error) {
		return nil, stderrors.New("no model")
	}))
	_, err := r.Create(nil, WithID("x"))
	require.Error(t, err)
	_, ok := r.Get("x")
	assert.False(t, ok)
}

func TestGetMissIsNotAnError(t *testing.T) {
	r := NewRegistry()
	c, ok := r.Get("nope")
	assert.Nil(t, c)
	assert.False(t, ok)
	r.Remove("nope")
}

func TestCounterIsMonotonic(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	numbers := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.Create(nil)
			if err == nil {
				numbers <- c.Number()
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "number %d handed out twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, 50, r.Counter())

	// Removal never rewinds the counter.
	list := r.List()
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Number(), list[i].Number())
	}
	r.Remove(list[len(list)-1].ID())
	next := mustCreate(t, r)
	assert.Equal(t, 51, next.Number())
}

func TestHierarchy(t *testing.T) {
	r := NewRegistry()
	parent := mustCreate(t, r, WithName("parent"))
	a := mustCreate(t, r, WithName("a"))
	b := mustCreate(t, r, WithName("b"))

	require.NoError(t, parent.AddChild(a))
	require.NoError(t, parent.AddChild(b))
	require.NoError(t, parent.AddChild(a), "re-adding the same child is a no-op")

	assert.Same(t, parent, a.Parent())
	assert.Equal(t, []*Context{a, b}, parent.Children())

	other := mustCreate(t, r)
	err := other.AddChild(a)
	assert.ErrorIs(t, err, ErrAlreadyParented)
	assert.Same(t, parent, a.Parent())

	assert.Error(t, a.AddChild(parent), "cycles are rejected")
	assert.Error(t, a.AddChild(a))

	parent.RemoveChild(a.ID())
	assert.Nil(t, a.Parent())
	assert.Equal(t, []*Context{b}, parent.Children())
	parent.RemoveChild("missing")
	assert.Len(t, parent.Children(), 1)

	require.NoError(t, other.AddChild(a), "an orphan can be adopted")
}

func TestRemoveDetachesParentAndChildren(t *testing.T) {
	r := NewRegistry()
	root := mustCreate(t, r)
	mid := mustCreate(t, r)
	leaf := mustCreate(t, r)
	require.NoError(t, root.AddChild(mid))
	require.NoError(t, mid.AddChild(leaf))

	r.Remove(mid.ID())

	_, ok := r.Get(mid.ID())
	assert.False(t, ok)
	assert.Empty(t, root.Children())
	assert.Nil(t, leaf.Parent())
	_, ok = r.Get(leaf.ID())
	assert.True(t, ok, "children stay registered")
	assert.Equal(t, 2, r.Len())
}

func TestRemoveTree(t *testing.T) {
	r := NewRegistry()
	root := mustCreate(t, r)
	mid := mustCreate(t, r)
	leaf := mustCreate(t, r)
	sibling := mustCreate(t, r)
	require.NoError(t, root.AddChild(mid))
	require.NoError(t, mid.AddChild(leaf))
	require.NoError(t, root.AddChild(sibling))

	removed := r.RemoveTree(mid.ID())

	assert.Equal(t, []*Context{mid, leaf}, removed)
	assert.Equal(t, []*Context{sibling}, root.Children())
	assert.Equal(t, 2, r.Len())
	_, ok := r.Get(leaf.ID())
	assert.False(t, ok)
	assert.Nil(t, r.RemoveTree("missing"))
}

func TestReusedIDEvictsPrevious(t *testing.T) {
	r := NewRegistry()
	parent := mustCreate(t, r)
	old := mustCreate(t, r, WithID("shared"))
	child := mustCreate(t, r)
	require.NoError(t, parent.AddChild(old))
	require.NoError(t, old.AddChild(child))

	fresh := mustCreate(t, r, WithID("shared"))

	got, _ := r.Get("shared")
	assert.Same(t, fresh, got)
	assert.Empty(t, parent.Children())
	assert.Nil(t, child.Parent())
	assert.Greater(t, fresh.Number(), old.Number())
}

func TestPauseResumeLogs(t *testing.T) {
	r := NewRegistry()
	c := mustCreate(t, r)

	c.Pause()
	assert.True(t, c.IsPaused())
	c.Resume()
	assert.False(t, c.IsPaused())

	assert.Equal(t, []string{
		fmt.Sprintf("Context %s paused", c.ID()),
		fmt.Sprintf("Context %s resumed", c.ID()),
	}, messages(c.Log()))
}

func TestWaitResumed(t *testing.T) {
	r := NewRegistry()
	c := mustCreate(t, r)

	require.NoError(t, c.WaitResumed(context.Background()), "running contexts do not block")

	c.Pause()
	done := make(chan error, 1)
	go func() { done <- c.WaitResumed(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitResumed returned while paused")
	case <-time.After(30 * time.Millisecond):
	}
	c.Resume()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitResumed did not return after Resume")
	}

	c.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.WaitResumed(ctx), context.Canceled)
}

func TestDeactivateCascadesActivateDoesNot(t *testing.T) {
	r := NewRegistry()
	root := mustCreate(t, r)
	child := mustCreate(t, r)
	grandchild := mustCreate(t, r)
	require.NoError(t, root.AddChild(child))
	require.NoError(t, child.AddChild(grandchild))

	root.Deactivate()
	for _, c := range []*Context{root, child, grandchild} {
		assert.False(t, c.IsActive())
		assert.Equal(t, []string{fmt.Sprintf("Context %s deactivated", c.ID())}, messages(c.Log()))
	}

	root.Activate()
	assert.True(t, root.IsActive())
	assert.False(t, child.IsActive())
	assert.False(t, grandchild.IsActive())
	assert.Contains(t, messages(root.Log()), fmt.Sprintf("Context %s activated", root.ID()))
}

func TestSnapshots(t *testing.T) {
	r := NewRegistry()
	root := mustCreate(t, r, WithName("root"))
	mid := mustCreate(t, r, WithName("mid"))
	leaf := mustCreate(t, r, WithName("leaf"))
	require.NoError(t, root.AddChild(mid))
	require.NoError(t, mid.AddChild(leaf))
	mid.SetData("topic", "weather")
	mid.Pause()

	cur := mid.CurrentContext()
	assert.Equal(t, mid.ID(), cur.ID)
	assert.Equal(t, "mid", cur.Name)
	assert.Equal(t, root.ID(), cur.ParentID)
	assert.Equal(t, []string{leaf.ID()}, cur.ChildIDs)
	assert.Equal(t, "weather", cur.Data["topic"])
	assert.True(t, cur.Paused)
	assert.True(t, cur.Active)

	cur.Data["topic"] = "changed"
	v, _ := mid.GetData("topic")
	assert.Equal(t, "weather", v, "snapshot data is a copy")

	full := mid.FullContext()
	require.NotNil(t, full.Parent)
	assert.Equal(t, root.ID(), full.Parent.ID)
	assert.Equal(t, []string{mid.ID()}, full.Parent.ChildIDs)
	require.Contains(t, full.Children, leaf.ID())
	assert.Equal(t, "leaf", full.Children[leaf.ID()].Name)

	rootFull := root.FullContext()
	assert.Nil(t, rootFull.Parent)
	assert.Empty(t, rootFull.ParentID)
}

func TestCustomLogFactory(t *testing.T) {
	var names []string
	r := NewRegistry(WithLogFactory(func(id, name string) *log.Log {
		names = append(names, name)
		return log.New(log.WithContextID(id), log.WithName(strings.ToUpper(name)))
	}))
	c := mustCreate(t, r, WithName("worker"))
	assert.Equal(t, []string{"worker"}, names)
	assert.Equal(t, "WORKER", c.Log().Name())
	assert.NoError(t, r.Close())
}
