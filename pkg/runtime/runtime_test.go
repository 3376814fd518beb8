// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jllopis/visionsync/pkg/agent"
	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/core"
	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/llm"
	"github.com/jllopis/visionsync/pkg/log"
	"github.com/jllopis/visionsync/pkg/memory"
	vstesting "github.com/jllopis/visionsync/pkg/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

// echoModel answers every prompt with the last message it was given.
var echoModel = llm.CallerFunc(func(_ context.Context, p llm.Prompt) (string, error) {
	last := p.Messages[len(p.Messages)-1].Content
	return `{"tool_name":"response","tool_args":{"text":"echo: ` + last + `"}}`, nil
})

func newRuntime(t *testing.T, opts ...Option) *LocalRuntime {
	t.Helper()
	rt := NewLocal(append([]Option{WithAgentOptions(agent.WithModel(echoModel))}, opts...)...)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return rt
}

func TestSendRequiresStart(t *testing.T) {
	rt := NewLocal()
	_, err := rt.Send(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestSendCreatesAndReusesSessions(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	reply, err := rt.Send(ctx, "", "one")
	require.NoError(t, err)
	require.NotEmpty(t, reply.ContextID)
	assert.Equal(t, "echo: one", reply.Result)

	again, err := rt.Send(ctx, reply.ContextID, "two")
	require.NoError(t, err)
	assert.Equal(t, reply.ContextID, again.ContextID)
	assert.Equal(t, 1, rt.Registry().Len())

	hist, err := rt.History(reply.ContextID)
	require.NoError(t, err)
	assert.Len(t, hist, 4)

	stored, err := rt.Store().Messages(ctx, reply.ContextID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	named, err := rt.Send(ctx, "chosen-id", "three")
	require.NoError(t, err)
	assert.Equal(t, "chosen-id", named.ContextID)
	assert.Equal(t, 2, rt.Registry().Len())
}

func TestEmitterReceivesEvents(t *testing.T) {
	events := vstesting.NewEventCollector()
	rt := newRuntime(t, WithEmitter(events))

	reply, err := rt.Send(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.True(t, events.HasEvent(core.EventMonologueDone))
	assert.Equal(t, len(rt.Events().Events(reply.ContextID)), events.Count())
}

func TestUnknownContext(t *testing.T) {
	rt := newRuntime(t)
	for name, err := range map[string]error{
		"pause":     rt.Pause("missing"),
		"resume":    rt.Resume("missing"),
		"intervene": rt.Intervene(context.Background(), "missing", "x"),
		"remove":    rt.Remove(context.Background(), "missing"),
	} {
		assert.True(t, errors.HasCode(err, errors.CodeNotFound), name)
	}
	_, err := rt.History("missing")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestPauseResumeRemove(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	reply, err := rt.Send(ctx, "", "hi")
	require.NoError(t, err)
	c, ok := rt.Registry().Get(reply.ContextID)
	require.True(t, ok)

	require.NoError(t, rt.Pause(reply.ContextID))
	assert.True(t, c.IsPaused())
	require.NoError(t, rt.Resume(reply.ContextID))
	assert.False(t, c.IsPaused())

	require.NoError(t, rt.Remove(ctx, reply.ContextID))
	assert.False(t, c.IsActive())
	assert.Zero(t, rt.Registry().Len())
	msgs, err := rt.Store().Messages(ctx, reply.ContextID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestImportHistory(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	msgs := []memory.Message{
		memory.NewMessage(memory.RoleUser, "earlier"),
		memory.NewMessage(memory.RoleAssistant, "answer"),
	}
	id, err := rt.ImportHistory(ctx, "imported", msgs)
	require.NoError(t, err)
	assert.Equal(t, "imported", id)

	hist, err := rt.History(id)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "imported", hist[0].SessionID)
	assert.Empty(t, msgs[0].SessionID)

	reply, err := rt.Send(ctx, id, "now")
	require.NoError(t, err)
	assert.Equal(t, "echo: now", reply.Result)
	hist, err = rt.History(id)
	require.NoError(t, err)
	assert.Len(t, hist, 4)
}

func TestRemoveForgetsDelegatedSubtree(t *testing.T) {
	dir := t.TempDir()
	model := vstesting.NewScenarioModel().
		AddToolRequest(vstesting.NewToolRequest(agent.SubordinateToolName).WithArg("message", "sub task")).
		AddReply("sub done").
		AddReply("final")
	rt := newRuntime(t,
		WithAgentOptions(agent.WithModel(model)),
		WithLogSinks(log.DefaultSinkConfig(dir)),
	)
	ctx := context.Background()

	reply, err := rt.Send(ctx, "", "big task")
	require.NoError(t, err)
	assert.Equal(t, "final", reply.Result)
	require.Equal(t, 2, rt.Registry().Len())

	root, ok := rt.Registry().Get(reply.ContextID)
	require.True(t, ok)
	children := root.Children()
	require.Len(t, children, 1)
	sub := children[0]
	assert.False(t, sub.IsActive())

	// The subordinate's log sinks are closed once the delegation returns.
	sub.Log().Info("after delegation")
	b, err := os.ReadFile(filepath.Join(dir, "context-"+sub.ID()+".log"))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "after delegation")

	require.NoError(t, rt.Remove(ctx, reply.ContextID))
	assert.Zero(t, rt.Registry().Len())
	_, ok = rt.Registry().Get(sub.ID())
	assert.False(t, ok)
}

func TestConcurrentSendSharesNewContext(t *testing.T) {
	slowEcho := llm.CallerFunc(func(ctx context.Context, p llm.Prompt) (string, error) {
		time.Sleep(2 * time.Millisecond)
		return echoModel(ctx, p)
	})
	rt := newRuntime(t, WithAgentOptions(agent.WithModel(slowEcho)))
	ctx := context.Background()

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := rt.Send(ctx, "shared", "hi")
			if err != nil {
				assert.ErrorIs(t, err, agent.ErrBusy)
				return
			}
			assert.Equal(t, "shared", reply.ContextID)
			mu.Lock()
			done++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rt.Registry().Len())
	require.NotZero(t, done)
	hist, err := rt.History("shared")
	require.NoError(t, err)
	assert.Len(t, hist, 2*done)
}

func TestSetConfigRebuildsIdleAgents(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	reply, err := rt.Send(ctx, "", "hi")
	require.NoError(t, err)
	before, ok := rt.Agent(reply.ContextID)
	require.True(t, ok)

	cfg := config.Default().With(config.WithDebug(true))
	rt.SetConfig(cfg)

	after, ok := rt.Agent(reply.ContextID)
	require.True(t, ok)
	assert.NotSame(t, before, after)
	assert.Same(t, cfg, after.Config())
	assert.Same(t, cfg, rt.Config())
	assert.Len(t, after.History(), 2)
}

func TestSweeperRunsPruners(t *testing.T) {
	called := make(chan struct{}, 1)
	p := PrunerFunc(func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		select {
		case called <- struct{}{}:
		default:
		}
		return nil
	})
	newRuntime(t,
		WithPruner(p),
		WithSweepInterval(10*time.Millisecond),
		WithSweepTimeout(time.Second),
	)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("pruner was not called")
	}
}

func TestStorePruner(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore(memory.StoreConfig{})
	old := memory.NewMessage(memory.RoleUser, "old")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Append(ctx, "s", old, memory.NewMessage(memory.RoleUser, "new")))

	require.NoError(t, StorePruner(store, 24*time.Hour).Prune(ctx))
	msgs, err := store.Messages(ctx, "s")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Content)
}

func TestHealth(t *testing.T) {
	rt := NewLocal()
	_, status := rt.Health().CheckAll(context.Background())
	assert.Equal(t, core.HealthUnhealthy, status)

	require.NoError(t, rt.Start(context.Background()))
	defer func() { _ = rt.Stop(context.Background()) }()
	results, status := rt.Health().CheckAll(context.Background())
	assert.Equal(t, core.HealthHealthy, status)
	assert.Len(t, results, 2)
}

func TestContextLogSinks(t *testing.T) {
	dir := t.TempDir()
	rt := newRuntime(t, WithLogSinks(log.DefaultSinkConfig(dir)))
	reply, err := rt.Send(context.Background(), "", "hi")
	require.NoError(t, err)

	c, ok := rt.Registry().Get(reply.ContextID)
	require.True(t, ok)
	c.Log().Info("hello file")
	require.NoError(t, rt.Stop(context.Background()))

	b, err := os.ReadFile(filepath.Join(dir, "context-"+reply.ContextID+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello file")
	_, err = os.Stat(filepath.Join(dir, "context-"+reply.ContextID+".json"))
	assert.NoError(t, err)
}
