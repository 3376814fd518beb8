// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package cooperation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func echo() DelegatorFunc {
	return func(_ context.Context, task subsystem.Data) (subsystem.Data, error) {
		return subsystem.Data{subsystem.KeyResult: task.GetString("task"), KeyDepth: task[KeyDepth]}, nil
	}
}

func TestDelegateIncrementsDepth(t *testing.T) {
	s := New(config.DefaultCooperation(), WithDelegator(echo()))
	out, err := s.Delegate(context.Background(), subsystem.Data{"task": "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", out[subsystem.KeyResult])
	assert.Equal(t, 1, out[KeyDepth])
}

func TestDelegateDepthLimit(t *testing.T) {
	cfg := config.DefaultCooperation()
	cfg.MaxDelegationDepth = 2
	s := New(cfg, WithDelegator(echo()))

	_, err := s.Delegate(context.Background(), subsystem.Data{KeyDepth: 2})
	require.ErrorIs(t, err, ErrDepthExceeded)

	_, err = New(cfg).Delegate(context.Background(), subsystem.Data{})
	require.ErrorIs(t, err, ErrNoDelegator)
}

func TestDelegateTimeout(t *testing.T) {
	cfg := config.DefaultCooperation()
	cfg.TimeoutSeconds = 1
	slow := DelegatorFunc(func(ctx context.Context, _ subsystem.Data) (subsystem.Data, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return subsystem.Data{}, nil
		}
	})
	s := New(cfg, WithDelegator(slow))
	_, err := s.Delegate(context.Background(), subsystem.Data{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	a, err := s.Analyze(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a["failed"])
	assert.NotEmpty(t, a["recommendations"])
}

func TestCoordinateBoundedAndOrdered(t *testing.T) {
	cfg := config.DefaultCooperation()
	cfg.TeamSize = 2
	var running, peak atomic.Int32
	d := DelegatorFunc(func(_ context.Context, task subsystem.Data) (subsystem.Data, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return subsystem.Data{subsystem.KeyResult: task.GetString("task")}, nil
	})
	s := New(cfg, WithDelegator(d))

	tasks := []subsystem.Data{{"task": "a"}, {"task": "b"}, {"task": "c"}, {"task": "d"}}
	out, err := s.Coordinate(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, out, 4)
	for i, want := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, want, out[i][subsystem.KeyResult])
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCoordinateFailure(t *testing.T) {
	boom := errors.New("boom")
	d := DelegatorFunc(func(_ context.Context, task subsystem.Data) (subsystem.Data, error) {
		if task.GetString("task") == "bad" {
			return nil, boom
		}
		return subsystem.Data{}, nil
	})
	s := New(config.DefaultCooperation(), WithDelegator(d))
	_, err := s.Coordinate(context.Background(), []subsystem.Data{{"task": "ok"}, {"task": "bad"}})
	require.ErrorIs(t, err, boom)
}

func TestRosterAndProcess(t *testing.T) {
	cfg := config.DefaultCooperation()
	cfg.TeamSize = 2
	s := New(cfg, WithMembers(Member{ID: "a", Role: "coder"}, Member{ID: "b", Role: "reviewer"}))
	s.Join(Member{ID: "c", Role: "tester"})
	s.Join(Member{ID: "a", Role: "lead"})
	s.Leave("b")

	team := s.Team()
	require.Len(t, team, 2)
	assert.Equal(t, "c", team[0].ID)
	assert.Equal(t, "lead", team[1].Role)

	out, err := s.Process(context.Background(), subsystem.Data{})
	require.NoError(t, err)
	info := out[subsystem.KeyTeam].(subsystem.Data)
	assert.Equal(t, false, info["can_delegate"])

	s.SetDelegator(echo())
	out, err = s.Process(context.Background(), subsystem.Data{})
	require.NoError(t, err)
	assert.Equal(t, true, out[subsystem.KeyTeam].(subsystem.Data)["can_delegate"])
}
