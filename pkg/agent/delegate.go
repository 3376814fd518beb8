// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/visionsync/pkg/core"
	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/subsystem"
	"github.com/jllopis/visionsync/pkg/subsystem/cooperation"
	"github.com/jllopis/visionsync/pkg/tools"
)

// SubordinateToolName is the tool the model uses to delegate.
const SubordinateToolName = "call_subordinate"

// Delegate runs task on a fresh sub-agent numbered one above a. The
// sub-agent gets its own context, linked as a child of a's, and shares a's
// model, registry and observability. When the task ends its context is
// deactivated and its log closed; the context stays registered under a's
// until a's context is removed.
//
// Delegate is installed as the cooperation system's delegator; depth
// limits and timeouts are enforced there.
func (a *Agent) Delegate(ctx context.Context, task subsystem.Data) (subsystem.Data, error) {
	msg := strings.TrimSpace(task.GetString(subsystem.KeyUserMessage))
	if msg == "" {
		return nil, errors.New(errors.CodeInvalidInput, "delegated task has no message", nil)
	}
	depth := a.depth + 1
	if d, ok := task[cooperation.KeyDepth].(int); ok {
		depth = d
	}

	sub, err := New(a.number+1, a.cfg,
		WithRegistry(a.reg),
		WithSystemsFactory(a.newSystems),
		WithModel(a.model),
		WithLimiters(a.limiters),
		WithPrompts(a.prompts),
		WithEmitter(a.emitter),
		WithTracer(a.tracer),
		WithLogger(a.logger),
		WithMetrics(a.loopMetrics, a.errMetrics),
		WithSleep(a.sleep),
		withSuperior(a, depth),
	)
	if err != nil {
		return nil, fmt.Errorf("create subordinate: %w", err)
	}
	defer func() {
		sub.Context().Deactivate()
		if cerr := sub.Close(); cerr != nil {
			a.logger.WarnContext(ctx, "agent.subordinate.close", slog.String("error", cerr.Error()))
		}
		if cerr := sub.Context().Log().Close(); cerr != nil {
			a.logger.WarnContext(ctx, "agent.subordinate.log_close", slog.String("error", cerr.Error()))
		}
	}()
	if err := a.actx.AddChild(sub.Context()); err != nil {
		return nil, err
	}

	a.actx.Log().Info(fmt.Sprintf("Agent %d delegating to agent %d", a.number, sub.number))
	a.emit(ctx, core.EventDelegation, map[string]any{
		"subordinate": sub.Context().ID(),
		"depth":       depth,
	})

	result, err := sub.Communicate(ctx, msg)
	if err != nil {
		return nil, err
	}
	return subsystem.Data{
		subsystem.KeyResult:   result,
		subsystem.KeyResponse: fmt.Sprint(result),
		"context_id":          sub.Context().ID(),
	}, nil
}

// subordinateTool lets the model hand a subtask to a sub-agent through the
// cooperation system. Delegation failures are reported back to the model.
func subordinateTool(a *Agent) tools.Tool {
	return tools.Func{
		ToolName: SubordinateToolName,
		Desc:     `Delegate a subtask to a subordinate agent. Args: {"message": "the subtask"}.`,
		Fn: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			msg, _ := args["message"].(string)
			if strings.TrimSpace(msg) == "" {
				return tools.Result{Message: `call_subordinate needs a non-empty "message" argument.`}, nil
			}
			out, err := a.systems.Cooperation.Delegate(ctx, subsystem.Data{
				subsystem.KeyUserMessage: msg,
				cooperation.KeyDepth:     a.depth,
			})
			if err != nil {
				return tools.Result{Message: "Delegation failed: " + err.Error()}, nil
			}
			resp := out.GetString(subsystem.KeyResponse)
			if resp == "" {
				return tools.Result{Message: "Delegation is not available; solve the task yourself."}, nil
			}
			return tools.Result{Message: "Subordinate answered: " + resp}, nil
		},
	}
}
