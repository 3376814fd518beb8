// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/visionsync/pkg/core"
	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/llm"
	"github.com/jllopis/visionsync/pkg/memory"
	"github.com/jllopis/visionsync/pkg/resilience"
	"github.com/jllopis/visionsync/pkg/subsystem"
	"github.com/jllopis/visionsync/pkg/subsystem/cooperation"
	"github.com/jllopis/visionsync/pkg/telemetry"
	"github.com/jllopis/visionsync/pkg/tools"
)

// Log prefixes of the two failure tiers.
const (
	ErrorPrefix         = "Error: "
	CriticalErrorPrefix = "Critical Error: "
)

// Steps are the stages of one monologue turn. Each field may be replaced
// through WithSteps.
//
// A turn runs InitializeLoop and ProcessThroughSystems once, then the inner
// cycle PreparePrompt, GenerateResponse, ProcessResponse. Inner failures go
// to HandleException and the cycle is retried; a non-nil return from
// HandleException, an outer failure or exhausted retries go to
// HandleCriticalException and end the monologue with its error.
type Steps struct {
	InitializeLoop          func(ctx context.Context) (subsystem.Data, error)
	ProcessThroughSystems   func(ctx context.Context, data subsystem.Data) (subsystem.Data, error)
	PreparePrompt           func(ctx context.Context, data subsystem.Data) (llm.Prompt, error)
	GenerateResponse        func(ctx context.Context, data subsystem.Data, prompt llm.Prompt) (string, error)
	ProcessResponse         func(ctx context.Context, data subsystem.Data, response string) (any, error)
	HandleException         func(ctx context.Context, err error) error
	HandleCriticalException func(ctx context.Context, err error) error
}

func (a *Agent) defaultSteps() Steps {
	return Steps{
		InitializeLoop:          a.initializeLoop,
		ProcessThroughSystems:   a.processThroughSystems,
		PreparePrompt:           a.preparePrompt,
		GenerateResponse:        a.generateResponse,
		ProcessResponse:         a.processResponse,
		HandleException:         a.handleException,
		HandleCriticalException: a.handleCriticalException,
	}
}

// errIntervened restarts the turn after an intervention was consumed.
var errIntervened = stderrors.New("intervened")

// stopRetry ends the inner cycle without another attempt.
type stopRetry struct{ err error }

func (s *stopRetry) Error() string { return s.err.Error() }
func (s *stopRetry) Unwrap() error { return s.err }

// Monologue runs turns until one produces a non-empty result, which it
// returns, or a critical failure ends the loop.
func (a *Agent) Monologue(ctx context.Context) (any, error) {
	return a.monologue(ctx, nil)
}

func (a *Agent) monologue(ctx context.Context, message *string) (any, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	a.running = true
	a.turn = 0
	a.pending = nil
	if message != nil {
		a.lastUserMessage = *message
		a.pending = append(a.pending, memory.NewMessage(memory.RoleUser, *message))
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.pending = nil
		a.mu.Unlock()
	}()

	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := a.tracer.Start(ctx, "Agent.Monologue",
		trace.WithAttributes(telemetry.AgentAttributes(a.actx.ID(), a.number)...))
	defer span.End()

	log := a.logger.With(
		slog.String("context_id", a.actx.ID()),
		slog.Int("agent", a.number),
		slog.String("run_id", runID),
	)
	log.InfoContext(ctx, "agent.monologue.start")
	a.emit(ctx, core.EventMonologueStarted, nil)

	for {
		result, err := a.runTurn(ctx)
		if err != nil {
			if herr := a.steps.HandleCriticalException(ctx, err); herr != nil {
				err = herr
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "monologue terminated")
			log.ErrorContext(ctx, "agent.monologue.critical", slog.String("error", err.Error()))
			return nil, err
		}
		if !empty(result) {
			span.SetStatus(codes.Ok, "")
			log.InfoContext(ctx, "agent.monologue.done")
			a.emit(ctx, core.EventMonologueDone, map[string]any{"result": result})
			return result, nil
		}
	}
}

// empty reports whether a turn result asks for another turn.
func empty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// awaitTurn blocks while the context is paused and refuses to start a turn
// on an inactive one.
func (a *Agent) awaitTurn(ctx context.Context) error {
	if !a.actx.IsActive() {
		return ErrContextInactive
	}
	if a.actx.IsPaused() {
		a.logger.InfoContext(ctx, "agent.paused", slog.String("context_id", a.actx.ID()))
		if err := a.actx.WaitResumed(ctx); err != nil {
			return err
		}
		if !a.actx.IsActive() {
			return ErrContextInactive
		}
	}
	return ctx.Err()
}

// runTurn is one pass from LOOP_INIT to a result, a request for another
// turn (nil result) or a critical error.
func (a *Agent) runTurn(ctx context.Context) (any, error) {
	if err := a.awaitTurn(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.turn++
	turn := a.turn
	a.mu.Unlock()

	ctx, span := a.tracer.Start(ctx, "Agent.Turn", trace.WithAttributes(telemetry.TurnAttributes(turn, 0)...))
	defer span.End()
	start := time.Now()
	a.emit(ctx, core.EventTurnStarted, map[string]any{"turn": turn})

	data, err := a.steps.InitializeLoop(ctx)
	if err != nil {
		a.failTurn(ctx, span, start)
		return nil, fmt.Errorf("initialize loop: %w", err)
	}
	data, err = a.steps.ProcessThroughSystems(ctx, data)
	if err != nil {
		a.failTurn(ctx, span, start)
		return nil, fmt.Errorf("process through systems: %w", err)
	}

	result, outcome, err := a.runCycle(ctx, data)
	if err != nil {
		a.failTurn(ctx, span, start)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	a.loopMetrics.RecordTurn(ctx, outcome, time.Since(start))
	a.emit(ctx, core.EventTurnCompleted, map[string]any{"turn": turn, "outcome": outcome, "done": !empty(result)})
	return result, nil
}

func (a *Agent) failTurn(ctx context.Context, span trace.Span, start time.Time) {
	span.SetStatus(codes.Error, "turn failed")
	a.loopMetrics.RecordTurn(ctx, telemetry.OutcomeCritical, time.Since(start))
}

// retryConfig builds the inner-cycle retry policy from the loop
// configuration. MaxTurnRetries 0 keeps retrying until ctx ends.
func (a *Agent) retryConfig(ctx context.Context) resilience.RetryConfig {
	loop := a.cfg.Loop()
	rc := resilience.RetryConfig{
		Backoff: resilience.Backoff{
			Initial:    loop.InitialRetryDelay(),
			Max:        loop.MaxRetryDelay(),
			Multiplier: 2,
			Jitter:     0.1,
		},
		IsRecoverable: func(err error) bool {
			var stop *stopRetry
			return !stderrors.As(err, &stop)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			a.loopMetrics.RecordTurn(ctx, telemetry.OutcomeRetried, 0)
			a.logger.WarnContext(ctx, "agent.turn.retry",
				slog.String("context_id", a.actx.ID()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		},
		Sleep: a.sleep,
	}
	if loop.MaxTurnRetries > 0 {
		rc.MaxAttempts = loop.MaxTurnRetries + 1
	}
	return rc
}

// runCycle runs the inner cycle under the retry policy.
func (a *Agent) runCycle(ctx context.Context, data subsystem.Data) (any, string, error) {
	rc := a.retryConfig(ctx)
	var (
		result     any
		attempts   int
		intervened bool
	)
	err := rc.Do(ctx, func(ctx context.Context) error {
		attempts++
		res, err := a.cycle(ctx, data)
		switch {
		case err == nil:
			result = res
			return nil
		case stderrors.Is(err, errIntervened):
			intervened = true
			return nil
		case ctx.Err() != nil:
			return &stopRetry{err}
		}
		if herr := a.steps.HandleException(ctx, err); herr != nil {
			return &stopRetry{fmt.Errorf("handle exception: %w", herr)}
		}
		return err
	})

	var stop *stopRetry
	switch {
	case err == nil:
		if attempts > 1 {
			a.errMetrics.RecordRecovery(ctx, errors.CodeTurnFailure)
		}
		if intervened {
			return nil, telemetry.OutcomeIntervened, nil
		}
		return result, telemetry.OutcomeCompleted, nil
	case stderrors.As(err, &stop):
		return nil, "", stop.err
	case rc.MaxAttempts > 0 && attempts >= rc.MaxAttempts:
		return nil, "", errors.OrchestrationFailure(fmt.Sprintf("turn failed %d times", attempts), err).
			WithContext("attempts", attempts)
	}
	return nil, "", err
}

// cycle is PROMPT_PREP, MODEL_CALL and RESPONSE_PROCESSING. A pending
// intervention is consumed before the prompt and after the model call.
func (a *Agent) cycle(ctx context.Context, data subsystem.Data) (any, error) {
	if msg, ok := a.takeIntervention(); ok {
		a.applyIntervention(ctx, msg)
		return nil, errIntervened
	}
	prompt, err := a.steps.PreparePrompt(ctx, data)
	if err != nil {
		return nil, errors.TurnFailure("prepare_prompt", err)
	}
	response, err := a.steps.GenerateResponse(ctx, data, prompt)
	if err != nil {
		return nil, errors.TurnFailure("generate_response", err)
	}
	if msg, ok := a.takeIntervention(); ok {
		a.addPending(memory.NewMessage(memory.RoleAssistant, response))
		a.applyIntervention(ctx, msg)
		return nil, errIntervened
	}
	result, err := a.steps.ProcessResponse(ctx, data, response)
	if err != nil {
		return nil, errors.TurnFailure("process_response", err)
	}
	return result, nil
}

func (a *Agent) applyIntervention(ctx context.Context, msg string) {
	a.mu.Lock()
	a.lastUserMessage = msg
	a.pending = append(a.pending, memory.NewMessage(memory.RoleUser, msg))
	a.mu.Unlock()
	a.actx.Log().Info("Intervention: " + msg)
	a.logger.InfoContext(ctx, "agent.intervention", slog.String("context_id", a.actx.ID()))
}

func (a *Agent) addPending(msgs ...memory.Message) {
	a.mu.Lock()
	a.pending = append(a.pending, msgs...)
	a.mu.Unlock()
}

// commit appends the monologue's pending messages and final to history and
// to the conversation store.
func (a *Agent) commit(ctx context.Context, final memory.Message) {
	a.mu.Lock()
	msgs := append(a.pending, final)
	a.history = append(a.history, msgs...)
	a.pending = nil
	a.mu.Unlock()

	if a.store == nil {
		return
	}
	if err := a.store.Append(ctx, a.actx.ID(), msgs...); err != nil {
		a.logger.WarnContext(ctx, "agent.history.store_error",
			slog.String("context_id", a.actx.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func (a *Agent) initializeLoop(_ context.Context) (subsystem.Data, error) {
	a.mu.Lock()
	data := subsystem.Data{
		subsystem.KeyStartTime:   time.Now(),
		subsystem.KeyHistory:     slices.Clone(a.history),
		subsystem.KeyUserMessage: a.lastUserMessage,
		subsystem.KeyTurn:        a.turn,
	}
	a.mu.Unlock()
	data[subsystem.KeyContext] = a.actx.CurrentContext()
	data[subsystem.KeyContextID] = a.actx.ID()
	data[subsystem.KeyAgentNumber] = a.number
	data[cooperation.KeyDepth] = a.depth
	return data, nil
}

// processThroughSystems runs every system in pipeline order, merging each
// output into the loop data the next one sees. The systems then analyze
// the merged data and their recommendations are kept for the prompt.
func (a *Agent) processThroughSystems(ctx context.Context, data subsystem.Data) (subsystem.Data, error) {
	data = data.Clone()
	for _, sys := range a.systems.Pipeline() {
		out, err := a.runSystem(ctx, sys, "process", sys.Process, data)
		if err != nil {
			return nil, err
		}
		maps.Copy(data, out)
	}
	var recs []string
	for _, sys := range a.systems.Pipeline() {
		out, err := a.runSystem(ctx, sys, "analyze", sys.Analyze, data)
		if err != nil {
			return nil, err
		}
		r, _ := out[subsystem.KeyRecommendations].([]string)
		recs = append(recs, r...)
	}
	if len(recs) > 0 {
		data[subsystem.KeyRecommendations] = recs
	}
	a.mu.Lock()
	a.loopData = data.Clone()
	a.mu.Unlock()
	return data, nil
}

func (a *Agent) runSystem(ctx context.Context, sys subsystem.System, op string,
	fn func(context.Context, subsystem.Data) (subsystem.Data, error), data subsystem.Data,
) (subsystem.Data, error) {
	ctx, span := a.tracer.Start(ctx, "Agent.Subsystem",
		trace.WithAttributes(telemetry.SubsystemAttributes(string(sys.Kind()), op)...))
	defer span.End()
	out, err := fn(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "subsystem failed")
		return nil, err
	}
	return out, nil
}

func (a *Agent) preparePrompt(ctx context.Context, data subsystem.Data) (llm.Prompt, error) {
	hist, _ := data[subsystem.KeyHistory].([]memory.Message)
	a.mu.Lock()
	msgs := append(slices.Clone(hist), a.pending...)
	a.mu.Unlock()

	if a.truncate != nil {
		var err error
		if msgs, err = a.truncate.Truncate(ctx, msgs); err != nil {
			return llm.Prompt{}, fmt.Errorf("truncate history: %w", err)
		}
	}
	return llm.Prompt{System: a.systemPrompt(data), Messages: chatMessages(msgs)}, nil
}

// chatMessages maps history to model messages. Tool feedback reaches the
// model as a user turn.
func chatMessages(msgs []memory.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		switch m.Role {
		case memory.RoleAssistant:
			role = llm.RoleAssistant
		case memory.RoleSystem:
			role = llm.RoleSystem
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func (a *Agent) generateResponse(ctx context.Context, _ subsystem.Data, prompt llm.Prompt) (string, error) {
	system, err := a.systems.Interface.FormatPrompt(ctx, prompt.System)
	if err != nil {
		return "", err
	}
	prompt.System = system

	response, err := a.model.CallModel(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := a.systems.Analytics.RecordResponse(ctx, response); err != nil {
		return "", err
	}
	a.actx.Log().Debug(fmt.Sprintf("Agent %d response", a.number), "length", len(response))
	a.emit(ctx, core.EventResponse, map[string]any{"response": response})
	return response, nil
}

// processResponse renders the response through the interface system, runs
// the requested tool and feeds the outcome to the learning system. A final
// result commits the monologue to history; anything else is kept pending
// for the next turn.
func (a *Agent) processResponse(ctx context.Context, data subsystem.Data, response string) (any, error) {
	formatted, err := a.formatResponse(ctx, response)
	if err != nil {
		return nil, err
	}
	out, err := a.tools.ProcessTools(ctx, formatted)
	if err != nil {
		return nil, err
	}
	if out.Tool != "" {
		a.emit(ctx, core.EventToolExecuted, map[string]any{"tool": out.Tool, "done": out.Done()})
	}

	done := out.Done() && !empty(out.Result)
	result := out.Result

	outcome := response
	if done {
		outcome = fmt.Sprint(result)
	}
	err = a.systems.Learning.Learn(ctx, subsystem.Data{
		subsystem.KeyUserMessage: data.GetString(subsystem.KeyUserMessage),
		subsystem.KeyResponse:    outcome,
		subsystem.KeySuccess:     done,
	})
	if err != nil {
		return nil, err
	}

	if !done {
		msgs := []memory.Message{memory.NewMessage(memory.RoleAssistant, response)}
		if out.Feedback != "" {
			msgs = append(msgs, memory.NewMessage(memory.RoleTool, out.Feedback))
		}
		a.addPending(msgs...)
		return nil, nil
	}
	a.commit(ctx, memory.NewMessage(memory.RoleAssistant, response))
	a.adapt(ctx, data)
	return result, nil
}

// formatResponse renders response with the interface system. A tool request
// keeps its JSON shape: only its string arguments are rendered.
func (a *Agent) formatResponse(ctx context.Context, response string) (string, error) {
	req, err := tools.Parse(response)
	if err != nil {
		return a.systems.Interface.FormatResponse(ctx, response)
	}
	for k, v := range req.Args {
		text, ok := v.(string)
		if !ok {
			continue
		}
		if req.Args[k], err = a.systems.Interface.FormatResponse(ctx, text); err != nil {
			return "", err
		}
	}
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode tool request: %w", err)
	}
	return string(b), nil
}

// adapt reports a completed turn to every system except learning, which
// already saw it. Failures here do not undo the turn.
func (a *Agent) adapt(ctx context.Context, data subsystem.Data) {
	feedback := subsystem.Data{
		subsystem.KeySuccess:     true,
		subsystem.KeyUserMessage: data.GetString(subsystem.KeyUserMessage),
		subsystem.KeyTurn:        data[subsystem.KeyTurn],
	}
	if ms, ok := data[subsystem.KeyPatterns]; ok {
		feedback[subsystem.KeyPatterns] = ms
	}
	if start, ok := data[subsystem.KeyStartTime].(time.Time); ok {
		feedback[subsystem.KeyLatencyMS] = float64(time.Since(start).Microseconds()) / 1000
	}
	for _, sys := range a.systems.Pipeline() {
		if sys.Kind() == subsystem.KindLearning {
			continue
		}
		if err := sys.Adapt(ctx, feedback); err != nil {
			a.logger.WarnContext(ctx, "agent.adapt.error",
				slog.String("subsystem", string(sys.Kind())),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleException records a turn failure. Its error, if any, escalates.
func (a *Agent) handleException(ctx context.Context, err error) error {
	msg := err.Error()
	e := errors.AsError(err)
	a.actx.Log().Error(ErrorPrefix+msg, "code", string(e.Code))
	a.errMetrics.RecordError(ctx, err, "agent")
	a.emit(ctx, core.EventTurnError, map[string]any{"error": msg, "code": string(e.Code)})
	a.logger.WarnContext(ctx, "agent.turn.error",
		slog.String("context_id", a.actx.ID()),
		slog.String("code", string(e.Code)),
		slog.String("error", msg),
	)
	return a.systems.Analytics.RecordError(ctx, msg)
}

// handleCriticalException records a failure that ends the monologue and
// returns it as an ORCHESTRATION_FAILURE.
func (a *Agent) handleCriticalException(ctx context.Context, err error) error {
	msg := err.Error()
	a.actx.Log().Critical(CriticalErrorPrefix + msg)
	a.errMetrics.RecordError(ctx, err, "agent")
	a.emit(ctx, core.EventCriticalError, map[string]any{"error": msg})
	if aerr := a.systems.Analytics.RecordError(ctx, msg); aerr != nil {
		a.logger.WarnContext(ctx, "agent.analytics.error", slog.String("error", aerr.Error()))
	}
	if errors.HasCode(err, errors.CodeOrchestrationFailure) {
		return err
	}
	return errors.OrchestrationFailure("agent loop terminated", err)
}
