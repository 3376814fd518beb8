// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires slog, OpenTelemetry tracing and metrics for
// VisionSync agents.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on agent spans and metrics.
const (
	AttrContextID   = "visionsync.context.id"
	AttrAgentNumber = "visionsync.agent.number"
	AttrTurn        = "visionsync.turn"
	AttrRetry       = "visionsync.turn.retry"
	AttrSubsystem   = "visionsync.subsystem"
	AttrOperation   = "visionsync.operation"
	AttrToolName    = "visionsync.tool.name"
	AttrOutcome     = "visionsync.outcome"

	// gen_ai conventions
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
)

// Turn outcomes.
const (
	OutcomeCompleted  = "completed"
	OutcomeRetried    = "retried"
	OutcomeIntervened = "intervened"
	OutcomeCritical   = "critical"
)

// AgentAttributes identifies an agent within its context.
func AgentAttributes(contextID string, number int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrContextID, contextID),
		attribute.Int(AttrAgentNumber, number),
	}
}

// TurnAttributes describes one loop turn. retry is omitted when zero.
func TurnAttributes(turn, retry int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int(AttrTurn, turn)}
	if retry > 0 {
		attrs = append(attrs, attribute.Int(AttrRetry, retry))
	}
	return attrs
}

// SubsystemAttributes names a subsystem call.
func SubsystemAttributes(kind, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSubsystem, kind),
		attribute.String(AttrOperation, op),
	}
}

// LLMAttributes describes a model call and, when known, its token usage.
func LLMAttributes(provider, model string, inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrLLMModel, model)}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}

// ToolAttributes names an executed tool.
func ToolAttributes(name string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(AttrToolName, name)}
}
