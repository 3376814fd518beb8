// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package subsystem

// Well-known loop data keys.
const (
	KeyUserMessage     = "user_message"
	KeyHistory         = "history"
	KeyContext         = "context"
	KeyContextID       = "context_id"
	KeyAgentNumber     = "agent_number"
	KeyTurn            = "turn"
	KeyStartTime       = "start_time"
	KeyPatterns        = "patterns"
	KeyPatternHints    = "pattern_hints"
	KeyAllocation      = "allocation"
	KeyUsage           = "resource_usage"
	KeyRecall          = "recalled_experiences"
	KeyTeam            = "team"
	KeyGeneration      = "generation"
	KeyStrategy        = "strategy"
	KeyMetrics         = "metrics"
	KeyResponseStyle   = "response_style"
	KeyResponse        = "response"
	KeyResult          = "result"
	KeySuccess         = "success"
	KeyLatencyMS       = "latency_ms"
	KeyRecommendations = "recommendations"
)
