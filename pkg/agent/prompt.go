// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jllopis/visionsync/pkg/subsystem"
	"github.com/jllopis/visionsync/pkg/subsystem/cooperation"
	"github.com/jllopis/visionsync/pkg/subsystem/learning"
	"github.com/jllopis/visionsync/pkg/tools"
)

// Prompt file names inside a prompts directory.
const (
	SystemPromptFile = "agent.system.md"
	ToolsPromptFile  = "agent.tools.md"
)

const defaultSystemPrompt = `You are agent {{agent_number}}, an autonomous assistant.
Solve the user's task step by step. Every reply must be a single JSON object:

{"thoughts": ["..."], "tool_name": "...", "tool_args": {...}}

Use the response tool with {"text": "..."} to deliver the final answer.`

const defaultToolsPrompt = `## Tools
{{tools}}`

// Prompts holds the system prompt templates. {{agent_number}} and {{tools}}
// are substituted when the prompt is built.
type Prompts struct {
	System string
	Tools  string
}

func DefaultPrompts() Prompts {
	return Prompts{System: defaultSystemPrompt, Tools: defaultToolsPrompt}
}

// LoadPrompts reads the templates in dir. Missing files keep the default.
func LoadPrompts(dir string) (Prompts, error) {
	p := DefaultPrompts()
	for name, dst := range map[string]*string{SystemPromptFile: &p.System, ToolsPromptFile: &p.Tools} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return Prompts{}, fmt.Errorf("load prompt %s: %w", name, err)
		}
		*dst = string(b)
	}
	return p, nil
}

// systemPrompt renders the templates and appends what the enhancement
// systems contributed to this turn.
func (a *Agent) systemPrompt(data subsystem.Data) string {
	var toolList string
	if ex, ok := a.tools.(*tools.Executor); ok {
		toolList = ex.Registry().Describe()
	}
	r := strings.NewReplacer(
		"{{agent_number}}", strconv.Itoa(a.number),
		"{{tools}}", toolList,
	)

	var b strings.Builder
	b.WriteString(r.Replace(a.prompts.System))
	if toolList != "" && a.prompts.Tools != "" {
		b.WriteString("\n\n")
		b.WriteString(r.Replace(a.prompts.Tools))
	}
	for _, s := range []string{
		patternSection(data),
		recallSection(data),
		teamSection(data),
		strategySection(data),
		allocationSection(data),
		recommendationSection(data),
	} {
		if s != "" {
			b.WriteString("\n\n")
			b.WriteString(s)
		}
	}
	return b.String()
}

func recommendationSection(data subsystem.Data) string {
	recs, _ := data[subsystem.KeyRecommendations].([]string)
	if len(recs) == 0 {
		return ""
	}
	return "## Recommendations\n- " + strings.Join(recs, "\n- ")
}

func patternSection(data subsystem.Data) string {
	hints, _ := data[subsystem.KeyPatternHints].([]string)
	if len(hints) == 0 {
		return ""
	}
	return "## Known patterns\n- " + strings.Join(hints, "\n- ")
}

func recallSection(data subsystem.Data) string {
	exps, _ := data[subsystem.KeyRecall].([]learning.Experience)
	if len(exps) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Related experience")
	for _, e := range exps {
		fmt.Fprintf(&b, "\n- %s -> %s", e.Input, e.Outcome)
	}
	return b.String()
}

func teamSection(data subsystem.Data) string {
	team, _ := data[subsystem.KeyTeam].(subsystem.Data)
	if can, _ := team["can_delegate"].(bool); !can {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Delegation\nYou may hand a subtask to a subordinate agent with the call_subordinate tool " +
		`and {"message": "..."}.`)
	members, _ := team["members"].([]cooperation.Member)
	for _, m := range members {
		fmt.Fprintf(&b, "\n- %s (%s)", m.ID, m.Role)
	}
	return b.String()
}

func strategySection(data subsystem.Data) string {
	st, _ := data[subsystem.KeyStrategy].(subsystem.Data)
	detail, ok := st["detail"].(float64)
	switch {
	case !ok:
		return ""
	case detail < 0.35:
		return "Keep answers brief."
	case detail > 0.65:
		return "Be thorough and explain your reasoning."
	}
	return ""
}

func allocationSection(data subsystem.Data) string {
	alloc, _ := data[subsystem.KeyAllocation].(subsystem.Data)
	if throttle, _ := alloc["throttle"].(bool); throttle {
		return "Resources are constrained: avoid delegation and long tool chains."
	}
	return ""
}
