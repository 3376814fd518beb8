// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package interaction formats prompts and responses for the user-facing
// surface: markdown passthrough, plain text or HTML rendering, style hints
// and length limits.
package interaction

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

// Response formats.
const (
	FormatMarkdown = "markdown"
	FormatPlain    = "plain"
	FormatHTML     = "html"
)

const ellipsis = "..."

// System implements subsystem.InterfaceSystem.
type System struct {
	md goldmark.Markdown

	mu        sync.Mutex
	cfg       config.InterfaceConfig
	formatted int
	truncated int
}

var _ subsystem.InterfaceSystem = (*System)(nil)

func New(cfg config.InterfaceConfig) (*System, error) {
	switch cfg.ResponseFormat {
	case "":
		cfg.ResponseFormat = FormatMarkdown
	case FormatMarkdown, FormatPlain, FormatHTML:
	default:
		return nil, fmt.Errorf("unknown response format %q", cfg.ResponseFormat)
	}
	cfg.StylePreferences = maps.Clone(cfg.StylePreferences)
	if cfg.StylePreferences == nil {
		cfg.StylePreferences = map[string]any{}
	}
	return &System{
		md:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		cfg: cfg,
	}, nil
}

func (s *System) Kind() subsystem.Kind { return subsystem.KindInterface }

func (s *System) config() config.InterfaceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cfg
	c.StylePreferences = maps.Clone(s.cfg.StylePreferences)
	return c
}

// style renders the style preferences as sorted "key: value" pairs.
func style(prefs map[string]any) string {
	keys := slices.Sorted(maps.Keys(prefs))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, prefs[k]))
	}
	return strings.Join(parts, ", ")
}

// FormatInput normalizes the user message and publishes the response style.
func (s *System) FormatInput(_ context.Context, in subsystem.Data) (subsystem.Data, error) {
	cfg := s.config()
	out := in.Clone()
	if msg, ok := in[subsystem.KeyUserMessage].(string); ok {
		msg = strings.ReplaceAll(msg, "\r\n", "\n")
		out[subsystem.KeyUserMessage] = strings.TrimSpace(msg)
	}
	out[subsystem.KeyResponseStyle] = subsystem.Data{
		"format":     cfg.ResponseFormat,
		"max_length": cfg.MaxResponseLength,
		"stream":     cfg.StreamOutput,
		"style":      style(cfg.StylePreferences),
	}
	return out, nil
}

// FormatPrompt appends formatting guidance to a system prompt.
func (s *System) FormatPrompt(_ context.Context, prompt string) (string, error) {
	cfg := s.config()
	var b strings.Builder
	b.WriteString(strings.TrimRight(prompt, "\n"))
	b.WriteString("\n\n## Response format\n")
	switch cfg.ResponseFormat {
	case FormatPlain:
		b.WriteString("- Answer in plain text without markdown.\n")
	default:
		b.WriteString("- Answer in markdown.\n")
	}
	if cfg.MaxResponseLength > 0 {
		fmt.Fprintf(&b, "- Keep answers under %d characters.\n", cfg.MaxResponseLength)
	}
	if st := style(cfg.StylePreferences); st != "" {
		fmt.Fprintf(&b, "- Style: %s.\n", st)
	}
	return b.String(), nil
}

// FormatResponse truncates response to the length limit and renders it in
// the configured format.
func (s *System) FormatResponse(_ context.Context, response string) (string, error) {
	cfg := s.config()
	cut := truncate(response, cfg.MaxResponseLength)

	var out string
	switch cfg.ResponseFormat {
	case FormatHTML:
		var buf bytes.Buffer
		if err := s.md.Convert([]byte(cut), &buf); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
		out = buf.String()
	case FormatPlain:
		out = s.plain([]byte(cut))
	default:
		out = cut
	}

	s.mu.Lock()
	s.formatted++
	if cut != response {
		s.truncated++
	}
	s.mu.Unlock()
	return out, nil
}

// FormatOutput formats the response carried in loop data.
func (s *System) FormatOutput(ctx context.Context, out subsystem.Data) (subsystem.Data, error) {
	resp, ok := out[subsystem.KeyResponse].(string)
	if !ok {
		return out, nil
	}
	f, err := s.FormatResponse(ctx, resp)
	if err != nil {
		return nil, err
	}
	res := out.Clone()
	res[subsystem.KeyResponse] = f
	return res, nil
}

// truncate cuts s to at most limit runes including the ellipsis.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := max(0, limit-len(ellipsis))
	i, n := 0, 0
	for i < len(s) && n < keep {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n++
	}
	return s[:i] + ellipsis
}

// plain strips markdown syntax, keeping text, code and line structure.
func (s *System) plain(src []byte) string {
	doc := s.md.Parser().Parse(text.NewReader(src))
	var b strings.Builder
	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				newline()
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.Label(src))
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// Process normalizes the input.
func (s *System) Process(ctx context.Context, in subsystem.Data) (subsystem.Data, error) {
	return s.FormatInput(ctx, in)
}

func (s *System) Analyze(_ context.Context, _ subsystem.Data) (subsystem.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []string
	if s.formatted > 0 && float64(s.truncated)/float64(s.formatted) > 0.5 {
		recs = append(recs, "most responses exceed max_response_length; raise the limit or ask for brevity")
	}
	return subsystem.Data{
		"format":          s.cfg.ResponseFormat,
		"formatted":       s.formatted,
		"truncated":       s.truncated,
		"recommendations": recs,
	}, nil
}

// Adapt merges "style_preferences" from feedback into the active style.
func (s *System) Adapt(_ context.Context, feedback subsystem.Data) error {
	prefs, ok := feedback["style_preferences"].(map[string]any)
	if !ok {
		return nil
	}
	s.mu.Lock()
	maps.Copy(s.cfg.StylePreferences, prefs)
	s.mu.Unlock()
	return nil
}

// Close implements subsystem.System; the system holds nothing to release.
func (s *System) Close(context.Context) error { return nil }
