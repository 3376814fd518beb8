// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package interaction

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

func newSystem(t *testing.T, format string, limit int) *System {
	t.Helper()
	cfg := config.DefaultInterface()
	cfg.ResponseFormat = format
	cfg.MaxResponseLength = limit
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestFormatResponse(t *testing.T) {
	ctx := context.Background()
	src := "# Title\n\nSome **bold** text and `code`.\n\n- one\n- two\n"

	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{FormatMarkdown, func(t *testing.T, out string) { assert.Equal(t, src, out) }},
		{FormatHTML, func(t *testing.T, out string) {
			assert.Contains(t, out, "<h1>Title</h1>")
			assert.Contains(t, out, "<strong>bold</strong>")
			assert.Contains(t, out, "<li>one</li>")
		}},
		{FormatPlain, func(t *testing.T, out string) {
			assert.Equal(t, "Title\nSome bold text and code.\none\ntwo", out)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := newSystem(t, tt.format, 0).FormatResponse(ctx, src)
			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}

func TestPlainKeepsCodeBlocks(t *testing.T) {
	s := newSystem(t, FormatPlain, 0)
	out, err := s.FormatResponse(context.Background(), "Run:\n\n```sh\nmake test\n```\n")
	require.NoError(t, err)
	assert.Equal(t, "Run:\nmake test", out)
}

func TestTruncation(t *testing.T) {
	ctx := context.Background()
	s := newSystem(t, FormatMarkdown, 10)

	out, err := s.FormatResponse(ctx, strings.Repeat("é", 20))
	require.NoError(t, err)
	assert.Equal(t, 10, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "..."))

	short, err := s.FormatResponse(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "short", short)

	a, err := s.Analyze(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, a["formatted"])
	assert.Equal(t, 1, a["truncated"])
}

func TestFormatInputAndOutput(t *testing.T) {
	ctx := context.Background()
	s := newSystem(t, FormatMarkdown, 0)
	require.NoError(t, s.Adapt(ctx, subsystem.Data{"style_preferences": map[string]any{"tone": "friendly"}}))

	in, err := s.Process(ctx, subsystem.Data{subsystem.KeyUserMessage: "  hi\r\nthere  "})
	require.NoError(t, err)
	assert.Equal(t, "hi\nthere", in[subsystem.KeyUserMessage])
	st := in[subsystem.KeyResponseStyle].(subsystem.Data)
	assert.Equal(t, "tone: friendly", st["style"])

	out, err := s.FormatOutput(ctx, subsystem.Data{"other": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out["other"])
}

func TestFormatPrompt(t *testing.T) {
	s := newSystem(t, FormatPlain, 500)
	p, err := s.FormatPrompt(context.Background(), "You are helpful.\n")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, "You are helpful.\n\n## Response format\n"))
	assert.Contains(t, p, "plain text")
	assert.Contains(t, p, "under 500 characters")
}

func TestUnknownFormat(t *testing.T) {
	cfg := config.DefaultInterface()
	cfg.ResponseFormat = "rtf"
	_, err := New(cfg)
	assert.Error(t, err)
}
