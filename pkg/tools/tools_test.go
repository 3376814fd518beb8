// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/visionsync/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		tool     string
		args     map[string]any
		thoughts []string
		wantErr  error
	}{
		{
			name: "bare object",
			text: `{"thoughts":["a"],"tool_name":"response","tool_args":{"text":"hi"}}`,
			tool: "response", args: map[string]any{"text": "hi"}, thoughts: []string{"a"},
		},
		{
			name: "fenced with prose",
			text: "Sure.\n```json\n{\"tool_name\": \"response\", \"tool_args\": {\"text\": \"x\"}}\n```\nDone.",
			tool: "response", args: map[string]any{"text": "x"},
		},
		{
			name: "comments and trailing comma",
			text: "{\n  // answer\n  \"tool_name\": \"response\",\n  \"tool_args\": {\"text\": \"y\",},\n}",
			tool: "response", args: map[string]any{"text": "y"},
		},
		{
			name: "braces inside strings",
			text: `{"tool_name":"echo","tool_args":{"text":"a } b { c"}} trailing {"tool_name":"other"}`,
			tool: "echo", args: map[string]any{"text": "a } b { c"},
		},
		{
			name: "html escaped",
			text: `<p>{&quot;tool_name&quot;: &quot;response&quot;, &quot;tool_args&quot;: {&quot;text&quot;: &quot;a &amp; b&quot;}}</p>`,
			tool: "response", args: map[string]any{"text": "a & b"},
		},
		{
			name: "no args",
			text: `{"tool_name":" ping "}`,
			tool: "ping", args: map[string]any{},
		},
		{name: "no json", text: "just words", wantErr: ErrNoRequest},
		{name: "unbalanced", text: `{"tool_name": "x"`, wantErr: ErrNoRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Parse(tt.text)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.tool, req.Name)
			assert.Equal(t, tt.args, req.Args)
			assert.Equal(t, tt.thoughts, req.Thoughts)
		})
	}
}

func TestParseRejects(t *testing.T) {
	_, err := Parse(`{"tool_args":{}}`)
	assert.ErrorContains(t, err, "tool_name")

	_, err = Parse(`{"tool_name": 3}`)
	assert.Error(t, err)

	_, err = Parse(strings.Repeat(" ", maxRequestSize+1))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Response{})
	require.NoError(t, r.Register(Func{ToolName: "echo", Desc: "echoes"}))
	assert.Error(t, r.Register(Func{ToolName: "echo"}))

	_, ok := r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"echo", "response"}, r.Names())
	assert.Equal(t, "- echo: echoes\n- response: "+Response{}.Description(), r.Describe())
}

func TestExecutor(t *testing.T) {
	ctx := context.Background()
	echo := Func{
		ToolName: "echo",
		Desc:     "echoes",
		Fn: func(_ context.Context, args map[string]any) (Result, error) {
			return Result{Message: "echo: " + args["text"].(string)}, nil
		},
	}
	boom := Func{
		ToolName: "boom",
		Fn: func(context.Context, map[string]any) (Result, error) {
			return Result{}, stderrors.New("exploded")
		},
	}
	e := NewExecutor(NewRegistry(Response{}, echo, boom))

	t.Run("response ends the loop", func(t *testing.T) {
		out, err := e.ProcessTools(ctx, `{"thoughts":["done"],"tool_name":"response","tool_args":{"text":"42"}}`)
		require.NoError(t, err)
		assert.True(t, out.Done())
		assert.Equal(t, "42", out.Result)
		assert.Equal(t, []string{"done"}, out.Thoughts)
	})

	t.Run("empty response text continues", func(t *testing.T) {
		out, err := e.ProcessTools(ctx, `{"tool_name":"response","tool_args":{}}`)
		require.NoError(t, err)
		assert.False(t, out.Done())
		assert.Contains(t, out.Feedback, "text")
	})

	t.Run("tool feedback continues", func(t *testing.T) {
		out, err := e.ProcessTools(ctx, `{"tool_name":"echo","tool_args":{"text":"hi"}}`)
		require.NoError(t, err)
		assert.False(t, out.Done())
		assert.Equal(t, "echo: hi", out.Feedback)
		assert.Equal(t, "echo", out.Tool)
	})

	t.Run("no request nudges", func(t *testing.T) {
		out, err := e.ProcessTools(ctx, "I think the answer is 42")
		require.NoError(t, err)
		assert.False(t, out.Done())
		assert.Equal(t, nudgeNoRequest, out.Feedback)
	})

	t.Run("unknown tool nudges", func(t *testing.T) {
		out, err := e.ProcessTools(ctx, `{"tool_name":"fly"}`)
		require.NoError(t, err)
		assert.False(t, out.Done())
		assert.Contains(t, out.Feedback, `"fly"`)
		assert.Contains(t, out.Feedback, "response")
	})

	t.Run("invalid request nudges", func(t *testing.T) {
		out, err := e.ProcessTools(ctx, `{"tool_name": 1}`)
		require.NoError(t, err)
		assert.Contains(t, out.Feedback, "could not be decoded")
	})

	t.Run("tool failure is an error", func(t *testing.T) {
		_, err := e.ProcessTools(ctx, `{"tool_name":"boom"}`)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.CodeToolFailure))
		assert.True(t, errors.IsRecoverable(err))
		assert.Contains(t, err.Error(), "exploded")
	})
}

func TestDefaultExecutorHasResponseTool(t *testing.T) {
	e := NewExecutor(nil)
	assert.Equal(t, []string{ResponseToolName}, e.Registry().Names())
}
