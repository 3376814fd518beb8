// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cause := errors.New("network timeout")
	e := New(CodeTimeout, "tool execution timed out", cause)

	assert.Equal(t, CodeTimeout, e.Code)
	assert.Equal(t, "tool execution timed out", e.Message)
	assert.Same(t, cause, e.Err)
	assert.True(t, errors.Is(e, cause))
	assert.Equal(t, 408, e.StatusCode)
}

func TestBuilders(t *testing.T) {
	e := New(CodeToolFailure, "tool failed", nil).
		WithContext("tool", "search").
		WithAttribute("retry_count", "3").
		WithRecoverable(true)

	assert.Equal(t, "search", e.Context["tool"])
	assert.Equal(t, "3", e.Attributes["retry_count"])
	assert.True(t, e.Recoverable)
	assert.Equal(t, "true", e.RecoverableString())
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{"with cause", New(CodeTimeout, "operation timed out", errors.New("deadline exceeded")), "[TIMEOUT] operation timed out: deadline exceeded"},
		{"without cause", New(CodeNotFound, "context missing", nil), "[NOT_FOUND] context missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestSentinels(t *testing.T) {
	err := fmt.Errorf("loading: %w", InvalidLevel("VERBOSE"))
	assert.ErrorIs(t, err, ErrInvalidLevel)
	assert.NotErrorIs(t, err, ErrSubsystemFailure)
	assert.True(t, HasCode(err, CodeInvalidLevel))

	sub := SubsystemFailure("pattern", "process", errors.New("boom"))
	assert.ErrorIs(t, sub, ErrSubsystemFailure)
	assert.Equal(t, "pattern", sub.Attributes["subsystem"])
	assert.True(t, IsRecoverable(sub))

	assert.ErrorIs(t, TurnFailure("model_call", nil), ErrTurnFailure)
	assert.ErrorIs(t, OrchestrationFailure("loop aborted", nil), ErrOrchestrationFailure)
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	plain := errors.New("plain")
	wrapped := AsError(plain)
	assert.Equal(t, CodeInternal, wrapped.Code)
	assert.ErrorIs(t, wrapped, plain)

	orig := New(CodeNotFound, "nope", nil)
	assert.Same(t, orig, AsError(fmt.Errorf("outer: %w", orig)))
}

func TestMarshalJSON(t *testing.T) {
	e := New(CodeLLMError, "provider down", errors.New("503")).WithAttribute("provider", "openai")
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "LLM_ERROR", out["code"])
	assert.Equal(t, "503", out["error"])
	assert.Equal(t, "provider down", out["message"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"invalid input", New(CodeInvalidInput, "message is required", nil), http.StatusBadRequest, "message is required"},
		{"invalid level", InvalidLevel("LOUD"), http.StatusBadRequest, `invalid log level "LOUD"`},
		{"forbidden", New(CodeForbidden, "read only", nil), http.StatusForbidden, "read only"},
		{"not found", New(CodeNotFound, "context abc not found", nil), http.StatusNotFound, "context abc not found"},
		{"fs not exist hides path", &fs.PathError{Op: "open", Path: "/etc/visionsync/settings.json", Err: fs.ErrNotExist}, http.StatusNotFound, notExistMessage},
		{"fs permission hides path", fmt.Errorf("save: %w", &fs.PathError{Op: "open", Path: "/srv/prompts", Err: fs.ErrPermission}), http.StatusForbidden, permissionMessage},
		{"coded error wins over fs", New(CodeNotFound, "prompt missing", fs.ErrNotExist), http.StatusNotFound, "prompt missing"},
		{"internal wrapping fs", New(CodeInternal, "load", fs.ErrNotExist), http.StatusNotFound, notExistMessage},
		{"internal hides detail", New(CodeLLMError, "secret key rejected", nil), http.StatusInternalServerError, internalMessage},
		{"plain error hides detail", errors.New("db password wrong"), http.StatusInternalServerError, internalMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := Classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, msg)
		})
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, CodeInternal, resp.Code)
	assert.Equal(t, internalMessage, resp.Message)
	_, err := uuid.Parse(resp.ErrorID)
	assert.NoError(t, err)

	resp = NewResponse(New(CodeInvalidInput, "bad", nil))
	assert.Equal(t, CodeInvalidInput, resp.Code)
	assert.NotEqual(t, resp.ErrorID, NewResponse(nil).ErrorID)
}
