// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jllopis/visionsync/pkg/agent"
	"github.com/jllopis/visionsync/pkg/agentctx"
	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/llm"
	"github.com/jllopis/visionsync/pkg/runtime"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var echoModel = llm.CallerFunc(func(_ context.Context, p llm.Prompt) (string, error) {
	last := p.Messages[len(p.Messages)-1].Content
	return `{"tool_name":"response","tool_args":{"text":"echo: ` + last + `"}}`, nil
})

func newServer(t *testing.T, opts ...Option) (*Server, *runtime.LocalRuntime) {
	t.Helper()
	rt := runtime.NewLocal(runtime.WithAgentOptions(agent.WithModel(echoModel)))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return New(rt, opts...), rt
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func sendMessage(t *testing.T, s *Server, msg string) runtime.Reply {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/message", `{"message":"`+msg+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[runtime.Reply](t, rec)
}

func TestMessageAndContexts(t *testing.T) {
	s, _ := newServer(t)
	reply := sendMessage(t, s, "hello")
	assert.Equal(t, "echo: hello", reply.Result)
	require.NotEmpty(t, reply.ContextID)

	rec := do(t, s, http.MethodGet, "/api/contexts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]agentctx.Snapshot](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, reply.ContextID, list[0].ID)

	rec = do(t, s, http.MethodGet, "/api/contexts/"+reply.ContextID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	full := decode[agentctx.FullSnapshot](t, rec)
	assert.Equal(t, reply.ContextID, full.ID)
	assert.True(t, full.Active)
}

func TestMessageValidation(t *testing.T) {
	s, _ := newServer(t)
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "bad json", body: "{"},
		{name: "blank message", body: `{"message":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/message", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[errors.Response](t, rec)
			assert.Equal(t, errors.CodeInvalidInput, resp.Code)
			assert.NotEmpty(t, resp.ErrorID)
		})
	}
}

func TestUnknownContextIs404(t *testing.T) {
	s, _ := newServer(t)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/contexts/missing", ""},
		{http.MethodDelete, "/api/contexts/missing", ""},
		{http.MethodPost, "/api/contexts/missing/pause", ""},
		{http.MethodPost, "/api/contexts/missing/intervene", `{"message":"x"}`},
		{http.MethodGet, "/api/contexts/missing/log", ""},
		{http.MethodGet, "/api/metrics?context_id=missing", ""},
		{http.MethodGet, "/api/chat/history?context_id=missing", ""},
	} {
		rec := do(t, s, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.path)
		assert.Equal(t, errors.CodeNotFound, decode[errors.Response](t, rec).Code)
	}
}

func TestRouting404(t *testing.T) {
	s, _ := newServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodGet, "/api/unknown"},
		{http.MethodGet, "/api/message"},
		{http.MethodPut, "/api/settings"},
		{http.MethodGet, "/api/chat/other"},
		{http.MethodGet, "/api/contexts/a/b/c"},
	} {
		rec := do(t, s, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.path)
	}
}

func TestPauseResumeInterveneRemove(t *testing.T) {
	s, rt := newServer(t)
	id := sendMessage(t, s, "hi").ContextID
	c, ok := rt.Registry().Get(id)
	require.True(t, ok)

	rec := do(t, s, http.MethodPost, "/api/contexts/"+id+"/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, c.IsPaused())

	rec = do(t, s, http.MethodPost, "/api/contexts/"+id+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, c.IsPaused())

	rec = do(t, s, http.MethodPost, "/api/contexts/"+id+"/intervene", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/contexts/"+id+"/intervene", `{"message":"stop"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "intervened", decode[statusResponse](t, rec).Status)

	rec = do(t, s, http.MethodDelete, "/api/contexts/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rt.Registry().Len())
}

func TestContextLog(t *testing.T) {
	s, rt := newServer(t)
	id := sendMessage(t, s, "hi").ContextID
	c, _ := rt.Registry().Get(id)
	c.Log().Warning("watch out")

	rec := do(t, s, http.MethodGet, "/api/contexts/"+id+"/log?level=WARNING", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]map[string]any](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "watch out", entries[0]["message"])

	rec = do(t, s, http.MethodGet, "/api/contexts/"+id+"/log?level=LOUD", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/contexts/"+id+"/log?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s, rt := newServer(t, WithSettingsPath(path))

	rec := do(t, s, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, false, got["debug"])

	rec = do(t, s, http.MethodPost, "/api/settings", `{"debug":true,"loop":{"max_turn_retries":7}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, rt.Config().Debug())
	assert.Equal(t, 7, rt.Config().Loop().MaxTurnRetries)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "max_turn_retries: 7")

	rec = do(t, s, http.MethodPost, "/api/settings", `{"pattern":{"min_examples":"many"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 7, rt.Config().Loop().MaxTurnRetries)
}

func TestSettingsInMemory(t *testing.T) {
	s, rt := newServer(t)
	rec := do(t, s, http.MethodPost, "/api/settings", `{"log_level":"DEBUG"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DEBUG", rt.Config().LogLevel())
	assert.False(t, config.Default().Debug())
}

func TestChatHistory(t *testing.T) {
	s, _ := newServer(t)
	rec := do(t, s, http.MethodGet, "/api/chat/history", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/chat/history",
		`{"context_id":"restored","messages":[{"role":"user","content":"earlier"},{"role":"assistant","content":"reply"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "restored", decode[statusResponse](t, rec).ContextID)

	rec = do(t, s, http.MethodGet, "/api/chat/history?context_id=restored", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[historyResponse](t, rec)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, "earlier", hist.Messages[0].Content)
	assert.Equal(t, "restored", hist.Messages[0].SessionID)

	rec = do(t, s, http.MethodPost, "/api/chat/history", `{"context_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsHealthEvents(t *testing.T) {
	s, _ := newServer(t)
	id := sendMessage(t, s, "hi").ContextID

	rec := do(t, s, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, summary["contexts"])

	rec = do(t, s, http.MethodGet, "/api/metrics?context_id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode[map[string]any](t, rec)
	assert.Equal(t, id, m["context_id"])
	assert.Contains(t, m, "usage")
	assert.Contains(t, m, "trends")
	analysis, ok := m["analysis"].(map[string]any)
	require.True(t, ok, "analysis keyed by system kind")
	assert.Len(t, analysis, 7)
	assert.Contains(t, analysis, "pattern")
	assert.Contains(t, analysis["learning"], "stored")

	rec = do(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HEALTHY", decode[map[string]any](t, rec)["status"])

	rec = do(t, s, http.MethodGet, "/api/events?context_id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]map[string]any](t, rec))
}

func TestHealthUnavailableAfterStop(t *testing.T) {
	rt := runtime.NewLocal()
	s := New(rt)
	rec := do(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
