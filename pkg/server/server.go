// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes a LocalRuntime over HTTP+JSON.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/visionsync/pkg/agentctx"
	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/core"
	"github.com/jllopis/visionsync/pkg/errors"
	"github.com/jllopis/visionsync/pkg/log"
	"github.com/jllopis/visionsync/pkg/memory"
	"github.com/jllopis/visionsync/pkg/runtime"
	"github.com/jllopis/visionsync/pkg/subsystem"
)

const maxBodyBytes = 4 << 20

// Server routes /api requests to a runtime.
type Server struct {
	rt           *runtime.LocalRuntime
	settingsPath string
	logger       *slog.Logger
}

type Option func(*Server)

// WithSettingsPath sets the file POST /api/settings persists to. Empty
// keeps settings in memory only.
func WithSettingsPath(path string) Option {
	return func(s *Server) { s.settingsPath = path }
}

// WithLogger sets the logger used for failed requests.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server over rt.
func New(rt *runtime.LocalRuntime, opts ...Option) *Server {
	s := &Server{rt: rt, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type messageRequest struct {
	ContextID string `json:"context_id"`
	Message   string `json:"message"`
}

type historyRequest struct {
	ContextID string           `json:"context_id"`
	Messages  []memory.Message `json:"messages"`
}

type historyResponse struct {
	ContextID string           `json:"context_id"`
	Messages  []memory.Message `json:"messages"`
}

type statusResponse struct {
	Status    string `json:"status"`
	ContextID string `json:"context_id,omitempty"`
}

// ServeHTTP routes requests under /api.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := normalizePath(r.URL.Path)
	if len(segments) == 0 {
		http.NotFound(w, r)
		return
	}
	switch segments[0] {
	case "message":
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		s.handleMessage(w, r)
	case "contexts":
		s.handleContexts(w, r, segments)
	case "settings":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, s.rt.Config().ToMap())
		case http.MethodPost:
			s.handleUpdateSettings(w, r)
		default:
			http.NotFound(w, r)
		}
	case "metrics":
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		s.handleMetrics(w, r)
	case "chat":
		if len(segments) != 2 || segments[1] != "history" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleGetHistory(w, r)
		case http.MethodPost:
			s.handleImportHistory(w, r)
		default:
			http.NotFound(w, r)
		}
	case "health":
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		s.handleHealth(w, r)
	case "events":
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, s.rt.Events().Events(r.URL.Query().Get("context_id")))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, r, errors.New(errors.CodeInvalidInput, "message is required", nil))
		return
	}
	reply, err := s.rt.Send(r.Context(), req.ContextID, req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		list := s.rt.Registry().List()
		out := make([]agentctx.Snapshot, 0, len(list))
		for _, c := range list {
			out = append(out, c.CurrentContext())
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	id := segments[1]
	if len(segments) == 2 {
		switch r.Method {
		case http.MethodGet:
			c, ok := s.rt.Registry().Get(id)
			if !ok {
				s.writeError(w, r, notFound(id))
				return
			}
			writeJSON(w, http.StatusOK, c.FullContext())
		case http.MethodDelete:
			if err := s.rt.Remove(r.Context(), id); err != nil {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, statusResponse{Status: "removed", ContextID: id})
		default:
			http.NotFound(w, r)
		}
		return
	}
	if len(segments) != 3 {
		http.NotFound(w, r)
		return
	}
	switch segments[2] {
	case "pause", "resume", "intervene":
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		s.handleControl(w, r, id, segments[2])
	case "log":
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		s.handleLog(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request, id, action string) {
	var err error
	switch action {
	case "pause":
		err = s.rt.Pause(id)
	case "resume":
		err = s.rt.Resume(id)
	case "intervene":
		var req messageRequest
		if err = decodeJSON(r, &req); err == nil {
			if strings.TrimSpace(req.Message) == "" {
				err = errors.New(errors.CodeInvalidInput, "message is required", nil)
			} else {
				err = s.rt.Intervene(r.Context(), id, req.Message)
			}
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: action + "d", ContextID: id})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request, id string) {
	c, ok := s.rt.Registry().Get(id)
	if !ok {
		s.writeError(w, r, notFound(id))
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filters, err := q.Filters()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries := c.Log().Entries(filters...)
	if entries == nil {
		entries = []log.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseQuery(r *http.Request) (log.Query, error) {
	values := r.URL.Query()
	q := log.Query{Level: values.Get("level"), ContextID: values.Get("context_id")}
	for name, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return log.Query{}, errors.New(errors.CodeInvalidInput, "invalid "+name+" time", err)
		}
		*dst = t
	}
	return q, nil
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	patch := map[string]any{}
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.rt.Config().Merge(patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.settingsPath != "" {
		if err := config.SaveAgent(s.settingsPath, cfg); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.rt.SetConfig(cfg)
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("context_id")
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"contexts": s.rt.Registry().Len(),
			"created":  s.rt.Registry().Counter(),
			"events":   len(s.rt.Events().Events("")),
		})
		return
	}
	a, ok := s.rt.Agent(id)
	if !ok {
		s.writeError(w, r, notFound(id))
		return
	}
	systems := a.Systems()
	usage, err := systems.Resource.MonitorUsage(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trends, err := systems.Analytics.AnalyzeTrends(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	analysis, err := a.Analyze(r.Context(), subsystem.Data{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"context_id": id,
		"usage":      usage,
		"trends":     trends,
		"analysis":   analysis,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("context_id")
	if id == "" {
		s.writeError(w, r, errors.New(errors.CodeInvalidInput, "context_id is required", nil))
		return
	}
	msgs, err := s.rt.History(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{ContextID: id, Messages: msgs})
}

func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Messages == nil {
		s.writeError(w, r, errors.New(errors.CodeInvalidInput, "messages are required", nil))
		return
	}
	id, err := s.rt.ImportHistory(r.Context(), req.ContextID, req.Messages)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", ContextID: id})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	results, status := s.rt.Health().CheckAll(ctx)
	code := http.StatusOK
	if status != core.HealthHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "components": results})
}

func notFound(id string) error {
	return errors.New(errors.CodeNotFound, "context "+id+" not found", nil).
		WithContext("context_id", id)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New(errors.CodeInvalidInput, "request body is required", nil)
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "read request body", err)
	}
	if len(body) == 0 {
		return errors.New(errors.CodeInvalidInput, "request body is required", nil)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New(errors.CodeInvalidInput, "invalid JSON body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err, logs it under a fresh error id and writes the
// public part of the classification.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errors.NewResponse(err)
	s.logger.ErrorContext(r.Context(), "server.request.error",
		slog.String("error_id", resp.ErrorID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", resp.Status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, resp.Status, resp)
}

// normalizePath strips the /api prefix and splits the rest.
func normalizePath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	segments := strings.Split(path, "/")
	if segments[0] == "api" {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return nil
	}
	return segments
}
