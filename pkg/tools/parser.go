// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/tidwall/jsonc"
)

// maxRequestSize bounds the text scanned for a tool request.
const maxRequestSize = 1 << 20

// ErrNoRequest is returned when a response carries no JSON object.
var ErrNoRequest = errors.New("no tool request found")

// Request is a tool invocation extracted from a model response.
//
// Expected shape:
//
//	{
//	  "thoughts": ["..."],
//	  "tool_name": "response",
//	  "tool_args": {"text": "..."}
//	}
type Request struct {
	Thoughts []string       `json:"thoughts,omitempty"`
	Name     string         `json:"tool_name"`
	Args     map[string]any `json:"tool_args,omitempty"`
}

// Parse extracts the first tool request from text. Models often wrap the
// object in prose or a code fence and leave comments or trailing commas in
// it; both are tolerated, as is an HTML-escaped object.
func Parse(text string) (*Request, error) {
	if len(text) > maxRequestSize {
		return nil, fmt.Errorf("tool request exceeds %d bytes", maxRequestSize)
	}
	raw, ok := firstObject(text)
	if !ok {
		return nil, ErrNoRequest
	}
	var req Request
	if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &req); err != nil {
		// Responses rendered to HTML carry the object entity-escaped.
		if !strings.Contains(raw, "&") {
			return nil, fmt.Errorf("decode tool request: %w", err)
		}
		req = Request{}
		if err2 := json.Unmarshal(jsonc.ToJSON([]byte(html.UnescapeString(raw))), &req); err2 != nil {
			return nil, fmt.Errorf("decode tool request: %w", err)
		}
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("tool request without tool_name")
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}
	return &req, nil
}

// firstObject returns the first balanced {...} span in s, skipping braces
// inside string literals.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
