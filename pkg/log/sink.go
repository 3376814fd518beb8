// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink receives every entry appended to a Log, in order.
type Sink interface {
	Write(Entry) error
	Close() error
}

// TextSink writes one Entry.String() line per entry.
type TextSink struct {
	w io.WriteCloser
}

// NewTextSink wraps w.
func NewTextSink(w io.WriteCloser) *TextSink { return &TextSink{w: w} }

func (s *TextSink) Write(e Entry) error {
	_, err := io.WriteString(s.w, e.String()+"\n")
	return err
}

func (s *TextSink) Close() error { return s.w.Close() }

// JSONSink writes one JSON object per line.
type JSONSink struct {
	enc *json.Encoder
	w   io.WriteCloser
}

// NewJSONSink wraps w.
func NewJSONSink(w io.WriteCloser) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w), w: w}
}

func (s *JSONSink) Write(e Entry) error { return s.enc.Encode(e) }

func (s *JSONSink) Close() error { return s.w.Close() }

// SlogSink mirrors entries to a slog logger. It never closes the logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink writing to logger (slog.Default when nil).
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Write(e Entry) error {
	attrs := make([]slog.Attr, 0, len(e.Metadata)+1)
	if e.ContextID != "" {
		attrs = append(attrs, slog.String("context_id", e.ContextID))
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, e.Metadata[k]))
	}
	s.logger.LogAttrs(context.Background(), e.Level.Slog(), e.Message, attrs...)
	return nil
}

func (s *SlogSink) Close() error { return nil }

// SinkConfig describes the rotating file pair created by NewFileSinks.
type SinkConfig struct {
	Dir        string `koanf:"dir"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	Compress   bool   `koanf:"compress"`
}

// DefaultSinkConfig mirrors the classic 10MB x 5 backups rotation.
func DefaultSinkConfig(dir string) SinkConfig {
	return SinkConfig{Dir: dir, MaxSizeMB: 10, MaxBackups: 5}
}

// NewFileSinks creates <dir>/<name>.log and <dir>/<name>.json, both rotating.
func NewFileSinks(name string, cfg SinkConfig) ([]Sink, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	rotating := func(ext string) *lumberjack.Logger {
		return &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, name+ext),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
	}
	return []Sink{
		NewTextSink(rotating(".log")),
		NewJSONSink(rotating(".json")),
	}, nil
}
