// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"log/slog"
	"strings"

	"github.com/jllopis/visionsync/pkg/errors"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// LevelCriticalSlog is the slog level used for CRITICAL entries.
const LevelCriticalSlog = slog.LevelError + 4

var levelNames = [...]string{
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelWarning:  "WARNING",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

// String returns the canonical upper-case name.
func (l Level) String() string {
	if l < LevelDebug || l > LevelCritical {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// Valid reports whether l is one of the five known levels.
func (l Level) Valid() bool {
	return l >= LevelDebug && l <= LevelCritical
}

// Slog maps the level onto slog's scale.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return LevelCriticalSlog
	default:
		return slog.LevelInfo
	}
}

// ParseLevel resolves a level name case-insensitively.
// Unknown names yield an INVALID_LEVEL error.
func ParseLevel(name string) (Level, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range levelNames {
		if n == upper {
			return Level(i), nil
		}
	}
	return LevelInfo, errors.InvalidLevel(name)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, errors.InvalidLevel(l.String())
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
