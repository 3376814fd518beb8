// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads VisionSync settings.
//
// Sources are layered with koanf in increasing precedence: built-in defaults,
// the settings file, an optional profile overlay, VISIONSYNC_* environment
// variables and --set command line overrides. The agent subtree decodes into
// an immutable AgentConfig.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
// Levels are separated by a double underscore:
// VISIONSYNC_AGENT__CHAT_MODEL__NAME -> agent.chat_model.name.
const EnvPrefix = "VISIONSYNC_"

// Settings is the root of the settings file.
type Settings struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Agent     *AgentConfig    `koanf:"-"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"` // json, text
	Dir        string `koanf:"dir"`    // empty disables file sinks
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
}

type TelemetryConfig struct {
	Enabled            bool   `koanf:"enabled"`
	Exporter           string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
	ServiceName        string `koanf:"service_name"`
}

type ServerConfig struct {
	Addr         string `koanf:"addr"`
	SettingsPath string `koanf:"settings_path"`
	HistoryPath  string `koanf:"history_path"`
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("log.dir", "")
	k.Set("log.max_size_mb", 10)
	k.Set("log.max_backups", 5)

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.otlp_timeout_seconds", 10)
	k.Set("telemetry.service_name", "visionsync")

	k.Set("server.addr", ":50001")
	k.Set("server.settings_path", "settings.yaml")
	k.Set("server.history_path", "history")
}

// Load reads settings from path (may be empty) plus environment overrides.
func Load(path string) (*Settings, error) {
	return load(path, "", nil)
}

// LoadWithProfile is Load followed by the <name>.<profile><ext> overlay
// next to path, when it exists.
func LoadWithProfile(path, profile string) (*Settings, error) {
	return load(path, profile, nil)
}

// LoadWithCLI understands --config <path>, --profile <name> and repeated
// --set key=value arguments. Values are parsed as JSON when possible.
func LoadWithCLI(args []string) (*Settings, error) {
	opts, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, opts.sets)
}

func load(path, profile string, sets map[string]any) (*Settings, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if profile != "" {
			pp := ProfilePath(path, profile)
			if _, err := os.Stat(pp); err == nil {
				if err := k.Load(file.Provider(pp), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load profile %s: %w", pp, err)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for key, v := range sets {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", key, err)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, err
	}
	agent, err := FromMap(k.Cut("agent").Raw())
	if err != nil {
		return nil, err
	}
	s.Agent = agent
	return &s, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// ProfilePath returns the overlay path for profile: settings.yaml -> settings.dev.yaml.
func ProfilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

type cliOptions struct {
	path    string
	profile string
	sets    map[string]any
}

func parseCLIOverrides(args []string) (cliOptions, error) {
	opts := cliOptions{sets: map[string]any{}}
	for i := 0; i < len(args); i++ {
		name, value, hasInline := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--set":
		default:
			continue
		}
		if !hasInline {
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for %s", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return opts, fmt.Errorf("invalid --set %q, want key=value", value)
			}
			opts.sets[strings.TrimSpace(key)] = parseValue(raw)
		}
	}
	return opts, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
