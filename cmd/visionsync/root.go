// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/log"
	"github.com/jllopis/visionsync/pkg/memory"
	"github.com/jllopis/visionsync/pkg/runtime"
	"github.com/jllopis/visionsync/pkg/telemetry"
)

type rootOptions struct {
	configPath string
	profile    string
	sets       []string
	json       bool
}

func newRootCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "visionsync",
		Short:         "Run and talk to VisionSync agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "settings file (default: server.settings_path when it exists)")
	flags.StringVar(&o.profile, "profile", "", "profile overlay applied on top of the settings file")
	flags.StringArrayVar(&o.sets, "set", nil, "override a setting, key=value (repeatable)")
	flags.BoolVar(&o.json, "json", false, "machine readable output")

	cmd.AddCommand(
		newServeCmd(o),
		newChatCmd(o),
		newConfigCmd(o),
		newVersionCmd(o),
	)
	return cmd
}

// cliArgs rebuilds the flag form understood by config.LoadWithCLI.
func (o *rootOptions) cliArgs() []string {
	var args []string
	if path := o.settingsFile(); path != "" {
		args = append(args, "--config", path)
	}
	if o.profile != "" {
		args = append(args, "--profile", o.profile)
	}
	for _, s := range o.sets {
		args = append(args, "--set", s)
	}
	return args
}

// settingsFile is the explicit --config path, or the default settings file
// when one exists in the working directory.
func (o *rootOptions) settingsFile() string {
	if o.configPath != "" {
		return o.configPath
	}
	if _, err := os.Stat(defaultSettingsPath); err == nil {
		return defaultSettingsPath
	}
	return ""
}

const defaultSettingsPath = "settings.yaml"

func (o *rootOptions) load() (*config.Settings, error) {
	s, err := config.LoadWithCLI(o.cliArgs())
	if err != nil {
		return nil, NewConfigError(err, o.settingsFile())
	}
	return s, nil
}

// logger installs the process-wide slog logger for s.
func logger(s *config.Settings) *slog.Logger {
	return telemetry.ConfigureSlog(os.Stderr, s.Log.Level, s.Log.Format)
}

// newRuntime builds the local runtime described by s. Histories persist
// under server.history_path, in a SQLite database when the path ends in
// ".db"; context logs rotate under log.dir.
func newRuntime(s *config.Settings, l *slog.Logger, extra ...runtime.Option) (*runtime.LocalRuntime, error) {
	opts := []runtime.Option{
		runtime.WithConfig(s.Agent),
		runtime.WithLogger(l),
	}
	if s.Server.HistoryPath != "" {
		store, err := openStore(s.Server.HistoryPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, runtime.WithStore(store))
	}
	if s.Log.Dir != "" {
		opts = append(opts, runtime.WithLogSinks(log.SinkConfig{
			Dir:        s.Log.Dir,
			MaxSizeMB:  s.Log.MaxSizeMB,
			MaxBackups: s.Log.MaxBackups,
		}))
	}
	return runtime.NewLocal(append(opts, extra...)...), nil
}

func openStore(path string) (memory.ConversationStore, error) {
	if filepath.Ext(path) != ".db" {
		return memory.NewFileStore(path, memory.StoreConfig{})
	}
	db, err := memory.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	store, err := memory.NewSQLStore(context.Background(), db, "", memory.StoreConfig{})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
