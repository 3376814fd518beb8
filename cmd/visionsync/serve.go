// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/server"
	"github.com/jllopis/visionsync/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(o *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API over a local runtime.

The settings file is watched; agent settings changes are applied to idle
sessions without a restart. POST /api/settings writes back to the same file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), o, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}

func runServe(ctx context.Context, o *rootOptions, addr string) error {
	s, err := o.load()
	if err != nil {
		return err
	}
	l := logger(s)
	if addr == "" {
		addr = s.Server.Addr
	}

	shutdownTelemetry := telemetry.ShutdownFunc(telemetry.Noop)
	if s.Telemetry.Enabled {
		shutdownTelemetry, err = telemetry.InitWithConfig(s.Telemetry.ServiceName, version, telemetry.FromSettings(s.Telemetry))
		if err != nil {
			return err
		}
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			l.Warn("telemetry.shutdown", slog.String("error", err.Error()))
		}
	}()

	rt, err := newRuntime(s, l)
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := rt.Stop(context.Background()); err != nil {
			l.Warn("runtime.stop", slog.String("error", err.Error()))
		}
	}()

	settingsPath := o.settingsFile()
	if settingsPath != "" {
		w, err := config.NewWatcher(settingsPath,
			config.WithWatchProfile(o.profile),
			config.WithWatchLogger(l),
		)
		if err != nil {
			return NewConfigError(err, settingsPath)
		}
		w.OnChange(func(ns *config.Settings) {
			if !ns.Agent.Equal(rt.Config()) {
				rt.SetConfig(ns.Agent)
			}
		})
		w.Start(ctx)
		defer w.Stop()
	} else {
		settingsPath = s.Server.SettingsPath
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(rt, server.WithSettingsPath(settingsPath), server.WithLogger(l)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	l.Info("server.start", slog.String("addr", addr), slog.String("version", version))

	select {
	case err := <-errCh:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return WrapServeError(err, addr)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	l.Info("server.shutdown")
	return srv.Shutdown(sctx)
}
