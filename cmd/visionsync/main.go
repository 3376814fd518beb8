// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the VisionSync CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	if err := newRootCmd(opts).ExecuteContext(ctx); err != nil {
		printError(err, opts.json)
		stop()
		os.Exit(1)
	}
}
