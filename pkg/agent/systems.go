// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"

	"github.com/jllopis/visionsync/pkg/config"
	"github.com/jllopis/visionsync/pkg/memory"
	"github.com/jllopis/visionsync/pkg/memory/ollama"
	"github.com/jllopis/visionsync/pkg/subsystem"
	"github.com/jllopis/visionsync/pkg/subsystem/analytics"
	"github.com/jllopis/visionsync/pkg/subsystem/cooperation"
	"github.com/jllopis/visionsync/pkg/subsystem/evolution"
	"github.com/jllopis/visionsync/pkg/subsystem/interaction"
	"github.com/jllopis/visionsync/pkg/subsystem/learning"
	"github.com/jllopis/visionsync/pkg/subsystem/pattern"
	"github.com/jllopis/visionsync/pkg/subsystem/resource"
)

// DefaultSystems builds the seven built-in enhancement systems for cfg.
// The learning store follows cfg.Learning().Backend; the vector backend
// embeds through the embeddings model binding.
func DefaultSystems(ctx context.Context, cfg *config.AgentConfig) (subsystem.Set, error) {
	pat, err := pattern.New(cfg.Pattern())
	if err != nil {
		return subsystem.Set{}, fmt.Errorf("pattern: %w", err)
	}

	lc := cfg.Learning()
	var embedder memory.Embedder
	if lc.Backend == "vector" {
		embedder = ollama.FromModelConfig(cfg.EmbeddingsModel())
	}
	store, err := learning.OpenStore(ctx, lc, embedder)
	if err != nil {
		return subsystem.Set{}, fmt.Errorf("learning: %w", err)
	}

	an, err := analytics.New(cfg.Analytics())
	if err != nil {
		_ = store.Close()
		return subsystem.Set{}, fmt.Errorf("analytics: %w", err)
	}
	ui, err := interaction.New(cfg.Interface())
	if err != nil {
		_ = store.Close()
		return subsystem.Set{}, fmt.Errorf("interface: %w", err)
	}

	return subsystem.Set{
		Pattern:     pat,
		Resource:    resource.New(cfg.Resource()),
		Learning:    learning.New(lc, store),
		Cooperation: cooperation.New(cfg.Cooperation()),
		Evolution:   evolution.New(cfg.Evolution()),
		Analytics:   an,
		Interface:   ui,
	}, nil
}
