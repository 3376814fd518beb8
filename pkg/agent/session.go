// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"slices"

	"github.com/jllopis/visionsync/pkg/agentctx"
	"github.com/jllopis/visionsync/pkg/config"
)

// NewSession creates a context in reg with agent 0 attached and returns
// the agent.
func NewSession(reg *agentctx.Registry, cfg *config.AgentConfig, opts ...Option) (*Agent, error) {
	return New(0, cfg, append(slices.Clone(opts), WithRegistry(reg))...)
}

// Factory returns an agentctx.AgentFactory that attaches a root agent built
// with opts to every context the registry creates.
func Factory(opts ...Option) agentctx.AgentFactory {
	return func(c *agentctx.Context) (agentctx.Agent, error) {
		return New(0, c.Config(), append(slices.Clone(opts),
			WithRegistry(c.Registry()),
			WithContext(c),
		)...)
	}
}
