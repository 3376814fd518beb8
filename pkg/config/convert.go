// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/maps"

	"github.com/jllopis/visionsync/pkg/errors"
)

const tagName = "koanf"

// ToMap renders the config as a nested map keyed by the koanf field names.
// FromMap(c.ToMap()) yields a config Equal to c.
func (c *AgentConfig) ToMap() map[string]any {
	out := map[string]any{}
	d := c.copyData()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: tagName,
		Result:  &out,
	})
	if err == nil {
		err = dec.Decode(d)
	}
	if err != nil {
		// agentData only holds plain fields; this is unreachable.
		panic(fmt.Sprintf("config: encode agent config: %v", err))
	}
	return out
}

// FromMap builds a config from a nested map. Missing keys keep their default
// values. Scalars are weakly typed, so "0.5" or 1 decode into float fields.
func FromMap(m map[string]any) (*AgentConfig, error) {
	d := defaultData()
	if m == nil {
		return &AgentConfig{d: d}, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          tagName,
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Result:           &d,
	})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "build config decoder", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "decode agent config", err)
	}
	for _, mc := range []*ModelConfig{&d.ChatModel, &d.UtilityModel, &d.EmbeddingsModel} {
		if mc.ExtraParams == nil {
			mc.ExtraParams = map[string]any{}
		}
	}
	if d.Interface.StylePreferences == nil {
		d.Interface.StylePreferences = map[string]any{}
	}
	return &AgentConfig{d: d}, nil
}

// Merge returns a copy of c with patch applied on top. patch uses the same
// nested keys as ToMap; absent keys keep their current value.
func (c *AgentConfig) Merge(patch map[string]any) (*AgentConfig, error) {
	base := c.ToMap()
	maps.Merge(maps.Copy(patch), base)
	return FromMap(base)
}
