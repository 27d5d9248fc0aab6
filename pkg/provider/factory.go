// Copyright 2025 The replaygate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DebugAdapterConfig is decoded from a configured provider's extra config
// block when its type is "debug". It lets a gateway config file seed the
// fake's canned-response table without any code, useful for exercising a
// whole gateway end to end with no live upstream.
type DebugAdapterConfig struct {
	Responses map[string]string `mapstructure:"responses"`
}

// NewAdapterFromConfig builds the Adapter for a configured provider entry.
// "debug" (or an unset type) is the only adapter this repository
// implements; concrete wire encoding for a real upstream (OpenAI,
// Anthropic, Google, ...) is out of scope, so any other type is rejected
// rather than silently falling back to the debug fake.
func NewAdapterFromConfig(providerType string, extra map[string]any) (Adapter, error) {
	switch providerType {
	case "debug", "":
		var cfg DebugAdapterConfig
		if len(extra) > 0 {
			if err := mapstructure.Decode(extra, &cfg); err != nil {
				return nil, fmt.Errorf("provider: decoding debug adapter config: %w", err)
			}
		}
		a := NewDebugAdapter()
		for prompt, resp := range cfg.Responses {
			a.Responses[prompt] = resp
		}
		return a, nil
	default:
		return nil, fmt.Errorf("provider: unsupported provider type %q (only \"debug\" is implemented; concrete provider wire encoding is out of scope)", providerType)
	}
}
