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

import "github.com/kadirpekel/replaygate/pkg/registry"

// Registry is a name-keyed collection of provider adapters, built on the
// generic registry shared across the gateway's pluggable components. One
// entry may additionally be marked the default — the adapter an
// Orchestrator (which binds to exactly one, per the Python original's
// single `self._provider`) is constructed with.
type Registry struct {
	*registry.BaseRegistry[Adapter]
	defaultName string
}

// NewRegistry constructs an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Adapter]()}
}

// RegisterAdapter registers an adapter under a caller-chosen name
// (typically the configured provider key, e.g. "openai-default").
func (r *Registry) RegisterAdapter(name string, a Adapter) error {
	return r.Register(name, a)
}

// GetAdapter returns the adapter registered under name.
func (r *Registry) GetAdapter(name string) (Adapter, bool) {
	return r.Get(name)
}

// SetDefault marks name as the default adapter. It does not check that
// name is registered, so a registry can be built up in any order.
func (r *Registry) SetDefault(name string) { r.defaultName = name }

// MustDefault returns the default adapter, or nil if none was set or the
// name it was set to was never registered.
func (r *Registry) MustDefault() Adapter {
	a, _ := r.Get(r.defaultName)
	return a
}
