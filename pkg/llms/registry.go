// Copyright 2025 Kadir Pekel
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

package llms

import (
	"fmt"
	"strings"

	"github.com/arborun/arbor/pkg/registry"
)

// Registry resolves an agent's configured model identifier to the
// Provider that should serve it, applying the operator's legacy model
// aliases along the way.
type Registry struct {
	*registry.BaseRegistry[Provider]

	legacyMap   map[string]string
	defaultName string
}

// NewRegistry builds a Registry with no providers registered.
func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
		legacyMap:    make(map[string]string),
	}
}

// RegisterProvider adds p under name, failing if name is already taken.
func (r *Registry) RegisterProvider(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("llms: provider name cannot be empty")
	}
	if p == nil {
		return fmt.Errorf("llms: provider cannot be nil")
	}
	return r.Register(name, p)
}

// SetDefault names the provider used when a model id has no legacy
// mapping and no provider prefix (see ResolveModel).
func (r *Registry) SetDefault(name string) { r.defaultName = name }

// Providers lists the names of every registered provider, sorted. Used
// by the /v1/providers diagnostics endpoint so an operator can confirm
// what the server actually loaded without reading its config file.
func (r *Registry) Providers() []string { return r.Names() }

// DefaultProvider returns the name set by SetDefault.
func (r *Registry) DefaultProvider() string { return r.defaultName }

// SetLegacyModelMap installs the LEGACY_MODEL_MAP table (old model id ->
// "provider/model"), letting operators rename models without breaking
// agents still configured with the old identifier.
func (r *Registry) SetLegacyModelMap(m map[string]string) {
	r.legacyMap = m
}

// Reload replaces the registry's providers, default, and legacy alias
// table. The replacement is not atomic: the providers are cleared first
// and registered again one at a time, so a ResolveModel call that runs
// during a reload can find a provider missing. Used by the config file
// watcher (config.Watch) to
// apply an edited llms: section to a running server without restarting
// it; in-flight runs keep using whatever *Provider they already
// resolved, since ResolveModel results aren't cached across calls.
func (r *Registry) Reload(providers map[string]Provider, defaultName string, legacyMap map[string]string) error {
	r.Clear()
	for name, p := range providers {
		if err := r.RegisterProvider(name, p); err != nil {
			return err
		}
	}
	r.SetDefault(defaultName)
	r.SetLegacyModelMap(legacyMap)
	return nil
}

// ResolveModel maps a configured model identifier to a (Provider,
// model) pair. Resolution order:
//  1. legacy alias table (old_id -> "provider/model")
//  2. explicit "provider/model" prefix
//  3. the default provider, with model used verbatim
func (r *Registry) ResolveModel(modelID string) (Provider, string, error) {
	if mapped, ok := r.legacyMap[modelID]; ok {
		modelID = mapped
	}

	if providerName, model, ok := strings.Cut(modelID, "/"); ok {
		if p, exists := r.Get(providerName); exists {
			return p, model, nil
		}
		return nil, "", fmt.Errorf("llms: no provider registered for %q", providerName)
	}

	if r.defaultName == "" {
		return nil, "", fmt.Errorf("llms: no default provider configured for model %q", modelID)
	}
	p, exists := r.Get(r.defaultName)
	if !exists {
		return nil, "", fmt.Errorf("llms: default provider %q not registered", r.defaultName)
	}
	return p, modelID, nil
}
