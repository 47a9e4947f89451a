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

package config

import "fmt"

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderStub      LLMProvider = "stub"
)

// LLMConfig configures one registered LLM provider.
type LLMConfig struct {
	// Provider type (openai, anthropic, stub).
	Provider LLMProvider `yaml:"provider,omitempty"`

	// APIKey supports ${VAR} expansion; also read from the environment
	// by GetProviderAPIKey if left empty. The LLM providers do not use
	// it: every LLM call uses the API key supplied with the run request.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Default marks this entry as the provider used when an agent's
	// model id has no explicit "provider/model" prefix.
	Default bool `yaml:"default,omitempty"`
}

// SetDefaults applies default values to LLMConfig. name is the key this
// entry was registered under in Config.LLMs (e.g. "default", "backup"),
// used to look up a per-entry API key before falling back to a
// provider-type-wide or global one.
func (c *LLMConfig) SetDefaults(name string) {
	if c.Provider == "" {
		c.Provider = LLMProviderOpenAI
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(name, string(c.Provider))
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderAnthropic, LLMProviderStub:
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	return nil
}
