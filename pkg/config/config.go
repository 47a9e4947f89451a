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

// Package config provides configuration loading for the run
// orchestrator.
//
// Config is loaded from a YAML file (with ${VAR} / ${VAR:-default}
// environment expansion). The file is required: Load fails when it is
// missing. Environment variables are not overlaid on the parsed values;
// they reach the config only through ${VAR} references in the file and,
// for an llms entry with a blank api_key, through GetProviderAPIKey.
//
// Example config:
//
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//
//	database:
//	  driver: postgres
//	  dsn: ${DATABASE_URL}
//
//	llms:
//	  default:
//	    provider: openai
//	    api_key: ${LLM_DEFAULT_KEY}
//
//	executor:
//	  max_depth: 10
//	  max_parallel_per_run: 4
package config

import "fmt"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig          `yaml:"server,omitempty"`
	Database DatabaseConfig        `yaml:"database,omitempty"`
	LLMs     map[string]*LLMConfig `yaml:"llms,omitempty"`
	Executor ExecutorConfig        `yaml:"executor,omitempty"`
	Logger   LoggerConfig          `yaml:"logger,omitempty"`

	// LegacyModelMap renames old model identifiers to "provider/model",
	// so agents configured with a retired model id keep resolving.
	LegacyModelMap map[string]string `yaml:"legacy_model_map,omitempty"`
}

// SetDefaults fills every zero-valued field with its default.
func (c *Config) SetDefaults() {
	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMConfig)
	}
	if c.LegacyModelMap == nil {
		c.LegacyModelMap = make(map[string]string)
	}
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Executor.SetDefaults()
	c.Logger.SetDefaults()
	for name, llm := range c.LLMs {
		llm.SetDefaults(name)
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llms.%s: %w", name, err)
		}
	}
	return nil
}
