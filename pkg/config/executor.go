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

// ExecutorConfig bounds the recursive executor and run coordinator,
// mirroring the environment variables of the same intent
// (MAX_DEPTH, MAX_PARALLEL_PER_RUN, GLOBAL_LLM_CONCURRENCY,
// RUN_TIMEOUT_SECONDS, AGENT_TIMEOUT_SECONDS, CHANNEL_CAPACITY).
type ExecutorConfig struct {
	MaxDepth             int     `yaml:"max_depth,omitempty"`
	MaxParallelPerRun    int     `yaml:"max_parallel_per_run,omitempty"`
	GlobalLLMConcurrency int64   `yaml:"global_llm_concurrency,omitempty"`
	RunTimeoutSeconds    int     `yaml:"run_timeout_seconds,omitempty"`
	AgentTimeoutSeconds  int     `yaml:"agent_timeout_seconds,omitempty"`
	ChannelCapacity      int     `yaml:"channel_capacity,omitempty"`
	SelectionThreshold   float64 `yaml:"selection_threshold,omitempty"`
}

// SetDefaults applies default values to ExecutorConfig, matching
// spec.md §5/§6's stated defaults.
func (c *ExecutorConfig) SetDefaults() {
	if c.MaxDepth == 0 {
		c.MaxDepth = 10
	}
	if c.MaxParallelPerRun == 0 {
		c.MaxParallelPerRun = 4
	}
	if c.GlobalLLMConcurrency == 0 {
		c.GlobalLLMConcurrency = 32
	}
	if c.RunTimeoutSeconds == 0 {
		c.RunTimeoutSeconds = 600
	}
	if c.AgentTimeoutSeconds == 0 {
		c.AgentTimeoutSeconds = 30
	}
	if c.ChannelCapacity == 0 {
		c.ChannelCapacity = 256
	}
}
