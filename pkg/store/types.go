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

// Package store is the orchestrator's Agent Repository (C2):
// session-scoped persistence of sessions, agents, links, and runs.
package store

import "time"

// RunStatus is one of a Run's lifecycle states.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Session is the isolation boundary owning a set of agents, links, and runs.
type Session struct {
	SessionID    string
	Name         string
	CreatedAt    time.Time
	LastAccessed time.Time
}

// AgentParameters are the generation settings an agent executes with.
type AgentParameters struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Agent is a named LLM persona belonging to exactly one Session.
type Agent struct {
	AgentID                string
	SessionID              string
	Name                   string
	Role                   string
	SystemPrompt           string
	Parameters             AgentParameters
	PhotoInjectionEnabled  bool
	PhotoInjectionFeatures []string
	ParentID               *string
	CanvasX, CanvasY       *float64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Link is a redundant edge materialization of an Agent's ParentID,
// maintained for the graph editor. The orchestrator treats ParentID as
// authoritative and never consults Link.
type Link struct {
	LinkID    string
	SessionID string
	FromID    string
	ToID      string
	CreatedAt time.Time
}

// RunInput is the payload a caller supplies to start a run.
type RunInput struct {
	Prompt             string   `json:"prompt,omitempty"`
	Task               string   `json:"task,omitempty"`
	ConversationHistory []string `json:"conversation_history,omitempty"`
}

// RunOutput is the structured final result of a run.
type RunOutput struct {
	Final  string            `json:"final"`
	Agents map[string]string `json:"agents"`
}

// LogLevel is the severity of a RunLogEntry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// RunLogEntry is one append-only record in a Run's log.
type RunLogEntry struct {
	AgentID   string
	Timestamp time.Time
	Message   string
	Level     LogLevel
}

// Run is one execution of a root agent against a user task.
type Run struct {
	RunID       string
	SessionID   string
	RootAgentID string
	Status      RunStatus
	Input       RunInput
	Output      *RunOutput
	Logs        []RunLogEntry
	Error       *string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}
