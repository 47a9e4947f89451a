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

// Package executor implements the Recursive Executor (C5): it runs one
// agent within a run and, if appropriate, recursively engages its
// selected children within a bounded depth and parallelism, emitting a
// stream of lifecycle events upward.
package executor

import (
	"time"

	"github.com/arborun/arbor/pkg/arborerr"
	"github.com/arborun/arbor/pkg/llms"
	"github.com/arborun/arbor/pkg/store"
	"github.com/arborun/arbor/pkg/treecache"
)

// AgentState is one state in the per-agent execution state machine:
// IDLE -> ANALYZING -> EXECUTING -> {WAITING_FOR_CHILDREN -> EXECUTING}*
// -> COMPLETED | FAILED | CANCELLED.
type AgentState string

const (
	StateIdle               AgentState = "idle"
	StateAnalyzing          AgentState = "analyzing"
	StateExecuting          AgentState = "executing"
	StateWaitingForChildren AgentState = "waiting_for_children"
	StateCompleted          AgentState = "completed"
	StateFailed             AgentState = "failed"
	StateCancelled          AgentState = "cancelled"
)

// EventType names one of the eight event kinds C5 emits.
type EventType string

const (
	EventLog        EventType = "log"
	EventStatus     EventType = "status"
	EventOutputChunk EventType = "output_chunk"
	EventOutput     EventType = "output"
	EventDelegation EventType = "delegation"
	EventError      EventType = "error"
	EventTimeout    EventType = "timeout"
	EventCancelled  EventType = "cancelled"

	// EventRunCompleted is emitted once by the run coordinator, not C5
	// itself, as the last item on the shared event channel once the
	// final answer has been synthesized — giving a streaming client the
	// run's final_output/per_agent_output without a second round trip.
	EventRunCompleted EventType = "completed"
)

// Event is one record on the stream Execute produces. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType

	AgentID string
	Status  AgentState

	Text string // output_chunk / output

	From, To, Label string // delegation

	ErrKind    arborerr.Kind
	ErrMessage string

	Message string
	Level   store.LogLevel

	FinalOutput    string            // run_completed
	PerAgentOutput map[string]string // run_completed
}

// ExecutionContext carries the state that flows down a delegation
// chain, per spec.md §4.5's `context` parameter.
type ExecutionContext struct {
	ParentOutput        *string
	ConversationHistory  []string
	Images               []llms.Image
	APIKey               string
	Snapshot             *treecache.Snapshot
	RunID                string
	SessionID            string
}

// Config bounds the executor's concurrency, depth, and timeouts. Field
// names follow the orchestrator's tuning settings (§6) where one exists;
// HistoryWindow, SelectionThreshold and the circuit-breaker fields have
// none.
type Config struct {
	MaxDepth              int
	MaxParallelPerRun     int
	GlobalLLMConcurrency  int64
	AgentTimeout          time.Duration
	HistoryWindow         int
	SelectionThreshold    float64
	CircuitFailureLimit   int
	CircuitWindow         time.Duration
	ChannelCapacity       int
}

// DefaultConfig returns the defaults named in spec.md §6/§4.5.
func DefaultConfig() Config {
	return Config{
		MaxDepth:             10,
		MaxParallelPerRun:    4,
		GlobalLLMConcurrency: 32,
		AgentTimeout:         30 * time.Second,
		HistoryWindow:        3,
		SelectionThreshold:   0.0,
		CircuitFailureLimit:  3,
		CircuitWindow:        60 * time.Second,
		ChannelCapacity:      256,
	}
}

// Request is the input to Execute.
type Request struct {
	Agent   *store.Agent
	Task    string
	Context *ExecutionContext
	Depth   int
	Path    []string
}
