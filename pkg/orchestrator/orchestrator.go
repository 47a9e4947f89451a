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

// Package orchestrator implements the Run Coordinator (C6): it loads a
// pending run, drives C5 to completion over a bounded event channel,
// persists lifecycle state via C2, and synthesizes a final answer via
// C1 once the root agent reaches a terminal state.
package orchestrator

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/arborun/arbor/pkg/arborerr"
	"github.com/arborun/arbor/pkg/executor"
	"github.com/arborun/arbor/pkg/llms"
	"github.com/arborun/arbor/pkg/logger"
	"github.com/arborun/arbor/pkg/store"
	"github.com/arborun/arbor/pkg/treecache"
)

// Engine runs one agent (and, recursively, its delegated children),
// streaming lifecycle events. *executor.Executor satisfies this.
type Engine interface {
	Execute(ctx context.Context, req executor.Request) <-chan executor.Event
}

// Config bounds run-level behavior. RunTimeout and ChannelCapacity
// follow the orchestrator's tuning settings; HeartbeatInterval has none.
type Config struct {
	RunTimeout        time.Duration
	HeartbeatInterval time.Duration
	ChannelCapacity   int
}

// DefaultConfig returns the defaults named in spec.md §5/§6.
func DefaultConfig() Config {
	return Config{
		RunTimeout:        10 * time.Minute,
		HeartbeatInterval: 20 * time.Second,
		ChannelCapacity:   256,
	}
}

// Orchestrator is the Run Coordinator (C6).
type Orchestrator struct {
	Repo     store.Repository
	Cache    *treecache.Cache
	Engine   Engine
	Registry *llms.Registry
	Config   Config
}

// New builds an Orchestrator. cfg's zero fields fall back to
// DefaultConfig.
func New(repo store.Repository, cache *treecache.Cache, engine Engine, registry *llms.Registry, cfg Config) *Orchestrator {
	d := DefaultConfig()
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = d.RunTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = d.HeartbeatInterval
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = d.ChannelCapacity
	}
	return &Orchestrator{Repo: repo, Cache: cache, Engine: engine, Registry: registry, Config: cfg}
}

// StartRun loads sessionID/runID, verifies it is pending, and drives it
// to a terminal state in the background, returning a channel of the
// events C5 emits along the way. The background goroutine sends on that
// bounded channel, so the run advances only while someone keeps
// receiving until it is closed; ServeRun hands the channel to a drain
// goroutine when the client disconnects, so a disconnect does not stop
// the run.
func (o *Orchestrator) StartRun(ctx context.Context, sessionID, runID, apiKey string) (<-chan executor.Event, error) {
	run, err := o.Repo.GetRun(ctx, sessionID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != store.RunPending {
		return nil, arborerr.New(arborerr.RunNotPending, "run %s is %s, not pending", runID, run.Status)
	}
	if err := o.Repo.UpdateRunStatus(ctx, sessionID, runID, store.RunRunning, nil); err != nil {
		return nil, err
	}

	root, err := o.Repo.GetAgent(ctx, sessionID, run.RootAgentID)
	if err != nil {
		o.fail(ctx, sessionID, runID, err)
		return nil, err
	}

	snap, err := o.Cache.GetOrBuild(ctx, sessionID, run.RootAgentID, apiKey)
	if err != nil {
		wrapped := arborerr.Wrap(arborerr.SnapshotUnavailable, err, "building capability snapshot for run %s", runID)
		o.fail(ctx, sessionID, runID, wrapped)
		return nil, wrapped
	}

	task := run.Input.Task
	if task == "" {
		task = run.Input.Prompt
	}

	execCtx := &executor.ExecutionContext{
		ConversationHistory: run.Input.ConversationHistory,
		APIKey:              apiKey,
		Snapshot:            snap,
		RunID:               runID,
		SessionID:           sessionID,
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.Config.RunTimeout)
	rawEvents := o.Engine.Execute(runCtx, executor.Request{Agent: root, Task: task, Context: execCtx})

	out := make(chan executor.Event, o.Config.ChannelCapacity)
	go o.drive(runCtx, cancel, sessionID, runID, apiKey, root, rawEvents, out)

	return out, nil
}

// drive consumes rawEvents, forwards each to out, persists logs and
// per-agent outputs, and on completion synthesizes and stores the
// run's final output.
func (o *Orchestrator) drive(ctx context.Context, cancel context.CancelFunc, sessionID, runID, apiKey string, root *store.Agent, rawEvents <-chan executor.Event, out chan<- executor.Event) {
	defer cancel()
	defer close(out)

	agentOutputs := make(map[string]string)

	for ev := range rawEvents {
		out <- ev
		o.persist(ctx, sessionID, runID, ev, agentOutputs)
	}

	finalOutput := o.synthesize(ctx, root, agentOutputs, apiKey)
	if err := o.Repo.SetRunOutput(ctx, sessionID, runID, store.RunOutput{Final: finalOutput, Agents: agentOutputs}); err != nil {
		o.fail(ctx, sessionID, runID, err)
		return
	}
	_ = o.Repo.UpdateRunStatus(ctx, sessionID, runID, store.RunCompleted, nil)

	out <- executor.Event{
		Type:           executor.EventRunCompleted,
		FinalOutput:    finalOutput,
		PerAgentOutput: agentOutputs,
	}
}

func (o *Orchestrator) persist(ctx context.Context, sessionID, runID string, ev executor.Event, agentOutputs map[string]string) {
	switch ev.Type {
	case executor.EventOutput:
		agentOutputs[ev.AgentID] = ev.Text
	case executor.EventLog:
		_ = o.Repo.AppendRunLog(ctx, sessionID, runID, store.RunLogEntry{AgentID: ev.AgentID, Timestamp: time.Now().UTC(), Message: ev.Message, Level: ev.Level})
	case executor.EventError:
		_ = o.Repo.AppendRunLog(ctx, sessionID, runID, store.RunLogEntry{AgentID: ev.AgentID, Timestamp: time.Now().UTC(), Message: string(ev.ErrKind) + ": " + ev.ErrMessage, Level: store.LogError})
	case executor.EventTimeout:
		_ = o.Repo.AppendRunLog(ctx, sessionID, runID, store.RunLogEntry{AgentID: ev.AgentID, Timestamp: time.Now().UTC(), Message: "agent timed out", Level: store.LogWarn})
	}
}

func (o *Orchestrator) fail(ctx context.Context, sessionID, runID string, err error) {
	logger.ForComponent("orchestrator").ErrorContext(ctx, "run failed", "session_id", sessionID, "run_id", runID, "error", err)
	msg := err.Error()
	_ = o.Repo.UpdateRunStatus(ctx, sessionID, runID, store.RunFailed, &msg)
}

// synthesize combines every agent's output into one final answer via a
// second C1 call, falling back to a deterministic concatenation if the
// synthesis call fails or the root agent's model cannot be resolved.
// When at most one agent ran (no delegation occurred), there is nothing
// to aggregate: the aggregation identity law requires final_output to
// equal that agent's own output verbatim, so synthesis is skipped
// entirely rather than risking a second LLM call rephrasing it.
func (o *Orchestrator) synthesize(ctx context.Context, root *store.Agent, outputs map[string]string, apiKey string) string {
	fallback := concatenate(outputs)
	if len(outputs) <= 1 {
		return fallback
	}

	provider, model, err := o.Registry.ResolveModel(root.Parameters.Model)
	if err != nil {
		return fallback
	}

	var prompt strings.Builder
	for _, id := range sortedKeys(outputs) {
		prompt.WriteString("[")
		prompt.WriteString(id)
		prompt.WriteString("]\n")
		prompt.WriteString(outputs[id])
		prompt.WriteString("\n\n")
	}

	ch, err := provider.StreamGenerate(ctx, llms.GenerateParams{
		APIKey:       apiKey,
		Model:        model,
		SystemPrompt: "Synthesize one final answer from the agent outputs below.",
		UserPrompt:   prompt.String(),
		Temperature:  0,
		MaxTokens:    2048,
	})
	if err != nil {
		return fallback
	}

	var out strings.Builder
	for chunk := range ch {
		out.WriteString(chunk.Text)
	}
	if out.Len() == 0 {
		return fallback
	}
	return out.String()
}

func concatenate(outputs map[string]string) string {
	var b strings.Builder
	for i, id := range sortedKeys(outputs) {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(outputs[id])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
