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

package executor

import (
	"context"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/arborun/arbor/pkg/arborerr"
	"github.com/arborun/arbor/pkg/llms"
	"github.com/arborun/arbor/pkg/router"
	"github.com/arborun/arbor/pkg/store"
	"github.com/arborun/arbor/pkg/treecache"
)

// Executor is the Recursive Executor (C5). One Executor is shared
// across runs; its semaphore caps total in-flight LLM calls process
// wide, while each run gets its own circuit breaker.
type Executor struct {
	Repo     store.Repository
	Cache    *treecache.Cache
	Registry *llms.Registry
	Config   Config

	llmSem *semaphore.Weighted
}

// New builds an Executor. cfg's zero value fields fall back to
// DefaultConfig's values where zero is not a meaningful setting.
func New(repo store.Repository, cache *treecache.Cache, registry *llms.Registry, cfg Config) *Executor {
	d := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = d.MaxDepth
	}
	if cfg.MaxParallelPerRun <= 0 {
		cfg.MaxParallelPerRun = d.MaxParallelPerRun
	}
	if cfg.GlobalLLMConcurrency <= 0 {
		cfg.GlobalLLMConcurrency = d.GlobalLLMConcurrency
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = d.AgentTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = d.HistoryWindow
	}
	if cfg.CircuitFailureLimit <= 0 {
		cfg.CircuitFailureLimit = d.CircuitFailureLimit
	}
	if cfg.CircuitWindow <= 0 {
		cfg.CircuitWindow = d.CircuitWindow
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = d.ChannelCapacity
	}

	return &Executor{
		Repo:     repo,
		Cache:    cache,
		Registry: registry,
		Config:   cfg,
		llmSem:   semaphore.NewWeighted(cfg.GlobalLLMConcurrency),
	}
}

// run carries the state shared by every node engaged within one
// top-level Execute call: the output channel every level writes to,
// and the run-scoped circuit breaker.
type run struct {
	events  chan Event
	breaker *circuitBreaker
}

// Execute runs req.Agent and, recursively, whichever of its children
// the router selects, returning a channel of events closed when the
// whole subtree is done. The channel is never blocked on indefinitely:
// sends race ctx.Done() so a cancelled caller does not wedge a busy
// producer.
func (e *Executor) Execute(ctx context.Context, req Request) <-chan Event {
	r := &run{
		events:  make(chan Event, e.Config.ChannelCapacity),
		breaker: newCircuitBreaker(e.Config.CircuitFailureLimit, e.Config.CircuitWindow),
	}

	go func() {
		defer close(r.events)
		e.executeNode(ctx, r, req.Agent, req.Task, req.Context, req.Depth, req.Path)
	}()

	return r.events
}

func (e *Executor) emit(ctx context.Context, r *run, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

func (e *Executor) executeNode(ctx context.Context, r *run, agent *store.Agent, task string, execCtx *ExecutionContext, depth int, path []string) string {
	if ctx.Err() != nil {
		e.emit(ctx, r, Event{Type: EventCancelled, AgentID: agent.AgentID})
		return ""
	}

	if slices.Contains(path, agent.AgentID) {
		e.emit(ctx, r, Event{Type: EventError, AgentID: agent.AgentID, ErrKind: arborerr.CycleDetected, ErrMessage: "delegation would create a cycle"})
		return ""
	}
	if depth >= e.Config.MaxDepth {
		e.emit(ctx, r, Event{Type: EventError, AgentID: agent.AgentID, ErrKind: arborerr.MaxDepthExceeded, ErrMessage: "maximum delegation depth reached"})
		return ""
	}
	if !r.breaker.Allow(agent.AgentID) {
		e.emit(ctx, r, Event{Type: EventError, AgentID: agent.AgentID, ErrKind: arborerr.CircuitOpen, ErrMessage: "agent unavailable after repeated failures"})
		return ""
	}

	e.emit(ctx, r, Event{Type: EventStatus, AgentID: agent.AgentID, Status: StateAnalyzing})

	node := router.Capability{}
	if execCtx.Snapshot != nil {
		node = execCtx.Snapshot.Capabilities[agent.AgentID]
	}

	output, err := e.runAgent(ctx, r, agent, task, execCtx, node)
	if err != nil {
		r.breaker.RecordFailure(agent.AgentID, time.Now().UTC())
		e.emit(ctx, r, Event{Type: EventError, AgentID: agent.AgentID, ErrKind: arborerr.TransportFailure, ErrMessage: err.Error()})
		e.emit(ctx, r, Event{Type: EventStatus, AgentID: agent.AgentID, Status: StateFailed})
		return ""
	}
	r.breaker.RecordSuccess(agent.AgentID)
	e.emit(ctx, r, Event{Type: EventOutput, AgentID: agent.AgentID, Text: output})

	if output != "" && depth+1 < e.Config.MaxDepth {
		e.delegate(ctx, r, agent, output, execCtx, depth, path, node)
	}

	e.emit(ctx, r, Event{Type: EventStatus, AgentID: agent.AgentID, Status: StateCompleted})
	return output
}

// runAgent streams one LLM call for agent, relaying output_chunk
// events and honoring the per-agent wall-clock timeout.
func (e *Executor) runAgent(ctx context.Context, r *run, agent *store.Agent, task string, execCtx *ExecutionContext, node router.Capability) (string, error) {
	provider, model, err := e.Registry.ResolveModel(agent.Parameters.Model)
	if err != nil {
		return "", err
	}

	if err := e.llmSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.llmSem.Release(1)

	agentCtx, cancel := context.WithTimeout(ctx, e.Config.AgentTimeout)
	defer cancel()

	systemPrompt := buildSystemPrompt(agent.SystemPrompt, node)
	userPrompt := buildUserPrompt(execCtx.ConversationHistory, execCtx.ParentOutput, task, e.Config.HistoryWindow)

	var images []llms.Image
	if agent.PhotoInjectionEnabled {
		images = execCtx.Images
	}

	e.emit(ctx, r, Event{Type: EventStatus, AgentID: agent.AgentID, Status: StateExecuting})

	chunks, err := provider.StreamGenerate(agentCtx, llms.GenerateParams{
		APIKey:       execCtx.APIKey,
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Images:       images,
		Temperature:  agent.Parameters.Temperature,
		MaxTokens:    agent.Parameters.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Text != "" {
			out.WriteString(chunk.Text)
			e.emit(ctx, r, Event{Type: EventOutputChunk, AgentID: agent.AgentID, Text: chunk.Text})
		}
	}

	if agentCtx.Err() == context.DeadlineExceeded {
		e.emit(ctx, r, Event{Type: EventTimeout, AgentID: agent.AgentID})
	}

	return out.String(), nil
}

// delegate selects children via C4 and engages each concurrently,
// bounded by MaxParallelPerRun, passing agent's output down as the
// next task and parent_output.
func (e *Executor) delegate(ctx context.Context, r *run, agent *store.Agent, output string, execCtx *ExecutionContext, depth int, path []string, node router.Capability) {
	selected := router.SelectChildren(output, node, e.Config.SelectionThreshold)
	if len(selected) == 0 {
		return
	}

	e.emit(ctx, r, Event{Type: EventStatus, AgentID: agent.AgentID, Status: StateWaitingForChildren})

	childPath := append(slices.Clone(path), agent.AgentID)
	parentOutput := output

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Config.MaxParallelPerRun)

	for _, childID := range selected {
		childID := childID
		g.Go(func() error {
			child, err := e.Repo.GetAgent(gctx, execCtx.SessionID, childID)
			if err != nil {
				e.emit(ctx, r, Event{Type: EventError, AgentID: childID, ErrKind: arborerr.NotFound, ErrMessage: err.Error()})
				return nil
			}

			e.emit(ctx, r, Event{Type: EventDelegation, From: agent.AgentID, To: childID})

			childExecCtx := &ExecutionContext{
				ParentOutput:        &parentOutput,
				ConversationHistory: execCtx.ConversationHistory,
				Images:              execCtx.Images,
				APIKey:              execCtx.APIKey,
				Snapshot:            execCtx.Snapshot,
				RunID:               execCtx.RunID,
				SessionID:           execCtx.SessionID,
			}
			e.executeNode(ctx, r, child, output, childExecCtx, depth+1, childPath)
			return nil
		})
	}
	_ = g.Wait()
}
