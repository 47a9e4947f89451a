package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborun/arbor/pkg/arborerr"
	"github.com/arborun/arbor/pkg/executor"
	"github.com/arborun/arbor/pkg/llms"
	"github.com/arborun/arbor/pkg/store"
	"github.com/arborun/arbor/pkg/treecache"
)

type fakeEngine struct {
	events []executor.Event
}

func (f *fakeEngine) Execute(ctx context.Context, req executor.Request) <-chan executor.Event {
	ch := make(chan executor.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func setup(t *testing.T) (*store.SQLRepository, *llms.Registry) {
	t.Helper()
	repo, err := store.Open("sqlite", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	registry := llms.NewRegistry()
	require.NoError(t, registry.RegisterProvider("stub", &llms.StubProvider{Chunks: []string{"synthesized answer"}}))
	registry.SetDefault("stub")
	return repo, registry
}

func TestOrchestrator_StartRun_CompletesAndPersistsOutput(t *testing.T) {
	repo, registry := setup(t)
	cache := treecache.NewCache(repo, registry, 16)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)
	root, err := repo.CreateAgent(ctx, &store.Agent{SessionID: sess.SessionID, Name: "R", Role: "root", Parameters: store.AgentParameters{Model: "stub-model"}})
	require.NoError(t, err)
	run, err := repo.CreateRun(ctx, sess.SessionID, root.AgentID, store.RunInput{Task: "do the thing"})
	require.NoError(t, err)

	engine := &fakeEngine{events: []executor.Event{
		{Type: executor.EventStatus, AgentID: root.AgentID, Status: executor.StateExecuting},
		{Type: executor.EventOutputChunk, AgentID: root.AgentID, Text: "partial"},
		{Type: executor.EventOutput, AgentID: root.AgentID, Text: "root output"},
		{Type: executor.EventStatus, AgentID: root.AgentID, Status: executor.StateCompleted},
	}}

	o := New(repo, cache, engine, registry, Config{})
	events, err := o.StartRun(ctx, sess.SessionID, run.RunID, "key")
	require.NoError(t, err)

	var collected []executor.Event
	for ev := range events {
		collected = append(collected, ev)
	}
	// The 4 events the engine emitted, plus the coordinator's own
	// synthetic run_completed event carrying the final answer.
	require.Len(t, collected, 5)
	last := collected[len(collected)-1]
	require.Equal(t, executor.EventRunCompleted, last.Type)
	// A single agent ran (no delegation): the aggregation identity law
	// applies verbatim, with no second synthesis call rephrasing it.
	assert.Equal(t, "root output", last.FinalOutput)
	assert.Equal(t, "root output", last.PerAgentOutput[root.AgentID])

	require.Eventually(t, func() bool {
		updated, err := repo.GetRun(ctx, sess.SessionID, run.RunID)
		require.NoError(t, err)
		return updated.Status == store.RunCompleted
	}, time.Second, 10*time.Millisecond)

	updated, err := repo.GetRun(ctx, sess.SessionID, run.RunID)
	require.NoError(t, err)
	require.NotNil(t, updated.Output)
	assert.Equal(t, "root output", updated.Output.Final)
	assert.Equal(t, "root output", updated.Output.Agents[root.AgentID])
}

func TestOrchestrator_StartRun_SynthesizesAcrossMultipleAgents(t *testing.T) {
	repo, registry := setup(t)
	cache := treecache.NewCache(repo, registry, 16)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)
	root, err := repo.CreateAgent(ctx, &store.Agent{SessionID: sess.SessionID, Name: "R", Role: "root", Parameters: store.AgentParameters{Model: "stub-model"}})
	require.NoError(t, err)
	child, err := repo.CreateAgent(ctx, &store.Agent{SessionID: sess.SessionID, Name: "C", Role: "child", ParentID: &root.AgentID, Parameters: store.AgentParameters{Model: "stub-model"}})
	require.NoError(t, err)
	run, err := repo.CreateRun(ctx, sess.SessionID, root.AgentID, store.RunInput{Task: "do the thing"})
	require.NoError(t, err)

	engine := &fakeEngine{events: []executor.Event{
		{Type: executor.EventOutput, AgentID: root.AgentID, Text: "root output"},
		{Type: executor.EventDelegation, From: root.AgentID, To: child.AgentID},
		{Type: executor.EventOutput, AgentID: child.AgentID, Text: "child output"},
	}}

	o := New(repo, cache, engine, registry, Config{})
	events, err := o.StartRun(ctx, sess.SessionID, run.RunID, "key")
	require.NoError(t, err)

	var last executor.Event
	for ev := range events {
		last = ev
	}
	require.Equal(t, executor.EventRunCompleted, last.Type)
	// Two agents ran, so the synthesis model (the stub provider) runs
	// and its output becomes final_output.
	assert.Equal(t, "synthesized answer", last.FinalOutput)
	assert.Equal(t, "root output", last.PerAgentOutput[root.AgentID])
	assert.Equal(t, "child output", last.PerAgentOutput[child.AgentID])
}

func TestOrchestrator_StartRun_RejectsNonPendingRun(t *testing.T) {
	repo, registry := setup(t)
	cache := treecache.NewCache(repo, registry, 16)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)
	root, err := repo.CreateAgent(ctx, &store.Agent{SessionID: sess.SessionID, Name: "R", Role: "root", Parameters: store.AgentParameters{Model: "stub-model"}})
	require.NoError(t, err)
	run, err := repo.CreateRun(ctx, sess.SessionID, root.AgentID, store.RunInput{Task: "x"})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateRunStatus(ctx, sess.SessionID, run.RunID, store.RunRunning, nil))

	o := New(repo, cache, &fakeEngine{}, registry, Config{})
	_, err = o.StartRun(ctx, sess.SessionID, run.RunID, "key")
	require.Error(t, err)
	assert.True(t, arborerr.Is(err, arborerr.RunNotPending))
}
