package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborun/arbor/pkg/arborerr"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := Open("sqlite", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLRepository_CreateAndGetAgent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)

	agent, err := repo.CreateAgent(ctx, &Agent{
		SessionID:    sess.SessionID,
		Name:         "Echo",
		Role:         "repeats input",
		SystemPrompt: "You repeat the user task.",
		Parameters:   AgentParameters{Model: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 256},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, agent.AgentID)

	fetched, err := repo.GetAgent(ctx, sess.SessionID, agent.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "Echo", fetched.Name)
	assert.Equal(t, "gpt-4o-mini", fetched.Parameters.Model)
}

func TestSQLRepository_CrossSessionViolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s1, err := repo.CreateSession(ctx, "s1")
	require.NoError(t, err)
	s2, err := repo.CreateSession(ctx, "s2")
	require.NoError(t, err)

	parent, err := repo.CreateAgent(ctx, &Agent{SessionID: s1.SessionID, Name: "P", Role: "parent"})
	require.NoError(t, err)

	parentID := parent.AgentID
	_, err = repo.CreateAgent(ctx, &Agent{SessionID: s2.SessionID, Name: "Child", Role: "child", ParentID: &parentID})
	require.Error(t, err)
	assert.True(t, arborerr.Is(err, arborerr.CrossSessionViolation))

	_, err = repo.GetAgent(ctx, s2.SessionID, parent.AgentID)
	require.Error(t, err)
	assert.True(t, arborerr.Is(err, arborerr.NotFound))
}

func TestSQLRepository_WouldCreateCycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)

	root, err := repo.CreateAgent(ctx, &Agent{SessionID: sess.SessionID, Name: "R", Role: "root"})
	require.NoError(t, err)
	rootID := root.AgentID

	child, err := repo.CreateAgent(ctx, &Agent{SessionID: sess.SessionID, Name: "C", Role: "child", ParentID: &rootID})
	require.NoError(t, err)

	// Attempt to re-parent root under its own child: would create a cycle.
	childID := child.AgentID
	root.ParentID = &childID
	_, err = repo.UpdateAgent(ctx, root)
	require.Error(t, err)
	assert.True(t, arborerr.Is(err, arborerr.WouldCreateCycle))
}

func TestSQLRepository_GetAgentSubtree(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)

	root, err := repo.CreateAgent(ctx, &Agent{SessionID: sess.SessionID, Name: "R", Role: "root"})
	require.NoError(t, err)
	rootID := root.AgentID

	childA, err := repo.CreateAgent(ctx, &Agent{SessionID: sess.SessionID, Name: "A", Role: "a", ParentID: &rootID})
	require.NoError(t, err)
	childAID := childA.AgentID
	_, err = repo.CreateAgent(ctx, &Agent{SessionID: sess.SessionID, Name: "Aa", Role: "aa", ParentID: &childAID})
	require.NoError(t, err)
	_, err = repo.CreateAgent(ctx, &Agent{SessionID: sess.SessionID, Name: "B", Role: "b", ParentID: &rootID})
	require.NoError(t, err)

	subtree, err := repo.GetAgentSubtree(ctx, sess.SessionID, rootID)
	require.NoError(t, err)
	assert.Len(t, subtree, 4)
}

func TestSQLRepository_RunLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)
	agent, err := repo.CreateAgent(ctx, &Agent{SessionID: sess.SessionID, Name: "R", Role: "root"})
	require.NoError(t, err)

	run, err := repo.CreateRun(ctx, sess.SessionID, agent.AgentID, RunInput{Task: "hello"})
	require.NoError(t, err)
	assert.Equal(t, RunPending, run.Status)

	require.NoError(t, repo.UpdateRunStatus(ctx, sess.SessionID, run.RunID, RunRunning, nil))
	require.NoError(t, repo.AppendRunLog(ctx, sess.SessionID, run.RunID, RunLogEntry{AgentID: agent.AgentID, Message: "started", Level: LogInfo}))
	require.NoError(t, repo.SetRunOutput(ctx, sess.SessionID, run.RunID, RunOutput{Final: "hi", Agents: map[string]string{agent.AgentID: "hi"}}))
	require.NoError(t, repo.UpdateRunStatus(ctx, sess.SessionID, run.RunID, RunCompleted, nil))

	fetched, err := repo.GetRun(ctx, sess.SessionID, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, fetched.Status)
	require.NotNil(t, fetched.Output)
	assert.Equal(t, "hi", fetched.Output.Final)
	require.Len(t, fetched.Logs, 1)
	assert.NotNil(t, fetched.StartedAt)
	assert.NotNil(t, fetched.FinishedAt)
}

func TestSQLRepository_MutationNotifiesListener(t *testing.T) {
	var notified []string
	db, err := Open("sqlite", ":memory:", func(sessionID string) {
		notified = append(notified, sessionID)
	})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	sess, err := db.CreateSession(ctx, "demo")
	require.NoError(t, err)

	_, err = db.CreateAgent(ctx, &Agent{SessionID: sess.SessionID, Name: "R", Role: "root"})
	require.NoError(t, err)

	require.NotEmpty(t, notified)
	assert.Equal(t, sess.SessionID, notified[0])
}
