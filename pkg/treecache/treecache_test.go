package treecache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborun/arbor/pkg/llms"
	"github.com/arborun/arbor/pkg/store"
)

func newTestDeps(t *testing.T) (*store.SQLRepository, *llms.Registry) {
	t.Helper()
	repo, err := store.Open("sqlite", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	registry := llms.NewRegistry()
	stub := &llms.StubProvider{Chunks: []string{"planning, travel, logistics"}}
	require.NoError(t, registry.RegisterProvider("stub", stub))
	registry.SetDefault("stub")

	return repo, registry
}

func TestCache_GetOrBuild_BuildsCapabilityTree(t *testing.T) {
	repo, registry := newTestDeps(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)
	root, err := repo.CreateAgent(ctx, &store.Agent{SessionID: sess.SessionID, Name: "R", Role: "root planner", Parameters: store.AgentParameters{Model: "stub-model"}})
	require.NoError(t, err)
	rootID := root.AgentID
	_, err = repo.CreateAgent(ctx, &store.Agent{SessionID: sess.SessionID, Name: "Child", Role: "books flights", ParentID: &rootID, Parameters: store.AgentParameters{Model: "stub-model"}})
	require.NoError(t, err)

	cache := NewCache(repo, registry, 16)
	snap, err := cache.GetOrBuild(ctx, sess.SessionID, rootID, "test-key")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.AgentCount)
	assert.Equal(t, 1, snap.MaxDepth)
	rootCap := snap.Root()
	require.Len(t, rootCap.Children, 1)
	assert.Contains(t, rootCap.Keywords, "planning")
}

func TestCache_GetOrBuild_CachesUntilMutation(t *testing.T) {
	repo, registry := newTestDeps(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)
	root, err := repo.CreateAgent(ctx, &store.Agent{SessionID: sess.SessionID, Name: "R", Role: "root", Parameters: store.AgentParameters{Model: "stub-model"}})
	require.NoError(t, err)

	cache := NewCache(repo, registry, 16)
	first, err := cache.GetOrBuild(ctx, sess.SessionID, root.AgentID, "key")
	require.NoError(t, err)

	second, err := cache.GetOrBuild(ctx, sess.SessionID, root.AgentID, "key")
	require.NoError(t, err)
	assert.Same(t, first, second)

	cache.Invalidate(sess.SessionID)
	third, err := cache.GetOrBuild(ctx, sess.SessionID, root.AgentID, "key")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.True(t, third.CreatedAt.After(first.CreatedAt) || third.CreatedAt.Equal(first.CreatedAt))
}

func TestCache_FallbackKeywordsOnExtractionFailure(t *testing.T) {
	repo, err := store.Open("sqlite", ":memory:", nil)
	require.NoError(t, err)
	defer repo.Close()

	registry := llms.NewRegistry() // no providers registered: ResolveModel always fails

	ctx := context.Background()
	sess, err := repo.CreateSession(ctx, "demo")
	require.NoError(t, err)
	root, err := repo.CreateAgent(ctx, &store.Agent{SessionID: sess.SessionID, Name: "R", Role: "trip planner", Parameters: store.AgentParameters{Model: "unregistered"}})
	require.NoError(t, err)

	cache := NewCache(repo, registry, 16)
	snap, err := cache.GetOrBuild(ctx, sess.SessionID, root.AgentID, "key")
	require.NoError(t, err)
	assert.Equal(t, []string{"trip", "planner"}, snap.Root().Keywords)
	require.Len(t, snap.Warnings, 1)
	assert.Contains(t, snap.Warnings[0], root.AgentID)
}
