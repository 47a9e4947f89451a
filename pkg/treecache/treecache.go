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

// Package treecache implements the Agent Tree Cache (C3): a per-
// (session, root) snapshot of an agent subtree enriched with
// LLM-derived capability keywords, invalidated whenever the session's
// agents mutate.
package treecache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arborun/arbor/pkg/llms"
	"github.com/arborun/arbor/pkg/logger"
	"github.com/arborun/arbor/pkg/router"
	"github.com/arborun/arbor/pkg/store"
)

// Snapshot is AgentTreeSnapshot from the data model: a session-scoped,
// cached capability tree rooted at RootAgentID.
type Snapshot struct {
	SessionID    string
	RootAgentID  string
	Capabilities map[string]router.Capability
	AgentCount   int
	MaxDepth     int
	CreatedAt    time.Time
	LastAccessed time.Time

	// Warnings records every agent whose keyword extraction fell back
	// to role-derived keywords, per spec.md §4.3's graceful-degradation
	// contract ("keywords default to tokens derived from its role, with
	// a recorded warning").
	Warnings []string
}

// Root returns the snapshot's root Capability node.
func (s *Snapshot) Root() router.Capability {
	return s.Capabilities[s.RootAgentID]
}

type cacheEntry struct {
	key       string
	snapshot  *Snapshot
	listElem  *list.Element
	invalidAt time.Time // zero means still valid
}

// Cache is the C3 implementation: a hand-rolled LRU (no pack library
// offers a generic LRU matching this snapshot value type — see
// DESIGN.md) guarded by per-key singleflight build coalescing.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	order    *list.List
	capacity int

	group singleflight.Group

	repo       store.Repository
	llmRegistry *llms.Registry

	// sessionMutations maps session_id -> the timestamp of its most
	// recent recorded mutation. A snapshot built before that timestamp
	// is stale.
	sessionMutationsMu sync.RWMutex
	sessionMutations   map[string]time.Time
}

// NewCache builds a Cache bounded to capacity snapshots, backed by repo
// for subtree loading and llmRegistry for capability extraction.
func NewCache(repo store.Repository, llmRegistry *llms.Registry, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	return &Cache{
		entries:          make(map[string]*cacheEntry),
		order:            list.New(),
		capacity:         capacity,
		repo:             repo,
		llmRegistry:      llmRegistry,
		sessionMutations: make(map[string]time.Time),
	}
}

func cacheKey(sessionID, rootID string) string { return sessionID + "/" + rootID }

// Invalidate marks the session's snapshots stale as of now. Pass a
// MutationListener (store.Repository) bound to this method to wire
// automatic invalidation on every agent/link mutation.
func (c *Cache) Invalidate(sessionID string) {
	c.sessionMutationsMu.Lock()
	c.sessionMutations[sessionID] = time.Now().UTC()
	c.sessionMutationsMu.Unlock()
}

// GetOrBuild returns a fresh snapshot for (sessionID, rootID), building
// one via breadth-first capability extraction if none exists or the
// existing one predates the session's last recorded mutation. Only one
// build per key runs concurrently; other callers wait on it.
func (c *Cache) GetOrBuild(ctx context.Context, sessionID, rootID, apiKey string) (*Snapshot, error) {
	key := cacheKey(sessionID, rootID)

	if snap, ok := c.lookupFresh(key, sessionID); ok {
		return snap, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if snap, ok := c.lookupFresh(key, sessionID); ok {
			return snap, nil
		}
		snap, buildErr := c.build(ctx, sessionID, rootID, apiKey)
		if buildErr != nil {
			return nil, buildErr
		}
		c.store(key, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

func (c *Cache) lookupFresh(key, sessionID string) (*Snapshot, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		c.order.MoveToFront(entry.listElem)
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	c.sessionMutationsMu.RLock()
	lastMutation, mutated := c.sessionMutations[sessionID]
	c.sessionMutationsMu.RUnlock()
	if mutated && !lastMutation.Before(entry.snapshot.CreatedAt) {
		return nil, false
	}

	entry.snapshot.LastAccessed = time.Now().UTC()
	return entry.snapshot, true
}

func (c *Cache) store(key string, snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.snapshot = snap
		c.order.MoveToFront(existing.listElem)
		return
	}

	elem := c.order.PushFront(key)
	c.entries[key] = &cacheEntry{key: key, snapshot: snap, listElem: elem}

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}
}

// build traverses the subtree breadth-first, extracting capability
// keywords for each agent via a short C1 analysis prompt.
func (c *Cache) build(ctx context.Context, sessionID, rootID, apiKey string) (*Snapshot, error) {
	agents, err := c.repo.GetAgentSubtree(ctx, sessionID, rootID)
	if err != nil {
		return nil, err
	}

	childrenOf := make(map[string][]*store.Agent)
	for _, a := range agents {
		if a.ParentID != nil {
			childrenOf[*a.ParentID] = append(childrenOf[*a.ParentID], a)
		}
	}

	capabilities := make(map[string]router.Capability, len(agents))

	depths := map[string]int{rootID: 0}
	maxDepth := 0
	queue := []string{rootID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range childrenOf[current] {
			depths[child.AgentID] = depths[current] + 1
			if depths[child.AgentID] > maxDepth {
				maxDepth = depths[child.AgentID]
			}
			queue = append(queue, child.AgentID)
		}
	}

	var warnings []string
	for _, a := range agents {
		keywords, warning := c.extractKeywords(ctx, a, apiKey)
		if warning != "" {
			warnings = append(warnings, warning)
		}
		capabilities[a.AgentID] = router.Capability{
			AgentID:  a.AgentID,
			Keywords: keywords,
			Depth:    depths[a.AgentID],
		}
	}
	for id, node := range capabilities {
		for _, child := range childrenOf[id] {
			node.Children = append(node.Children, capabilities[child.AgentID])
		}
		capabilities[id] = node
	}

	now := time.Now().UTC()
	return &Snapshot{
		SessionID:    sessionID,
		RootAgentID:  rootID,
		Capabilities: capabilities,
		AgentCount:   len(agents),
		MaxDepth:     maxDepth,
		CreatedAt:    now,
		LastAccessed: now,
		Warnings:     warnings,
	}, nil
}

// extractKeywords calls C1 with a short analysis prompt to derive 3-7
// capability keywords from the agent's name, role, and system prompt.
// If extraction fails, keywords default to tokens of the agent's role,
// and the second return value carries the recorded warning message
// spec.md §4.3 requires for that degraded path (also logged via slog
// at call time, so an operator sees it without inspecting the
// snapshot).
func (c *Cache) extractKeywords(ctx context.Context, a *store.Agent, apiKey string) ([]string, string) {
	provider, model, err := c.llmRegistry.ResolveModel(a.Parameters.Model)
	if err != nil {
		return c.degradeToFallback(a, fmt.Sprintf("agent %s: resolving model %q: %v", a.AgentID, a.Parameters.Model, err))
	}

	prompt := fmt.Sprintf(
		"Extract 3 to 7 short lowercase keywords (comma-separated, no other text) summarizing this agent's capabilities.\nName: %s\nRole: %s\nSystem prompt: %s",
		a.Name, a.Role, a.SystemPrompt,
	)
	key := apiKey
	if key == "" {
		key = a.Parameters.Model // StubProvider tolerates a non-empty placeholder key
	}

	ch, err := provider.StreamGenerate(ctx, llms.GenerateParams{
		APIKey:       key,
		Model:        model,
		SystemPrompt: "You classify agent capabilities into keywords.",
		UserPrompt:   prompt,
		Temperature:  0,
		MaxTokens:    64,
	})
	if err != nil {
		return c.degradeToFallback(a, fmt.Sprintf("agent %s: keyword extraction call: %v", a.AgentID, err))
	}

	var text strings.Builder
	for chunk := range ch {
		text.WriteString(chunk.Text)
	}

	keywords := parseKeywords(text.String())
	if len(keywords) == 0 {
		return c.degradeToFallback(a, fmt.Sprintf("agent %s: keyword extraction returned no usable keywords", a.AgentID))
	}
	return keywords, ""
}

// degradeToFallback logs warning and returns role-derived keywords
// alongside it, for extractKeywords' three failure paths.
func (c *Cache) degradeToFallback(a *store.Agent, warning string) ([]string, string) {
	logger.ForComponent("treecache").Warn("falling back to role-derived keywords", "agent_id", a.AgentID, "reason", warning)
	return fallbackKeywords(a.Role), warning
}

func parseKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		kw := strings.ToLower(strings.TrimSpace(p))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) > 7 {
		keywords = keywords[:7]
	}
	return keywords
}

func fallbackKeywords(role string) []string {
	return parseKeywords(strings.ReplaceAll(role, " ", ","))
}
