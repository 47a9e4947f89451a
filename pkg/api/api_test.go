package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/arborun/arbor/pkg/store"
)

func newTestAPI(t *testing.T) (*API, *chi.Mux) {
	t.Helper()
	repo, err := store.Open("sqlite", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	a := New(repo)
	r := chi.NewRouter()
	a.Mount(r)
	return a, r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAPI_SessionAndAgentLifecycle(t *testing.T) {
	_, r := newTestAPI(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/sessions", map[string]string{"name": "demo"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var session store.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.NotEmpty(t, session.SessionID)

	rec = doJSON(t, r, http.MethodPost, "/v1/sessions/"+session.SessionID+"/agents", agentPayload{
		Name:         "root",
		SystemPrompt: "You are root.",
		Parameters:   store.AgentParameters{Model: "stub/default"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var agent store.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
	require.NotEmpty(t, agent.AgentID)

	rec = doJSON(t, r, http.MethodGet, "/v1/sessions/"+session.SessionID+"/agents/"+agent.AgentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodDelete, "/v1/sessions/"+session.SessionID+"/agents/"+agent.AgentID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/v1/sessions/"+session.SessionID+"/agents/"+agent.AgentID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreateRunRejectsUnknownSession(t *testing.T) {
	_, r := newTestAPI(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/sessions/missing/runs", map[string]any{
		"root_agent_id": "nope",
		"input":         map[string]string{"task": "hi"},
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
