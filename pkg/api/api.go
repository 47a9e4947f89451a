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

// Package api is the REST surface for managing sessions, agents, and
// runs, backed directly by the Agent Repository (C2). The run
// execution endpoint itself lives in pkg/orchestrator, which mounts
// alongside these routes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arborun/arbor/pkg/arborerr"
	"github.com/arborun/arbor/pkg/store"
)

// API exposes session/agent/run CRUD handlers over a Repository.
type API struct {
	Repo store.Repository
}

// New builds an API over repo.
func New(repo store.Repository) *API {
	return &API{Repo: repo}
}

// Mount registers every route under r.
func (a *API) Mount(r chi.Router) {
	r.Post("/v1/sessions", a.createSession)
	r.Get("/v1/sessions/{sessionID}", a.getSession)

	r.Post("/v1/sessions/{sessionID}/agents", a.createAgent)
	r.Get("/v1/sessions/{sessionID}/agents/{agentID}", a.getAgent)
	r.Put("/v1/sessions/{sessionID}/agents/{agentID}", a.updateAgent)
	r.Delete("/v1/sessions/{sessionID}/agents/{agentID}", a.deleteAgent)
	r.Get("/v1/sessions/{sessionID}/agents/{agentID}/children", a.getChildren)

	r.Post("/v1/sessions/{sessionID}/runs", a.createRun)
	r.Get("/v1/sessions/{sessionID}/runs/{runID}", a.getRun)
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	session, err := a.Repo.CreateSession(r.Context(), body.Name)
	if !writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := a.Repo.GetSession(r.Context(), sessionID)
	if !writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// agentPayload is the wire shape for creating/updating an agent.
type agentPayload struct {
	Name                   string               `json:"name"`
	Role                   string               `json:"role"`
	SystemPrompt           string               `json:"system_prompt"`
	Parameters             store.AgentParameters `json:"parameters"`
	PhotoInjectionEnabled  bool                 `json:"photo_injection_enabled"`
	PhotoInjectionFeatures []string             `json:"photo_injection_features"`
	ParentID               *string              `json:"parent_id,omitempty"`
	CanvasX                *float64             `json:"canvas_x,omitempty"`
	CanvasY                *float64             `json:"canvas_y,omitempty"`
}

func (a *API) createAgent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var body agentPayload
	if !decodeJSON(w, r, &body) {
		return
	}
	agent, err := a.Repo.CreateAgent(r.Context(), &store.Agent{
		SessionID:              sessionID,
		Name:                   body.Name,
		Role:                   body.Role,
		SystemPrompt:           body.SystemPrompt,
		Parameters:             body.Parameters,
		PhotoInjectionEnabled:  body.PhotoInjectionEnabled,
		PhotoInjectionFeatures: body.PhotoInjectionFeatures,
		ParentID:               body.ParentID,
		CanvasX:                body.CanvasX,
		CanvasY:                body.CanvasY,
	})
	if !writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (a *API) getAgent(w http.ResponseWriter, r *http.Request) {
	sessionID, agentID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "agentID")
	agent, err := a.Repo.GetAgent(r.Context(), sessionID, agentID)
	if !writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (a *API) updateAgent(w http.ResponseWriter, r *http.Request) {
	sessionID, agentID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "agentID")
	var body agentPayload
	if !decodeJSON(w, r, &body) {
		return
	}
	agent, err := a.Repo.UpdateAgent(r.Context(), &store.Agent{
		AgentID:                agentID,
		SessionID:              sessionID,
		Name:                   body.Name,
		Role:                   body.Role,
		SystemPrompt:           body.SystemPrompt,
		Parameters:             body.Parameters,
		PhotoInjectionEnabled:  body.PhotoInjectionEnabled,
		PhotoInjectionFeatures: body.PhotoInjectionFeatures,
		ParentID:               body.ParentID,
		CanvasX:                body.CanvasX,
		CanvasY:                body.CanvasY,
	})
	if !writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (a *API) deleteAgent(w http.ResponseWriter, r *http.Request) {
	sessionID, agentID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "agentID")
	err := a.Repo.DeleteAgent(r.Context(), sessionID, agentID)
	if !writeErr(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getChildren(w http.ResponseWriter, r *http.Request) {
	sessionID, agentID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "agentID")
	children, err := a.Repo.GetChildren(r.Context(), sessionID, agentID)
	if !writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, children)
}

func (a *API) createRun(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var body struct {
		RootAgentID string         `json:"root_agent_id"`
		Input       store.RunInput `json:"input"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	run, err := a.Repo.CreateRun(r.Context(), sessionID, body.RootAgentID, body.Input)
	if !writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	sessionID, runID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "runID")
	run, err := a.Repo.GetRun(r.Context(), sessionID, runID)
	if !writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeErr reports err (if any) as a JSON error body with a status
// derived from its arborerr.Kind, and returns whether the caller
// should continue handling the request.
func writeErr(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	status := http.StatusInternalServerError
	kind, ok := arborerr.KindOf(err)
	if ok {
		switch kind {
		case arborerr.NotFound:
			status = http.StatusNotFound
		case arborerr.CrossSessionViolation, arborerr.WouldCreateCycle, arborerr.RunNotPending:
			status = http.StatusConflict
		case arborerr.MissingKey:
			status = http.StatusBadRequest
		}
	}
	var body map[string]string
	if ok {
		body = map[string]string{"kind": string(kind), "message": err.Error()}
	} else {
		body = map[string]string{"kind": "Internal", "message": err.Error()}
	}
	writeJSON(w, status, body)
	return false
}
