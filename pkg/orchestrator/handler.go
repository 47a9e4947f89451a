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

package orchestrator

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arborun/arbor/pkg/arborerr"
	"github.com/arborun/arbor/pkg/executor"
	"github.com/arborun/arbor/pkg/sse"
)

// apiKeyHeader is the header carrying the caller-supplied LLM API key.
// When the header is absent, no configured server-side key is used in
// its place.
const apiKeyHeader = "X-LLM-Api-Key"

// ServeRun is the chi handler for starting a run and streaming its
// events as SSE frames: POST /v1/sessions/{sessionID}/runs/{runID}/start.
func (o *Orchestrator) ServeRun(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	runID := chi.URLParam(r, "runID")
	apiKey := r.Header.Get(apiKeyHeader)

	out, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = out.WriteEvent("connected", envelope("connected", "", map[string]string{"run_id": runID}))

	events, err := o.StartRun(r.Context(), sessionID, runID, apiKey)
	if err != nil {
		kind, _ := arborerr.KindOf(err)
		_ = out.WriteEvent("error", envelope("error", "", map[string]string{"kind": string(kind), "message": err.Error()}))
		return
	}

	heartbeat := time.NewTicker(o.Config.HeartbeatInterval)
	defer heartbeat.Stop()

	completed := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if !completed {
					// The coordinator stopped without sending
					// EventRunCompleted (e.g. persisting the final
					// answer failed); tell the client the stream is
					// over with whatever little we know.
					_ = out.WriteEvent("completed", envelope("completed", "", map[string]string{"run_id": runID}))
				}
				return
			}
			if ev.Type == executor.EventRunCompleted {
				completed = true
				if out.WriteEvent("completed", envelope("completed", "", map[string]any{
					"final_output":     ev.FinalOutput,
					"per_agent_output": ev.PerAgentOutput,
				})) != nil {
					go drainDisconnected(events)
					return
				}
				continue
			}
			if out.WriteEvent(string(ev.Type), envelope(string(ev.Type), ev.AgentID, eventData(ev))) != nil {
				go drainDisconnected(events)
				return
			}
			heartbeat.Reset(o.Config.HeartbeatInterval)
		case <-heartbeat.C:
			if out.WriteComment("keepalive") != nil {
				go drainDisconnected(events)
				return
			}
		case <-r.Context().Done():
			// The run keeps executing in the background (StartRun
			// detached its context); just stop writing to this client.
			go drainDisconnected(events)
			return
		}
	}
}

// drainDisconnected keeps reading events after the client is gone so
// the producer goroutine in Orchestrator.drive never blocks on a send.
func drainDisconnected(events <-chan executor.Event) {
	for range events {
	}
}

// envelope wraps an SSE frame's JSON body in the `{type, agent_id?,
// data}` shape spec.md §6 documents for every frame on the stream.
// agent_id is omitted when empty, matching its "?" in the spec.
func envelope(typ, agentID string, data any) map[string]any {
	e := map[string]any{"type": typ, "data": data}
	if agentID != "" {
		e["agent_id"] = agentID
	}
	return e
}

// eventData builds the type-specific `data` value for ev, per §6's
// per-event-type shape table.
func eventData(ev executor.Event) any {
	switch ev.Type {
	case executor.EventStatus:
		return string(ev.Status)
	case executor.EventOutputChunk, executor.EventOutput:
		return ev.Text
	case executor.EventDelegation:
		return map[string]string{"from": ev.From, "to": ev.To, "label": ev.Label}
	case executor.EventError:
		return map[string]string{"kind": string(ev.ErrKind), "message": ev.ErrMessage}
	case executor.EventLog:
		return map[string]string{"message": ev.Message, "level": string(ev.Level)}
	default:
		return nil
	}
}
