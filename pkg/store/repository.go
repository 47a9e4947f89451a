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

package store

import "context"

// Repository is the Agent Repository contract (C2). Every operation is
// session-scoped: rows belonging to another session are reported as
// arborerr.NotFound, never leaked.
type Repository interface {
	CreateSession(ctx context.Context, name string) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	CreateAgent(ctx context.Context, a *Agent) (*Agent, error)
	GetAgent(ctx context.Context, sessionID, agentID string) (*Agent, error)
	UpdateAgent(ctx context.Context, a *Agent) (*Agent, error)
	DeleteAgent(ctx context.Context, sessionID, agentID string) error
	GetChildren(ctx context.Context, sessionID, parentID string) ([]*Agent, error)
	GetAgentSubtree(ctx context.Context, sessionID, rootID string) ([]*Agent, error)

	CreateRun(ctx context.Context, sessionID, rootAgentID string, input RunInput) (*Run, error)
	GetRun(ctx context.Context, sessionID, runID string) (*Run, error)
	UpdateRunStatus(ctx context.Context, sessionID, runID string, status RunStatus, errMsg *string) error
	AppendRunLog(ctx context.Context, sessionID, runID string, entry RunLogEntry) error
	SetRunOutput(ctx context.Context, sessionID, runID string, output RunOutput) error

	// LockRun serializes writers against a single run record for the
	// duration of fn, matching the row-level-lock concurrency contract.
	LockRun(ctx context.Context, sessionID, runID string, fn func(ctx context.Context) error) error

	Close() error
}

// MutationListener is notified after any agent/link mutation committed
// through the repository, so the Agent Tree Cache can invalidate the
// affected session's snapshots. The session parameter is always the
// mutation's owning session.
type MutationListener func(sessionID string)
