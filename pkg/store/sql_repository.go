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

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	// Database drivers: blank-imported so operators select a dialect by
	// name without this package importing driver-specific types.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/arborun/arbor/pkg/arborerr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_accessed TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
    agent_id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    role VARCHAR(255) NOT NULL,
    system_prompt TEXT NOT NULL,
    parameters TEXT NOT NULL,
    photo_injection_enabled BOOLEAN NOT NULL,
    photo_injection_features TEXT NOT NULL,
    parent_id VARCHAR(255),
    canvas_x DOUBLE PRECISION,
    canvas_y DOUBLE PRECISION,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_session_id ON agents(session_id);
CREATE INDEX IF NOT EXISTS idx_agents_parent_id ON agents(parent_id);

CREATE TABLE IF NOT EXISTS links (
    link_id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    from_id VARCHAR(255) NOT NULL,
    to_id VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_links_session_id ON links(session_id);

CREATE TABLE IF NOT EXISTS runs (
    run_id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    root_agent_id VARCHAR(255) NOT NULL,
    status VARCHAR(50) NOT NULL,
    input_json TEXT NOT NULL,
    output_json TEXT,
    logs_json TEXT NOT NULL,
    error_message TEXT,
    created_at TIMESTAMP NOT NULL,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_session_id ON runs(session_id);
`

// SQLRepository implements Repository over database/sql, supporting
// Postgres, MySQL, and SQLite through one dialect-aware driver, mirroring
// the teacher's SQLTaskService.
type SQLRepository struct {
	db      *sql.DB
	dialect string

	// sqliteRunLocks substitutes for SELECT ... FOR UPDATE on SQLite,
	// which has no row-level locking under database/sql.
	sqliteRunLocks   map[string]*sync.Mutex
	sqliteRunLocksMu sync.Mutex

	onMutation MutationListener
}

// NewSQLRepository opens db under dialect ("postgres", "mysql", or
// "sqlite") and creates the schema idempotently.
func NewSQLRepository(db *sql.DB, dialect string, onMutation MutationListener) (*SQLRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("store: database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("store: unsupported dialect %q (supported: postgres, mysql, sqlite)", dialect)
	}

	r := &SQLRepository{
		db:             db,
		dialect:        dialect,
		sqliteRunLocks: make(map[string]*sync.Mutex),
		onMutation:     onMutation,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return r, nil
}

// Open is a convenience constructor: maps dialect "sqlite" to the
// go-sqlite3 driver name "sqlite3" and opens+pings the connection.
func Open(dialect, dsn string, onMutation MutationListener) (*SQLRepository, error) {
	driverName := dialect
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if dialect == "sqlite" {
		// A SQLite ":memory:" database is private to the connection that
		// created it; capping the pool at one connection keeps every
		// query on the same in-memory database instead of a fresh one.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	return NewSQLRepository(db, dialect, onMutation)
}

func (r *SQLRepository) Close() error { return r.db.Close() }

func (r *SQLRepository) notify(sessionID string) {
	if r.onMutation != nil {
		r.onMutation(sessionID)
	}
}

// --- Sessions ---

func (r *SQLRepository) CreateSession(ctx context.Context, name string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{SessionID: uuid.NewString(), Name: name, CreatedAt: now, LastAccessed: now}
	query := rebind(r.dialect, `INSERT INTO sessions (session_id, name, created_at, last_accessed) VALUES (?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, s.SessionID, s.Name, s.CreatedAt, s.LastAccessed); err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	return s, nil
}

func (r *SQLRepository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := rebind(r.dialect, `SELECT session_id, name, created_at, last_accessed FROM sessions WHERE session_id = ?`)
	var s Session
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&s.SessionID, &s.Name, &s.CreatedAt, &s.LastAccessed)
	if err == sql.ErrNoRows {
		return nil, arborerr.New(arborerr.NotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return &s, nil
}

// --- Agents ---

func (r *SQLRepository) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	if a.ParentID != nil {
		if err := r.checkSameSessionParent(ctx, a.SessionID, *a.ParentID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	clone := *a
	clone.AgentID = uuid.NewString()
	clone.CreatedAt = now
	clone.UpdatedAt = now

	if err := r.insertAgentRow(ctx, &clone); err != nil {
		return nil, err
	}
	if clone.ParentID != nil {
		if err := r.insertLink(ctx, clone.SessionID, *clone.ParentID, clone.AgentID); err != nil {
			return nil, err
		}
	}
	r.notify(clone.SessionID)
	return &clone, nil
}

func (r *SQLRepository) insertAgentRow(ctx context.Context, a *Agent) error {
	params, err := json.Marshal(a.Parameters)
	if err != nil {
		return fmt.Errorf("store: marshal agent parameters: %w", err)
	}
	features, err := json.Marshal(a.PhotoInjectionFeatures)
	if err != nil {
		return fmt.Errorf("store: marshal photo injection features: %w", err)
	}

	query := rebind(r.dialect, `
INSERT INTO agents (agent_id, session_id, name, role, system_prompt, parameters, photo_injection_enabled, photo_injection_features, parent_id, canvas_x, canvas_y, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	_, err = r.db.ExecContext(ctx, query,
		a.AgentID, a.SessionID, a.Name, a.Role, a.SystemPrompt, string(params),
		a.PhotoInjectionEnabled, string(features), a.ParentID, a.CanvasX, a.CanvasY,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert agent: %w", err)
	}
	return nil
}

func (r *SQLRepository) insertLink(ctx context.Context, sessionID, fromID, toID string) error {
	query := rebind(r.dialect, `INSERT INTO links (link_id, session_id, from_id, to_id, created_at) VALUES (?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, uuid.NewString(), sessionID, fromID, toID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: insert link: %w", err)
	}
	return nil
}

func (r *SQLRepository) checkSameSessionParent(ctx context.Context, sessionID, parentID string) error {
	parent, err := r.GetAgent(ctx, sessionID, parentID)
	if err != nil {
		if arborerr.Is(err, arborerr.NotFound) {
			return arborerr.New(arborerr.CrossSessionViolation, "parent %s does not belong to session %s", parentID, sessionID)
		}
		return err
	}
	_ = parent
	return nil
}

func (r *SQLRepository) GetAgent(ctx context.Context, sessionID, agentID string) (*Agent, error) {
	query := rebind(r.dialect, `
SELECT agent_id, session_id, name, role, system_prompt, parameters, photo_injection_enabled, photo_injection_features, parent_id, canvas_x, canvas_y, created_at, updated_at
FROM agents WHERE agent_id = ? AND session_id = ?
`)
	row := r.db.QueryRowContext(ctx, query, agentID, sessionID)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, arborerr.New(arborerr.NotFound, "agent %s not found in session %s", agentID, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get agent: %w", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var parametersJSON, featuresJSON string
	if err := row.Scan(
		&a.AgentID, &a.SessionID, &a.Name, &a.Role, &a.SystemPrompt, &parametersJSON,
		&a.PhotoInjectionEnabled, &featuresJSON, &a.ParentID, &a.CanvasX, &a.CanvasY,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(parametersJSON), &a.Parameters); err != nil {
		return nil, fmt.Errorf("store: unmarshal agent parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(featuresJSON), &a.PhotoInjectionFeatures); err != nil {
		return nil, fmt.Errorf("store: unmarshal photo injection features: %w", err)
	}
	return &a, nil
}

// UpdateAgent persists a's fields, including re-parenting. Re-parenting
// is cycle-checked by walking the candidate parent's ancestors; if
// a.AgentID appears among them, the update is rejected.
func (r *SQLRepository) UpdateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	existing, err := r.GetAgent(ctx, a.SessionID, a.AgentID)
	if err != nil {
		return nil, err
	}

	reparented := (a.ParentID == nil) != (existing.ParentID == nil) ||
		(a.ParentID != nil && existing.ParentID != nil && *a.ParentID != *existing.ParentID)

	if reparented && a.ParentID != nil {
		if err := r.checkSameSessionParent(ctx, a.SessionID, *a.ParentID); err != nil {
			return nil, err
		}
		if err := r.assertNoCycle(ctx, a.SessionID, a.AgentID, *a.ParentID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	clone := *a
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = now

	params, err := json.Marshal(clone.Parameters)
	if err != nil {
		return nil, fmt.Errorf("store: marshal agent parameters: %w", err)
	}
	features, err := json.Marshal(clone.PhotoInjectionFeatures)
	if err != nil {
		return nil, fmt.Errorf("store: marshal photo injection features: %w", err)
	}

	query := rebind(r.dialect, `
UPDATE agents SET name = ?, role = ?, system_prompt = ?, parameters = ?, photo_injection_enabled = ?, photo_injection_features = ?, parent_id = ?, canvas_x = ?, canvas_y = ?, updated_at = ?
WHERE agent_id = ? AND session_id = ?
`)
	_, err = r.db.ExecContext(ctx, query,
		clone.Name, clone.Role, clone.SystemPrompt, string(params), clone.PhotoInjectionEnabled,
		string(features), clone.ParentID, clone.CanvasX, clone.CanvasY, clone.UpdatedAt,
		clone.AgentID, clone.SessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: update agent: %w", err)
	}

	if reparented && clone.ParentID != nil {
		if err := r.insertLink(ctx, clone.SessionID, *clone.ParentID, clone.AgentID); err != nil {
			return nil, err
		}
	}

	r.notify(clone.SessionID)
	return &clone, nil
}

// assertNoCycle walks ancestors of candidateParentID; if agentID appears,
// re-parenting agentID under candidateParentID would create a cycle.
func (r *SQLRepository) assertNoCycle(ctx context.Context, sessionID, agentID, candidateParentID string) error {
	current := candidateParentID
	visited := map[string]bool{}
	for current != "" {
		if current == agentID {
			return arborerr.New(arborerr.WouldCreateCycle, "re-parenting %s under %s would create a cycle", agentID, candidateParentID)
		}
		if visited[current] {
			break // pre-existing cycle in stored data; stop rather than loop forever
		}
		visited[current] = true

		ancestor, err := r.GetAgent(ctx, sessionID, current)
		if err != nil {
			if arborerr.Is(err, arborerr.NotFound) {
				break
			}
			return err
		}
		if ancestor.ParentID == nil {
			break
		}
		current = *ancestor.ParentID
	}
	return nil
}

func (r *SQLRepository) DeleteAgent(ctx context.Context, sessionID, agentID string) error {
	if _, err := r.GetAgent(ctx, sessionID, agentID); err != nil {
		return err
	}
	query := rebind(r.dialect, `DELETE FROM agents WHERE agent_id = ? AND session_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, agentID, sessionID); err != nil {
		return fmt.Errorf("store: delete agent: %w", err)
	}
	linkQuery := rebind(r.dialect, `DELETE FROM links WHERE session_id = ? AND (from_id = ? OR to_id = ?)`)
	if _, err := r.db.ExecContext(ctx, linkQuery, sessionID, agentID, agentID); err != nil {
		return fmt.Errorf("store: delete links: %w", err)
	}
	r.notify(sessionID)
	return nil
}

func (r *SQLRepository) GetChildren(ctx context.Context, sessionID, parentID string) ([]*Agent, error) {
	query := rebind(r.dialect, `
SELECT agent_id, session_id, name, role, system_prompt, parameters, photo_injection_enabled, photo_injection_features, parent_id, canvas_x, canvas_y, created_at, updated_at
FROM agents WHERE session_id = ? AND parent_id = ?
ORDER BY agent_id
`)
	rows, err := r.db.QueryContext(ctx, query, sessionID, parentID)
	if err != nil {
		return nil, fmt.Errorf("store: get children: %w", err)
	}
	defer rows.Close()

	var children []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan child: %w", err)
		}
		children = append(children, a)
	}
	return children, rows.Err()
}

// GetAgentSubtree returns rootID and every descendant within sessionID,
// traversed breadth-first.
func (r *SQLRepository) GetAgentSubtree(ctx context.Context, sessionID, rootID string) ([]*Agent, error) {
	root, err := r.GetAgent(ctx, sessionID, rootID)
	if err != nil {
		return nil, err
	}

	subtree := []*Agent{root}
	queue := []string{rootID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := r.GetChildren(ctx, sessionID, current)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			subtree = append(subtree, c)
			queue = append(queue, c.AgentID)
		}
	}
	return subtree, nil
}

// --- Runs ---

func (r *SQLRepository) CreateRun(ctx context.Context, sessionID, rootAgentID string, input RunInput) (*Run, error) {
	if _, err := r.GetAgent(ctx, sessionID, rootAgentID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &Run{
		RunID:       uuid.NewString(),
		SessionID:   sessionID,
		RootAgentID: rootAgentID,
		Status:      RunPending,
		Input:       input,
		Logs:        nil,
		CreatedAt:   now,
	}

	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return nil, fmt.Errorf("store: marshal run input: %w", err)
	}
	logsJSON, err := json.Marshal(run.Logs)
	if err != nil {
		return nil, fmt.Errorf("store: marshal run logs: %w", err)
	}

	query := rebind(r.dialect, `
INSERT INTO runs (run_id, session_id, root_agent_id, status, input_json, output_json, logs_json, error_message, created_at, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	_, err = r.db.ExecContext(ctx, query,
		run.RunID, run.SessionID, run.RootAgentID, string(run.Status), string(inputJSON),
		nil, string(logsJSON), nil, run.CreatedAt, nil, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert run: %w", err)
	}
	return run, nil
}

func (r *SQLRepository) GetRun(ctx context.Context, sessionID, runID string) (*Run, error) {
	query := rebind(r.dialect, `
SELECT run_id, session_id, root_agent_id, status, input_json, output_json, logs_json, error_message, created_at, started_at, finished_at
FROM runs WHERE run_id = ? AND session_id = ?
`)
	row := r.db.QueryRowContext(ctx, query, runID, sessionID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, arborerr.New(arborerr.NotFound, "run %s not found in session %s", runID, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return run, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, inputJSON, logsJSON string
	var outputJSON, errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime

	if err := row.Scan(
		&run.RunID, &run.SessionID, &run.RootAgentID, &status, &inputJSON,
		&outputJSON, &logsJSON, &errMsg, &run.CreatedAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if err := json.Unmarshal([]byte(inputJSON), &run.Input); err != nil {
		return nil, fmt.Errorf("store: unmarshal run input: %w", err)
	}
	if logsJSON != "" {
		if err := json.Unmarshal([]byte(logsJSON), &run.Logs); err != nil {
			return nil, fmt.Errorf("store: unmarshal run logs: %w", err)
		}
	}
	if outputJSON.Valid && outputJSON.String != "" {
		var out RunOutput
		if err := json.Unmarshal([]byte(outputJSON.String), &out); err != nil {
			return nil, fmt.Errorf("store: unmarshal run output: %w", err)
		}
		run.Output = &out
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.Error = &msg
	}
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func (r *SQLRepository) UpdateRunStatus(ctx context.Context, sessionID, runID string, status RunStatus, errMsg *string) error {
	run, err := r.GetRun(ctx, sessionID, runID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var startedAt, finishedAt *time.Time
	startedAt = run.StartedAt
	finishedAt = run.FinishedAt
	if status == RunRunning && startedAt == nil {
		startedAt = &now
	}
	if (status == RunCompleted || status == RunFailed || status == RunCancelled) && finishedAt == nil {
		finishedAt = &now
	}

	query := rebind(r.dialect, `UPDATE runs SET status = ?, error_message = ?, started_at = ?, finished_at = ? WHERE run_id = ? AND session_id = ?`)
	_, err = r.db.ExecContext(ctx, query, string(status), errMsg, startedAt, finishedAt, runID, sessionID)
	if err != nil {
		return fmt.Errorf("store: update run status: %w", err)
	}
	return nil
}

func (r *SQLRepository) AppendRunLog(ctx context.Context, sessionID, runID string, entry RunLogEntry) error {
	run, err := r.GetRun(ctx, sessionID, runID)
	if err != nil {
		return err
	}
	run.Logs = append(run.Logs, entry)

	logsJSON, err := json.Marshal(run.Logs)
	if err != nil {
		return fmt.Errorf("store: marshal run logs: %w", err)
	}
	query := rebind(r.dialect, `UPDATE runs SET logs_json = ? WHERE run_id = ? AND session_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, string(logsJSON), runID, sessionID); err != nil {
		return fmt.Errorf("store: append run log: %w", err)
	}
	return nil
}

func (r *SQLRepository) SetRunOutput(ctx context.Context, sessionID, runID string, output RunOutput) error {
	if _, err := r.GetRun(ctx, sessionID, runID); err != nil {
		return err
	}
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("store: marshal run output: %w", err)
	}
	query := rebind(r.dialect, `UPDATE runs SET output_json = ? WHERE run_id = ? AND session_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, string(outputJSON), runID, sessionID); err != nil {
		return fmt.Errorf("store: set run output: %w", err)
	}
	return nil
}

// LockRun serializes concurrent writers against one run record. On
// Postgres/MySQL it opens a transaction and takes SELECT ... FOR UPDATE
// on the run row; SQLite has no row-level locking under database/sql,
// so an in-process mutex keyed by run_id stands in for it.
func (r *SQLRepository) LockRun(ctx context.Context, sessionID, runID string, fn func(ctx context.Context) error) error {
	if r.dialect == "sqlite" {
		mu := r.sqliteLockFor(runID)
		mu.Lock()
		defer mu.Unlock()
		if _, err := r.GetRun(ctx, sessionID, runID); err != nil {
			return err
		}
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin lock transaction: %w", err)
	}
	defer tx.Rollback()

	query := rebind(r.dialect, `SELECT run_id FROM runs WHERE run_id = ? AND session_id = ?`) + forUpdateClause(r.dialect)
	var lockedID string
	if err := tx.QueryRowContext(ctx, query, runID, sessionID).Scan(&lockedID); err != nil {
		if err == sql.ErrNoRows {
			return arborerr.New(arborerr.NotFound, "run %s not found in session %s", runID, sessionID)
		}
		return fmt.Errorf("store: lock run: %w", err)
	}

	if err := fn(ctx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) sqliteLockFor(runID string) *sync.Mutex {
	r.sqliteRunLocksMu.Lock()
	defer r.sqliteRunLocksMu.Unlock()
	mu, ok := r.sqliteRunLocks[runID]
	if !ok {
		mu = &sync.Mutex{}
		r.sqliteRunLocks[runID] = mu
	}
	return mu
}
