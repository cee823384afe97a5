// Package sqlite persists a journal of session spawns and exits for
// post-mortem inspection. Output payloads are not persisted.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentdeck/agentdeck/pkg/types"
)

type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			model TEXT,
			command TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			pid INTEGER,
			started_unix_ns INTEGER NOT NULL,
			exited_unix_ns INTEGER,
			exit_code INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_workspace_started
			ON sessions(workspace_id, started_unix_ns);`,
	}
	for _, s := range stmts {
		if _, err := j.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RecordSpawn inserts a journal row for a freshly spawned session and
// returns its row id. The spawn environment is never written.
func (j *Journal) RecordSpawn(ctx context.Context, info types.SessionInfo) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions (id, workspace_id, agent, model, command, working_dir, pid, started_unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, info.WorkspaceID, info.Agent, info.Model, info.Command, info.WorkingDir,
		info.PID, info.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("record spawn: %w", err)
	}
	return id, nil
}

// RecordExit closes the journal row written at spawn time.
func (j *Journal) RecordExit(ctx context.Context, rowID string, exitCode int) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET exited_unix_ns = ?, exit_code = ? WHERE id = ?`,
		time.Now().UTC().UnixNano(), exitCode, rowID)
	if err != nil {
		return fmt.Errorf("record exit: %w", err)
	}
	return nil
}

// Entry is one journal row.
type Entry struct {
	ID          string
	WorkspaceID string
	Agent       string
	Model       string
	Command     string
	WorkingDir  string
	PID         int
	StartedAt   time.Time
	ExitedAt    *time.Time
	ExitCode    *int
}

// Recent returns the most recent journal rows, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, workspace_id, agent, IFNULL(model, ''), command, working_dir,
		        IFNULL(pid, 0), started_unix_ns, exited_unix_ns, exit_code
		 FROM sessions ORDER BY started_unix_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started int64
		var exited sql.NullInt64
		var code sql.NullInt64
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.Agent, &e.Model, &e.Command,
			&e.WorkingDir, &e.PID, &started, &exited, &code); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		e.StartedAt = time.Unix(0, started).UTC()
		if exited.Valid {
			t := time.Unix(0, exited.Int64).UTC()
			e.ExitedAt = &t
		}
		if code.Valid {
			c := int(code.Int64)
			e.ExitCode = &c
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
