// Package sqlite provides a single-node audit.RunStore and Search Console
// token store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	input      TEXT NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS gsc_tokens (
	identity      TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expiry        TEXT,
	updated_at    TEXT NOT NULL
);
`

// RunStore persists runs in a SQLite database file.
type RunStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*RunStore, error) {
	if path == "" {
		return nil, errors.New("store.sqlite.path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps conditional status updates serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &RunStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (s *RunStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// CreateRun inserts a new run.
func (s *RunStore) CreateRun(ctx context.Context, run audit.Run) error {
	input, err := json.Marshal(run.Input)
	if err != nil {
		return fmt.Errorf("marshal run input: %w", err)
	}
	if run.Status == "" {
		run.Status = audit.StatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, input, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), string(input), string(run.Status), run.Error,
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("create run %s: %w", run.ID, audit.ErrRunExists)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (audit.Run, error) {
	var (
		run                  audit.Run
		kind, status, input  string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, input, status, error, created_at, updated_at
		FROM runs WHERE id = ?`, runID).
		Scan(&run.ID, &kind, &input, &status, &run.Error, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Run{}, fmt.Errorf("get run %s: %w", runID, audit.ErrNotFound)
		}
		return audit.Run{}, fmt.Errorf("select run: %w", err)
	}
	run.Kind = audit.RunKind(kind)
	run.Status = audit.RunStatus(status)
	if err := json.Unmarshal([]byte(input), &run.Input); err != nil {
		return audit.Run{}, fmt.Errorf("decode run input: %w", err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return audit.Run{}, fmt.Errorf("parse created_at: %w", err)
	}
	if run.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return audit.Run{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return run, nil
}

// UpdateRunStatus applies a transition only when the stored status allows it.
func (s *RunStore) UpdateRunStatus(ctx context.Context, runID string, status audit.RunStatus, errText string) error {
	from := audit.AllowedPredecessors(status)
	if len(from) == 0 {
		return fmt.Errorf("update run %s: %w: -> %s", runID, audit.ErrInvalidTransition, status)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{string(status), errText, formatTime(s.now()), runID}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := audit.CheckTransition(current.Status, status); err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	return fmt.Errorf("update run %s: %w: concurrent write", runID, audit.ErrInvalidTransition)
}

// SaveResult stores the result once.
func (s *RunStore) SaveResult(ctx context.Context, runID string, result []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (run_id, payload, created_at) VALUES (?, ?, ?)`,
		runID, result, formatTime(s.now()))
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("save result %s: %w", runID, audit.ErrResultExists)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("save result %s: %w", runID, audit.ErrNotFound)
		}
	}
	return fmt.Errorf("insert result: %w", err)
}

// GetResult returns the stored result.
func (s *RunStore) GetResult(ctx context.Context, runID string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM results WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get result %s: %w", runID, audit.ErrNotFound)
		}
		return nil, fmt.Errorf("select result: %w", err)
	}
	return payload, nil
}

// DiscardQueued deletes a run that is still queued.
func (s *RunStore) DiscardQueued(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ? AND status = ?`, runID, string(audit.StatusQueued))
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("discard run %s: %w: status %s", runID, audit.ErrInvalidTransition, current.Status)
}
