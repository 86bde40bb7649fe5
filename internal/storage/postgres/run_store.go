package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// RunStore implements audit.RunStore on Postgres. Status writes are
// conditional updates so concurrent workers cannot regress a run.
type RunStore struct {
	pool   pool
	tables Tables
	now    func() time.Time
}

// NewRunStore wraps an existing pool.
func NewRunStore(p pool, tables Tables) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	tables, err := tables.withDefaults()
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, tables: tables, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

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
	query := fmt.Sprintf(`
INSERT INTO %s (id, kind, input, status, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`, s.tables.Runs)
	tag, err := s.pool.Exec(ctx, query,
		run.ID, string(run.Kind), input, string(run.Status), run.Error, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create run %s: %w", run.ID, audit.ErrRunExists)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (audit.Run, error) {
	query := fmt.Sprintf(`
SELECT id, kind, input, status, error, created_at, updated_at
FROM %s
WHERE id = $1`, s.tables.Runs)
	var (
		run    audit.Run
		kind   string
		status string
		input  []byte
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID, &kind, &input, &status, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Run{}, fmt.Errorf("get run %s: %w", runID, audit.ErrNotFound)
		}
		return audit.Run{}, fmt.Errorf("select run: %w", err)
	}
	run.Kind = audit.RunKind(kind)
	run.Status = audit.RunStatus(status)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &run.Input); err != nil {
			return audit.Run{}, fmt.Errorf("decode run input: %w", err)
		}
	}
	return run, nil
}

// UpdateRunStatus applies a transition only when the stored status allows
// it. A rejected write is explained by re-reading the row.
func (s *RunStore) UpdateRunStatus(ctx context.Context, runID string, status audit.RunStatus, errText string) error {
	from := audit.AllowedPredecessors(status)
	if len(from) == 0 {
		return fmt.Errorf("update run %s: %w: -> %s", runID, audit.ErrInvalidTransition, status)
	}
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, error = $2, updated_at = $3
WHERE id = $4 AND status = ANY($5)`, s.tables.Runs)
	tag, err := s.pool.Exec(ctx, query, string(status), errText, s.now(), runID, allowed)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := audit.CheckTransition(current.Status, status); err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	// The row changed between the update and the read.
	return fmt.Errorf("update run %s: %w: concurrent write", runID, audit.ErrInvalidTransition)
}

// SaveResult stores the result once.
func (s *RunStore) SaveResult(ctx context.Context, runID string, result []byte) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, payload, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO NOTHING`, s.tables.Results)
	tag, err := s.pool.Exec(ctx, query, runID, result, s.now())
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("save result %s: %w", runID, audit.ErrNotFound)
		}
		return fmt.Errorf("insert result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save result %s: %w", runID, audit.ErrResultExists)
	}
	return nil
}

// GetResult returns the stored result.
func (s *RunStore) GetResult(ctx context.Context, runID string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE run_id = $1`, s.tables.Results)
	var payload []byte
	if err := s.pool.QueryRow(ctx, query, runID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get result %s: %w", runID, audit.ErrNotFound)
		}
		return nil, fmt.Errorf("select result: %w", err)
	}
	return payload, nil
}

// DiscardQueued deletes a run that is still queued.
func (s *RunStore) DiscardQueued(ctx context.Context, runID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status = $2`, s.tables.Runs)
	tag, err := s.pool.Exec(ctx, query, runID, string(audit.StatusQueued))
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("discard run %s: %w: status %s", runID, audit.ErrInvalidTransition, current.Status)
}
