package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// RunStore provides an in-memory audit.RunStore for development/testing.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]audit.Run
	results map[string][]byte
	now     func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string]audit.Run),
		results: make(map[string][]byte),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run audit.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("create run %s: %w", run.ID, audit.ErrRunExists)
	}
	now := s.now()
	if run.Status == "" {
		run.Status = audit.StatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (audit.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return audit.Run{}, fmt.Errorf("get run %s: %w", runID, audit.ErrNotFound)
	}
	return run, nil
}

// UpdateRunStatus applies a lifecycle transition.
func (s *RunStore) UpdateRunStatus(_ context.Context, runID string, status audit.RunStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("update run %s: %w", runID, audit.ErrNotFound)
	}
	if err := audit.CheckTransition(run.Status, status); err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	run.Status = status
	run.Error = errText
	run.UpdatedAt = s.now()
	s.runs[runID] = run
	return nil
}

// SaveResult stores the result once.
func (s *RunStore) SaveResult(_ context.Context, runID string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("save result %s: %w", runID, audit.ErrNotFound)
	}
	if _, exists := s.results[runID]; exists {
		return fmt.Errorf("save result %s: %w", runID, audit.ErrResultExists)
	}
	s.results[runID] = append([]byte(nil), result...)
	return nil
}

// GetResult returns a copy of the stored result.
func (s *RunStore) GetResult(_ context.Context, runID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[runID]
	if !ok {
		return nil, fmt.Errorf("get result %s: %w", runID, audit.ErrNotFound)
	}
	return append([]byte(nil), result...), nil
}

// DiscardQueued deletes a run that is still queued.
func (s *RunStore) DiscardQueued(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("discard run %s: %w", runID, audit.ErrNotFound)
	}
	if run.Status != audit.StatusQueued {
		return fmt.Errorf("discard run %s: %w: status %s", runID, audit.ErrInvalidTransition, run.Status)
	}
	delete(s.runs, runID)
	return nil
}
