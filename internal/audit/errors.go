package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a run, result or token does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunFinalized is returned for any status write against a terminal run.
	ErrRunFinalized = errors.New("run already finalized")
	// ErrInvalidTransition is returned for status writes outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrResultExists is returned when a result was already saved for a run.
	ErrResultExists = errors.New("result already saved")
	// ErrRunExists is returned when creating a run whose id is taken.
	ErrRunExists = errors.New("run already exists")
)

// CheckTransition validates a status change. Terminal runs reject every
// write with ErrRunFinalized; running to running is accepted so redelivered
// messages can re-enter a run that never finished.
func CheckTransition(from, to RunStatus) error {
	if from.IsTerminal() {
		return ErrRunFinalized
	}
	switch {
	case from == StatusQueued && to == StatusRunning:
		return nil
	case from == StatusRunning && (to == StatusRunning || to.IsTerminal()):
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
}

// AllowedPredecessors lists the statuses from which to may be entered.
func AllowedPredecessors(to RunStatus) []RunStatus {
	switch to {
	case StatusRunning:
		return []RunStatus{StatusQueued, StatusRunning}
	case StatusReady, StatusFailed:
		return []RunStatus{StatusRunning}
	default:
		return nil
	}
}
