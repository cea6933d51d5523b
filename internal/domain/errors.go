package domain

import (
	"errors"
	"strings"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, no infrastructure dependency.

var (
	// Validation errors
	ErrIncompleteAnswers = errors.New("every category needs an answer")

	// Phase errors
	ErrBacklogOutstanding = errors.New("pending reports must be resolved first")
	ErrNoBacklog          = errors.New("no pending reports to resolve")
	ErrResetNotConfirmed  = errors.New("reset must be confirmed")

	// Storage errors
	ErrCorruptSnapshot = errors.New("persisted snapshot is malformed")
)

// ValidationError reports which categories were left unanswered.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return ErrIncompleteAnswers.Error() + ": missing " + strings.Join(e.Missing, ", ")
}

// Unwrap lets errors.Is match ErrIncompleteAnswers.
func (e *ValidationError) Unwrap() error { return ErrIncompleteAnswers }
