package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the expected, recoverable failure modes. Callers match
// these with errors.Is and inspect details with errors.As where a typed error
// carries them.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrClaimNotFound covers both "no active claim" and "claim held by a
	// different worker". The two cases are deliberately indistinguishable so
	// a non-owner learns nothing about ownership from a failed renew/release.
	ErrClaimNotFound = errors.New("claim not found")

	ErrAlreadyClaimed     = errors.New("task already claimed")
	ErrCircularDependency = errors.New("circular dependency")
	ErrValidation         = errors.New("validation failed")
)

// ValidationError reports malformed input, such as a self-blocking edge.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// CircularDependencyError reports an edge whose insertion would close a cycle.
type CircularDependencyError struct {
	BlockerID string
	BlockedID string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s already blocks %s", e.BlockedID, e.BlockerID)
}

func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }

// AlreadyClaimedError reports a lost claim race and names the winning worker.
type AlreadyClaimedError struct {
	TaskID    string
	ClaimedBy string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("task %s already claimed by worker %s", e.TaskID, e.ClaimedBy)
}

func (e *AlreadyClaimedError) Unwrap() error { return ErrAlreadyClaimed }
