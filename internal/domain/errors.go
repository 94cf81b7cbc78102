// Package domain provides shared domain-level sentinel errors and the
// failure taxonomy interpreted by the orchestrator's retry policy.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// Failure taxonomy for phase execution. Every failure surfaced to the
// orchestrator wraps exactly one of these sentinels.
var (
	// ErrTransientIO covers subprocess spawn and I/O failures.
	ErrTransientIO = errors.New("transient i/o failure")

	// ErrTimeout indicates the invocation budget was exceeded.
	ErrTimeout = errors.New("budget exceeded")

	// ErrMalformedOutput indicates an agent event that could not be decoded.
	ErrMalformedOutput = errors.New("malformed agent output")

	// ErrAgentFailure indicates the agent explicitly reported it cannot
	// complete the task.
	ErrAgentFailure = errors.New("agent reported failure")

	// ErrValidationFailed indicates a blocking gate found a critical issue
	// that auto-fix could not resolve.
	ErrValidationFailed = errors.New("validation failed")

	// ErrMergeConflict indicates the workspace branch cannot be merged
	// without external resolution.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrIterationCeiling indicates the global iteration ceiling was reached
	// before the sprint completed. The sprint phase is left unchanged.
	ErrIterationCeiling = errors.New("iteration ceiling exceeded")

	// ErrWorkspaceExists indicates a workspace is already held for the sprint.
	ErrWorkspaceExists = errors.New("workspace already exists")
)

// Retryable reports whether the orchestrator may re-enter the failing phase.
// ErrValidationFailed is retryable only when the failing phase itself is
// retriable; the phase table applies that distinction and the ceiling.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrTransientIO),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrMalformedOutput),
		errors.Is(err, ErrValidationFailed):
		return true
	default:
		return false
	}
}
