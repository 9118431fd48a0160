package core

import "errors"

// StepStatus represents the execution status of a scenario or step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Assertion failed (element never became visible, text mismatch)
	StatusErrored                   // Unexpected error (configuration, session, transport)
	StatusSkipped                   // Not run
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status indicates success
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed
}

// StatusOf maps a scenario error to its final status.
func StatusOf(err error) StepStatus {
	if err == nil {
		return StatusPassed
	}
	if CategoryOf(err) == ErrCategoryAssertion {
		return StatusFailed
	}
	return StatusErrored
}

// SessionState is the lifecycle state of a worker's session
type SessionState int

const (
	SessionUninitialized SessionState = iota // No session has been started
	SessionStarting                          // Negotiating with the remote endpoint
	SessionActive                            // Driver handle usable
	SessionStopping                          // Closing app and quitting
	SessionTerminated                        // Released; a new session may be started
)

// String returns the string representation of SessionState
func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "uninitialized"
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionStopping:
		return "stopping"
	case SessionTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// CanStart reports whether a new session may be started from this state.
func (s SessionState) CanStart() bool {
	return s == SessionUninitialized || s == SessionTerminated
}

// CanStop reports whether a stop request has any work to do.
func (s SessionState) CanStop() bool {
	return s == SessionActive || s == SessionStopping
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryAssertion                       // Element not found, text mismatch, visibility check failed
	ErrCategoryTimeout                         // Operation timed out
	ErrCategoryConnection                      // Remote endpoint rejected or unreachable
	ErrCategoryApp                             // App could not be launched or terminated
	ErrCategoryConfig                          // Invalid configuration, missing required key
	ErrCategorySession                         // Session used in the wrong lifecycle state
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryConfig:
		return "config"
	case ErrCategorySession:
		return "session"
	default:
		return "unknown"
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
// Element lookups that timed out are assertions.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var notFound *ElementNotFoundError
	if errors.As(err, &notFound) {
		return ErrCategoryAssertion
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Category
	}
	return ErrCategoryNone
}
