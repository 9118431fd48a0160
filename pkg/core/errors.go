package core

import (
	"fmt"
	"time"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, session_failed, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches any ExecutionError carrying the same code, so copies made by
// WithCause/WithMessage/WithDetails still match the predefined errors.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	return ok && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Config errors: never retried, surface at session start
	ErrConfiguration = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required configuration key",
	}

	// Session errors
	ErrSession = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "session_failed",
		Message:  "could not open automation session",
	}
	ErrSessionActive = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_active",
		Message:  "a session is already running for this worker",
	}
	ErrSessionInactive = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_inactive",
		Message:  "session is not active",
	}

	// App errors
	ErrApp = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "app_failed",
		Message:  "app command failed",
	}

	// Assertion errors
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrTextMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "text_mismatch",
		Message:  "element text did not match",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// NewConfigurationError reports a malformed or missing configuration value.
func NewConfigurationError(key string, cause error) *ExecutionError {
	return ErrConfiguration.
		WithMessage(fmt.Sprintf("invalid configuration %q", key)).
		WithDetails(map[string]interface{}{"key": key}).
		WithCause(cause)
}

// NewSessionError reports a rejected or failed session open. capabilities is
// attached to Details for diagnosis.
func NewSessionError(cause error, capabilities interface{}) *ExecutionError {
	return ErrSession.
		WithDetails(map[string]interface{}{"capabilities": capabilities}).
		WithCause(cause)
}

// ElementNotFoundError is returned when a polling wait ends without a visible match.
type ElementNotFoundError struct {
	Locator Locator
	Timeout time.Duration
	Elapsed time.Duration
	Cause   error // last lookup error, or the context error when interrupted
}

func (e *ElementNotFoundError) Error() string {
	msg := fmt.Sprintf("element not found: %s (waited %s of %s)",
		e.Locator, e.Elapsed.Round(time.Millisecond), e.Timeout)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ElementNotFoundError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrElementNotFound) true.
func (e *ElementNotFoundError) Is(target error) bool {
	return target == ErrElementNotFound
}

// TeardownError collects failures while closing a session. It is informational:
// teardown failures are logged and never replace a scenario's own result.
type TeardownError struct {
	SessionID string
	Errors    []error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown of session %s: %d error(s), first: %v", e.SessionID, len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is/As.
func (e *TeardownError) Unwrap() []error { return e.Errors }
