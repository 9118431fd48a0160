package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "test_error",
		Message:  "test message",
		Cause:    cause,
	}

	got := err.Error()
	if !strings.Contains(got, "test message") {
		t.Errorf("Error() = %q, should contain 'test message'", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain 'underlying error'", got)
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Message: "wrapper",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestExecutionError_WithCause(t *testing.T) {
	original := ErrElementNotFound
	cause := errors.New("custom cause")

	newErr := original.WithCause(cause)

	if newErr.Cause != cause {
		t.Error("WithCause() did not set cause")
	}
	if newErr.Code != original.Code {
		t.Error("WithCause() changed code")
	}
	if original.Cause != nil {
		t.Error("WithCause() modified original error")
	}
}

func TestExecutionError_WithMessage(t *testing.T) {
	original := ErrSession
	newErr := original.WithMessage("custom session message")

	if newErr.Message != "custom session message" {
		t.Errorf("Message = %q, want 'custom session message'", newErr.Message)
	}
	if newErr.Code != original.Code {
		t.Error("WithMessage() changed code")
	}
	if original.Message == "custom session message" {
		t.Error("WithMessage() modified original error")
	}
}

func TestExecutionError_WithDetails(t *testing.T) {
	original := &ExecutionError{
		Code:    "test",
		Message: "test",
		Details: map[string]interface{}{"existing": "value"},
	}

	newErr := original.WithDetails(map[string]interface{}{
		"selector": "#button",
		"timeout":  5000,
	})

	if newErr.Details["selector"] != "#button" {
		t.Error("WithDetails() did not add new details")
	}
	if newErr.Details["existing"] != "value" {
		t.Error("WithDetails() did not preserve existing details")
	}
	if _, ok := original.Details["selector"]; ok {
		t.Error("WithDetails() modified original error")
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err      *ExecutionError
		category ErrorCategory
		code     string
	}{
		{ErrConfiguration, ErrCategoryConfig, "invalid_config"},
		{ErrMissingRequired, ErrCategoryConfig, "missing_required"},
		{ErrSession, ErrCategoryConnection, "session_failed"},
		{ErrSessionActive, ErrCategorySession, "session_active"},
		{ErrSessionInactive, ErrCategorySession, "session_inactive"},
		{ErrApp, ErrCategoryApp, "app_failed"},
		{ErrElementNotFound, ErrCategoryAssertion, "element_not_found"},
		{ErrTextMismatch, ErrCategoryAssertion, "text_mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("Category = %s, want %s", tt.err.Category, tt.category)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestNewExecutionError(t *testing.T) {
	err := NewExecutionError(ErrCategoryApp, "custom_error", "custom message")

	if err.Category != ErrCategoryApp {
		t.Errorf("Category = %s, want %s", err.Category, ErrCategoryApp)
	}
	if err.Code != "custom_error" {
		t.Errorf("Code = %s, want 'custom_error'", err.Code)
	}
	if err.Message != "custom message" {
		t.Errorf("Message = %s, want 'custom message'", err.Message)
	}
}

func TestExecutionError_ErrorsIs(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrSession.WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the cause")
	}
}

func TestExecutionError_IsMatchesCopies(t *testing.T) {
	err := ErrSession.WithCause(errors.New("refused")).WithMessage("grid down")

	if !errors.Is(err, ErrSession) {
		t.Error("copy of ErrSession should match ErrSession")
	}
	if errors.Is(err, ErrConfiguration) {
		t.Error("session error should not match ErrConfiguration")
	}
}

func TestNewConfigurationError(t *testing.T) {
	cause := errors.New("parse \"::\": missing protocol scheme")
	err := NewConfigurationError("environment.local.grid.location", cause)

	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected ErrConfiguration")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if err.Details["key"] != "environment.local.grid.location" {
		t.Errorf("Details[key] = %v", err.Details["key"])
	}
	if CategoryOf(err) != ErrCategoryConfig {
		t.Errorf("CategoryOf() = %s, want config", CategoryOf(err))
	}
}

func TestNewSessionError_CarriesCapabilities(t *testing.T) {
	caps := map[string]interface{}{"deviceName": "iPhone 11"}
	err := NewSessionError(errors.New("session not created"), caps)

	if !errors.Is(err, ErrSession) {
		t.Error("expected ErrSession")
	}
	got, ok := err.Details["capabilities"].(map[string]interface{})
	if !ok || got["deviceName"] != "iPhone 11" {
		t.Errorf("Details[capabilities] = %v", err.Details["capabilities"])
	}
}

func TestElementNotFoundError(t *testing.T) {
	err := &ElementNotFoundError{
		Locator: AccessibilityID("login"),
		Timeout: time.Second,
		Elapsed: 1020 * time.Millisecond,
	}

	if !errors.Is(err, ErrElementNotFound) {
		t.Error("errors.Is(err, ErrElementNotFound) should be true")
	}
	if !strings.Contains(err.Error(), "accessibility id=login") {
		t.Errorf("Error() = %q, should name the locator", err.Error())
	}
	if StatusOf(err) != StatusFailed {
		t.Errorf("StatusOf() = %s, want failed", StatusOf(err))
	}
}

func TestElementNotFoundError_Interrupted(t *testing.T) {
	err := &ElementNotFoundError{Locator: XPath("//a"), Cause: context.Canceled}

	if !errors.Is(err, context.Canceled) {
		t.Error("interrupt cause should be reachable through errors.Is")
	}
}

func TestTeardownError(t *testing.T) {
	first := errors.New("terminate failed")
	err := &TeardownError{SessionID: "s-1", Errors: []error{first, errors.New("quit failed")}}

	if !errors.Is(err, first) {
		t.Error("errors.Is should see collected errors")
	}
	if !strings.Contains(err.Error(), "2 error(s)") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want StepStatus
	}{
		{"nil", nil, StatusPassed},
		{"not found", &ElementNotFoundError{}, StatusFailed},
		{"session", ErrSession.WithCause(errors.New("x")), StatusErrored},
		{"plain", errors.New("boom"), StatusErrored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf() = %s, want %s", got, tt.want)
			}
		})
	}
}
