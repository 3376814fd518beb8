// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for VisionSync.
//
// Every failure that crosses a package boundary is an *Error carrying a Code.
// The code drives observability (metrics, span attributes) and the HTTP error
// boundary in Classify.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies VisionSync errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidLevel indicates an unknown log level name.
	CodeInvalidLevel ErrorCode = "INVALID_LEVEL"

	// CodeSubsystemFailure indicates an enhancement subsystem operation failed.
	CodeSubsystemFailure ErrorCode = "SUBSYSTEM_FAILURE"

	// CodeTurnFailure indicates a recoverable failure inside one loop turn.
	CodeTurnFailure ErrorCode = "TURN_FAILURE"

	// CodeOrchestrationFailure indicates the agent loop could not continue.
	CodeOrchestrationFailure ErrorCode = "ORCHESTRATION_FAILURE"

	// CodeToolFailure indicates a tool execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeForbidden indicates the caller may not perform the operation.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// CodeMemoryError indicates a memory or storage system error.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeLLMError indicates a model provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeCircuitOpen indicates a circuit breaker rejected the call.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
// This lets callers match on sentinel values such as ErrInvalidLevel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
		Context:     e.Context,
		Attributes:  e.Attributes,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// Sentinels usable with errors.Is. They match any *Error of the same code.
var (
	ErrInvalidLevel         = &Error{Code: CodeInvalidLevel}
	ErrSubsystemFailure     = &Error{Code: CodeSubsystemFailure}
	ErrTurnFailure          = &Error{Code: CodeTurnFailure}
	ErrOrchestrationFailure = &Error{Code: CodeOrchestrationFailure}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrCircuitOpen          = &Error{Code: CodeCircuitOpen}
)

// InvalidLevel reports an unknown log level name.
func InvalidLevel(name string) *Error {
	return New(CodeInvalidLevel, fmt.Sprintf("invalid log level %q", name), nil).
		WithContext("level", name)
}

// SubsystemFailure tags an error raised by an enhancement subsystem.
func SubsystemFailure(subsystem, op string, cause error) *Error {
	return New(CodeSubsystemFailure, fmt.Sprintf("%s.%s failed", subsystem, op), cause).
		WithAttribute("subsystem", subsystem).
		WithAttribute("operation", op).
		WithRecoverable(true)
}

// TurnFailure wraps a failure inside one loop turn. The loop retries these.
func TurnFailure(step string, cause error) *Error {
	return New(CodeTurnFailure, step+" failed", cause).
		WithAttribute("step", step).
		WithRecoverable(true)
}

// OrchestrationFailure wraps a failure that terminates the loop.
func OrchestrationFailure(msg string, cause error) *Error {
	return New(CodeOrchestrationFailure, msg, cause)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// AsError finds the first *Error in err's chain.
// Unknown errors are wrapped as CodeInternal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRecoverable reports whether err is marked recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeForbidden:
		return 403
	case CodeInvalidInput, CodeInvalidLevel:
		return 400
	case CodeTimeout:
		return 408
	case CodeRateLimit:
		return 429
	default:
		return 500
	}
}
