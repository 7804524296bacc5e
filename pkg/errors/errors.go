// Package errors provides standardized error types for use across VoiceKit modules.
//
// ContextualError is the base error type that captures component, operation, and
// optional status code, category and details. It implements the error and Unwrap
// interfaces for seamless integration with Go's errors package.
//
// Usage:
//
//	err := errors.New("realtime", "FetchToken", someErr)
//	err = err.WithStatusCode(401).WithCategory(errors.CategoryNegotiation)
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category classifies an error by how the conversation engine reacts to it.
type Category string

const (
	// CategoryUnknown is used when no category was attached.
	CategoryUnknown Category = ""
	// CategoryPermission covers microphone denied, not found or in use elsewhere.
	CategoryPermission Category = "permission"
	// CategoryNegotiation covers token fetch, offer/answer and connect timeouts.
	CategoryNegotiation Category = "negotiation"
	// CategoryTransport covers a connection or channel lost mid-session.
	CategoryTransport Category = "transport"
	// CategoryProtocol covers malformed inbound events.
	CategoryProtocol Category = "protocol"
	// CategoryNoResponse covers a segment that got no reply within the response timeout.
	CategoryNoResponse Category = "no_response"
)

// Sentinel device errors reported by capture backends.
var (
	ErrMicrophoneDenied   = stderrors.New("microphone access denied")
	ErrMicrophoneNotFound = stderrors.New("no microphone found")
	ErrMicrophoneBusy     = stderrors.New("microphone in use by another application")
)

// ContextualError is a structured error type that provides consistent context
// about where and why an error occurred across VoiceKit modules.
type ContextualError struct {
	// Component identifies the module that produced the error (e.g. "realtime", "streaming").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// StatusCode is an optional HTTP or application-level status code.
	StatusCode int

	// Category drives recovery: fallback, session end, or a surfaced warning.
	Category Category

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)

	if e.StatusCode != 0 {
		base += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithStatusCode sets the status code and returns the error.
func (e *ContextualError) WithStatusCode(code int) *ContextualError {
	e.StatusCode = code
	return e
}

// WithDetails sets the details map and returns the error.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}

// WithCategory sets the category and returns the error.
func (e *ContextualError) WithCategory(category Category) *ContextualError {
	e.Category = category
	return e
}

// CategoryOf returns the category of the first ContextualError in err's chain
// that carries one. Bare device sentinels map to CategoryPermission.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var ce *ContextualError
	for e := err; stderrors.As(e, &ce); e = ce.Cause {
		if ce.Category != CategoryUnknown {
			return ce.Category
		}
		if ce.Cause == nil {
			break
		}
	}
	if isDeviceError(err) {
		return CategoryPermission
	}
	return CategoryUnknown
}

// IsRecoverable reports whether an error of this category leaves the session usable.
func IsRecoverable(c Category) bool {
	switch c {
	case CategoryPermission, CategoryNegotiation, CategoryProtocol, CategoryNoResponse:
		return true
	default:
		return false
	}
}

func isDeviceError(err error) bool {
	return stderrors.Is(err, ErrMicrophoneDenied) ||
		stderrors.Is(err, ErrMicrophoneNotFound) ||
		stderrors.Is(err, ErrMicrophoneBusy)
}
