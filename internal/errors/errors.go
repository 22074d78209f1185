// Package errors provides structured error handling with HTTP status code
// mapping and the retry hints the admission pipeline attaches to rejections.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input: bad batch shape, disallowed
	// type, honeypot trip (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeTooLarge indicates an oversized file or batch (HTTP 413)
	TypeTooLarge ErrorType = "too_large"
	// TypeRateLimited indicates the identity exhausted its window quota (HTTP 429)
	TypeRateLimited ErrorType = "rate_limited"
	// TypeCapacity indicates the dispatch pool and queue are full (HTTP 503)
	TypeCapacity ErrorType = "capacity"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeInternal indicates server-side error, including storage failures (HTTP 500)
	TypeInternal ErrorType = "internal"
	// TypeExternal indicates a permanent inference-service failure (HTTP 502)
	TypeExternal ErrorType = "external"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any

	// RetryAfter, when non-zero, is surfaced as a Retry-After header on
	// rate-limit and capacity rejections.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeTooLarge:
		return http.StatusRequestEntityTooLarge
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeCapacity:
		return http.StatusServiceUnavailable
	case TypeNotFound:
		return http.StatusNotFound
	case TypeExternal:
		return http.StatusBadGateway
	case TypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return &Error{Type: TypeValidation, Message: message, Context: make(map[string]any)}
}

// TooLargeError creates a new payload-too-large error (HTTP 413).
func TooLargeError(message string) *Error {
	return &Error{Type: TypeTooLarge, Message: message, Context: make(map[string]any)}
}

// RateLimitedError creates a new rate-limit rejection carrying the time
// until the window expires (HTTP 429).
func RateLimitedError(message string, retryAfter time.Duration) *Error {
	e := &Error{Type: TypeRateLimited, Message: message, Context: make(map[string]any), RetryAfter: retryAfter}
	e.Context["retry_after_seconds"] = int(retryAfter.Seconds())
	return e
}

// CapacityError creates a new capacity rejection (HTTP 503). Distinct from
// rate limiting: it reflects server load, not client behavior.
func CapacityError(message string, retryAfter time.Duration) *Error {
	e := &Error{Type: TypeCapacity, Message: message, Context: make(map[string]any), RetryAfter: retryAfter}
	return e
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message, Context: make(map[string]any)}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{Type: TypeInternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// ExternalError creates a new external service error (HTTP 502).
func ExternalError(message string, cause error) *Error {
	return &Error{Type: TypeExternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithField is an alias for WithContext (chainable).
func (e *Error) WithField(key string, value any) *Error {
	return e.WithContext(key, value)
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
