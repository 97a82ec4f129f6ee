// Package errors defines the typed errors shared across the control plane.
// The HTTP layer maps each type to a status code; everything below it deals
// in these types only.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrValidation is returned when input fails validation or a lifecycle
	// precondition is not met
	ErrValidation = "validation"

	// ErrNotFound is returned when a server record does not exist
	ErrNotFound = "not_found"

	// ErrForbidden is returned when the caller does not own the record
	ErrForbidden = "forbidden"

	// ErrConflict is returned when a unique constraint is violated
	ErrConflict = "conflict"

	// ErrAuth is returned when a bearer token is absent, expired or invalid
	ErrAuth = "auth"

	// ErrRuntime is returned when the container runtime, database or
	// identity provider fails
	ErrRuntime = "runtime"

	// ErrUnavailable is returned when a required service handle is not ready
	ErrUnavailable = "unavailable"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *Error {
	return NewError(ErrValidation, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string, cause error) *Error {
	return NewError(ErrForbidden, message, cause)
}

// NewConflictError creates a new conflict error
func NewConflictError(message string, cause error) *Error {
	return NewError(ErrConflict, message, cause)
}

// NewAuthError creates a new auth error
func NewAuthError(message string, cause error) *Error {
	return NewError(ErrAuth, message, cause)
}

// NewRuntimeError creates a new runtime error
func NewRuntimeError(message string, cause error) *Error {
	return NewError(ErrRuntime, message, cause)
}

// NewUnavailableError creates a new unavailable error
func NewUnavailableError(message string, cause error) *Error {
	return NewError(ErrUnavailable, message, cause)
}

// isType reports whether err is (or wraps) an *Error of the given type.
func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return isType(err, ErrValidation)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrNotFound)
}

// IsForbidden checks if the error is a forbidden error
func IsForbidden(err error) bool {
	return isType(err, ErrForbidden)
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return isType(err, ErrConflict)
}

// IsAuth checks if the error is an auth error
func IsAuth(err error) bool {
	return isType(err, ErrAuth)
}

// IsRuntime checks if the error is a runtime error
func IsRuntime(err error) bool {
	return isType(err, ErrRuntime)
}

// IsUnavailable checks if the error is an unavailable error
func IsUnavailable(err error) bool {
	return isType(err, ErrUnavailable)
}
