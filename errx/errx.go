// Package errx provides structured, registry-based error handling.
//
// Packages declare a Registry with a short prefix, register their error codes
// once at package level, and create errors from those codes at call sites:
//
//	var (
//		UserErrors      = errx.NewRegistry("USER")
//		ErrUserNotFound = UserErrors.Register("NOT_FOUND", errx.TypeNotFound, 404, "User not found")
//	)
//
//	return UserErrors.New(ErrUserNotFound).WithDetail("user_id", id)
//
// Errors carry a stable code, a broad type, an HTTP status, an optional cause
// and free-form details, and work with errors.As / errors.Is chains.
package errx

import (
	"errors"
	"fmt"
)

// Error types classify errors into broad categories independent of their code.
const (
	TypeValidation  = "VALIDATION"
	TypeBadRequest  = "BAD_REQUEST"
	TypeNotFound    = "NOT_FOUND"
	TypeConflict    = "CONFLICT"
	TypeRateLimit   = "RATE_LIMIT"
	TypeInternal    = "INTERNAL"
	TypeSystem      = "SYSTEM"
	TypeUnavailable = "UNAVAILABLE"
)

// Code identifies a registered error condition.
type Code struct {
	// Key is the full code including the registry prefix, e.g. "USER.NOT_FOUND".
	Key string

	// Type is one of the Type* constants.
	Type string

	// HTTPStatus is the suggested HTTP status for API surfaces.
	HTTPStatus int

	// Message is the default human-readable message.
	Message string
}

// Registry is a namespace for related error codes.
type Registry struct {
	prefix string
	codes  map[string]Code
}

// NewRegistry creates a registry with the given code prefix.
func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix: prefix,
		codes:  make(map[string]Code),
	}
}

// Register adds a code to the registry and returns it for package-level storage.
func (r *Registry) Register(key, errType string, httpStatus int, message string) Code {
	code := Code{
		Key:        r.prefix + "." + key,
		Type:       errType,
		HTTPStatus: httpStatus,
		Message:    message,
	}
	r.codes[code.Key] = code
	return code
}

// Error is a structured error created from a registered Code.
type Error struct {
	Code       string
	Type       string
	Message    string
	HTTPStatus int
	Details    map[string]any

	cause error
}

// New creates an error from a registered code.
func (r *Registry) New(c Code) *Error {
	return &Error{
		Code:       c.Key,
		Type:       c.Type,
		Message:    c.Message,
		HTTPStatus: c.HTTPStatus,
	}
}

// NewWithCause creates an error from a registered code wrapping an underlying cause.
func (r *Registry) NewWithCause(c Code, cause error) *Error {
	err := r.New(c)
	err.cause = cause
	return err
}

// NewWithMessage creates an error from a registered code with extra message context.
func (r *Registry) NewWithMessage(c Code, message string) *Error {
	err := r.New(c)
	err.Message = c.Message + ": " + message
	return err
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause returns the underlying cause, if any.
func (e *Error) Cause() error {
	return e.cause
}

// WithDetail attaches a single key/value detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithDetails attaches a set of details and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// IsCode reports whether err (or any error it wraps) was created from the given code.
func IsCode(err error, c Code) bool {
	var xerr *Error
	if errors.As(err, &xerr) {
		return xerr.Code == c.Key
	}
	return false
}

// IsType reports whether err (or any error it wraps) carries the given error type.
func IsType(err error, errType string) bool {
	var xerr *Error
	if errors.As(err, &xerr) {
		return xerr.Type == errType
	}
	return false
}

// Wrap wraps an arbitrary error with a message and type, preserving it as the cause.
func Wrap(err error, message, errType string) *Error {
	return &Error{
		Code:    errType,
		Type:    errType,
		Message: message,
		cause:   err,
	}
}
