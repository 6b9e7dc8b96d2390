// Package apperr defines the error taxonomy shared by the mission engine and
// its HTTP surface.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error category.
type Code string

const (
	NotFound          Code = "not_found"
	InvalidArgument   Code = "invalid_argument"
	NotAssigned       Code = "not_assigned"
	AlreadyClaimed    Code = "already_claimed"
	Forbidden         Code = "forbidden"
	GenerationFailed  Code = "generation_failed"
	ValidationFailed  Code = "validation_failed"
	InvalidTransition Code = "invalid_transition"
	Unsupported       Code = "unsupported"
	Internal          Code = "internal"
)

// HTTPStatus maps a code to the status the API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case NotFound:
		return http.StatusNotFound
	case InvalidArgument:
		return http.StatusBadRequest
	case NotAssigned, AlreadyClaimed, InvalidTransition:
		return http.StatusConflict
	case Forbidden:
		return http.StatusForbidden
	case GenerationFailed:
		return http.StatusBadGateway
	case ValidationFailed:
		return http.StatusUnprocessableEntity
	case Unsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound          = New(NotFound, "not found")
	ErrInvalidArgument   = New(InvalidArgument, "invalid argument")
	ErrNotAssigned       = New(NotAssigned, "mission not assigned")
	ErrAlreadyClaimed    = New(AlreadyClaimed, "mission already claimed")
	ErrForbidden         = New(Forbidden, "forbidden")
	ErrGenerationFailed  = New(GenerationFailed, "mission generation failed")
	ErrValidationFailed  = New(ValidationFailed, "image validation failed")
	ErrInvalidTransition = New(InvalidTransition, "invalid status transition")
	ErrUnsupported       = New(Unsupported, "unsupported")
)

// CodeOf extracts the code of err, or Internal when err is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
