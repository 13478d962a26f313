// Package errors defines the typed error taxonomy shared by the model
// lifecycle services. State-machine violations (DuplicateVersion, NotFound,
// InvalidTransition, InvalidState) indicate caller logic errors and are never
// retried; Storage marks transient infrastructure failures.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies an error class independent of its message.
type Code string

const (
	CodeDuplicateVersion  Code = "duplicate_version"
	CodeNotFound          Code = "not_found"
	CodeInvalidTransition Code = "invalid_transition"
	CodeInvalidState      Code = "invalid_state"
	CodeConflict          Code = "conflict"
	CodeStorage           Code = "storage"
)

// Error is a coded error that may wrap an underlying cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by code so sentinels compare equal to derived copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Explain returns a copy of the error with a more specific message.
func (e *Error) Explain(format string, args ...interface{}) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), cause: e.cause}
}

// Wrap returns a copy of the error carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, cause: err}
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Sentinels for the lifecycle error taxonomy.
var (
	DuplicateVersion  = New(CodeDuplicateVersion, "model version already registered")
	NotFound          = New(CodeNotFound, "resource not found")
	InvalidTransition = New(CodeInvalidTransition, "status transition not allowed")
	InvalidState      = New(CodeInvalidState, "operation not valid for current status")
	Conflict          = New(CodeConflict, "duplicate key")
	Storage           = New(CodeStorage, "storage failure")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }
