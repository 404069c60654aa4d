package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// AuthorizationError indicates that the caller is known but not allowed
// to perform the operation; it is never retried.
type AuthorizationError struct {
	Err error
}

func NewAuthorizationError(err error) error {
	return &AuthorizationError{err}
}

func (err AuthorizationError) Error() string {
	if err.Err == nil {
		return "permission denied"
	}
	return err.Err.Error()
}

// NotFoundError indicates that the requested object does not exist
// or is not visible to the caller.
type NotFoundError struct {
	Err error
}

func NewNotFoundError(err error) error {
	return &NotFoundError{err}
}

func (err NotFoundError) Error() string {
	if err.Err == nil {
		return "not found"
	}
	return err.Err.Error()
}

// TransientError wraps a backing-store failure that left no partial state;
// the caller may retry the whole operation.
type TransientError struct {
	Err error
}

func NewTransientError(err error) error {
	return &TransientError{err}
}

func (err TransientError) Error() string {
	if err.Err == nil {
		return "temporary failure"
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
