// Package chaterr defines the failure taxonomy shared by the conversation
// client, controller, and mutation operations.
package chaterr

import (
	"errors"
	"fmt"
)

// Code classifies a failure.
type Code string

const (
	// NetworkFailure means the request could not complete or returned non-2xx.
	NetworkFailure Code = "NETWORK_FAILURE"
	// ValidationFailure means input was rejected before any request was sent.
	ValidationFailure Code = "VALIDATION_FAILURE"
	// NotFound means the store has no record for the requested identity.
	NotFound Code = "NOT_FOUND"
)

// Error is a coded failure with an optional cause.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chatsync: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chatsync: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code, so callers can test against
// the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Code == e.Code && t.Reason == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrNetwork    = &Error{Code: NetworkFailure}
	ErrValidation = &Error{Code: ValidationFailure}
	ErrNotFound   = &Error{Code: NotFound}
)

// New returns a coded error.
func New(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// Network wraps err as a NetworkFailure.
func Network(reason string, err error) *Error {
	return New(NetworkFailure, reason, err)
}

// Validation returns a ValidationFailure with no cause.
func Validation(reason string) *Error {
	return New(ValidationFailure, reason, nil)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
