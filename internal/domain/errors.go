// Package domain holds the error taxonomy shared by the rental core and its collaborators.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller is expected to react to it.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindTransport  Kind = "transport"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Error is the single error type that crosses the core boundary.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same operation may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport
}

var (
	ErrUnavailable = errors.New("unit is no longer available for the selected dates")
	ErrInProgress  = errors.New("operation already in progress")
	ErrClosed      = errors.New("booking flow is closed")
)

// Validation builds a validation error.
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Conflict builds an availability conflict error.
func Conflict(op string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: err.Error(), Err: err}
}

// Transport wraps a network level failure. The result is retryable.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Wrap attaches a kind to an arbitrary error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if dErr, ok := As(err); ok {
		return dErr.Kind
	}
	return KindInternal
}

// IsKind checks whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	dErr, ok := As(err)
	return ok && dErr.Retryable()
}

// UserMessage returns the text surfaced to the customer for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	dErr, ok := As(err)
	if !ok {
		return "Something went wrong. Please try again."
	}
	switch dErr.Kind {
	case KindTransport:
		return "Connection problem. Please try again."
	case KindConflict:
		return "This motorcycle is no longer available for the selected dates."
	default:
		if dErr.Message != "" {
			return dErr.Message
		}
		return dErr.Error()
	}
}
