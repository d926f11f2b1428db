// Package apperr classifies failures raised while handling connection events.
// Each Kind maps to one client-visible code; causes stay server-side.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	Authentication Kind = "unauthenticated"
	Authorization  Kind = "unauthorized"
	Validation     Kind = "invalid"
	Conflict       Kind = "conflict"
	NotFound       Kind = "not_found"
	Upstream       Kind = "failed"
)

// Error carries a client-safe Message and an optional internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Message: msg, Err: err} }

func Unauthenticated(msg string, err error) *Error { return Wrap(Authentication, msg, err) }
func Forbidden(msg string) *Error                 { return New(Authorization, msg) }
func Invalid(msg string) *Error                   { return New(Validation, msg) }
func Conflicted(msg string) *Error                { return New(Conflict, msg) }
func Missing(msg string) *Error                   { return New(NotFound, msg) }

// Failed wraps a store or collaborator error. msg is what the client sees.
func Failed(msg string, err error) *Error { return Wrap(Upstream, msg, err) }

// KindOf classifies err. Errors that are not *Error (including context
// deadlines) are Upstream.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Upstream
}

// PublicMessage returns the text safe to send to a client. Unclassified
// errors and Upstream errors without a message fall back to fallback.
func PublicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// TimedOut reports whether err came from an expired handler deadline.
func TimedOut(err error) bool { return errors.Is(err, context.DeadlineExceeded) }
