// Package taskerr classifies failures of task operations so presentation
// layers can choose how to surface them.
package taskerr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an operation.
type Kind string

const (
	// Unauthorized means the credential is missing or was rejected.
	Unauthorized Kind = "unauthorized"
	// Invalid means the request payload was malformed.
	Invalid Kind = "invalid"
	// NotFound means the task id is stale.
	NotFound Kind = "not_found"
	// Busy means another mutation on the same task is in flight.
	Busy Kind = "busy"
	// Unavailable means the remote could not be reached or failed.
	Unavailable Kind = "unavailable"
)

// Error is a described failure. Op names the operation, ID the task when one is involved.
type Error struct {
	Kind   Kind
	Op     string
	ID     int64
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ID != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.ID)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a described failure.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap creates a described failure around an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithID returns a copy of e bound to a task id.
func (e *Error) WithID(id int64) *Error {
	c := *e
	c.ID = id
	return &c
}

// KindOf returns the kind of err, or "" when err is not a described failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is a described failure of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsUnauthorized reports whether err means the session must end.
func IsUnauthorized(err error) bool {
	return Is(err, Unauthorized)
}

// IsNotFound reports whether err refers to a task the remote no longer has.
func IsNotFound(err error) bool {
	return Is(err, NotFound)
}

// IsBusy reports whether err was caused by a concurrent mutation on the same task.
func IsBusy(err error) bool {
	return Is(err, Busy)
}

// IsInvalid reports whether err was caused by a malformed request.
func IsInvalid(err error) bool {
	return Is(err, Invalid)
}

// IsUnavailable reports whether err was a transport or remote failure.
func IsUnavailable(err error) bool {
	return Is(err, Unavailable)
}

// DetailOf returns the human-readable detail of a described failure, falling
// back to the error text.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
