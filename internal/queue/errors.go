package queue

import (
	"errors"
	"fmt"
)

// ErrorKind classifies queue failures so the HTTP layer can map them
// without inspecting messages.
type ErrorKind string

const (
	KindInvalidRequest ErrorKind = "invalid_request"
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindTransient      ErrorKind = "transient"
)

// NotFound discriminators used by readiness endpoints.
const (
	ReasonBakeryMissing    = "bakery does not exist"
	ReasonTicketMissing    = "ticket does not exist"
	ReasonTicketInWaitList = "ticket in wait list"
	ReasonTicketServed     = "ticket served"
	ReasonEmptyQueue       = "empty queue"
)

type Error struct {
	Kind   ErrorKind
	Reason string
	err    error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.err }

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), err: fmt.Errorf(format, args...)}
}

// NotFoundError carries one of the Reason* discriminators.
func NotFoundError(reason string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, err: errors.New(reason)}
}

// Transient wraps a cache or journal hiccup that survived its bounded
// retries.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Reason: err.Error(), err: err}
}

// KindOf extracts the kind from any error chain; plain errors count as
// transient.
func KindOf(err error) ErrorKind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindTransient
}

// ReasonOf returns the discriminator for NotFound errors, empty otherwise.
func ReasonOf(err error) string {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Reason
	}
	return ""
}
