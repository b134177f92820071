// Package services defines the business logic for appointment scheduling.
// This file centralizes the service-level error taxonomy so that outcomes
// can be consistently returned by service methods and checked by callers.
//
// The taxonomy is a single tagged union, an error kind plus a human
// message, rather than a type hierarchy: propagation and transport-layer
// mapping become one exhaustive switch instead of chained type assertions.
// Translation into HTTP status codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification of a scheduling failure.
// Every kind is caller-visible so callers can distinguish retryable
// conditions (KindSyncFailure, transient KindConstraintViolation) from
// permanent ones (KindNotFound, KindCancellationRejected).
type ErrorKind string

const (
	// KindSlotConflict: the requested interval overlaps an existing active
	// appointment. The message varies (same-contact vs. generic) but the
	// kind is uniform.
	KindSlotConflict ErrorKind = "slot_conflict"

	// KindNotFound: the referenced appointment id does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindCancellationRejected: the appointment is already terminal, or its
	// start is within the cancellation lead-time cutoff.
	KindCancellationRejected ErrorKind = "cancellation_rejected"

	// KindSyncFailure: external calendar synchronization failed during
	// creation; the store write was rolled back (or the record was left
	// orphaned when rollback itself failed, logged distinctly).
	KindSyncFailure ErrorKind = "sync_failure"

	// KindConstraintViolation: a storage-layer invariant rejected the write
	// and the breakage is not attributable to a booking race.
	KindConstraintViolation ErrorKind = "constraint_violation"

	// KindValidation: malformed input detected before reaching the store
	// (missing contact, inverted interval, unknown kind).
	KindValidation ErrorKind = "validation_error"
)

// Error is the scheduling failure returned by every SchedulerService
// operation. Message is safe to show to callers; Err carries the underlying
// cause for logs and errors.Is/As chains.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two scheduling errors by kind, so callers can use
// lightweight sentinels like &services.Error{Kind: services.KindNotFound}.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// newError builds a taxonomy error.
func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the taxonomy kind from any error in the chain. The second
// return value is false for errors that did not originate in this package.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
