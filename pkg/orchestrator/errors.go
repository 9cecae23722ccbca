package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a service or node vanished
	ErrNotFound = errors.New("not found")

	// ErrTransient marks network failures, timeouts and server errors.
	// Reads are retried and the event stream is re-established.
	ErrTransient = errors.New("orchestrator unavailable")

	// ErrFatal marks authentication, authorization and API incompatibility
	// failures. The process exits.
	ErrFatal = errors.New("orchestrator fatal error")

	// ErrStreamClosed is returned by Subscription.Next after the stream ended
	ErrStreamClosed = fmt.Errorf("event stream closed: %w", ErrTransient)
)

// NotFound wraps err as ErrNotFound
func NotFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}

// Transient wraps err as ErrTransient
func Transient(err error) error {
	return &classifiedError{class: ErrTransient, err: err}
}

// Fatal wraps err as ErrFatal
func Fatal(err error) error {
	return &classifiedError{class: ErrFatal, err: err}
}

// IsNotFound reports whether err is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal reports whether err is ErrFatal
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// IsTransient reports whether err should be retried. Deadline expiry counts
// as transient; cancellation does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

type classifiedError struct {
	class error
	err   error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%v: %v", e.class, e.err)
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.class, e.err}
}
