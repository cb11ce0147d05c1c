// Package ingesterr classifies ingestion failures so the queue can decide whether a
// failed attempt is worth repeating.
package ingesterr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	// KindTransient covers network and provider failures. Retried with backoff.
	KindTransient Kind = "transient"
	// KindContent covers unsupported or corrupt input and empty results.
	KindContent Kind = "content"
	// KindNotFound covers a missing DataSource, Job or stored object.
	KindNotFound Kind = "not_found"
	// KindConflict is raised when another job already owns the DataSource.
	KindConflict Kind = "conflict"
	// KindCancelled is raised when the job was cancelled while running.
	KindCancelled Kind = "cancelled"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func Content(err error) error   { return wrap(KindContent, err) }
func NotFound(err error) error  { return wrap(KindNotFound, err) }
func Conflict(err error) error  { return wrap(KindConflict, err) }
func Cancelled(err error) error { return wrap(KindCancelled, err) }

func Contentf(format string, args ...any) error  { return Content(fmt.Errorf(format, args...)) }
func NotFoundf(format string, args ...any) error { return NotFound(fmt.Errorf(format, args...)) }
func Conflictf(format string, args ...any) error { return Conflict(fmt.Errorf(format, args...)) }

// KindOf returns the outermost classification in err's chain, defaulting to
// transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindTransient
}

// IsPermanent reports whether repeating the attempt cannot change the outcome.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindTransient
}
