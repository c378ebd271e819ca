package cconn

import (
	"errors"
	"fmt"
)

// ErrStaleHandle is the root of [StaleHandleError],
// for use with [errors.Is].
var ErrStaleHandle = errors.New("connection handle is no longer registered")

// ErrWriteInFlight is reported by a transport
// when a write is submitted before the previous one completed.
var ErrWriteInFlight = errors.New("a write is already in flight on this connection")

// StaleHandleError is returned when a [Handle] refers to a connection
// that was unregistered, or to a slot that has since been reused.
type StaleHandleError struct {
	Handle Handle
}

func (e StaleHandleError) Error() string {
	return fmt.Sprintf("%s: %v", ErrStaleHandle.Error(), e.Handle)
}

func (e StaleHandleError) Is(target error) bool {
	return target == ErrStaleHandle
}

// BrokenError indicates the connection itself is no longer usable,
// as opposed to a single write failing.
// Transports return it so that queued writes to the same connection
// fail without being attempted.
type BrokenError struct {
	Cause error
}

func (e *BrokenError) Error() string {
	return "connection broken: " + e.Cause.Error()
}

func (e *BrokenError) Unwrap() error {
	return e.Cause
}

// AsBroken wraps err in a [*BrokenError],
// unless err already contains one.
func AsBroken(err error) *BrokenError {
	var be *BrokenError
	if errors.As(err, &be) {
		return be
	}
	return &BrokenError{Cause: err}
}
