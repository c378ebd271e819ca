package csendq

import (
	"context"

	"github.com/gordian-engine/coupler/cconn"
)

// SentFunc is the completion callback for one request.
//
// It is invoked exactly once, with the number of bytes
// the transport accepted and the error, if any.
// It may run on the Enqueue caller's goroutine
// or on a goroutine owned by the transport.
type SentFunc func(n int, err error)

// request is the unit of queued work.
type request struct {
	h cconn.Handle

	// Whether h was registered when the request was queued,
	// and therefore holds a reference that must be released.
	retained bool

	// Caller-owned; never copied, never written.
	payload []byte

	onSent SentFunc

	// Nil unless enqueued through EnqueueContext.
	ctx context.Context
}

// resolve returns the connection to write r to,
// or the error r must fail with instead of being written.
func (r *request) resolve() (cconn.Connection, error) {
	if r.ctx != nil {
		if err := context.Cause(r.ctx); err != nil {
			return nil, err
		}
	}

	return r.h.Connection()
}
