package csendq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/gordian-engine/coupler/cconn"
	"github.com/gordian-engine/coupler/internal/ctrace"
)

// SendQueue orders writes across connections.
//
// The queue is Idle when nothing is pending and no write is outstanding,
// and Draining otherwise.
// Enqueue into an Idle queue starts draining on the caller's goroutine.
// After that, draining continues on whichever goroutine
// delivers each write's completion.
// If a transport completes inline, the draining goroutine loops
// instead of nesting calls, so the stack depth stays bounded.
//
// With such a transport, the Enqueue call that found the queue Idle
// keeps draining everything other producers add meanwhile,
// so its duration depends on their rate.
// Enqueue into a Draining queue only appends and returns.
type SendQueue struct {
	log *slog.Logger

	tracer ctrace.Tracer

	maxPending int

	// mu only guards the fields below.
	// It is never held across AsyncWrite or a callback.
	mu sync.Mutex

	// Elements are *request, in submission order.
	pending *queue.Queue

	// True while Draining: one goroutine owns dispatch.
	busy bool

	closed  bool
	drained chan struct{}
}

// New returns a new, Idle SendQueue.
// New panics if cfg contains illegal settings.
func New(log *slog.Logger, cfg Config) *SendQueue {
	cfg.validate()

	tp := cfg.TracerProvider
	if tp == nil {
		tp = ctrace.NopTracerProvider()
	}

	return &SendQueue{
		log: log,

		tracer: tp.Tracer("github.com/gordian-engine/coupler/csendq"),

		maxPending: cfg.MaxPending,

		pending: queue.New(),

		drained: make(chan struct{}),
	}
}

// Enqueue schedules payload to be written to h's connection.
//
// Enqueue does not wait for the write.
// onSent is invoked exactly once, after the transport reports the write complete
// or after the request fails without being written.
// A nil onSent is allowed.
//
// The caller must not modify payload until onSent runs.
func (q *SendQueue) Enqueue(h cconn.Handle, payload []byte, onSent SentFunc) {
	q.enqueue(&request{
		h:       h,
		payload: payload,
		onSent:  onSent,
	})
}

// EnqueueContext is like [*SendQueue.Enqueue],
// but the request fails with [context.Cause] of ctx
// if ctx is done by the time the request reaches the head of the queue.
//
// Once the write has been handed to the transport,
// canceling ctx has no effect on it.
func (q *SendQueue) EnqueueContext(
	ctx context.Context, h cconn.Handle, payload []byte, onSent SentFunc,
) {
	q.enqueue(&request{
		h:       h,
		payload: payload,
		onSent:  onSent,
		ctx:     ctx,
	})
}

// Pending returns the number of requests waiting behind the in-flight write.
func (q *SendQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Length()
}

// Close stops the queue.
//
// Requests that have not yet been handed to a transport
// fail with [ErrClosed], as do any later Enqueue calls.
// A write already in flight is allowed to complete normally.
// Close does not wait; use [*SendQueue.Drained] for that.
//
// Close is safe to call multiple times.
func (q *SendQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	abandoned := make([]*request, 0, q.pending.Length())
	for q.pending.Length() > 0 {
		abandoned = append(abandoned, q.pending.Remove().(*request))
	}

	if !q.busy {
		close(q.drained)
	}
	q.mu.Unlock()

	if len(abandoned) > 0 {
		q.log.Info(
			"Failing pending send requests due to queue close",
			"n", len(abandoned),
		)
	}

	for _, r := range abandoned {
		q.deliver(r, 0, ErrClosed)
	}
}

// Drained returns a channel that is closed
// once the queue has been closed and its in-flight write, if any, has completed.
func (q *SendQueue) Drained() <-chan struct{} {
	return q.drained
}

func (q *SendQueue) enqueue(r *request) {
	if r.onSent == nil {
		r.onSent = func(int, error) {}
	}

	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		r.onSent(0, ErrClosed)
		return
	}

	if q.maxPending > 0 && q.pending.Length() >= q.maxPending {
		q.mu.Unlock()
		r.onSent(0, QueueFullError{Limit: q.maxPending})
		return
	}

	// Retained under q.mu so that no Release can run in between
	// for a request that has not been queued yet.
	r.retained = r.h.Retain()
	q.pending.Add(r)

	if q.busy {
		// The draining goroutine will get to it.
		q.mu.Unlock()
		return
	}

	q.busy = true
	q.mu.Unlock()

	q.drain()
}

// drain dispatches pending requests
// until the queue is empty or a write completes asynchronously.
// The caller must own dispatch, which means it set q.busy,
// or it is delivering the completion of the previous write.
func (q *SendQueue) drain() {
	for {
		q.mu.Lock()
		if q.pending.Length() == 0 {
			q.busy = false
			if q.closed {
				close(q.drained)
			}
			q.mu.Unlock()
			return
		}
		r := q.pending.Remove().(*request)
		q.mu.Unlock()

		if !q.dispatch(r) {
			// Its completion will continue draining.
			return
		}
	}
}

// dispatch issues one write for r.
// It reports whether r has already completed,
// in which case the caller continues draining.
func (q *SendQueue) dispatch(r *request) bool {
	conn, err := r.resolve()
	if err != nil {
		q.log.Debug(
			"Failing send request without writing",
			"handle", r.h,
			"err", err,
		)
		q.deliver(r, 0, err)
		return true
	}

	_, span := q.tracer.Start(
		context.Background(),
		"send queue write",
		ctrace.WithAttributes(
			ctrace.StringerAttr("coupler.handle", r.h),
			ctrace.PayloadSizeAttr(len(r.payload)),
		),
	)

	f := &flight{q: q, r: r, span: span}
	conn.AsyncWrite(r.payload, f.complete)

	// If the completion already ran, it left draining to us.
	// Otherwise, it will find flightIssued and drain on its own goroutine.
	return !f.state.CompareAndSwap(flightIssuing, flightIssued)
}

// finish delivers the outcome of a write the transport attempted.
func (q *SendQueue) finish(r *request, n int, err error) {
	if err != nil {
		var be *cconn.BrokenError
		if errors.As(err, &be) {
			q.log.Info(
				"Connection reported broken; later requests to it will fail without writing",
				"handle", r.h,
				"err", be.Cause,
			)
			r.h.MarkBroken(be)
		} else {
			q.log.Debug(
				"Send request failed",
				"handle", r.h,
				"err", err,
			)
		}
	}

	q.deliver(r, n, err)
}

// deliver invokes r's callback and drops its handle reference.
func (q *SendQueue) deliver(r *request, n int, err error) {
	r.onSent(n, err)

	if r.retained {
		r.h.Release()
	}
}

const (
	// AsyncWrite has not returned, and the completion has not run.
	flightIssuing int32 = iota

	// The completion ran before AsyncWrite returned.
	flightCompletedInline

	// AsyncWrite returned before the completion ran.
	flightIssued
)

// flight tracks a single outstanding write.
type flight struct {
	q    *SendQueue
	r    *request
	span ctrace.Span

	state     atomic.Int32
	completed atomic.Bool
}

func (f *flight) complete(n int, err error) {
	if !f.completed.CompareAndSwap(false, true) {
		panic(fmt.Errorf(
			"BUG: transport invoked write completion twice for handle %v", f.r.h,
		))
	}

	f.span.SetAttributes(ctrace.BytesWrittenAttr(n))
	if err != nil {
		ctrace.SpanError(f.span, err)
	}
	f.span.End()

	f.q.finish(f.r, n, err)

	if f.state.CompareAndSwap(flightIssuing, flightCompletedInline) {
		// The dispatching goroutine is still inside AsyncWrite
		// and continues draining once it returns.
		return
	}

	f.q.drain()
}
