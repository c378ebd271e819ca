package coupler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gordian-engine/coupler/cconn"
	"github.com/gordian-engine/coupler/csendq"
)

// Endpoint is one side of a coupling.
// It owns the registry of connections it sends over
// and the send queues that order writes to them.
type Endpoint struct {
	log *slog.Logger

	conns *cconn.Table

	queueCfg csendq.Config

	// Set when every connection shares one queue.
	shared *csendq.SendQueue

	mu sync.Mutex

	// Per-connection queues; only used when shared is nil.
	queues map[cconn.Handle]*csendq.SendQueue

	// Queues of unregistered connections that may still have a write in flight.
	// Each is removed once it drains.
	retired map[*csendq.SendQueue]struct{}

	closed bool

	done chan struct{}
}

// EndpointConfig is the configuration for an [Endpoint].
type EndpointConfig struct {
	// Configuration applied to every send queue the endpoint creates.
	Queue csendq.Config

	// If false, all connections share one send queue,
	// so writes are totally ordered across connections
	// and never overlap even on different connections.
	//
	// If true, each registered connection gets its own queue,
	// ordering writes per connection only.
	QueuePerConnection bool
}

// NewEndpoint returns a new Endpoint.
//
// Canceling ctx tears the endpoint down:
// every queue is closed, so requests that have not been written yet
// fail with [csendq.ErrClosed], and writes in flight complete normally.
// Use [*Endpoint.Wait] to block until that has happened.
//
// Illegal queue settings panic when a queue is created:
// in NewEndpoint for a shared queue, or in Register otherwise.
func NewEndpoint(ctx context.Context, log *slog.Logger, cfg EndpointConfig) *Endpoint {
	e := &Endpoint{
		log: log,

		conns: cconn.NewTable(),

		queueCfg: cfg.Queue,

		done: make(chan struct{}),
	}

	if cfg.QueuePerConnection {
		e.queues = make(map[cconn.Handle]*csendq.SendQueue)
		e.retired = make(map[*csendq.SendQueue]struct{})
	} else {
		e.shared = csendq.New(log.With("queue", "shared"), cfg.Queue)
	}

	go e.waitForShutdown(ctx)

	return e
}

// Wait blocks until the endpoint's context has been canceled
// and every queue has finished its last write.
func (e *Endpoint) Wait() {
	<-e.done
}

// Register makes conn available for sending and returns its handle.
//
// The endpoint does not take ownership of conn;
// the caller must keep it usable until it is unregistered
// and every request referencing it has completed.
func (e *Endpoint) Register(conn cconn.Connection) cconn.Handle {
	h := e.conns.Register(conn)
	if e.shared != nil {
		return h
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	q := csendq.New(e.log.With("queue", h.String()), e.queueCfg)
	if e.closed {
		// Too late to send anything,
		// but the handle is still valid until unregistered.
		q.Close()
	}
	e.queues[h] = q
	return h
}

// Unregister invalidates h and reports whether it was registered.
//
// Requests for h that have not been written yet fail:
// with the queue's [csendq.ErrClosed] when queues are per connection,
// or with [cconn.ErrStaleHandle] when they reach the head of the shared queue.
func (e *Endpoint) Unregister(h cconn.Handle) bool {
	if !e.conns.Unregister(h) {
		return false
	}

	if e.shared != nil {
		return true
	}

	e.mu.Lock()
	q := e.queues[h]
	delete(e.queues, h)
	if q != nil {
		e.retired[q] = struct{}{}
	}
	e.mu.Unlock()

	if q != nil {
		q.Close()
		go e.forgetWhenDrained(q)
	}
	return true
}

func (e *Endpoint) forgetWhenDrained(q *csendq.SendQueue) {
	<-q.Drained()

	e.mu.Lock()
	delete(e.retired, q)
	e.mu.Unlock()
}

// Len returns the number of registered connections.
func (e *Endpoint) Len() int {
	return e.conns.Len()
}

// Send schedules payload to be written to h's connection.
// See [*csendq.SendQueue.Enqueue] for the ordering and lifetime contract.
func (e *Endpoint) Send(h cconn.Handle, payload []byte, onSent csendq.SentFunc) {
	q, ok := e.queueFor(h)
	if !ok {
		fail(onSent, cconn.StaleHandleError{Handle: h})
		return
	}
	q.Enqueue(h, payload, onSent)
}

// SendContext is like [*Endpoint.Send],
// but the request fails without being written
// if ctx is done before it reaches the head of its queue.
func (e *Endpoint) SendContext(
	ctx context.Context, h cconn.Handle, payload []byte, onSent csendq.SentFunc,
) {
	q, ok := e.queueFor(h)
	if !ok {
		fail(onSent, cconn.StaleHandleError{Handle: h})
		return
	}
	q.EnqueueContext(ctx, h, payload, onSent)
}

func (e *Endpoint) queueFor(h cconn.Handle) (*csendq.SendQueue, bool) {
	if e.shared != nil {
		return e.shared, true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[h]
	return q, ok
}

func fail(onSent csendq.SentFunc, err error) {
	if onSent != nil {
		onSent(0, err)
	}
}

func (e *Endpoint) waitForShutdown(ctx context.Context) {
	defer close(e.done)

	<-ctx.Done()
	e.log.Info(
		"Endpoint stopping due to context cancellation",
		"cause", context.Cause(ctx),
	)

	var qs []*csendq.SendQueue
	if e.shared != nil {
		qs = append(qs, e.shared)
	}

	e.mu.Lock()
	e.closed = true
	for _, q := range e.queues {
		qs = append(qs, q)
	}
	for q := range e.retired {
		qs = append(qs, q)
	}
	e.mu.Unlock()

	for _, q := range qs {
		q.Close()
	}
	for _, q := range qs {
		<-q.Drained()
	}
}
