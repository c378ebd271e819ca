// Package cconntest contains fake [cconn.Connection] implementations
// that record every write for inspection in tests.
package cconntest

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordian-engine/coupler/cconn"
	"github.com/gordian-engine/coupler/internal/cpubsub"
)

// Mode controls when a fake [Connection] completes its writes.
type Mode int

const (
	// Instant completes the write before AsyncWrite returns.
	Instant Mode = iota

	// Async completes the write on a new goroutine.
	Async

	// Manual leaves the write outstanding
	// until the test calls [Write.Complete] or [Write.Succeed].
	Manual
)

// Write is one observed AsyncWrite call.
type Write struct {
	Conn *Connection

	// Position of this write among every write seen by the Recorder.
	Index int

	// Copy of the payload taken when the write was submitted,
	// which is the only time a real transport may read it.
	Payload []byte

	done      cconn.CompletionFunc
	completed *atomic.Bool
	rec       *Recorder
}

// Succeed completes w as a full write.
func (w Write) Succeed() {
	w.Complete(len(w.Payload), nil)
}

// Complete invokes w's completion callback with n and err.
// Completing a write twice panics.
func (w Write) Complete(n int, err error) {
	if !w.completed.CompareAndSwap(false, true) {
		panic(fmt.Errorf("BUG: write %d completed twice", w.Index))
	}
	w.rec.end()
	w.done(n, err)
}

// Recorder observes writes across any number of fake connections.
// Sharing one Recorder between connections
// makes cross-connection ordering and overlap observable.
type Recorder struct {
	mu sync.Mutex

	writes      []Write
	inFlight    int
	maxInFlight int
	completed   int

	head, tail *cpubsub.Stream[Write]
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	s := cpubsub.NewStream[Write]()
	return &Recorder{head: s, tail: s}
}

// Writes returns the stream of every write published by r, from the first one.
func (r *Recorder) Writes() *cpubsub.Stream[Write] {
	return r.head
}

// Payloads returns the payloads of all observed writes, in submission order.
func (r *Recorder) Payloads() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]byte, len(r.writes))
	for i, w := range r.writes {
		out[i] = w.Payload
	}
	return out
}

// Markers returns the payloads of all observed writes as strings.
func (r *Recorder) Markers() []string {
	ps := r.Payloads()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

// Count returns the number of writes submitted so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

// Completed returns the number of writes completed so far.
func (r *Recorder) Completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// MaxInFlight returns the highest number of simultaneously outstanding writes.
func (r *Recorder) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

func (r *Recorder) begin(c *Connection, p []byte, done cconn.CompletionFunc) Write {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := Write{
		Conn:    c,
		Index:   len(r.writes),
		Payload: append([]byte(nil), p...),

		done:      done,
		completed: new(atomic.Bool),
		rec:       r,
	}
	r.writes = append(r.writes, w)

	r.inFlight++
	r.maxInFlight = max(r.maxInFlight, r.inFlight)

	r.tail.Publish(w)
	r.tail = r.tail.Next

	return w
}

func (r *Recorder) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--
	r.completed++
}

// Connection is a fake [cconn.Connection].
type Connection struct {
	Name string
	Mode Mode

	Rec *Recorder

	// If set, FailFunc is consulted for every write completed
	// in Instant or Async mode; a non-nil result fails the write
	// with zero bytes written.
	FailFunc func(Write) error
}

var _ cconn.Connection = (*Connection)(nil)

// NewConnection returns a fake connection recording into rec.
func NewConnection(rec *Recorder, name string, mode Mode) *Connection {
	return &Connection{
		Name: name,
		Mode: mode,
		Rec:  rec,
	}
}

// AsyncWrite implements [cconn.Connection].
func (c *Connection) AsyncWrite(p []byte, done cconn.CompletionFunc) {
	w := c.Rec.begin(c, p, done)

	switch c.Mode {
	case Instant:
		c.finish(w)
	case Async:
		go c.finish(w)
	case Manual:
		// The test completes the write.
	default:
		panic(fmt.Errorf("BUG: unknown mode %d", c.Mode))
	}
}

func (c *Connection) finish(w Write) {
	if c.FailFunc != nil {
		if err := c.FailFunc(w); err != nil {
			w.Complete(0, err)
			return
		}
	}
	w.Succeed()
}

// FailIndexes returns a FailFunc that fails writes at the given recorder indexes with err.
func FailIndexes(err error, idxs ...int) func(Write) error {
	return func(w Write) error {
		for _, i := range idxs {
			if w.Index == i {
				return err
			}
		}
		return nil
	}
}
