package cconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DeadlineWriter is a blocking byte stream with a write deadline.
// [net.Conn], [*tls.Conn], and QUIC send streams all satisfy it.
type DeadlineWriter interface {
	Write([]byte) (int, error)
	SetWriteDeadline(time.Time) error
}

// WriterConnectionConfig is the configuration for [NewWriterConnection].
type WriterConnectionConfig struct {
	// Deadline applied to every individual write.
	// Zero means writes have no deadline.
	WriteTimeout time.Duration
}

// WriterConnection adapts a blocking [DeadlineWriter] to [Connection].
//
// A single background goroutine performs each write
// and invokes its completion callback,
// so completions are never delivered inline.
//
// Any failure other than a deadline that expired before a single byte was written
// leaves the stream in an unknown state,
// so the connection is marked broken and every later write fails with the same [*BrokenError].
type WriterConnection struct {
	log *slog.Logger

	w       DeadlineWriter
	timeout time.Duration

	// Capacity 1; sends only happen while holding mu with inFlight false.
	writes chan pendingWrite

	mu       sync.Mutex
	inFlight bool
	broken   *BrokenError

	done chan struct{}
}

type pendingWrite struct {
	p    []byte
	done CompletionFunc
}

var _ Connection = (*WriterConnection)(nil)

// NewWriterConnection returns a WriterConnection writing to w.
// The background goroutine stops when ctx is canceled;
// use [*WriterConnection.Wait] to block until it has stopped.
//
// The caller retains ownership of w, including closing it.
func NewWriterConnection(
	ctx context.Context,
	log *slog.Logger,
	w DeadlineWriter,
	cfg WriterConnectionConfig,
) *WriterConnection {
	if cfg.WriteTimeout < 0 {
		panic(fmt.Errorf(
			"WriterConnectionConfig.WriteTimeout must not be negative (got %s)",
			cfg.WriteTimeout,
		))
	}

	c := &WriterConnection{
		log: log,

		w:       w,
		timeout: cfg.WriteTimeout,

		writes: make(chan pendingWrite, 1),

		done: make(chan struct{}),
	}

	go c.run(ctx)

	return c
}

// AsyncWrite implements [Connection].
func (c *WriterConnection) AsyncWrite(p []byte, done CompletionFunc) {
	c.mu.Lock()
	if c.broken != nil {
		err := c.broken
		c.mu.Unlock()
		done(0, err)
		return
	}
	if c.inFlight {
		c.mu.Unlock()
		done(0, ErrWriteInFlight)
		return
	}

	c.inFlight = true
	c.writes <- pendingWrite{p: p, done: done}
	c.mu.Unlock()
}

// Err returns the error that broke the connection, or nil.
func (c *WriterConnection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken == nil {
		return nil
	}
	return c.broken
}

// Wait blocks until the background goroutine has stopped.
func (c *WriterConnection) Wait() {
	<-c.done
}

func (c *WriterConnection) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.stop(context.Cause(ctx))
			return

		case pw := <-c.writes:
			n, err := c.write(pw.p)

			c.mu.Lock()
			c.inFlight = false
			var be *BrokenError
			if errors.As(err, &be) && c.broken == nil {
				c.broken = be
			}
			c.mu.Unlock()

			if be != nil {
				c.log.Info(
					"Connection broken after write failure",
					"written", n,
					"size", len(pw.p),
					"err", be.Cause,
				)
			}

			pw.done(n, err)
		}
	}
}

func (c *WriterConnection) write(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.w.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, AsBroken(fmt.Errorf("failed to set write deadline: %w", err))
		}
	}

	n, err := c.w.Write(p)
	if err == nil {
		if n < len(p) {
			return n, AsBroken(io.ErrShortWrite)
		}
		return n, nil
	}

	var broken *BrokenError
	if errors.As(err, &broken) {
		// The writer already knows its stream is unusable.
		return n, broken
	}

	if n == 0 && errors.Is(err, os.ErrDeadlineExceeded) {
		// Nothing reached the stream, so it is still consistent.
		return 0, fmt.Errorf("write timed out: %w", err)
	}

	return n, AsBroken(err)
}

func (c *WriterConnection) stop(cause error) {
	c.mu.Lock()
	if c.broken == nil {
		c.broken = &BrokenError{Cause: fmt.Errorf("connection stopped: %w", cause)}
	}
	err := c.broken

	var pw pendingWrite
	var accepted bool
	select {
	case pw = <-c.writes:
		accepted = true
		c.inFlight = false
	default:
	}
	c.mu.Unlock()

	if accepted {
		pw.done(0, err)
	}
}
