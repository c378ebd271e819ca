package cquic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/coupler/cconn"
)

// SendConnectionConfig is the configuration for [OpenSendConnection].
type SendConnectionConfig struct {
	// How long to wait for the peer to allow a new stream.
	// Zero means wait until ctx is canceled.
	OpenStreamTimeout time.Duration

	// Deadline for writing Header.
	WriteHeaderTimeout time.Duration

	// Deadline for each queued write.
	WriteTimeout time.Duration

	// If not empty, written to the stream before any queued payload,
	// so that the peer can identify the stream.
	Header []byte
}

// SendConnection is a [cconn.Connection] backed by a QUIC send stream.
type SendConnection struct {
	wc *cconn.WriterConnection
	s  SendStream
}

var _ cconn.Connection = (*SendConnection)(nil)

// OpenSendConnection opens a unidirectional stream on conn,
// writes the configured header, and returns a connection that writes to the stream.
//
// The connection's writer goroutine stops when ctx is canceled.
func OpenSendConnection(
	ctx context.Context,
	log *slog.Logger,
	conn Conn,
	cfg SendConnectionConfig,
) (*SendConnection, error) {
	openCtx := ctx
	if cfg.OpenStreamTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, cfg.OpenStreamTimeout)
		defer cancel()
	}

	s, err := conn.OpenUniStreamSync(openCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to open outgoing stream: %w", err)
	}

	if len(cfg.Header) > 0 {
		if cfg.WriteHeaderTimeout > 0 {
			if err := s.SetWriteDeadline(time.Now().Add(cfg.WriteHeaderTimeout)); err != nil {
				return nil, fmt.Errorf("failed to set write deadline: %w", err)
			}
		}

		if _, err := s.Write(cfg.Header); err != nil {
			return nil, fmt.Errorf("failed to write stream header: %w", err)
		}
	}

	wc := cconn.NewWriterConnection(
		ctx,
		log.With("remote", conn.RemoteAddr().String()),
		s,
		cconn.WriterConnectionConfig{WriteTimeout: cfg.WriteTimeout},
	)

	return &SendConnection{wc: wc, s: s}, nil
}

// AsyncWrite implements [cconn.Connection].
func (c *SendConnection) AsyncWrite(p []byte, done cconn.CompletionFunc) {
	c.wc.AsyncWrite(p, done)
}

// Err returns the error that broke the connection, or nil.
func (c *SendConnection) Err() error {
	return c.wc.Err()
}

// Close closes the send stream, signaling end of data to the peer.
// Writes already handed to the stream are still delivered.
// The caller should only close after every request on this connection completed.
func (c *SendConnection) Close() error {
	return c.s.Close()
}

// Wait blocks until the writer goroutine has stopped.
func (c *SendConnection) Wait() {
	c.wc.Wait()
}
