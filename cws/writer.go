// Package cws carries coupler traffic over websocket connections.
//
// Each queued payload becomes exactly one websocket message,
// so message boundaries on the peer match the producer's requests.
package cws

import (
	"fmt"
	"time"

	"github.com/gordian-engine/coupler/cconn"
	"github.com/gorilla/websocket"
)

// MessageWriter adapts a [*websocket.Conn] to [cconn.DeadlineWriter].
// Wrap it with [cconn.NewWriterConnection] to get a [cconn.Connection].
//
// The websocket connection supports one concurrent writer;
// the MessageWriter must be the only writer on conn.
type MessageWriter struct {
	conn *websocket.Conn
	typ  int
}

// NewMessageWriter returns a MessageWriter that writes messages of type typ,
// which must be [websocket.BinaryMessage] or [websocket.TextMessage].
func NewMessageWriter(conn *websocket.Conn, typ int) *MessageWriter {
	if typ != websocket.BinaryMessage && typ != websocket.TextMessage {
		panic(fmt.Errorf("BUG: message type must be binary or text (got %d)", typ))
	}
	return &MessageWriter{conn: conn, typ: typ}
}

// Write sends p as a single message.
// The returned count is len(p) or zero.
//
// The websocket connection keeps a failed write's error for every later write,
// including write timeouts, so any error is reported as a [*cconn.BrokenError].
func (w *MessageWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(w.typ, p); err != nil {
		return 0, cconn.AsBroken(err)
	}
	return len(p), nil
}

func (w *MessageWriter) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}
