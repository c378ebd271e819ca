// Package cconn defines the transport contract the send queue writes through,
// and the handles that keep a connection reachable while writes are pending.
//
// A [Connection] is owned by the caller.
// Registering it in a [Table] yields a [Handle],
// which is what requests carry instead of the connection itself.
// Once a handle is unregistered, every request still holding it
// fails instead of writing to a connection the owner considers gone.
package cconn

// CompletionFunc is invoked exactly once per [Connection.AsyncWrite] call,
// with the number of bytes the transport accepted and any error.
type CompletionFunc func(n int, err error)

// Connection is a duplex byte stream that accepts one non-blocking write at a time.
type Connection interface {
	// AsyncWrite submits p to the transport and returns without waiting for I/O.
	//
	// The done callback is invoked exactly once.
	// It may run before AsyncWrite returns,
	// or later on a goroutine owned by the transport.
	//
	// The transport must not retain p after invoking done.
	AsyncWrite(p []byte, done CompletionFunc)
}
