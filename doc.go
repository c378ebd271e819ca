// Package coupler contains the send path shared by coupled simulation processes.
//
// Solver-side code pushes field data to peers through an [Endpoint].
// Any number of goroutines may send at once;
// the endpoint's send queues guarantee that bytes reach each connection
// in the order they were submitted, and that a connection
// never has two writes in flight that could interleave on the wire.
//
// The transports themselves live in subpackages:
// [cconn.WriterConnection] adapts any stream with a write deadline,
// such as a TCP or TLS net.Conn;
// package cquic opens QUIC streams
// and package cws wraps websocket connections.
package coupler
