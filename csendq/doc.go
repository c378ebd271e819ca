// Package csendq serializes concurrent send requests
// into one ordered stream of transport writes.
//
// A [SendQueue] accepts [SendQueue.Enqueue] calls from any number of goroutines.
// Requests are written in the order they entered the queue,
// across every connection routed through that queue,
// and at most one write is outstanding with a transport at any time.
// Draining is driven entirely by write completions;
// no goroutine polls, and Enqueue never waits for the network.
//
// Payload bytes are never copied.
// The caller must keep a payload's backing array valid and unmodified
// from the Enqueue call until its callback runs.
// Violating that contract cannot be detected by the queue.
//
// Callers that need independent ordering per connection
// should use one SendQueue per connection.
package csendq
