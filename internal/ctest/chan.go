// Package ctest contains helpers shared across coupler tests.
package ctest

import (
	"testing"
	"time"
)

// soon is how long the *Soon helpers wait before failing the test.
// It is generous because tests run in parallel on loaded CI machines.
const soon = 2 * time.Second

// ReceiveSoon returns the next value from ch, failing the test if
// no value arrives within a short timeout.
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(soon)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", soon)
	}

	panic("unreachable")
}

// IsSending fails the test if a receive from ch would block.
// It is typically used with channels that are closed to signal readiness.
func IsSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		// Okay.
	default:
		t.Fatal("channel was not ready to receive")
	}
}

// NotSending fails the test if a receive from ch would succeed immediately.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel was unexpectedly ready to receive")
	default:
		// Okay.
	}
}
