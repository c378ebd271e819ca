package ctest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a logger that writes through t.Log,
// so that output is only shown for failed or verbose tests.
func NewLogger(t *testing.T) *slog.Logger {
	return slogt.New(t)
}
