package csendq

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/coupler/internal/ctrace"
)

// Config is the configuration for [New].
// The zero value is a valid, unbounded configuration.
type Config struct {
	// Maximum number of requests waiting behind the in-flight write.
	// Requests beyond the limit fail immediately with [QueueFullError].
	// Zero means no limit.
	MaxPending int

	// Used to trace individual writes.
	// A nil provider disables tracing.
	TracerProvider ctrace.TracerProvider
}

// validate panics if there are any illegal settings in the configuration.
func (c Config) validate() {
	var panicErrs error

	if c.MaxPending < 0 {
		panicErrs = errors.Join(
			panicErrs,
			fmt.Errorf("Config.MaxPending must not be negative (got %d)", c.MaxPending),
		)
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}
