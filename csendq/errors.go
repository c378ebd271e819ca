package csendq

import (
	"errors"
	"fmt"
)

// ErrClosed is reported to requests that were rejected or abandoned
// because their queue was closed.
var ErrClosed = errors.New("send queue closed")

// QueueFullError is reported to a request that arrived
// while [Config.MaxPending] requests were already waiting.
type QueueFullError struct {
	Limit int
}

func (e QueueFullError) Error() string {
	return fmt.Sprintf("send queue full (%d pending)", e.Limit)
}
