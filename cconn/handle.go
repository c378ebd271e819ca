package cconn

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Table is an arena of registered connections.
//
// Every slot has a generation counter,
// so a [Handle] to a slot that was unregistered and reused
// can never resolve to the newer connection.
// A slot is only reused once every retained reference has been released,
// which is how queued requests keep their connection reachable.
type Table struct {
	mu sync.Mutex

	slots []slot

	// Slots holding a registered connection.
	live bitset.BitSet

	// Slots that may not be handed out by Register:
	// live, or unregistered but still referenced.
	occupied bitset.BitSet

	// Live slots whose transport reported the connection unusable.
	broken bitset.BitSet
}

type slot struct {
	conn Connection
	gen  uint32
	refs int

	// Set when the slot is in the broken set.
	cause *BrokenError
}

// Handle is a generation-checked reference to a connection in a [Table].
//
// Handles are comparable and may be used as map keys.
// The zero Handle is never valid.
type Handle struct {
	t    *Table
	slot uint32
	gen  uint32
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return new(Table)
}

// Register stores conn and returns a handle to it.
func (t *Table) Register(conn Connection) Handle {
	if conn == nil {
		panic(fmt.Errorf("BUG: Register called with nil connection"))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.occupied.NextClear(0)
	if !ok || idx >= uint(len(t.slots)) {
		idx = uint(len(t.slots))
		t.slots = append(t.slots, slot{})
	}

	s := &t.slots[idx]
	s.conn = conn
	s.gen++
	s.cause = nil

	t.live.Set(idx)
	t.occupied.Set(idx)
	t.broken.Clear(idx)

	return Handle{t: t, slot: uint32(idx), gen: s.gen}
}

// Unregister invalidates h.
// It reports whether h was registered before the call.
//
// The connection stays referenced until every retained reference
// to h is released, but [Handle.Connection] fails from this point on.
func (t *Table) Unregister(h Handle) bool {
	if h.t != t {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isLiveLocked(h) {
		return false
	}

	idx := uint(h.slot)
	t.live.Clear(idx)
	t.broken.Clear(idx)
	t.slots[idx].cause = nil

	if t.slots[idx].refs == 0 {
		t.freeLocked(idx)
	}
	return true
}

// Len returns the number of registered connections.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.live.Count())
}

func (t *Table) isLiveLocked(h Handle) bool {
	return int(h.slot) < len(t.slots) &&
		t.slots[h.slot].gen == h.gen &&
		t.live.Test(uint(h.slot))
}

func (t *Table) freeLocked(idx uint) {
	t.slots[idx].conn = nil
	t.occupied.Clear(idx)
}

// Valid reports whether h currently refers to a registered connection.
// A broken connection is still registered.
func (h Handle) Valid() bool {
	if h.t == nil {
		return false
	}

	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	return h.t.isLiveLocked(h)
}

// Connection resolves h.
//
// It returns a [StaleHandleError] if h is not registered,
// and the recorded [*BrokenError] if the connection was marked broken.
func (h Handle) Connection() (Connection, error) {
	if h.t == nil {
		return nil, StaleHandleError{Handle: h}
	}

	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	if !h.t.isLiveLocked(h) {
		return nil, StaleHandleError{Handle: h}
	}

	s := &h.t.slots[h.slot]
	if h.t.broken.Test(uint(h.slot)) {
		return nil, s.cause
	}
	return s.conn, nil
}

// Retain adds a reference to h's slot, preventing its reuse.
// It reports false, without adding a reference, if h is not registered.
// Every successful Retain must be paired with one [Handle.Release].
func (h Handle) Retain() bool {
	if h.t == nil {
		return false
	}

	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	if !h.t.isLiveLocked(h) {
		return false
	}
	h.t.slots[h.slot].refs++
	return true
}

// Release drops a reference added by [Handle.Retain].
func (h Handle) Release() {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	s := &h.t.slots[h.slot]
	if s.gen != h.gen || s.refs <= 0 {
		panic(fmt.Errorf("BUG: Release without matching Retain on handle %v", h))
	}

	s.refs--
	if s.refs == 0 && !h.t.live.Test(uint(h.slot)) {
		h.t.freeLocked(uint(h.slot))
	}
}

// MarkBroken records that h's connection is no longer usable.
// Later calls to [Handle.Connection] return the broken error
// until h is unregistered.
// Marking an unregistered or already broken handle is a no-op.
func (h Handle) MarkBroken(cause error) {
	if h.t == nil {
		return
	}

	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	if !h.t.isLiveLocked(h) || h.t.broken.Test(uint(h.slot)) {
		return
	}

	h.t.broken.Set(uint(h.slot))
	h.t.slots[h.slot].cause = AsBroken(cause)
}

// String returns slot.generation, for use in logs.
func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.slot, h.gen)
}
