package cconn_test

import (
	"errors"
	"testing"

	"github.com/gordian-engine/coupler/cconn"
	"github.com/gordian-engine/coupler/cconn/cconntest"
	"github.com/stretchr/testify/require"
)

func TestTable_Register_resolves(t *testing.T) {
	t.Parallel()

	tbl := cconn.NewTable()
	rec := cconntest.NewRecorder()
	c0 := cconntest.NewConnection(rec, "c0", cconntest.Instant)
	c1 := cconntest.NewConnection(rec, "c1", cconntest.Instant)

	h0 := tbl.Register(c0)
	h1 := tbl.Register(c1)
	require.NotEqual(t, h0, h1)
	require.Equal(t, 2, tbl.Len())

	got, err := h0.Connection()
	require.NoError(t, err)
	require.Same(t, c0, got)

	got, err = h1.Connection()
	require.NoError(t, err)
	require.Same(t, c1, got)
}

func TestHandle_zeroIsInvalid(t *testing.T) {
	t.Parallel()

	var h cconn.Handle
	require.False(t, h.Valid())
	require.False(t, h.Retain())

	_, err := h.Connection()
	require.ErrorIs(t, err, cconn.ErrStaleHandle)

	// No-op rather than a panic.
	h.MarkBroken(errors.New("ignored"))
}

func TestTable_Unregister_invalidatesHandle(t *testing.T) {
	t.Parallel()

	tbl := cconn.NewTable()
	c := cconntest.NewConnection(cconntest.NewRecorder(), "c", cconntest.Instant)

	h := tbl.Register(c)
	require.True(t, tbl.Unregister(h))
	require.False(t, tbl.Unregister(h))
	require.Zero(t, tbl.Len())

	require.False(t, h.Valid())

	_, err := h.Connection()
	require.ErrorIs(t, err, cconn.ErrStaleHandle)

	var she cconn.StaleHandleError
	require.ErrorAs(t, err, &she)
	require.Equal(t, h, she.Handle)
}

func TestTable_reusedSlot_doesNotResolveOldHandle(t *testing.T) {
	t.Parallel()

	tbl := cconn.NewTable()
	rec := cconntest.NewRecorder()
	oldConn := cconntest.NewConnection(rec, "old", cconntest.Instant)
	newConn := cconntest.NewConnection(rec, "new", cconntest.Instant)

	oldH := tbl.Register(oldConn)
	require.True(t, tbl.Unregister(oldH))

	newH := tbl.Register(newConn)
	require.NotEqual(t, oldH, newH)

	_, err := oldH.Connection()
	require.ErrorIs(t, err, cconn.ErrStaleHandle)

	got, err := newH.Connection()
	require.NoError(t, err)
	require.Same(t, newConn, got)
}

func TestHandle_Retain_delaysSlotReuse(t *testing.T) {
	t.Parallel()

	tbl := cconn.NewTable()
	rec := cconntest.NewRecorder()

	h := tbl.Register(cconntest.NewConnection(rec, "a", cconntest.Instant))
	require.True(t, h.Retain())
	require.True(t, tbl.Unregister(h))

	// The retained slot must not be handed out again.
	h2 := tbl.Register(cconntest.NewConnection(rec, "b", cconntest.Instant))
	require.NotEqual(t, h.String(), h2.String())

	// Retaining an unregistered handle fails.
	require.False(t, h.Retain())

	h.Release()

	// Now the slot is free; the next registration reuses it
	// with a newer generation.
	h3 := tbl.Register(cconntest.NewConnection(rec, "c", cconntest.Instant))
	require.Equal(t, "0.2", h3.String())
	require.Equal(t, 2, tbl.Len())
}

func TestHandle_Release_panicsWithoutRetain(t *testing.T) {
	t.Parallel()

	tbl := cconn.NewTable()
	h := tbl.Register(cconntest.NewConnection(cconntest.NewRecorder(), "c", cconntest.Instant))

	require.Panics(t, func() {
		h.Release()
	})
}

func TestHandle_MarkBroken(t *testing.T) {
	t.Parallel()

	tbl := cconn.NewTable()
	h := tbl.Register(cconntest.NewConnection(cconntest.NewRecorder(), "c", cconntest.Instant))

	cause := errors.New("connection reset")
	h.MarkBroken(cause)

	// Still registered, but unusable.
	require.True(t, h.Valid())

	_, err := h.Connection()
	var be *cconn.BrokenError
	require.ErrorAs(t, err, &be)
	require.ErrorIs(t, err, cause)

	// The first cause wins.
	h.MarkBroken(errors.New("second"))
	_, err = h.Connection()
	require.ErrorIs(t, err, cause)

	// Unregistering clears the broken state along with the handle.
	require.True(t, tbl.Unregister(h))
	_, err = h.Connection()
	require.ErrorIs(t, err, cconn.ErrStaleHandle)
}

func TestAsBroken_doesNotDoubleWrap(t *testing.T) {
	t.Parallel()

	be := &cconn.BrokenError{Cause: errors.New("eof")}
	require.Same(t, be, cconn.AsBroken(be))

	wrapped := cconn.AsBroken(errors.New("reset"))
	require.EqualError(t, wrapped, "connection broken: reset")
}
