package cconn_test

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/gordian-engine/coupler/cconn"
	"github.com/gordian-engine/coupler/internal/ctest"
	"github.com/stretchr/testify/require"
)

type writeResult struct {
	N   int
	Err error
}

func resultCh() (chan writeResult, cconn.CompletionFunc) {
	ch := make(chan writeResult, 1)
	return ch, func(n int, err error) {
		ch <- writeResult{N: n, Err: err}
	}
}

func TestWriterConnection_writesInOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	c := cconn.NewWriterConnection(ctx, ctest.NewLogger(t), local, cconn.WriterConnectionConfig{})
	defer c.Wait()
	defer cancel()

	readCh := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 10)
		if _, err := io.ReadFull(remote, buf); err != nil {
			t.Error(err)
			return
		}
		readCh <- buf
	}()

	for _, s := range []string{"hello", "world"} {
		ch, done := resultCh()
		c.AsyncWrite([]byte(s), done)
		res := ctest.ReceiveSoon(t, ch)
		require.NoError(t, res.Err)
		require.Equal(t, 5, res.N)
	}

	require.Equal(t, "helloworld", string(ctest.ReceiveSoon(t, readCh)))
	require.NoError(t, c.Err())
}

func TestWriterConnection_rejectsOverlappingWrite(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	c := cconn.NewWriterConnection(ctx, ctest.NewLogger(t), local, cconn.WriterConnectionConfig{})
	defer c.Wait()
	defer cancel()

	// Nobody is reading yet, so the first write stays outstanding.
	firstCh, firstDone := resultCh()
	c.AsyncWrite([]byte("abc"), firstDone)

	secondCh, secondDone := resultCh()
	c.AsyncWrite([]byte("def"), secondDone)

	// The overlapping write fails inline.
	select {
	case res := <-secondCh:
		require.ErrorIs(t, res.Err, cconn.ErrWriteInFlight)
		require.Zero(t, res.N)
	default:
		t.Fatal("overlapping write did not fail inline")
	}
	ctest.NotSending(t, (<-chan writeResult)(firstCh))

	buf := make([]byte, 3)
	_, err := io.ReadFull(remote, buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf))

	res := ctest.ReceiveSoon(t, firstCh)
	require.NoError(t, res.Err)
}

func TestWriterConnection_closedPeerBreaksConnection(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := net.Pipe()
	defer local.Close()
	require.NoError(t, remote.Close())

	c := cconn.NewWriterConnection(ctx, ctest.NewLogger(t), local, cconn.WriterConnectionConfig{})
	defer c.Wait()
	defer cancel()

	ch, done := resultCh()
	c.AsyncWrite([]byte("lost"), done)
	res := ctest.ReceiveSoon(t, ch)

	var be *cconn.BrokenError
	require.ErrorAs(t, res.Err, &be)
	require.ErrorIs(t, res.Err, io.ErrClosedPipe)

	// Later writes fail inline with the same error.
	ch, done = resultCh()
	c.AsyncWrite([]byte("also lost"), done)
	ctest.IsSending(t, (<-chan writeResult)(ch))
	require.ErrorIs(t, c.Err(), io.ErrClosedPipe)
}

func TestWriterConnection_timeoutWithoutProgressIsRecoverable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	c := cconn.NewWriterConnection(ctx, ctest.NewLogger(t), local, cconn.WriterConnectionConfig{
		WriteTimeout: 10 * time.Millisecond,
	})
	defer c.Wait()
	defer cancel()

	ch, done := resultCh()
	c.AsyncWrite([]byte("late"), done)
	res := ctest.ReceiveSoon(t, ch)
	require.ErrorIs(t, res.Err, os.ErrDeadlineExceeded)

	var be *cconn.BrokenError
	require.False(t, errors.As(res.Err, &be))
	require.NoError(t, c.Err())

	// With a reader present, the next write goes through.
	readCh := make(chan string, 1)
	go func() {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(remote, buf); err != nil {
			t.Error(err)
			return
		}
		readCh <- string(buf)
	}()

	ch, done = resultCh()
	c.AsyncWrite([]byte("soon"), done)
	res = ctest.ReceiveSoon(t, ch)
	require.NoError(t, res.Err)
	require.Equal(t, "soon", ctest.ReceiveSoon(t, readCh))
}

func TestWriterConnection_contextCancelBreaksConnection(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	c := cconn.NewWriterConnection(ctx, ctest.NewLogger(t), local, cconn.WriterConnectionConfig{})

	cancel()
	c.Wait()

	ch, done := resultCh()
	c.AsyncWrite([]byte("x"), done)
	res := ctest.ReceiveSoon(t, ch)
	require.ErrorIs(t, res.Err, context.Canceled)

	var be *cconn.BrokenError
	require.ErrorAs(t, res.Err, &be)
}
