package cquic_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/gordian-engine/coupler/cconn"
	"github.com/gordian-engine/coupler/cquic"
	"github.com/gordian-engine/coupler/cquic/cquictest"
	"github.com/gordian-engine/coupler/csendq"
	"github.com/gordian-engine/coupler/internal/ctest"
	"github.com/stretchr/testify/require"
)

func TestDial_uniStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ls := cquictest.NewListenerSet(t, ctx, 2)

	createdConn, acceptedConn := ls.Dial(t, 0, 1)

	streamAcceptedCh := make(chan cquic.ReceiveStream, 1)
	go func() {
		s, err := acceptedConn.AcceptUniStream(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		streamAcceptedCh <- s
	}()

	createdStream, err := createdConn.OpenUniStreamSync(ctx)
	require.NoError(t, err)
	_, err = io.WriteString(createdStream, "hello")
	require.NoError(t, err)

	acceptedStream := ctest.ReceiveSoon(t, streamAcceptedCh)

	buf := make([]byte, 5)
	_, err = io.ReadFull(acceptedStream, buf)
	require.NoError(t, err)

	require.Equal(t, "hello", string(buf))
}

func TestSendConnection_queueOverQUIC(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := ctest.NewLogger(t)
	ls := cquictest.NewListenerSet(t, ctx, 2)

	createdConn, acceptedConn := ls.Dial(t, 0, 1)

	header := []byte("coupler-test")
	sc, err := cquic.OpenSendConnection(ctx, log, createdConn, cquic.SendConnectionConfig{
		Header: header,
	})
	require.NoError(t, err)
	defer sc.Wait()
	defer cancel()

	// The stream only becomes visible to the peer once the header is sent.
	s, err := acceptedConn.AcceptUniStream(ctx)
	require.NoError(t, err)

	hdr := make([]byte, len(header))
	_, err = io.ReadFull(s, hdr)
	require.NoError(t, err)
	require.Equal(t, header, hdr)

	table := cconn.NewTable()
	h := table.Register(sc)
	q := csendq.New(log, csendq.Config{})

	const producers, perProducer = 4, 8
	payloads := ctest.RandomPayloadsForTest(t, producers*perProducer, 512)

	var (
		mu      sync.Mutex
		written bytes.Buffer
		wg      sync.WaitGroup
	)
	wg.Add(len(payloads))
	for i := range producers {
		go func() {
			for j := range perProducer {
				p := payloads[i*perProducer+j]
				q.Enqueue(h, p, func(n int, err error) {
					defer wg.Done()
					if err != nil {
						t.Error(err)
						return
					}

					// Callbacks run in write order, so this is the stream order.
					mu.Lock()
					written.Write(p[:n])
					mu.Unlock()
				})
			}
		}()
	}

	total := len(payloads) * 512
	got := make([]byte, total)
	_, err = io.ReadFull(s, got)
	require.NoError(t, err)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, written.Bytes(), got)
}

func TestSendConnection_closedConnectionFailsWrites(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := ctest.NewLogger(t)
	ls := cquictest.NewListenerSet(t, ctx, 2)

	createdConn, _ := ls.Dial(t, 0, 1)

	sc, err := cquic.OpenSendConnection(ctx, log, createdConn, cquic.SendConnectionConfig{})
	require.NoError(t, err)
	defer sc.Wait()
	defer cancel()

	require.NoError(t, createdConn.CloseWithError(0, "done"))

	table := cconn.NewTable()
	h := table.Register(sc)
	q := csendq.New(log, csendq.Config{})

	errCh := make(chan error, 2)
	for range 2 {
		q.Enqueue(h, []byte("after close"), func(_ int, err error) {
			errCh <- err
		})
	}

	var broken *cconn.BrokenError
	require.ErrorAs(t, ctest.ReceiveSoon(t, errCh), &broken)

	// The second request fails fast from the broken handle.
	require.ErrorAs(t, ctest.ReceiveSoon(t, errCh), &broken)
	require.Error(t, sc.Err())

	_, err = h.Connection()
	require.ErrorAs(t, err, &broken)
}

func TestConnAdapter_CloseWithError_panicsOnLargeCode(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ls := cquictest.NewListenerSet(t, ctx, 2)
	createdConn, _ := ls.Dial(t, 0, 1)

	require.Panics(t, func() {
		_ = createdConn.CloseWithError(cquic.ApplicationErrorCode(1<<62), "too large")
	})
}
