// Package cquictest provides loopback QUIC fixtures for tests.
package cquictest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"testing"

	"github.com/gordian-engine/coupler/cquic"
	"github.com/gordian-engine/coupler/internal/ctest"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

// ListenerSet is a collection of QUIC listeners
// that trust each others' CA certificates.
// They are capable of dialing one another.
type ListenerSet struct {
	Pool *x509.CertPool

	CAs []*CA

	UDPConns []*net.UDPConn

	TLSConfigs []*tls.Config

	QTs []*quic.Transport
	QLs []*quic.Listener
}

// NewListenerSet initializes a new ListenerSet
// with count listeners on the loopback interface.
// There are no active connections;
// use [*ListenerSet.Dial] to connect two members.
//
// The UDP connections are closed as part of [*testing.T.Cleanup].
func NewListenerSet(t *testing.T, ctx context.Context, count int) *ListenerSet {
	t.Helper()

	pool := x509.NewCertPool()

	ls := &ListenerSet{
		Pool: pool,

		CAs: make([]*CA, count),

		UDPConns: make([]*net.UDPConn, count),

		TLSConfigs: make([]*tls.Config, count),

		QTs: make([]*quic.Transport, count),
		QLs: make([]*quic.Listener, count),
	}

	t.Cleanup(func() {
		for _, uc := range ls.UDPConns {
			if uc != nil {
				uc.Close()
			}
		}
	})

	for i := range count {
		ca, err := GenerateCA()
		require.NoError(t, err)

		leaf, err := ca.CreateLeafCert()
		require.NoError(t, err)

		udpConn, err := net.ListenUDP("udp", &net.UDPAddr{
			IP: net.IPv4(127, 0, 0, 1),
		})
		require.NoError(t, err)

		qt := cquic.MakeTransport(ctx, udpConn)

		// The same config is the base for dialing,
		// so it carries the pool and the name on the leaf certificates.
		tlsConf := &tls.Config{
			Certificates: []tls.Certificate{leaf},

			RootCAs:    pool,
			ServerName: "localhost",
		}
		ql, err := cquic.StartListener(tlsConf, cquic.DefaultConfig(), qt)
		require.NoError(t, err)

		ls.CAs[i] = ca

		ls.UDPConns[i] = udpConn

		ls.TLSConfigs[i] = tlsConf

		ls.QTs[i] = qt
		ls.QLs[i] = ql

		pool.AddCert(ca.Cert)
	}

	return ls
}

// Dial dials from the connection at srcIdx, to the listener at dstIdx.
// It returns srcConn, which is the outgoing connection from the source,
// and dstConn, which is the inbound connection for the destination.
//
// The listener set temporarily accepts a connection on the destination listener.
// A concurrent Accept on the same listener makes the result inconsistent.
func (ls *ListenerSet) Dial(t *testing.T, srcIdx, dstIdx int) (srcConn, dstConn cquic.Conn) {
	t.Helper()

	if srcIdx < 0 || srcIdx >= len(ls.UDPConns) || dstIdx < 0 || dstIdx >= len(ls.UDPConns) {
		t.Fatalf(
			"indices must be in range [0, %d]; got srcIdx=%d and dstIdx=%d",
			len(ls.UDPConns)-1, srcIdx, dstIdx,
		)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connAcceptedCh := make(chan quic.Connection, 1)

	go func() {
		acceptedConn, err := ls.QLs[dstIdx].Accept(ctx)
		if err != nil {
			t.Error(err)
			connAcceptedCh <- nil
			return
		}

		connAcceptedCh <- acceptedConn
	}()

	srcConn, err := ls.Dialer(srcIdx).Dial(ctx, ls.UDPConns[dstIdx].LocalAddr())
	require.NoError(t, err)

	acceptedConn := ctest.ReceiveSoon(t, connAcceptedCh)
	require.NotNil(t, acceptedConn)

	return srcConn, cquic.WrapConn(acceptedConn)
}

// Dialer returns a dialer using the transport and TLS configuration at idx.
func (ls *ListenerSet) Dialer(idx int) cquic.Dialer {
	return cquic.Dialer{
		BaseTLSConf: ls.TLSConfigs[idx],

		QUICTransport: ls.QTs[idx],

		// Listeners are always created with the default config.
		QUICConfig: cquic.DefaultConfig(),
	}
}
