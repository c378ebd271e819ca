// Package cquic carries coupler traffic over QUIC.
//
// Each peer opens its own unidirectional stream
// and writes to it through a [cconn.WriterConnection],
// so the ordering guarantees of package csendq
// map directly onto the stream's byte order.
package cquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated on every coupler QUIC connection.
const ALPN = "coupler/1"

// DefaultConfig returns the QUIC configuration coupler uses
// unless the caller supplies one.
func DefaultConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: 5 * time.Second,

		// Solver steps can be long;
		// keep-alives stop idle couplings from timing out between exchanges.
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// MakeTransport returns a QUIC transport over uc.
// The transport is closed when ctx is canceled.
func MakeTransport(ctx context.Context, uc *net.UDPConn) *quic.Transport {
	qt := &quic.Transport{Conn: uc}
	context.AfterFunc(ctx, func() {
		_ = qt.Close()
	})
	return qt
}

// StartListener starts listening for QUIC connections on qt.
// The TLS configuration is cloned and restricted to TLS 1.3 and the coupler [ALPN].
func StartListener(
	tlsConf *tls.Config, qc *quic.Config, qt *quic.Transport,
) (*quic.Listener, error) {
	ql, err := qt.Listen(customizeTLSConfig(tlsConf), qc)
	if err != nil {
		return nil, fmt.Errorf("failed to start QUIC listener: %w", err)
	}
	return ql, nil
}

func customizeTLSConfig(base *tls.Config) *tls.Config {
	conf := base.Clone()
	conf.MinVersion = tls.VersionTLS13
	conf.NextProtos = []string{ALPN}
	return conf
}
