package cquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// Dialer handles establishing QUIC connections with remote peers.
type Dialer struct {
	// Cloned for every dial; RootCAs and ServerName must be set
	// to verify the remote peer.
	BaseTLSConf *tls.Config

	QUICTransport *quic.Transport
	QUICConfig    *quic.Config
}

// Dial opens a QUIC connection to the given address.
func (d Dialer) Dial(ctx context.Context, addr net.Addr) (Conn, error) {
	qc, err := d.QUICTransport.Dial(ctx, addr, customizeTLSConfig(d.BaseTLSConf), d.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return WrapConn(qc), nil
}
