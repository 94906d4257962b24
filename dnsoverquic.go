//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/doquic.go
// Adapted from: https://github.com/rbmk-project/dnscore/blob/v0.14.0/doquic.go
//
// See https://datatracker.ietf.org/doc/rfc9250/
//

package sniconnect

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"sync"

	"github.com/bassosimone/dnscodec"
	"github.com/quic-go/quic-go"
)

// QUICDialer dials a [*quic.Conn] for DNS-over-QUIC.
//
// Construct using [NewDNSOverQUICDialer].
type QUICDialer struct {
	// QUICConfig contains OPTIONAL [*quic.Config].
	QUICConfig *quic.Config

	// TLSConfig is the MANDATORY [*tls.Config].
	TLSConfig *tls.Config

	// Transport is the MANDATORY [*quic.Transport].
	Transport *quic.Transport
}

// NewDNSOverQUICDialer creates a [*QUICDialer] sending packets using
// pconn and using serverName as the SNI.
func NewDNSOverQUICDialer(pconn net.PacketConn, serverName string) *QUICDialer {
	return &QUICDialer{
		QUICConfig: &quic.Config{},
		TLSConfig: &tls.Config{
			NextProtos: []string{"doq"},
			ServerName: serverName,
		},
		Transport: &quic.Transport{Conn: pconn},
	}
}

// Dial creates a [*quic.Conn] with the given address.
func (qd *QUICDialer) Dial(ctx context.Context, address netip.AddrPort) (*quic.Conn, error) {
	udpAddr := net.UDPAddrFromAddrPort(address)
	return qd.Transport.Dial(ctx, udpAddr, qd.TLSConfig, qd.QUICConfig)
}

// dnsQUICStreamDialer implements [dnsStreamDialer] for DNS over QUIC.
type dnsQUICStreamDialer struct {
	dialer *QUICDialer
}

var _ dnsStreamDialer = &dnsQUICStreamDialer{}

// DialContext implements [dnsStreamDialer].
func (d *dnsQUICStreamDialer) DialContext(ctx context.Context, address netip.AddrPort) (dnsStreamConn, error) {
	conn, err := d.dialer.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return &quicConnAdapter{qconn: conn}, nil
}

// MutateQuery implements [dnsStreamDialer].
func (d *dnsQUICStreamDialer) MutateQuery(query *dnscodec.Query) {
	query.Flags |= dnscodec.QueryFlagBlockLengthPadding | dnscodec.QueryFlagDNSSec
	query.ID = 0 // RFC 9250 Sect. 4.2.1
	query.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}

// quicConnAdapter adapts [*quic.Conn] to [dnsStreamConn].
type quicConnAdapter struct {
	qconn *quic.Conn
	once  sync.Once
}

// CloseWithError implements [dnsStreamConn].
func (q *quicConnAdapter) CloseWithError(code quic.ApplicationErrorCode, desc string) (err error) {
	q.once.Do(func() {
		err = q.qconn.CloseWithError(code, desc)
	})
	return
}

// OpenStream implements [dnsStreamConn].
func (q *quicConnAdapter) OpenStream() (dnsStream, error) {
	return q.qconn.OpenStream()
}
