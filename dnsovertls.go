// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"

	"github.com/bassosimone/dnscodec"
)

// NewDNSOverTLSDialer returns the [*tls.Dialer] to use for DNS-over-TLS with
// the given server name. Set Config.RootCAs to use custom roots.
func NewDNSOverTLSDialer(serverName string) *tls.Dialer {
	return &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			NextProtos: []string{"dot"},
			ServerName: serverName,
		},
	}
}

// dnsTLSStreamDialer implements [dnsStreamDialer] for DNS over TLS.
type dnsTLSStreamDialer struct {
	dialer *tls.Dialer
}

var _ dnsStreamDialer = &dnsTLSStreamDialer{}

// DialContext implements [dnsStreamDialer].
func (d *dnsTLSStreamDialer) DialContext(ctx context.Context, address netip.AddrPort) (dnsStreamConn, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", address.String())
	if err != nil {
		return nil, err
	}
	return &tcpStreamConn{conn}, nil
}

// MutateQuery implements [dnsStreamDialer].
func (d *dnsTLSStreamDialer) MutateQuery(query *dnscodec.Query) {
	query.Flags |= dnscodec.QueryFlagBlockLengthPadding | dnscodec.QueryFlagDNSSec
	query.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}
