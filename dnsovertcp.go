// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/quic-go/quic-go"
)

// dnsTCPStreamDialer implements [dnsStreamDialer] for DNS over TCP.
type dnsTCPStreamDialer struct {
	dialer NetDialer
}

var _ dnsStreamDialer = &dnsTCPStreamDialer{}

// DialContext implements [dnsStreamDialer].
func (d *dnsTCPStreamDialer) DialContext(ctx context.Context, address netip.AddrPort) (dnsStreamConn, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", address.String())
	if err != nil {
		return nil, err
	}
	return &tcpStreamConn{conn}, nil
}

// MutateQuery implements [dnsStreamDialer].
func (d *dnsTCPStreamDialer) MutateQuery(query *dnscodec.Query) {
	query.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}

// tcpStreamConn adapts a [net.Conn] to [dnsStreamConn] and [dnsStream].
type tcpStreamConn struct {
	conn net.Conn
}

var _ dnsStreamConn = &tcpStreamConn{}

// CloseWithError implements [dnsStreamConn].
func (s *tcpStreamConn) CloseWithError(code quic.ApplicationErrorCode, desc string) error {
	return s.conn.Close()
}

// OpenStream implements [dnsStreamConn].
func (s *tcpStreamConn) OpenStream() (dnsStream, error) {
	return &tcpStream{s.conn}, nil
}

// tcpStream implements [dnsStream] for TCP and TLS.
type tcpStream struct {
	conn net.Conn
}

// Close implements [dnsStream]. We do not close midway for TCP.
func (s *tcpStream) Close() error {
	return nil
}

// Read implements [dnsStream].
func (s *tcpStream) Read(buff []byte) (int, error) {
	return s.conn.Read(buff)
}

// SetDeadline implements [dnsStream].
func (s *tcpStream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// Write implements [dnsStream].
func (s *tcpStream) Write(data []byte) (int, error) {
	return s.conn.Write(data)
}
