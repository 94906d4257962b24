// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"crypto/tls"
	"net"
	"sync"
	"time"
)

// Connected describes how a [*Stream] was established.
type Connected struct {
	// Hostname is the authority hostname.
	Hostname string

	// Candidate is the candidate we connected to.
	Candidate Candidate

	// SNI is the SNI we sent on the wire.
	SNI string

	// Verified indicates whether we verified the certificate chain
	// and the hostname during the handshake.
	Verified bool

	// NegotiatedProtocol is the ALPN protocol or empty.
	NegotiatedProtocol string
}

// Stream is an established TCP+TLS duplex byte stream.
//
// A [*Stream] implements [net.Conn] so that it can be returned by
// [net/http.Transport.DialTLSContext]. The caller owns the stream and is
// responsible for closing it. No TLS or socket configuration is reachable
// from the stream after the handshake.
type Stream struct {
	conn      *tls.Conn
	connected Connected
	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = &Stream{}

// newStream wraps a connection whose TLS handshake has completed.
func newStream(conn *tls.Conn, connected Connected) *Stream {
	connected.NegotiatedProtocol = conn.ConnectionState().NegotiatedProtocol
	return &Stream{conn: conn, connected: connected}
}

// Connected returns information about how the stream was
// established, which is useful for connection-health reporting.
func (s *Stream) Connected() Connected {
	return s.connected
}

// ConnectionState returns a copy of the TLS connection state.
func (s *Stream) ConnectionState() tls.ConnectionState {
	return s.conn.ConnectionState()
}

// Read implements [net.Conn].
func (s *Stream) Read(b []byte) (int, error) {
	return s.conn.Read(b)
}

// Write implements [net.Conn].
func (s *Stream) Write(b []byte) (int, error) {
	return s.conn.Write(b)
}

// Close implements [net.Conn]. Closing the stream closes the TLS session and
// the underlying TCP socket. Calling Close more than once is fine.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// LocalAddr implements [net.Conn].
func (s *Stream) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr implements [net.Conn].
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// SetDeadline implements [net.Conn].
func (s *Stream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (s *Stream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}
