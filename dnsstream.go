//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/dotcp.go
// Adapted from: https://github.com/ooni/probe-engine/blob/v0.23.0/netx/resolver/dnsovertcp.go
//
// See https://datatracker.ietf.org/doc/rfc9250/
//

package sniconnect

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
)

// dnsStream is a stream suitable for DNS over TCP, TLS, or QUIC.
type dnsStream interface {
	SetDeadline(t time.Time) error
	io.ReadWriter

	// For TCP and TLS closing the stream is a no-op, while
	// for QUIC it sends the STREAM FIN.
	io.Closer
}

// dnsStreamConn abstracts over [net.Conn], [*tls.Conn], or [*quic.Conn].
type dnsStreamConn interface {
	// CloseWithError closes the connection. Errors are only
	// meaningful for QUIC.
	CloseWithError(code quic.ApplicationErrorCode, desc string) error

	// OpenStream opens a new [dnsStream]. For TCP and TLS, this
	// returns the connection itself.
	OpenStream() (dnsStream, error)
}

// dnsStreamDialer dials a [dnsStreamConn].
type dnsStreamDialer interface {
	DialContext(ctx context.Context, address netip.AddrPort) (dnsStreamConn, error)

	// MutateQuery applies the protocol specific settings to the query.
	MutateQuery(query *dnscodec.Query)
}

// errDNSResponseTooLarge means the response exceeds the query MaxSize.
var errDNSResponseTooLarge = errors.New("dns: response too large")

// dnsExchanger exchanges DNS messages with a fixed endpoint using
// a new connection for each exchange.
type dnsExchanger struct {
	dialer   dnsStreamDialer
	endpoint netip.AddrPort
}

// Exchange sends the query and returns the validated response message.
func (dx *dnsExchanger) Exchange(ctx context.Context, query *dnscodec.Query) (*dns.Msg, error) {
	conn, err := dx.dialer.DialContext(ctx, dx.endpoint)
	if err != nil {
		return nil, err
	}

	// A single connection per query is what the standard library does and
	// copes better with residual censorship. Closing the conn when the
	// context is done also unblocks pending I/O.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		const quicNoError = 0x00 // RFC 9250 Sect. 4.3
		<-ctx.Done()
		conn.CloseWithError(quicNoError, "")
	}()

	stream, err := conn.OpenStream()
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	query = query.Clone()
	dx.dialer.MutateQuery(query)
	queryMsg, err := query.NewMsg()
	if err != nil {
		return nil, err
	}
	rawQuery, err := queryMsg.Pack()
	if err != nil {
		return nil, err
	}
	if _, err := stream.Write(newDNSMsgFrame(rawQuery)); err != nil {
		return nil, err
	}

	// RFC 9250 Sect. 4.2 requires the client to send STREAM FIN after the
	// query and some servers do not respond otherwise.
	stream.Close()

	br := bufio.NewReader(stream)
	header := make([]byte, 2)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, err
	}
	length := int(header[0])<<8 | int(header[1])
	if query.MaxSize > 0 && length > int(query.MaxSize) {
		return nil, errDNSResponseTooLarge
	}
	rawResp := make([]byte, length)
	if _, err := io.ReadFull(br, rawResp); err != nil {
		return nil, err
	}

	respMsg := new(dns.Msg)
	if err := respMsg.Unpack(rawResp); err != nil {
		return nil, err
	}
	if _, err := dnscodec.ParseResponse(queryMsg, respMsg); err != nil {
		return nil, err
	}
	return respMsg, nil
}

// newDNSMsgFrame prepends the two bytes length to the raw message.
func newDNSMsgFrame(rawMsg []byte) []byte {
	runtimex.Assert(len(rawMsg) <= math.MaxUint16)
	frame := []byte{byte(len(rawMsg) >> 8), byte(len(rawMsg))}
	return append(frame, rawMsg...)
}
