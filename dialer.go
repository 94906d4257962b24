// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"
)

// NetDialer is typically [*net.Dialer].
type NetDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SNIMode controls the SNI we send when a [Candidate] has no SNI override.
type SNIMode int

const (
	// SNIHostname sends the authority hostname.
	SNIHostname = SNIMode(iota)

	// SNIPlaceholder sends [Dialer.PlaceholderSNI] instead of the
	// authority hostname when certificate verification is disabled. With
	// verification enabled, this mode behaves like [SNIHostname].
	SNIPlaceholder
)

// DefaultPlaceholderSNI is the default SNI used with [SNIPlaceholder].
const DefaultPlaceholderSNI = "www.example.com"

// Dialer establishes a TLS stream with a single [Candidate].
//
// Construct using [NewDialer] or fill the fields manually. The zero value
// is usable: it uses [*net.Dialer], the default timeouts, and verifies
// certificates using the system roots. Do not modify the fields once
// you start dialing.
type Dialer struct {
	// ConnectTimeout is the TCP connect timeout. If zero, we
	// use [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// HandshakeTimeout is the TLS handshake timeout. If zero, we
	// use [DefaultHandshakeTimeout].
	HandshakeTimeout time.Duration

	// Logger is the OPTIONAL logger.
	Logger Logger

	// NetDialer is the OPTIONAL [NetDialer] for TCP connect.
	NetDialer NetDialer

	// NextProtos contains the OPTIONAL ALPN protocols.
	NextProtos []string

	// Observer is the OPTIONAL [Observer].
	Observer Observer

	// PlaceholderSNI is the SNI used with [SNIPlaceholder]. If empty,
	// we use [DefaultPlaceholderSNI].
	PlaceholderSNI string

	// RootCAs contains the OPTIONAL root CAs. If nil, we use the system roots.
	RootCAs *x509.CertPool

	// SNIMode is the [SNIMode] to use.
	SNIMode SNIMode

	// IgnoreCertificateErrors disables verifying both the certificate
	// chain and the hostname. There is no partial verification mode.
	IgnoreCertificateErrors bool
}

// NewDialer creates a [*Dialer] from the given [*Config].
func NewDialer(config *Config) *Dialer {
	return &Dialer{
		ConnectTimeout:   config.ConnectTimeout,
		HandshakeTimeout: config.HandshakeTimeout,
		Logger:           config.Logger,
		NetDialer:        config.NetDialer,
		NextProtos:       config.NextProtos,
		Observer:         config.Observer,
		PlaceholderSNI:   config.PlaceholderSNI,
		RootCAs:          config.RootCAs,
		SNIMode:          config.SNIMode,

		IgnoreCertificateErrors: config.IgnoreCertificateErrors,
	}
}

var (
	// errNotIPAddress indicates a candidate address is not an IP literal.
	errNotIPAddress = errors.New("candidate address is not an IP address")

	// errEmptySNI indicates there is no SNI to send.
	errEmptySNI = errors.New("empty SNI")

	// errEmptyVerifyHostname indicates there is no hostname to verify against.
	errEmptyVerifyHostname = errors.New("empty hostname for certificate verification")

	// errNoPeerCertificate is returned when the server sent no certificates.
	errNoPeerCertificate = errors.New("no peer certificate")
)

// Dial connects to candidate on port and performs the TLS handshake.
//
// The hostname is the authority hostname, used as the default SNI
// and for certificate verification. On failure, the error is
// a [*CandidateError] and no socket is left open.
func (d *Dialer) Dial(ctx context.Context, candidate Candidate, port int, hostname string) (*Stream, error) {
	logger := d.logger()
	endpoint := candidate.endpoint(port)

	newError := func(stage Stage, kind, err error) error {
		return &CandidateError{Candidate: candidate, Port: port, Stage: stage, Kind: kind, Err: err}
	}

	// 1. TCP connect
	if net.ParseIP(candidate.Address) == nil {
		return nil, newError(StageTCPConnect, ErrTCPConnectFailed, errNotIPAddress)
	}
	ol := newOperationLogger(logger, "TCPConnect %s", endpoint)
	t0 := time.Now()
	conn, err := d.tcpConnect(ctx, endpoint)
	ol.Stop(err)
	if err != nil {
		kind := ErrTCPConnectFailed
		if errors.Is(err, errStageTimeout) {
			kind = ErrTCPConnectTimedOut
		}
		err = newError(StageTCPConnect, kind, err)
		d.observe(EventTCPConnectDone, hostname, candidate, "", err, t0)
		return nil, err
	}
	d.observe(EventTCPConnectDone, hostname, candidate, "", nil, t0)

	// 2. TLS configure
	t0 = time.Now()
	config, err := d.newTLSConfig(candidate, hostname)
	if err != nil {
		conn.Close()
		err = newError(StageTLSConfigure, ErrTLSConfigureFailed, err)
		d.observe(EventTLSHandshakeDone, hostname, candidate, "", err, t0)
		return nil, err
	}

	// 3. TLS handshake
	ol = newOperationLogger(
		logger,
		"TLSHandshake with %s SNI=%s ALPN=%v verify=%v",
		endpoint,
		config.ServerName,
		config.NextProtos,
		!d.IgnoreCertificateErrors,
	)
	t0 = time.Now()
	tlsConn, err := d.tlsHandshake(ctx, conn, config)
	ol.Stop(err)
	if err != nil {
		conn.Close()
		kind := ErrTLSHandshakeFailed
		if errors.Is(err, errStageTimeout) {
			kind = ErrTLSHandshakeTimedOut
		}
		err = newError(StageTLSHandshake, kind, err)
		d.observe(EventTLSHandshakeDone, hostname, candidate, config.ServerName, err, t0)
		return nil, err
	}
	d.observe(EventTLSHandshakeDone, hostname, candidate, config.ServerName, nil, t0)

	info := Connected{
		Hostname:  hostname,
		Candidate: candidate,
		SNI:       config.ServerName,
		Verified:  !d.IgnoreCertificateErrors,
	}
	return newStream(tlsConn, info), nil
}

// tcpConnect establishes a TCP connection within the connect timeout. When
// the timeout expires, the returned error wraps [errStageTimeout].
func (d *Dialer) tcpConnect(ctx context.Context, endpoint string) (net.Conn, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, d.connectTimeout(), errStageTimeout)
	defer cancel()

	conn, err := d.netDialer().DialContext(ctx, "tcp", endpoint)
	if err != nil {
		if context.Cause(ctx) == errStageTimeout {
			return nil, fmt.Errorf("%w: %w", errStageTimeout, err)
		}
		return nil, err
	}

	// disable Nagle to avoid coalescing small writes
	if tc, ok := conn.(interface{ SetNoDelay(bool) error }); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// tlsHandshake performs the TLS handshake within the handshake timeout. This
// function DOES NOT take ownership of conn on failure.
func (d *Dialer) tlsHandshake(ctx context.Context, conn net.Conn, config *tls.Config) (*tls.Conn, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, d.handshakeTimeout(), errStageTimeout)
	defer cancel()

	tlsConn := tls.Client(conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if context.Cause(ctx) == errStageTimeout {
			return nil, fmt.Errorf("%w: %w", errStageTimeout, err)
		}
		return nil, err
	}
	return tlsConn, nil
}

// serverName returns the SNI to send for the given candidate.
func (d *Dialer) serverName(candidate Candidate, hostname string) string {
	switch {
	case candidate.SNI != "":
		return candidate.SNI
	case d.IgnoreCertificateErrors && d.SNIMode == SNIPlaceholder:
		if d.PlaceholderSNI != "" {
			return d.PlaceholderSNI
		}
		return DefaultPlaceholderSNI
	default:
		return hostname
	}
}

// newTLSConfig builds the [*tls.Config] for the given candidate.
//
// We always set InsecureSkipVerify because the SNI may differ from the
// hostname; when verifying, VerifyConnection checks the chain against the
// authority hostname during the handshake.
func (d *Dialer) newTLSConfig(candidate Candidate, hostname string) (*tls.Config, error) {
	sni := d.serverName(candidate, hostname)
	if sni == "" {
		return nil, errEmptySNI
	}
	config := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         d.NextProtos,
		RootCAs:            d.RootCAs,
		ServerName:         sni,
	}
	if !d.IgnoreCertificateErrors {
		if hostname == "" {
			return nil, errEmptyVerifyHostname
		}
		roots := d.RootCAs
		config.VerifyConnection = func(state tls.ConnectionState) error {
			return verifyCertificateChain(hostname, state, roots)
		}
	}
	return config, nil
}

// verifyCertificateChain verifies the peer certificate chain against the
// given hostname and roots, approximately like crypto/tls does internally.
//
// See https://github.com/golang/go/blob/go1.21.0/src/crypto/tls/example_test.go#L186
func verifyCertificateChain(hostname string, state tls.ConnectionState, roots *x509.CertPool) error {
	if len(state.PeerCertificates) < 1 {
		return errNoPeerCertificate
	}
	opts := x509.VerifyOptions{
		DNSName:       hostname, // the real hostname, not the SNI
		Intermediates: x509.NewCertPool(),
		Roots:         roots,
	}
	for _, cert := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := state.PeerCertificates[0].Verify(opts)
	return err
}

func (d *Dialer) observe(kind EventKind, hostname string, candidate Candidate, sni string, err error, t0 time.Time) {
	if d.Observer == nil {
		return
	}
	d.Observer.OnEvent(&Event{
		Kind:      kind,
		Hostname:  hostname,
		Candidate: candidate,
		SNI:       sni,
		Err:       err,
		Elapsed:   time.Since(t0),
	})
}

func (d *Dialer) logger() Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return DiscardLogger
}

func (d *Dialer) netDialer() NetDialer {
	if d.NetDialer != nil {
		return d.NetDialer
	}
	return &net.Dialer{}
}

func (d *Dialer) connectTimeout() time.Duration {
	if d.ConnectTimeout > 0 {
		return d.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (d *Dialer) handshakeTimeout() time.Duration {
	if d.HandshakeTimeout > 0 {
		return d.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}
