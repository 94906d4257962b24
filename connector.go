// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Connector establishes TLS streams with an [Authority].
//
// A connector resolves the hostname, merges the result with the fallback
// table, and uses its [*Scheduler] to run the [*Dialer] over the
// candidates. Construct using [NewConnector]. A [*Connector] is safe
// for concurrent use.
type Connector struct {
	config      *Config
	dialer      *Dialer
	idGenerator atomic.Int64
	scheduler   *Scheduler
}

// NewConnector creates a new [*Connector] using the given [*Config]. A nil
// config is equivalent to the zero [Config]. The config is copied, so
// subsequent changes to it have no effect.
func NewConnector(config *Config) (*Connector, error) {
	if config == nil {
		config = &Config{}
	}
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	c := &Connector{
		config: config,
		dialer: NewDialer(config),
		scheduler: &Scheduler{
			Logger:      config.Logger,
			RaceStagger: config.RaceStagger,
			Strategy:    config.Strategy,
		},
	}
	return c, nil
}

// WaitGroup returns the [*sync.WaitGroup] tracking the connector's
// background goroutines, which is useful in tests.
func (c *Connector) WaitGroup() *sync.WaitGroup {
	return c.scheduler.WaitGroup()
}

// Connect establishes a TLS stream with the given [Authority].
//
// A zero Port means 443. On success the caller owns the [*Stream]. On
// failure, there are no open sockets and the error either wraps
// [ErrMissingHostname] or is a [*ConnectError].
func (c *Connector) Connect(ctx context.Context, authority Authority) (*Stream, error) {
	if authority.Hostname == "" {
		return nil, fmt.Errorf("sniconnect: %w", ErrMissingHostname)
	}
	port := authority.Port
	if port == 0 {
		port = 443
	}

	// We leave malformed hostnames to the resolver, which will fail.
	hostname, err := normalizeHostname(authority.Hostname)
	if err != nil {
		hostname = authority.Hostname
	}

	logger := &prefixLogger{
		prefix: fmt.Sprintf("[#%d] ", c.idGenerator.Add(1)),
		logger: c.config.Logger,
	}
	ol := newOperationLogger(logger, "Connect %s", net.JoinHostPort(hostname, strconv.Itoa(port)))
	t0 := time.Now()

	stream, err := c.connect(ctx, logger, hostname, port)

	var winner Candidate
	switch {
	case err == nil:
		winner = stream.Connected().Candidate
		ol.Stop(winner)
	default:
		ol.Stop(err)
	}
	c.config.Observer.OnEvent(&Event{
		Kind:      EventConnectDone,
		Hostname:  hostname,
		Candidate: winner,
		Err:       err,
		Elapsed:   time.Since(t0),
	})
	return stream, err
}

func (c *Connector) connect(ctx context.Context, logger Logger, hostname string, port int) (*Stream, error) {
	candidates, resolveErr := c.lookupCandidates(ctx, logger, hostname)
	if len(candidates) <= 0 {
		return nil, &ConnectError{
			Hostname:   hostname,
			Port:       port,
			Kind:       ErrNoCandidates,
			Strategy:   c.config.Strategy,
			ResolveErr: resolveErr,
		}
	}

	dial := func(ctx context.Context, candidate Candidate) (*Stream, error) {
		dialer := *c.dialer
		dialer.Logger = logger
		return dialer.Dial(ctx, candidate, port, hostname)
	}
	stream, err := c.scheduler.Schedule(ctx, candidates, dial)
	if err != nil {
		var connectErr *ConnectError
		if errors.As(err, &connectErr) {
			connectErr.Hostname = hostname
			connectErr.Port = port
			connectErr.ResolveErr = resolveErr
		}
		return nil, err
	}
	return stream, nil
}

// DialTLSContext is like [*Connector.Connect] but takes a network and
// an "hostname:port" address, so that it can be used as the
// [net/http.Transport] DialTLSContext function. The network must
// be "tcp", "tcp4", or "tcp6".
//
// The returned conn is a [*Stream] rather than a [*crypto/tls.Conn], therefore
// [net/http.Response] TLS is always nil. Use [*Stream.ConnectionState]
// to inspect the TLS session instead.
func (c *Connector) DialTLSContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("sniconnect: unsupported network: %s", network)
	}
	authority, err := ParseAuthority(address)
	if err != nil {
		return nil, fmt.Errorf("sniconnect: %w", err)
	}
	stream, err := c.Connect(ctx, authority)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
