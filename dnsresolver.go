// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/netip"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// errDNSNoData means the DNS response contains no address for the query type.
var errDNSNoData = errors.New("dns: no data")

// DNSResolver is a [Resolver] using DNS over TCP, TLS, or QUIC with a fixed
// endpoint. This is useful when the system resolver is being tampered with.
//
// Construct using [NewDNSResolverTCP], [NewDNSResolverTLS], or [NewDNSResolverQUIC].
//
// Each lookup sends the A and AAAA queries in parallel using a new connection
// for each query. IPv4 addresses come before IPv6 addresses in the results.
type DNSResolver struct {
	// Logger is the OPTIONAL logger.
	Logger Logger

	exchanger *dnsExchanger
	protocol  string
}

var _ Resolver = &DNSResolver{}

// NewDNSResolverTCP returns a [*DNSResolver] using DNS over TCP.
func NewDNSResolverTCP(dialer NetDialer, endpoint netip.AddrPort) *DNSResolver {
	return newDNSResolver("tcp", &dnsTCPStreamDialer{dialer}, endpoint)
}

// NewDNSResolverTLS returns a [*DNSResolver] using DNS over TLS. Use
// [NewDNSOverTLSDialer] to create a suitable dialer.
func NewDNSResolverTLS(dialer *tls.Dialer, endpoint netip.AddrPort) *DNSResolver {
	return newDNSResolver("dot", &dnsTLSStreamDialer{dialer}, endpoint)
}

// NewDNSResolverQUIC returns a [*DNSResolver] using DNS over QUIC. Use
// [NewDNSOverQUICDialer] to create a suitable dialer.
func NewDNSResolverQUIC(dialer *QUICDialer, endpoint netip.AddrPort) *DNSResolver {
	return newDNSResolver("doq", &dnsQUICStreamDialer{dialer}, endpoint)
}

func newDNSResolver(protocol string, dialer dnsStreamDialer, endpoint netip.AddrPort) *DNSResolver {
	return &DNSResolver{
		exchanger: &dnsExchanger{dialer: dialer, endpoint: endpoint},
		protocol:  protocol,
	}
}

// LookupHost implements [Resolver].
func (r *DNSResolver) LookupHost(ctx context.Context, hostname string) ([]string, error) {
	if net.ParseIP(hostname) != nil {
		return []string{hostname}, nil
	}

	var (
		g       errgroup.Group
		qtypes  = []uint16{dns.TypeA, dns.TypeAAAA}
		addrsv  = make([][]string, len(qtypes))
		errorsv = make([]error, len(qtypes))
	)
	for idx, qtype := range qtypes {
		g.Go(func() error {
			addrsv[idx], errorsv[idx] = r.lookup(ctx, hostname, qtype)
			return errorsv[idx]
		})
	}

	// We only fail when both queries fail, so ignore the first error.
	_ = g.Wait()

	var addrs []string
	for _, entry := range addrsv {
		addrs = append(addrs, entry...)
	}
	if len(addrs) <= 0 {
		return nil, errors.Join(errorsv...)
	}
	return addrs, nil
}

// lookup performs a single query for the given type.
func (r *DNSResolver) lookup(ctx context.Context, hostname string, qtype uint16) ([]string, error) {
	ol := newOperationLogger(r.logger(), "%s: %s %s @%s",
		r.protocol, hostname, dns.TypeToString[qtype], r.exchanger.endpoint)
	resp, err := r.exchanger.Exchange(ctx, dnscodec.NewQuery(hostname, qtype))
	if err != nil {
		ol.Stop(err)
		return nil, err
	}
	addrs := dnsAnswerAddrs(resp, qtype)
	if len(addrs) <= 0 {
		ol.Stop(errDNSNoData)
		return nil, errDNSNoData
	}
	ol.Stop(addrs)
	return addrs, nil
}

// dnsAnswerAddrs extracts the addresses of the given type from the answer
// section. CNAME records are skipped since the server follows them for us.
func dnsAnswerAddrs(resp *dns.Msg, qtype uint16) []string {
	var addrs []string
	for _, rr := range resp.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				addrs = append(addrs, rr.A.String())
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				addrs = append(addrs, rr.AAAA.String())
			}
		}
	}
	return addrs
}

func (r *DNSResolver) logger() Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return DiscardLogger
}
