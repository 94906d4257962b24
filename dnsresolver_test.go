// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"slices"
	"testing"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnstest"
	"github.com/bassosimone/pkitest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// pipeStreamDialer is a [dnsStreamDialer] serving each query over a
// [net.Pipe] using the given handler.
type pipeStreamDialer struct {
	handler func(query *dns.Msg) *dns.Msg
}

var _ dnsStreamDialer = &pipeStreamDialer{}

func (d *pipeStreamDialer) DialContext(ctx context.Context, address netip.AddrPort) (dnsStreamConn, error) {
	client, server := net.Pipe()
	go d.serve(server)
	return &tcpStreamConn{client}, nil
}

func (d *pipeStreamDialer) MutateQuery(query *dnscodec.Query) {
	query.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}

func (d *pipeStreamDialer) serve(conn net.Conn) {
	defer conn.Close()
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return
	}
	rawQuery := make([]byte, int(header[0])<<8|int(header[1]))
	if _, err := io.ReadFull(conn, rawQuery); err != nil {
		return
	}
	query := &dns.Msg{}
	if err := query.Unpack(rawQuery); err != nil {
		return
	}
	rawResp, err := d.handler(query).Pack()
	if err != nil {
		return
	}
	conn.Write(newDNSMsgFrame(rawResp))
}

// newAnswerHandler returns an handler answering with the given addresses
// and failing with SERVFAIL the query types without addresses.
func newAnswerHandler(addrs ...string) func(query *dns.Msg) *dns.Msg {
	return func(query *dns.Msg) *dns.Msg {
		resp := &dns.Msg{}
		resp.SetReply(query)
		q0 := query.Question[0]
		for _, addr := range addrs {
			ip := net.ParseIP(addr)
			hdr := dns.RR_Header{Name: q0.Name, Rrtype: q0.Qtype, Class: dns.ClassINET, Ttl: 60}
			switch {
			case q0.Qtype == dns.TypeA && ip.To4() != nil:
				resp.Answer = append(resp.Answer, &dns.A{Hdr: hdr, A: ip})
			case q0.Qtype == dns.TypeAAAA && ip.To4() == nil:
				resp.Answer = append(resp.Answer, &dns.AAAA{Hdr: hdr, AAAA: ip})
			}
		}
		if len(resp.Answer) <= 0 {
			resp.SetRcode(query, dns.RcodeServerFailure)
		}
		return resp
	}
}

func TestDNSResolverLookupHost(t *testing.T) {
	t.Run("IPv4 before IPv6", func(t *testing.T) {
		dialer := &pipeStreamDialer{handler: newAnswerHandler("2001:db8::1", "10.0.0.1", "10.0.0.2")}
		reso := newDNSResolver("pipe", dialer, netip.AddrPort{})
		addrs, err := reso.LookupHost(context.Background(), "example.test")
		require.NoError(t, err)
		require.Equal(t, []string{"10.0.0.1", "10.0.0.2", "2001:db8::1"}, addrs)
	})

	t.Run("one query failing is fine", func(t *testing.T) {
		dialer := &pipeStreamDialer{handler: newAnswerHandler("2001:db8::1")}
		reso := newDNSResolver("pipe", dialer, netip.AddrPort{})
		addrs, err := reso.LookupHost(context.Background(), "example.test")
		require.NoError(t, err)
		require.Equal(t, []string{"2001:db8::1"}, addrs)
	})

	t.Run("both queries failing", func(t *testing.T) {
		dialer := &pipeStreamDialer{handler: newAnswerHandler()}
		reso := newDNSResolver("pipe", dialer, netip.AddrPort{})
		addrs, err := reso.LookupHost(context.Background(), "example.test")
		require.Error(t, err)
		require.Empty(t, addrs)
	})

	t.Run("no data", func(t *testing.T) {
		dialer := &pipeStreamDialer{handler: func(query *dns.Msg) *dns.Msg {
			resp := &dns.Msg{}
			resp.SetReply(query)
			return resp
		}}
		reso := newDNSResolver("pipe", dialer, netip.AddrPort{})
		addrs, err := reso.LookupHost(context.Background(), "example.test")
		require.Error(t, err)
		require.Empty(t, addrs)
	})

	t.Run("IP addresses", func(t *testing.T) {
		reso := newDNSResolver("pipe", &pipeStreamDialer{}, netip.AddrPort{})
		addrs, err := reso.LookupHost(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, []string{"10.0.0.1"}, addrs)
	})

	t.Run("dial failure", func(t *testing.T) {
		expected := errors.New("connection refused")
		reso := NewDNSResolverTCP(&netDialerStub{
			dialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
				return nil, expected
			},
		}, netip.MustParseAddrPort("10.0.0.53:53"))
		_, err := reso.LookupHost(context.Background(), "example.test")
		require.ErrorIs(t, err, expected)
	})
}

func TestDNSResolverTCP(t *testing.T) {
	dnsConfig := dnstest.NewHandlerConfig()
	dnsConfig.AddNetipAddr("dns.google", netip.MustParseAddr("8.8.4.4"))
	dnsConfig.AddNetipAddr("dns.google", netip.MustParseAddr("8.8.8.8"))
	srv := dnstest.MustNewTCPServer(&net.ListenConfig{}, "127.0.0.1:0", dnstest.NewHandler(dnsConfig))
	defer srv.Close()

	reso := NewDNSResolverTCP(&net.Dialer{}, netip.MustParseAddrPort(srv.Address()))
	addrs, err := reso.LookupHost(context.Background(), "dns.google")
	require.NoError(t, err)
	slices.Sort(addrs)
	require.Equal(t, []string{"8.8.4.4", "8.8.8.8"}, addrs)
}

func TestDNSResolverTLS(t *testing.T) {
	pki := pkitest.MustNewPKI("testdata")
	cert := pki.MustNewCert(&pkitest.SelfSignedCertConfig{
		CommonName:   "dns.example.com",
		DNSNames:     []string{"dns.example.com"},
		IPAddrs:      []net.IP{net.IPv4(127, 0, 0, 1)},
		Organization: []string{"Example"},
	})

	dnsConfig := dnstest.NewHandlerConfig()
	dnsConfig.AddNetipAddr("dns.google", netip.MustParseAddr("8.8.8.8"))
	srv := dnstest.MustNewTLSServer(&net.ListenConfig{}, "127.0.0.1:0", cert, dnstest.NewHandler(dnsConfig))
	defer srv.Close()

	dialer := NewDNSOverTLSDialer("dns.example.com")
	dialer.Config.RootCAs = pki.CertPool()
	reso := NewDNSResolverTLS(dialer, netip.MustParseAddrPort(srv.Address()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addrs, err := reso.LookupHost(ctx, "dns.google")
	require.NoError(t, err)
	require.Contains(t, addrs, "8.8.8.8")
}

func TestDNSStreamDialersMutateQuery(t *testing.T) {
	t.Run("TCP", func(t *testing.T) {
		query := dnscodec.NewQuery("example.com", dns.TypeA)
		(&dnsTCPStreamDialer{}).MutateQuery(query)
		require.Equal(t, uint16(dnscodec.QueryMaxResponseSizeTCP), query.MaxSize)
		require.Zero(t, query.Flags&dnscodec.QueryFlagBlockLengthPadding)
		require.Zero(t, query.Flags&dnscodec.QueryFlagDNSSec)
	})

	t.Run("TLS", func(t *testing.T) {
		query := dnscodec.NewQuery("example.com", dns.TypeA)
		(&dnsTLSStreamDialer{}).MutateQuery(query)
		require.Equal(t, uint16(dnscodec.QueryMaxResponseSizeTCP), query.MaxSize)
		require.NotZero(t, query.Flags&dnscodec.QueryFlagBlockLengthPadding)
		require.NotZero(t, query.Flags&dnscodec.QueryFlagDNSSec)
	})

	t.Run("QUIC", func(t *testing.T) {
		query := dnscodec.NewQuery("example.com", dns.TypeA)
		query.ID = 12345
		(&dnsQUICStreamDialer{}).MutateQuery(query)
		require.Equal(t, uint16(dnscodec.QueryMaxResponseSizeTCP), query.MaxSize)
		require.NotZero(t, query.Flags&dnscodec.QueryFlagBlockLengthPadding)
		require.NotZero(t, query.Flags&dnscodec.QueryFlagDNSSec)
		require.Zero(t, query.ID)
	})
}

func TestNewDNSOverTLSDialer(t *testing.T) {
	dialer := NewDNSOverTLSDialer("dns.example.com")
	require.NotNil(t, dialer.NetDialer)
	require.Equal(t, "dns.example.com", dialer.Config.ServerName)
	require.Contains(t, dialer.Config.NextProtos, "dot")
}

func TestNewDNSOverQUICDialer(t *testing.T) {
	lc := &net.ListenConfig{}
	pconn, err := lc.ListenPacket(context.Background(), "udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pconn.Close()

	dialer := NewDNSOverQUICDialer(pconn, "dns.example.com")
	require.NotNil(t, dialer.Transport)
	require.NotNil(t, dialer.QUICConfig)
	require.Equal(t, "dns.example.com", dialer.TLSConfig.ServerName)
	require.Contains(t, dialer.TLSConfig.NextProtos, "doq")

	reso := NewDNSResolverQUIC(dialer, netip.MustParseAddrPort("127.0.0.1:853"))
	require.Equal(t, "doq", reso.protocol)
}

func TestNewDNSMsgFrame(t *testing.T) {
	frame := newDNSMsgFrame([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Equal(t, []byte{0x00, 0x04, 0xde, 0xad, 0xbe, 0xef}, frame)
	require.Panics(t, func() {
		newDNSMsgFrame(make([]byte, 1<<16))
	})
}
