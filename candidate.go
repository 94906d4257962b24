// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Authority identifies the target of a connection.
type Authority struct {
	// Hostname is the hostname to connect to.
	Hostname string

	// Port is the TCP port to connect to.
	Port int

	// TLS indicates the scheme implies TLS. The [*Connector] only
	// dials TLS, so this is informational for consumers.
	TLS bool
}

// String returns the authority as "hostname:port".
func (a Authority) String() string {
	return net.JoinHostPort(a.Hostname, strconv.Itoa(a.Port))
}

// ParseAuthority parses "hostname:port" or "hostname" into an [Authority]. A
// missing port defaults to 443. Brackets around IPv6 literals are removed.
func ParseAuthority(address string) (Authority, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		// a missing port is fine; anything else is not
		var addrErr *net.AddrError
		if !errors.As(err, &addrErr) || !strings.HasPrefix(addrErr.Err, "missing port") {
			return Authority{}, err
		}
		host, port = strings.Trim(address, "[]"), "443"
	}
	portnum, err := strconv.Atoi(port)
	if err != nil || portnum <= 0 || portnum > 65535 {
		return Authority{}, fmt.Errorf("invalid port: %q", port)
	}
	return Authority{Hostname: host, Port: portnum, TLS: true}, nil
}

// AuthorityFromURL builds an [Authority] from the given URL. The default
// port is 443 for https and 80 for any other scheme.
func AuthorityFromURL(URL *url.URL) (Authority, error) {
	isTLS := URL.Scheme == "https"
	port := URL.Port()
	if port == "" {
		port = "80"
		if isTLS {
			port = "443"
		}
	}
	portnum, err := strconv.Atoi(port)
	if err != nil || portnum <= 0 || portnum > 65535 {
		return Authority{}, fmt.Errorf("invalid port: %q", port)
	}
	return Authority{Hostname: URL.Hostname(), Port: portnum, TLS: isTLS}, nil
}

// hostnameProfile is like [idna.Lookup] but accepts names that are not
// strict STD3 names (e.g., "my_host.example"), which resolvers handle fine.
var hostnameProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// normalizeHostname returns the lowercase ASCII form of the given hostname,
// which is the form used for fallback table lookups and for DNS. IP
// literals are returned unchanged.
func normalizeHostname(hostname string) (string, error) {
	if net.ParseIP(hostname) != nil {
		return hostname, nil
	}
	ascii, err := hostnameProfile.ToASCII(strings.TrimSuffix(hostname, "."))
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

// Candidate is an IP address we may dial, with an optional SNI override.
type Candidate struct {
	// Address is the IP address literal.
	Address string `json:"address"`

	// SNI is the OPTIONAL SNI to send instead of the hostname.
	SNI string `json:"sni,omitempty"`
}

// String implements [fmt.Stringer].
func (c Candidate) String() string {
	if c.SNI == "" {
		return c.Address
	}
	return fmt.Sprintf("%s (sni=%s)", c.Address, c.SNI)
}

func (c Candidate) endpoint(port int) string {
	return net.JoinHostPort(c.Address, strconv.Itoa(port))
}

// newCandidates converts resolved addresses into candidates without SNI override.
func newCandidates(addrs []string) []Candidate {
	out := make([]Candidate, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, Candidate{Address: addr})
	}
	return out
}

// appendCandidates appends the extra candidates skipping duplicates.
func appendCandidates(base []Candidate, extra ...Candidate) []Candidate {
	seen := make(map[Candidate]bool, len(base))
	for _, c := range base {
		seen[c] = true
	}
	for _, c := range extra {
		if seen[c] {
			continue
		}
		seen[c] = true
		base = append(base, c)
	}
	return base
}
