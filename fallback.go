// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

//
// fallback table - static hostname to candidates mapping consulted when
// the resolver is unreliable, possibly with custom SNIs
//

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"slices"

	"github.com/tailscale/hujson"
)

// FallbackMode controls when [FallbackTable] entries are used.
type FallbackMode int

const (
	// FallbackOnFailure uses the fallback entries only when the resolver
	// fails, times out, or returns an empty list.
	FallbackOnFailure = FallbackMode(iota)

	// FallbackAlwaysAppend also appends the fallback entries, as
	// lower priority candidates, after a successful resolution.
	FallbackAlwaysAppend
)

// String implements [fmt.Stringer].
func (m FallbackMode) String() string {
	switch m {
	case FallbackOnFailure:
		return "on-failure-only"
	case FallbackAlwaysAppend:
		return "always-append"
	default:
		return fmt.Sprintf("FallbackMode(%d)", int(m))
	}
}

// parseFallbackMode is the inverse of [FallbackMode.String].
func parseFallbackMode(value string) (FallbackMode, error) {
	switch value {
	case "", "on-failure-only":
		return FallbackOnFailure, nil
	case "always-append":
		return FallbackAlwaysAppend, nil
	default:
		return 0, fmt.Errorf("%w: unknown fallback mode %q", ErrInvalidConfig, value)
	}
}

// FallbackTable maps hostnames to ordered candidate lists.
//
// Construct using [NewFallbackTable] or [ParseFallbackTable]. A nil
// or zero value table is valid and has no entries. The table is
// immutable once constructed and safe for concurrent use.
type FallbackTable struct {
	entries map[string][]Candidate
}

// NewFallbackTable creates a [*FallbackTable] from a deep copy of the given
// map. Hostnames are normalized and every candidate address must be
// an IP literal.
func NewFallbackTable(entries map[string][]Candidate) (*FallbackTable, error) {
	ft := &FallbackTable{entries: make(map[string][]Candidate, len(entries))}
	for hostname, candidates := range entries {
		key, err := normalizeHostname(hostname)
		if err != nil {
			return nil, fmt.Errorf("%w: fallback hostname %q: %s", ErrInvalidConfig, hostname, err)
		}
		for _, c := range candidates {
			if net.ParseIP(c.Address) == nil {
				return nil, fmt.Errorf("%w: fallback for %q: not an IP address: %q",
					ErrInvalidConfig, hostname, c.Address)
			}
		}
		ft.entries[key] = appendCandidates(ft.entries[key], candidates...)
	}
	return ft, nil
}

// Lookup returns a copy of the candidates for hostname and whether
// the hostname has a non-empty entry.
func (ft *FallbackTable) Lookup(hostname string) ([]Candidate, bool) {
	if ft == nil {
		return nil, false
	}
	key, err := normalizeHostname(hostname)
	if err != nil {
		return nil, false
	}
	candidates := ft.entries[key]
	if len(candidates) <= 0 {
		return nil, false
	}
	return slices.Clone(candidates), true
}

// Len returns the number of hostnames in the table.
func (ft *FallbackTable) Len() int {
	if ft == nil {
		return 0
	}
	return len(ft.entries)
}

// ParseFallbackTable parses a HuJSON document mapping each hostname
// to its candidates. For example:
//
//	{
//		// reachable through a CDN front
//		"blocked.example.com": [
//			{"address": "203.0.113.9", "sni": "cdn.example.com"},
//			{"address": "2001:db8::9"},
//		],
//	}
func ParseFallbackTable(data []byte) (*FallbackTable, error) {
	data, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	var entries map[string][]Candidate
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return NewFallbackTable(entries)
}

// LoadFallbackTableFile reads and parses the fallback table at the given path.
func LoadFallbackTableFile(path string) (*FallbackTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFallbackTable(data)
}
