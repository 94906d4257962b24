// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// Default timeouts used when the corresponding [Config] field is zero.
const (
	DefaultResolveTimeout   = 1 * time.Second
	DefaultConnectTimeout   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// DefaultNextProtos is the default ALPN list. We only advertise HTTP/1.1
// because the stream is meant for an HTTP/1.1 engine.
var DefaultNextProtos = []string{"http/1.1"}

// Config contains the [*Connector] configuration.
//
// The zero value is valid: it uses the system resolver, verifies certificates,
// has no fallback entries, uses the default timeouts, and tries the
// candidates sequentially.
type Config struct {
	// ConnectTimeout is the per-candidate TCP connect timeout.
	ConnectTimeout time.Duration

	// FallbackMode controls when we use the FallbackTable.
	FallbackMode FallbackMode

	// FallbackTable contains the OPTIONAL static fallback candidates.
	FallbackTable *FallbackTable

	// HandshakeTimeout is the per-candidate TLS handshake timeout.
	HandshakeTimeout time.Duration

	// IgnoreCertificateErrors disables certificate verification
	// entirely, including hostname verification.
	IgnoreCertificateErrors bool

	// Logger is the OPTIONAL [Logger].
	Logger Logger

	// NetDialer is the OPTIONAL [NetDialer] used for TCP connect.
	NetDialer NetDialer

	// NextProtos contains the ALPN protocols. If nil, we
	// use [DefaultNextProtos].
	NextProtos []string

	// Observer is the OPTIONAL [Observer].
	Observer Observer

	// PlaceholderSNI is the SNI used with [SNIPlaceholder].
	PlaceholderSNI string

	// RaceStagger is the OPTIONAL base delay between dials when
	// using [StrategyRace]. See [Scheduler.RaceStagger].
	RaceStagger time.Duration

	// ResolveTimeout is the resolution timeout.
	ResolveTimeout time.Duration

	// Resolver is the OPTIONAL [Resolver]. If nil, we use [NewSystemResolver].
	Resolver Resolver

	// RootCAs contains the OPTIONAL root CAs. If nil, we use the system roots.
	RootCAs *x509.CertPool

	// SNIMode controls the SNI sent when a candidate has no override.
	SNIMode SNIMode

	// Strategy is the scheduling [Strategy].
	Strategy Strategy
}

// withDefaults returns a copy of the config with defaults applied.
func (c *Config) withDefaults() (*Config, error) {
	out := *c
	if out.Resolver == nil {
		out.Resolver = NewSystemResolver()
	}
	if out.Logger == nil {
		out.Logger = DiscardLogger
	}
	if out.Observer == nil {
		out.Observer = discardObserver{}
	}
	if out.NextProtos == nil {
		out.NextProtos = DefaultNextProtos
	}
	if out.PlaceholderSNI == "" {
		out.PlaceholderSNI = DefaultPlaceholderSNI
	}
	if out.ResolveTimeout == 0 {
		out.ResolveTimeout = DefaultResolveTimeout
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = DefaultHandshakeTimeout
	}
	switch {
	case out.ResolveTimeout < 0, out.ConnectTimeout < 0, out.HandshakeTimeout < 0, out.RaceStagger < 0:
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	case out.Strategy != StrategySequential && out.Strategy != StrategyRace:
		return nil, fmt.Errorf("%w: unknown strategy: %s", ErrInvalidConfig, out.Strategy)
	case out.FallbackMode != FallbackOnFailure && out.FallbackMode != FallbackAlwaysAppend:
		return nil, fmt.Errorf("%w: unknown fallback mode: %s", ErrInvalidConfig, out.FallbackMode)
	case out.SNIMode != SNIHostname && out.SNIMode != SNIPlaceholder:
		return nil, fmt.Errorf("%w: unknown SNI mode: %d", ErrInvalidConfig, out.SNIMode)
	}
	return &out, nil
}

// configFileVersion is the current version of the config document.
const configFileVersion = 1

// configFile is the on-disk representation of a [Config].
type configFile struct {
	Version            int
	VerifyCertificates *bool
	Strategy           string
	FallbackMode       string
	SNIMode            string
	PlaceholderSNI     string
	ResolveTimeout     string
	ConnectTimeout     string
	HandshakeTimeout   string
	RaceStagger        string
	NextProtos         []string
	Fallback           map[string][]Candidate
}

// ParseConfig parses a [*Config] from a HuJSON document (JSON with comments
// and trailing commas). For example:
//
//	{
//		"Version": 1,
//		// trade security for reachability
//		"VerifyCertificates": false,
//		"Strategy": "concurrent-race",
//		"FallbackMode": "always-append",
//		"SNIMode": "placeholder",
//		"ResolveTimeout": "1s",
//		"ConnectTimeout": "5s",
//		"HandshakeTimeout": "10s",
//		"Fallback": {
//			"www.example.com": [{"address": "203.0.113.9", "sni": "cdn.example.com"}],
//		},
//	}
//
// Go-only fields (Resolver, Logger, RootCAs, etc.) are left unset.
func ParseConfig(data []byte) (*Config, error) {
	data, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	var root configFile
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if root.Version != configFileVersion {
		return nil, fmt.Errorf("%w: expected version %d, got %d", ErrInvalidConfig, configFileVersion, root.Version)
	}

	config := &Config{
		IgnoreCertificateErrors: root.VerifyCertificates != nil && !*root.VerifyCertificates,
		NextProtos:              root.NextProtos,
		PlaceholderSNI:          root.PlaceholderSNI,
	}
	if config.Strategy, err = parseStrategy(root.Strategy); err != nil {
		return nil, err
	}
	if config.FallbackMode, err = parseFallbackMode(root.FallbackMode); err != nil {
		return nil, err
	}
	if config.SNIMode, err = parseSNIMode(root.SNIMode); err != nil {
		return nil, err
	}
	durations := []struct {
		value string
		dest  *time.Duration
	}{
		{root.ResolveTimeout, &config.ResolveTimeout},
		{root.ConnectTimeout, &config.ConnectTimeout},
		{root.HandshakeTimeout, &config.HandshakeTimeout},
		{root.RaceStagger, &config.RaceStagger},
	}
	for _, entry := range durations {
		if entry.value == "" {
			continue
		}
		if *entry.dest, err = time.ParseDuration(entry.value); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
		}
	}
	if len(root.Fallback) > 0 {
		if config.FallbackTable, err = NewFallbackTable(root.Fallback); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// LoadConfigFile reads and parses the config document at the given path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// parseSNIMode parses the SNIMode field of the config document.
func parseSNIMode(value string) (SNIMode, error) {
	switch value {
	case "", "hostname":
		return SNIHostname, nil
	case "placeholder":
		return SNIPlaceholder, nil
	default:
		return 0, fmt.Errorf("%w: unknown SNI mode %q", ErrInvalidConfig, value)
	}
}
