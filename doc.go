// SPDX-License-Identifier: GPL-3.0-or-later

// Package sniconnect establishes TLS streams in hostile networks.
//
// A [*Connector] resolves the authority hostname with a [Resolver] bounded
// by a timeout, merges the result with a static [*FallbackTable], and then
// uses a [*Scheduler] to dial the candidates either sequentially or
// concurrently. Each candidate may override the SNI sent on the wire, which
// allows reaching a host through a front that serves its certificate.
//
// Certificate verification is all-or-nothing. When enabled, we always verify
// the chain against the authority hostname, not against the SNI. When
// disabled, no verification at all takes place.
//
// The returned [*Stream] implements [net.Conn] and is ready for an
// HTTP/1.1 engine. Use [*Connector.DialTLSContext] with [net/http.Transport].
//
// Besides the system resolver, we ship DNS over TCP, TLS, and QUIC
// resolvers and a caching resolver. A [*PrometheusObserver] exports
// metrics about the connection establishment stages.
package sniconnect
