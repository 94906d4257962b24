// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import "time"

// EventKind is the kind of an [*Event].
type EventKind string

const (
	// EventResolveDone is emitted when resolving the hostname completes.
	EventResolveDone = EventKind("resolve_done")

	// EventTCPConnectDone is emitted when a TCP connect completes.
	EventTCPConnectDone = EventKind("tcp_connect_done")

	// EventTLSHandshakeDone is emitted when a TLS handshake completes or
	// when configuring TLS fails before the handshake.
	EventTLSHandshakeDone = EventKind("tls_handshake_done")

	// EventConnectDone is emitted when [*Connector.Connect] completes.
	EventConnectDone = EventKind("connect_done")
)

// Event is a structured observability event.
//
// The Elapsed and Err fields refer to the operation the event
// completes. Not every field is set for every kind.
type Event struct {
	Kind      EventKind
	Hostname  string
	Addrs     []string
	Candidate Candidate
	SNI       string
	Err       error
	Elapsed   time.Duration
}

// Observer collects [*Event] values. Implementations MUST be safe for
// concurrent use and SHOULD NOT block.
type Observer interface {
	OnEvent(ev *Event)
}

// ObserverFunc adapts a function to the [Observer] interface.
type ObserverFunc func(ev *Event)

// OnEvent implements [Observer].
func (fx ObserverFunc) OnEvent(ev *Event) {
	fx(ev)
}

type discardObserver struct{}

func (discardObserver) OnEvent(ev *Event) {}
