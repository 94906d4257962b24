// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"errors"
	"fmt"
	"strings"
)

// These errors classify a failure. Use [errors.Is] to check for them, since they
// are always wrapped by [*ResolveError], [*CandidateError], or [*ConnectError].
var (
	// ErrMissingHostname means the authority has no hostname.
	ErrMissingHostname = errors.New("missing hostname")

	// ErrResolutionFailed means the resolver failed or returned no addresses.
	ErrResolutionFailed = errors.New("resolution failed")

	// ErrResolutionTimedOut means the resolver did not answer in time.
	ErrResolutionTimedOut = errors.New("resolution timed out")

	// ErrNoCandidates means there is no address to dial after resolution
	// and after consulting the fallback table.
	ErrNoCandidates = errors.New("no address available")

	// ErrTCPConnectFailed means the TCP connect failed.
	ErrTCPConnectFailed = errors.New("tcp connect failed")

	// ErrTCPConnectTimedOut means the TCP connect did not complete in time.
	ErrTCPConnectTimedOut = errors.New("tcp connect timed out")

	// ErrTLSConfigureFailed means we could not build the TLS session.
	ErrTLSConfigureFailed = errors.New("tls configure failed")

	// ErrTLSHandshakeFailed means the TLS handshake failed, including
	// failures to verify the certificate chain.
	ErrTLSHandshakeFailed = errors.New("tls handshake failed")

	// ErrTLSHandshakeTimedOut means the TLS handshake did not complete in time.
	ErrTLSHandshakeTimedOut = errors.New("tls handshake timed out")

	// ErrAllCandidatesFailed means every candidate failed.
	ErrAllCandidatesFailed = errors.New("all candidates failed")

	// ErrEmptyCandidates means [*Scheduler.Schedule] was given no candidates.
	ErrEmptyCandidates = errors.New("empty candidate list")

	// ErrInvalidConfig means the [Config] is not usable.
	ErrInvalidConfig = errors.New("invalid config")
)

// errStageTimeout is the context cause used when a stage timeout expires.
var errStageTimeout = errors.New("stage timeout expired")

// errNoAddresses is the cause used when a resolver succeeds with zero addresses.
var errNoAddresses = errors.New("resolver returned no addresses")

// ResolveError is the error returned when resolving a hostname fails.
type ResolveError struct {
	// Hostname is the hostname we were resolving.
	Hostname string

	// Kind is either [ErrResolutionFailed] or [ErrResolutionTimedOut].
	Kind error

	// Err is the underlying cause.
	Err error
}

var _ error = &ResolveError{}

// Error implements error.
func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %s: %s", e.Hostname, e.Kind, e.Err)
}

// Unwrap allows [errors.Is] to match both the Kind and the cause.
func (e *ResolveError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Stage identifies which stage of dialing a candidate failed.
type Stage string

const (
	// StageTCPConnect is the TCP connect stage.
	StageTCPConnect = Stage("tcp_connect")

	// StageTLSConfigure is the TLS session setup stage.
	StageTLSConfigure = Stage("tls_configure")

	// StageTLSHandshake is the TLS handshake stage.
	StageTLSHandshake = Stage("tls_handshake")
)

// CandidateError is the error returned when dialing a single [Candidate] fails.
type CandidateError struct {
	// Candidate is the candidate we were dialing.
	Candidate Candidate

	// Port is the port we were dialing.
	Port int

	// Stage is the stage that failed.
	Stage Stage

	// Kind is one of the ErrTCP* or ErrTLS* sentinel errors.
	Kind error

	// Err is the underlying cause.
	Err error
}

var _ error = &CandidateError{}

// Error implements error.
func (e *CandidateError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Candidate.endpoint(e.Port), e.Kind, e.Err)
}

// Unwrap allows [errors.Is] to match both the Kind and the cause.
func (e *CandidateError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Timeout returns whether the failure was caused by a stage timeout.
func (e *CandidateError) Timeout() bool {
	return e.Kind == ErrTCPConnectTimedOut || e.Kind == ErrTLSHandshakeTimedOut
}

// ConnectError is the single error that crosses the [*Connector] boundary
// when we fail to establish a stream for an authority.
type ConnectError struct {
	// Hostname is the authority hostname.
	Hostname string

	// Port is the authority port.
	Port int

	// Kind is [ErrAllCandidatesFailed], [ErrNoCandidates], or [ErrEmptyCandidates].
	Kind error

	// Strategy is the scheduling strategy that was used.
	Strategy Strategy

	// Candidates contains the candidates we attempted, in attempt order.
	Candidates []Candidate

	// Errs contains the per-candidate errors we collected, one for each
	// entry in Candidates. With [StrategySequential] the last entry is
	// the last recorded error.
	Errs []error

	// ContextErr is the OPTIONAL error of the context that stopped
	// [StrategySequential] before it attempted every candidate.
	ContextErr error

	// ResolveErr is the OPTIONAL resolution error. It MAY be set even
	// when we dialed candidates from the fallback table.
	ResolveErr error
}

var _ error = &ConnectError{}

// Attempts returns the number of dial attempts that were made.
func (e *ConnectError) Attempts() int {
	return len(e.Candidates)
}

// Error implements error.
func (e *ConnectError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "sniconnect: %s: %s", e.Hostname, e.Kind)
	if len(e.Candidates) > 0 {
		addrs := make([]string, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			addrs = append(addrs, c.String())
		}
		fmt.Fprintf(&sb, " (%d attempts: %s)", len(e.Candidates), strings.Join(addrs, ", "))
	}
	if e.ResolveErr != nil {
		fmt.Fprintf(&sb, ": %s", e.ResolveErr)
	}
	switch {
	case len(e.Errs) <= 0:
		// nothing
	case e.Strategy == StrategySequential && e.Kind == ErrAllCandidatesFailed:
		fmt.Fprintf(&sb, ": last error: %s", e.Errs[len(e.Errs)-1])
	default:
		msgs := make([]string, 0, len(e.Errs))
		for _, err := range e.Errs {
			msgs = append(msgs, err.Error())
		}
		fmt.Fprintf(&sb, ": %s", strings.Join(msgs, "; "))
	}
	if e.ContextErr != nil {
		fmt.Fprintf(&sb, ": interrupted: %s", e.ContextErr)
	}
	return sb.String()
}

// Unwrap allows [errors.Is] and [errors.As] to match the Kind and every collected error.
func (e *ConnectError) Unwrap() []error {
	errorv := []error{e.Kind}
	if e.ResolveErr != nil {
		errorv = append(errorv, e.ResolveErr)
	}
	if e.ContextErr != nil {
		errorv = append(errorv, e.ContextErr)
	}
	return append(errorv, e.Errs...)
}
