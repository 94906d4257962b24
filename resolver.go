// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"net"
	"time"
)

// Resolver resolves a hostname to an ordered list of IP addresses.
//
// Implementations MUST be safe for concurrent use and SHOULD honor the
// context. The order of the returned addresses is the dial priority.
type Resolver interface {
	LookupHost(ctx context.Context, hostname string) ([]string, error)
}

// ResolverFunc adapts a function to the [Resolver] interface.
type ResolverFunc func(ctx context.Context, hostname string) ([]string, error)

var _ Resolver = ResolverFunc(nil)

// LookupHost implements [Resolver].
func (fx ResolverFunc) LookupHost(ctx context.Context, hostname string) ([]string, error) {
	return fx(ctx, hostname)
}

// NetResolver is typically [*net.Resolver].
type NetResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// NewSystemResolver returns the [Resolver] using the system's resolver
// through [net.DefaultResolver].
func NewSystemResolver() Resolver {
	return NewNetResolver(net.DefaultResolver)
}

// NewNetResolver returns a [Resolver] using the given [NetResolver].
func NewNetResolver(reso NetResolver) Resolver {
	return &resolverShortCircuitIPAddr{reso}
}

// resolverShortCircuitIPAddr recognizes when the input hostname is an
// IP address and returns it immediately to the caller.
type resolverShortCircuitIPAddr struct {
	reso Resolver
}

func (r *resolverShortCircuitIPAddr) LookupHost(ctx context.Context, hostname string) ([]string, error) {
	if net.ParseIP(hostname) != nil {
		return []string{hostname}, nil
	}
	return r.reso.LookupHost(ctx, hostname)
}

// resolverResult is the result of running a [Resolver] in the background.
type resolverResult struct {
	addrs []string
	err   error
}

// resolveWithTimeout runs the resolver with the given timeout, abandoning it
// if it does not honor the context. The returned error is a [*ResolveError].
func resolveWithTimeout(
	ctx context.Context, reso Resolver, hostname string, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, errStageTimeout)
	defer cancel()

	// Run in the background so that a resolver ignoring the context does
	// not block us; the buffered channel lets the goroutine always exit.
	resch := make(chan *resolverResult, 1)
	go func() {
		addrs, err := reso.LookupHost(ctx, hostname)
		resch <- &resolverResult{addrs, err}
	}()

	select {
	case <-ctx.Done():
		if context.Cause(ctx) == errStageTimeout {
			return nil, &ResolveError{Hostname: hostname, Kind: ErrResolutionTimedOut, Err: ctx.Err()}
		}
		return nil, &ResolveError{Hostname: hostname, Kind: ErrResolutionFailed, Err: ctx.Err()}

	case res := <-resch:
		switch {
		case res.err != nil:
			kind := ErrResolutionFailed
			if context.Cause(ctx) == errStageTimeout {
				kind = ErrResolutionTimedOut
			}
			return nil, &ResolveError{Hostname: hostname, Kind: kind, Err: res.err}
		case len(res.addrs) <= 0:
			return nil, &ResolveError{Hostname: hostname, Kind: ErrResolutionFailed, Err: errNoAddresses}
		default:
			return res.addrs, nil
		}
	}
}

// lookupCandidates resolves hostname and merges the result with the fallback
// table according to the fallback mode. It returns the candidates, which MAY
// be empty, and the resolution error, which MAY be non-nil even when we
// have fallback candidates.
func (c *Connector) lookupCandidates(
	ctx context.Context, logger Logger, hostname string) ([]Candidate, error) {
	ol := newOperationLogger(logger, "Resolve %s", hostname)
	t0 := time.Now()
	addrs, err := resolveWithTimeout(ctx, c.config.Resolver, hostname, c.config.ResolveTimeout)
	ol.Stop(err)
	c.config.Observer.OnEvent(&Event{
		Kind:     EventResolveDone,
		Hostname: hostname,
		Addrs:    addrs,
		Err:      err,
		Elapsed:  time.Since(t0),
	})

	fallback, found := c.config.FallbackTable.Lookup(hostname)

	// on failure we use the fallback-only list, which may be empty
	if err != nil {
		if found {
			logger.Infof("using %d fallback candidates for %s", len(fallback), hostname)
		}
		return fallback, err
	}

	candidates := newCandidates(addrs)
	if found && c.config.FallbackMode == FallbackAlwaysAppend {
		logger.Debugf("appending %d fallback candidates for %s", len(fallback), hostname)
		candidates = appendCandidates(candidates, fallback...)
	}
	return candidates, nil
}
