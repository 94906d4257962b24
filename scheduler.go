// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Strategy is the [*Scheduler] strategy for trying candidates.
type Strategy int

const (
	// StrategySequential tries candidates in order, one at a time,
	// until one of them succeeds.
	StrategySequential = Strategy(iota)

	// StrategyRace dials all candidates concurrently and uses the
	// first one that successfully completes the TLS handshake.
	StrategyRace
)

// String implements [fmt.Stringer].
func (s Strategy) String() string {
	switch s {
	case StrategySequential:
		return "sequential"
	case StrategyRace:
		return "concurrent-race"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// parseStrategy is the inverse of [Strategy.String].
func parseStrategy(value string) (Strategy, error) {
	switch value {
	case "", "sequential":
		return StrategySequential, nil
	case "concurrent-race", "race":
		return StrategyRace, nil
	default:
		return 0, fmt.Errorf("%w: unknown scheduling strategy %q", ErrInvalidConfig, value)
	}
}

// DialFunc dials a single [Candidate]. The [*Scheduler] treats a nil
// stream returned with a nil error as a failed attempt.
type DialFunc func(ctx context.Context, candidate Candidate) (*Stream, error)

// Scheduler runs a [DialFunc] over a list of candidates.
//
// The zero value is a valid sequential scheduler. A [*Scheduler] is
// safe for concurrent use once configured.
type Scheduler struct {
	// Logger is the OPTIONAL logger.
	Logger Logger

	// RaceStagger is the OPTIONAL base delay between starting dials
	// with [StrategyRace]. When zero, all dials start at once; otherwise
	// we use an happy-eyeballs-like, exponentially increasing delay.
	RaceStagger time.Duration

	// Strategy is the [Strategy] to use.
	Strategy Strategy

	// wg tracks the goroutines started in the background.
	wg sync.WaitGroup
}

// WaitGroup returns the [*sync.WaitGroup] tracking the background
// goroutines, which allows tests to make sure the goroutines joined.
func (s *Scheduler) WaitGroup() *sync.WaitGroup {
	return &s.wg
}

// Schedule returns the first [*Stream] established by dial or a [*ConnectError]
// whose Hostname and Port fields are not set. With an empty candidates list, it
// fails with [ErrEmptyCandidates] without dialing.
func (s *Scheduler) Schedule(ctx context.Context, candidates []Candidate, dial DialFunc) (*Stream, error) {
	if len(candidates) <= 0 {
		return nil, &ConnectError{Kind: ErrEmptyCandidates, Strategy: s.Strategy}
	}
	switch s.Strategy {
	case StrategyRace:
		return s.race(ctx, candidates, dial)
	default:
		return s.sequential(ctx, candidates, dial)
	}
}

// sequential implements [StrategySequential].
func (s *Scheduler) sequential(ctx context.Context, candidates []Candidate, dial DialFunc) (*Stream, error) {
	var (
		attempted = []Candidate{}
		errorv    = []error{}
		ctxErr    error
	)
	for _, candidate := range candidates {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		attempted = append(attempted, candidate)
		stream, err := dialStream(ctx, candidate, dial)
		if err != nil {
			s.logger().Debugf("sequential: %s failed: %s", candidate, err)
			errorv = append(errorv, err)
			continue
		}
		return stream, nil
	}
	return nil, &ConnectError{
		Kind:       ErrAllCandidatesFailed,
		Strategy:   StrategySequential,
		Candidates: attempted,
		Errs:       errorv,
		ContextErr: ctxErr,
	}
}

// errNilStream means a [DialFunc] returned neither a stream nor an error.
var errNilStream = errors.New("dial returned a nil stream")

// dialStream calls dial and ensures a nil error comes with a non-nil stream.
func dialStream(ctx context.Context, candidate Candidate, dial DialFunc) (*Stream, error) {
	stream, err := dial(ctx, candidate)
	if err == nil && stream == nil {
		err = errNilStream
	}
	return stream, err
}

// raceResult is the result of a single dial in [StrategyRace].
type raceResult struct {
	index  int
	stream *Stream
	err    error
}

// race implements [StrategyRace].
func (s *Scheduler) race(ctx context.Context, candidates []Candidate, dial DialFunc) (*Stream, error) {
	// Returning cancels the context, telling the losers to stop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The channel is buffered so that workers never block when writing.
	results := make(chan *raceResult, len(candidates))
	for idx, candidate := range candidates {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := raceWaitReady(ctx, happyEyeballsDelay(s.RaceStagger, idx)); err != nil {
				results <- &raceResult{index: idx, err: err}
				return
			}
			stream, err := dialStream(ctx, candidate, dial)
			results <- &raceResult{index: idx, stream: stream, err: err}
		}()
	}

	errorv := make([]error, len(candidates))
	for count := 0; count < len(candidates); count++ {
		res := <-results
		if res.err != nil {
			s.logger().Debugf("race: %s failed: %s", candidates[res.index], res.err)
			errorv[res.index] = res.err
			continue
		}
		s.logger().Debugf("race: %s won", candidates[res.index])
		s.closeLateWinners(results, len(candidates)-count-1)
		return res.stream, nil
	}

	return nil, &ConnectError{
		Kind:       ErrAllCandidatesFailed,
		Strategy:   StrategyRace,
		Candidates: candidates,
		Errs:       errorv,
	}
}

// closeLateWinners reads the remaining results in the background and closes
// the streams that were established after we already had a winner.
func (s *Scheduler) closeLateWinners(results <-chan *raceResult, remaining int) {
	if remaining <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for idx := 0; idx < remaining; idx++ {
			if res := <-results; res.stream != nil {
				res.stream.Close()
			}
		}
	}()
}

// raceWaitReady waits for the given delay to expire or the context to be done.
func raceWaitReady(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// happyEyeballsDelay returns the delay before starting the idx-th attempt: zero
// for the first attempt, baseDelay for the second, then doubling until we reach
// 15 seconds, after which each attempt starts 15 seconds after the previous one.
func happyEyeballsDelay(baseDelay time.Duration, idx int) time.Duration {
	const cutoff = 15 * time.Second
	switch {
	case idx <= 0 || baseDelay <= 0:
		return 0
	case idx == 1:
		return baseDelay
	default:
		delay := baseDelay
		for idx > 1 {
			switch {
			case delay < cutoff/2:
				delay *= 2
			case delay < cutoff:
				delay = cutoff
			default:
				delay += cutoff
			}
			idx -= 1
		}
		return delay
	}
}

func (s *Scheduler) logger() Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return DiscardLogger
}
