// Package retry runs calls against flaky upstreams with bounded, jittered
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy describes how a call is retried
type Policy struct {
	Attempts   int           // total attempts, including the first
	Multiplier time.Duration // base of the exponential window
	Max        time.Duration // cap of any single wait

	// Retryable reports whether err is worth another attempt.
	// nil retries every error.
	Retryable func(err error) bool

	// Sleep waits for d or until ctx is done; defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ModelPolicy is the default policy for chat model calls
func ModelPolicy(retryable func(error) bool) Policy {
	return Policy{Attempts: 5, Multiplier: 3 * time.Second, Max: 60 * time.Second, Retryable: retryable}
}

// SearchPolicy is the default policy for web search calls
func SearchPolicy(retryable func(error) bool) Policy {
	return Policy{Attempts: 3, Multiplier: 3 * time.Second, Max: 60 * time.Second, Retryable: retryable}
}

// Wait returns a random wait for the given 1-based attempt, drawn uniformly
// from [0, min(Max, Multiplier * 2^(attempt-1))]
func (p Policy) Wait(attempt int) time.Duration {
	window := p.Multiplier
	for i := 1; i < attempt && window < p.Max; i++ {
		window *= 2
	}
	if p.Max > 0 && window > p.Max {
		window = p.Max
	}
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(window) + 1))
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			break
		}
		if err := sleep(ctx, p.Wait(attempt)); err != nil {
			return zero, errors.Join(lastErr, err)
		}
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
