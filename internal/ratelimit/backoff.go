package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/veridianlabs/storycore/internal/classify"
)

// DoRetryable executes op, retrying with exponential backoff and full
// jitter whenever the returned error implements classify.Retryable and
// reports IsRetryable, using that error's own RetryStrategyParams for the
// initial delay, retry cap, and delay ceiling. On exhaustion the last error
// is returned unchanged, never the first.
func DoRetryable(ctx context.Context, op func() error) error {
	var lastErr error
	attempt := 0
	for {
		attempt++
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		var r classify.Retryable
		retryable, ok := asRetryable(err)
		if !ok || !retryable.IsRetryable() {
			return lastErr
		}
		r = retryable
		initial, maxRetries, maxDelay := r.RetryStrategyParams()
		if attempt > maxRetries {
			return lastErr
		}
		delay := FullJitterBackoff(attempt, initial, maxDelay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func asRetryable(err error) (classify.Retryable, bool) {
	type retryableErr = classify.Retryable
	r, ok := err.(retryableErr)
	if ok {
		return r, true
	}
	// fall back to errors.As semantics for wrapped errors
	type unwrapper interface{ Unwrap() error }
	for {
		u, isUnwrapper := err.(unwrapper)
		if !isUnwrapper {
			return nil, false
		}
		err = u.Unwrap()
		if err == nil {
			return nil, false
		}
		if r, ok := err.(retryableErr); ok {
			return r, true
		}
	}
}

// FullJitterBackoff computes the delay for the given attempt (1-based)
// using exponential growth with factor 2, capped at maxDelay, then applies
// full jitter: a uniform random value in [0, computed delay].
func FullJitterBackoff(attempt int, initial, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	base := float64(initial) * math.Pow(2, float64(attempt-1))
	if base > float64(maxDelay) {
		base = float64(maxDelay)
	}
	jittered := rand.Float64() * base // #nosec G404 -- jitter does not require cryptographic randomness
	return time.Duration(jittered)
}
