package errors

import (
	"context"
	"math/rand"
	"strconv"
	"time"
)

// RetryPolicy configures exponential backoff with full jitter.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff base before jitter.
	BaseDelay time.Duration

	// Factor is the exponential growth factor per attempt.
	Factor float64

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the standard policy for provider calls:
// base 250ms, factor 2, max 5 attempts, full jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   250 * time.Millisecond,
		Factor:      2.0,
		MaxDelay:    8 * time.Second,
	}
}

// Retry executes fn with the given policy. Only retryable errors
// (see IsRetryable) are retried; cancellation short-circuits immediately.
// Rate-limited errors honour a provider-supplied retry_after hint in
// seconds when present.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Wrap(KindCancelled, "operation cancelled", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(policy, attempt, lastErr)
		select {
		case <-ctx.Done():
			return Wrap(KindCancelled, "operation cancelled during backoff", ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}

// backoffDelay computes the wait before the next attempt.
// Uses full jitter: uniform random in [0, base*factor^attempt].
func backoffDelay(policy RetryPolicy, attempt int, err error) time.Duration {
	if hint, ok := RetryAfter(err); ok {
		if secs, perr := strconv.Atoi(hint); perr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	max := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		max *= policy.Factor
	}
	if capped := float64(policy.MaxDelay); policy.MaxDelay > 0 && max > capped {
		max = capped
	}

	return time.Duration(rand.Int63n(int64(max) + 1))
}
