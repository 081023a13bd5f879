package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy is an explicit backoff policy, decoupled from the transport it
// guards: exponential delay from BaseDelay, capped at MaxDelay, with up to
// JitterFraction of random jitter added per attempt.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

// DefaultPolicy returns the policy used for upstream fetches and consumer
// handler retries unless configured otherwise.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}
}

// Backoff returns the delay before the given retry attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return p.BaseDelay
	}
	// 2^31 seconds already dwarfs any sane MaxDelay.
	if attempt > 30 {
		return p.MaxDelay
	}

	backoff := p.BaseDelay * time.Duration(1<<attempt)
	if backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}

	if p.JitterFraction > 0 {
		jitter := time.Duration(rand.Int63n(int64(float64(backoff)*p.JitterFraction) + 1))
		backoff += jitter
	}
	return backoff
}

// Do runs fn up to MaxAttempts times, sleeping the backoff between attempts.
// It returns nil on the first success, the last error otherwise. Context
// cancellation aborts the wait and returns ctx.Err().
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff(attempt - 1)):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
