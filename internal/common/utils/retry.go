package utils

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryConfig holds configuration for retry operations with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries (caps exponential growth)
	MaxDelay time.Duration

	// BackoffFactor is the multiplier for exponential backoff (e.g., 2.0 doubles delay)
	BackoffFactor float64

	// JitterFactor adds randomness to delays (0.0-1.0, where 0.1 = 10% jitter)
	JitterFactor float64

	// RetryableErrors determines which errors should trigger a retry.
	// If nil, all errors are considered retryable.
	RetryableErrors func(error) bool

	// WaitHint lets an error dictate the next delay instead of the backoff
	// schedule, e.g. a server-provided reset time. Returning ok=false falls
	// back to the schedule.
	WaitHint func(error) (wait time.Duration, ok bool)
}

// DefaultRetryConfig returns a sensible default retry configuration.
//
// Default settings:
//   - MaxAttempts: 3 (initial attempt + 2 retries)
//   - InitialDelay: 500 milliseconds
//   - MaxDelay: 10 seconds
//   - BackoffFactor: 2.0 (exponential backoff)
//   - JitterFactor: 0.1 (10% randomization)
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// RetryWithBackoff executes fn up to MaxAttempts times with exponentially
// increasing delays between attempts.
//
// Returns nil on success, the original error if it is not retryable,
// "max retries exceeded" wrapping the last error when attempts run out, or
// "retry cancelled" wrapping the context error.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return err
		}

		if attempt == config.MaxAttempts {
			break
		}

		wait := withJitter(delay, config.JitterFactor)
		if config.WaitHint != nil {
			if hinted, ok := config.WaitHint(err); ok {
				wait = hinted
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w: %w", ctx.Err(), lastErr)
		case <-timer.C:
		}

		delay = NextDelay(delay, config.BackoffFactor, config.MaxDelay)
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// NextDelay grows delay by factor, capped at max.
func NextDelay(delay time.Duration, factor float64, max time.Duration) time.Duration {
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(delay) * factor)
	if max > 0 && next > max {
		next = max
	}
	return next
}

func withJitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	jitter := time.Duration(float64(delay) * factor)
	return delay + time.Duration(randomInt64n(int64(jitter)))
}

// randomInt64n returns a random int64 in [0, n) from crypto/rand.
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano() % n
	}

	return int64(binary.BigEndian.Uint64(buf[:])>>1) % n
}
