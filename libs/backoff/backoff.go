// Package backoff provides exponential backoff with jitter for retry loops.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 32

// Exponential returns base * 2^attempt, capped at max (0 means no cap).
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		if max > 0 {
			return max
		}
		return time.Duration(math.MaxInt64)
	}

	d := time.Duration(int64(base) * multiplier)
	if max > 0 && d > max {
		return max
	}
	return d
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(delay)))
}

// ExponentialWithJitter combines exponential backoff with full jitter
// (the "Full Jitter" strategy: random in [0, base * 2^attempt)).
func ExponentialWithJitter(base time.Duration, attempt int, max time.Duration) time.Duration {
	return FullJitter(Exponential(base, attempt, max))
}

// Sleep waits for d but returns early if the context is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
