package actions

import (
	"context"
	"math/bits"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

// MaxBackoff caps the delay between two attempts.
const MaxBackoff = 10 * time.Minute

// Backoff returns the delay before retry number attempt (1-based).
// Linear grows as initialDelay*attempt, exponential as initialDelay*2^(attempt-1),
// both capped at MaxBackoff.
func Backoff(config models.RetryConfig, attempt int) time.Duration {
	if config.InitialDelay <= 0 || attempt < 1 {
		return 0
	}

	if config.InitialDelay >= int64(MaxBackoff/time.Millisecond) {
		return MaxBackoff
	}

	base := time.Duration(config.InitialDelay) * time.Millisecond

	var delay time.Duration

	switch config.BackoffStrategy {
	case models.BackoffExponential:
		shift := attempt - 1
		if shift >= bits.Len64(uint64(MaxBackoff)) || base > MaxBackoff>>shift {
			return MaxBackoff
		}

		delay = base << shift
	default:
		if int64(attempt) > int64(MaxBackoff/base) {
			return MaxBackoff
		}

		delay = base * time.Duration(attempt)
	}

	return min(delay, MaxBackoff)
}

// Wait sleeps for delay or returns early with the context error.
func Wait(ctx context.Context, delay time.Duration) error {
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
