package actions

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	testCases := []struct {
		name     string
		config   models.RetryConfig
		attempt  int
		expected time.Duration
	}{
		{"linear first", models.RetryConfig{BackoffStrategy: models.BackoffLinear, InitialDelay: 100}, 1, 100 * time.Millisecond},
		{"linear third", models.RetryConfig{BackoffStrategy: models.BackoffLinear, InitialDelay: 100}, 3, 300 * time.Millisecond},
		{"default is linear", models.RetryConfig{InitialDelay: 100}, 2, 200 * time.Millisecond},
		{"exponential first", models.RetryConfig{BackoffStrategy: models.BackoffExponential, InitialDelay: 100}, 1, 100 * time.Millisecond},
		{"exponential fourth", models.RetryConfig{BackoffStrategy: models.BackoffExponential, InitialDelay: 100}, 4, 800 * time.Millisecond},
		{"no delay", models.RetryConfig{BackoffStrategy: models.BackoffExponential}, 3, 0},
		{"attempt zero", models.RetryConfig{InitialDelay: 100}, 0, 0},
		{"exponential capped", models.RetryConfig{BackoffStrategy: models.BackoffExponential, InitialDelay: 1000}, 35, MaxBackoff},
		{"exponential far attempt", models.RetryConfig{BackoffStrategy: models.BackoffExponential, InitialDelay: 1000}, 200, MaxBackoff},
		{"linear capped", models.RetryConfig{InitialDelay: 1000}, 1_000_000, MaxBackoff},
		{"initial delay above cap", models.RetryConfig{InitialDelay: int64(time.Hour / time.Millisecond)}, 1, MaxBackoff},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Backoff(tc.config, tc.attempt))
		})
	}
}

func TestBackoff_NeverNegative(t *testing.T) {
	config := models.RetryConfig{BackoffStrategy: models.BackoffExponential, InitialDelay: 1000}

	previous := time.Duration(0)

	for attempt := 1; attempt <= 100; attempt++ {
		delay := Backoff(config, attempt)
		require.Positive(t, delay, "attempt %d", attempt)
		require.GreaterOrEqual(t, delay, previous, "attempt %d", attempt)
		require.LessOrEqual(t, delay, MaxBackoff, "attempt %d", attempt)

		previous = delay
	}
}

func TestWait(t *testing.T) {
	require.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Wait(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
