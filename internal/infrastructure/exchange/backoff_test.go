package exchange_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnex/crypto_trade_engine/internal/domain"
	"github.com/omnex/crypto_trade_engine/internal/infrastructure/exchange"
)

func fastPolicy(attempts int) exchange.RetryPolicy {
	return exchange.RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	}
}

func TestRetryPolicy_DelayDoublesAndCaps(t *testing.T) {
	p := exchange.RetryPolicy{BaseDelay: time.Second, MaxDelay: 8 * time.Second}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(10))
	assert.Equal(t, 8*time.Second, p.Delay(64)) // shift overflow guard
	assert.Equal(t, time.Second, p.Delay(-1))
}

func TestRetry_BoundedUnderSustainedRateLimit(t *testing.T) {
	calls := 0
	err := exchange.Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return domain.ErrRateLimited
	})

	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 3, calls, "exactly MaxAttempts calls, never more")
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	for _, terminal := range []error{domain.ErrRejectedByExchange, domain.ErrAuthFailure, domain.ErrOutcomeUnknown} {
		calls := 0
		err := exchange.Retry(context.Background(), fastPolicy(5), func() error {
			calls++
			return terminal
		})
		require.ErrorIs(t, err, terminal)
		assert.Equal(t, 1, calls)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := exchange.Retry(context.Background(), fastPolicy(4), func() error {
		calls++
		if calls < 3 {
			return domain.ErrTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_HonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exchange.Retry(ctx, exchange.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Minute}, func() error {
		return domain.ErrTransient
	})
	require.True(t, errors.Is(err, context.Canceled))
}
