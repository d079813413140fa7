package exchange

import (
	"context"
	"time"

	"github.com/omnex/crypto_trade_engine/internal/domain"
)

// RetryPolicy bounds a retry loop: at most MaxAttempts calls, with an
// exponential delay between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Delay returns the backoff before retry number attempt (0-based).
// Logic: BaseDelay * 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		return p.BaseDelay
	}
	// 2^30 seconds already dwarfs any sane cap.
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<attempt)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry runs fn up to p.MaxAttempts times. Only failures that
// domain.Retryable classifies as retryable are re-attempted; anything else
// is returned immediately. The last error is returned when attempts run out.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !domain.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
