package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/memorybear/engine/internal/memerr"
)

// RetryConfig tunes [Retry]'s backoff schedule.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	// Default: 2.
	MaxRetries int

	// BaseDelay is the delay before the first retry. Default: 200ms.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 5s.
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// Retry calls fn, retrying with capped exponential backoff while fn returns
// an error classified as [memerr.KindExternalTransient]. Any other error
// (including a nil error) stops the loop immediately. ctx cancellation
// aborts the wait between attempts.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return memerr.FromContext(op, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !memerr.Retryable(lastErr) {
			return lastErr
		}
		slog.Warn("retrying after transient error",
			"op", op, "attempt", attempt+1, "max_retries", cfg.MaxRetries, "error", lastErr)
	}
	return lastErr
}
