package retry

import (
	"context"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Retryable decides whether a failed attempt may be retried. Nil retries everything.
	Retryable func(error) bool
}

// DoAttempt runs fn with exponential backoff until it succeeds, attempts run out or
// Retryable rejects the error. fn receives the zero-based attempt number so callers
// can change strategy between attempts.
func DoAttempt(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	var lastErr error
	delay := cfg.Delay
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			break
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(delay):
			}
		}

		if cfg.Multiplier > 0 {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
		}
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
