package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls the retry loop around an attempt.
type RetryConfig struct {
	// MaxAttempts is the total attempt count including the first try.
	// Default: 3.
	MaxAttempts int

	// BackoffBase is the delay before the first retry; attempt n sleeps
	// base * 2^n. Default: 500ms.
	BackoffBase time.Duration

	// BackoffMax caps the computed delay. Default: 30s.
	BackoffMax time.Duration

	// JitterFraction randomizes the delay by ±fraction. Default: 0.25.
	JitterFraction float64

	// OnRetry, if set, is called before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the shipped retry settings for remote calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// DoVal runs fn until it succeeds, exhausts attempts, or fails terminally.
// Only transient errors are retried: ClientErrors, open circuits, and
// context cancellation stop the loop immediately.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !IsTransient(lastErr) {
			return zero, lastErr
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(backoffDelay(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// Do is DoVal for error-only attempts.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BackoffBase) * math.Pow(2, float64(attempt))
	if delay > float64(cfg.BackoffMax) {
		delay = float64(cfg.BackoffMax)
	}

	if cfg.JitterFraction > 0 {
		spread := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs attempts for an endpoint.
func RetryLogger(endpoint string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying remote call",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
