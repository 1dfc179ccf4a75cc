package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	// (not including the initial attempt).
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay grows after each retry.
	Multiplier float64
}

// DefaultRetryConfig returns sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}
}

// jitter adds U(0.1, 0.3)*delay of randomness to spread out retries.
func jitter(delay time.Duration) time.Duration {
	factor := 0.1 + rand.Float64()*0.2
	return delay + time.Duration(float64(delay)*factor)
}

// Retry executes fn with exponential backoff.
//
// Only retryable errors (KindTransient) are retried; any other error
// propagates immediately. The delay grows by Multiplier after each
// attempt, capped at MaxDelay, with U(0.1, 0.3) proportional jitter.
// Context cancellation aborts the wait and returns ctx.Err().
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions returning a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.BaseDelay

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		if !IsRetryable(err) || attempt >= cfg.MaxRetries {
			if attempt > 0 {
				return zero, Wrap(KindOf(err), fmt.Sprintf("failed after %d retries", attempt), err)
			}
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(jitter(delay)):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
