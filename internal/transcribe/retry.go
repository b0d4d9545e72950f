package transcribe

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Default retry parameters.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryConfig contains retry loop configuration
type RetryConfig struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // backoff for the first retry
	MaxDelay    time.Duration // backoff ceiling
}

// withDefaults fills zero fields so a zero RetryConfig is usable.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// Retry runs op until it succeeds, a fatal error occurs, the attempt budget
// is exhausted, or ctx is cancelled. shouldRetry decides whether an error is
// worth another attempt; a nil shouldRetry uses IsRetryable. Backoff between
// attempts is exponential with full jitter: each delay is drawn uniformly
// from [0, min(MaxDelay, BaseDelay*2^attempt)).
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(context.Context) (T, error), shouldRetry func(error) bool) (T, error) {
	cfg = cfg.withDefaults()
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, cfg.BaseDelay, cfg.MaxDelay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}

		if !shouldRetry(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// backoffDelay computes the full-jitter backoff for a zero-based retry
// attempt. Full jitter keeps concurrent clients from synchronizing their
// retries against a rate-limited provider.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	ceiling := base << uint(attempt)
	if ceiling > max || ceiling <= 0 {
		ceiling = max
	}

	return rand.N(ceiling)
}

// WithTimeout runs op with a per-attempt deadline. A deadline overrun is
// reported as ErrTimeout so the retry loop treats it as retryable. The
// overrun attempt keeps running in its goroutine until its own context
// cancellation lands; its result is discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if d <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		result, err := op(attemptCtx)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w: attempt exceeded %v", ErrTimeout, d)
	}
}
