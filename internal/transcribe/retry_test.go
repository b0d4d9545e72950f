package transcribe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0

	result, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		}, nil)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	if result != "ok" {
		t.Errorf("Expected result ok, got %q", result)
	}

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	calls := 0

	result, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", ErrRateLimit
			}
			return "recovered", nil
		}, nil)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	if result != "recovered" {
		t.Errorf("Expected result recovered, got %q", result)
	}

	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnFatalError(t *testing.T) {
	calls := 0

	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond},
		func(ctx context.Context) (string, error) {
			calls++
			return "", ErrAuthFailed
		}, nil)
	if err == nil {
		t.Fatal("Expected error for fatal failure")
	}

	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Expected ErrAuthFailed, got %v", err)
	}

	if calls != 1 {
		t.Errorf("Fatal error must not be retried: expected 1 call, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0

	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 4, BaseDelay: time.Millisecond},
		func(ctx context.Context) (string, error) {
			calls++
			return "", ErrTimeout
		}, nil)
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected wrapped ErrTimeout, got %v", err)
	}

	if calls != 4 {
		t.Errorf("Expected 4 calls, got %d", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Retry(ctx, RetryConfig{MaxAttempts: 10, BaseDelay: time.Minute},
		func(ctx context.Context) (string, error) {
			calls++
			cancel()
			return "", ErrRateLimit
		}, nil)
	if err == nil {
		t.Fatal("Expected error after cancellation")
	}

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
}

func TestRetryCustomPredicate(t *testing.T) {
	sticky := errors.New("do not retry this")
	calls := 0

	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, sticky
		},
		func(err error) bool { return !errors.Is(err, sticky) })
	if err == nil {
		t.Fatal("Expected error")
	}

	if calls != 1 {
		t.Errorf("Custom predicate should stop retries: expected 1 call, got %d", calls)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 2 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		ceiling := base << uint(attempt)
		if ceiling > maxDelay || ceiling <= 0 {
			ceiling = maxDelay
		}

		for i := 0; i < 50; i++ {
			delay := backoffDelay(attempt, base, maxDelay)
			if delay < 0 {
				t.Fatalf("Attempt %d: negative delay %v", attempt, delay)
			}
			if delay >= ceiling {
				t.Fatalf("Attempt %d: delay %v not below ceiling %v", attempt, delay, ceiling)
			}
		}
	}
}

func TestWithTimeout(t *testing.T) {
	result, err := WithTimeout(context.Background(), time.Second,
		func(ctx context.Context) (string, error) {
			return "fast", nil
		})
	if err != nil {
		t.Fatalf("WithTimeout failed: %v", err)
	}

	if result != "fast" {
		t.Errorf("Expected result fast, got %q", result)
	}
}

func TestWithTimeoutExpires(t *testing.T) {
	started := time.Now()

	_, err := WithTimeout(context.Background(), 20*time.Millisecond,
		func(ctx context.Context) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "too slow", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})
	if err == nil {
		t.Fatal("Expected timeout error")
	}

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}

	if !IsRetryable(err) {
		t.Error("Per-attempt timeout must be retryable")
	}

	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("Timeout took too long to fire: %v", elapsed)
	}
}

func TestWithTimeoutPropagatesParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithTimeout(ctx, time.Second,
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWithTimeoutDisabled(t *testing.T) {
	// Zero duration means no per-attempt deadline
	result, err := WithTimeout(context.Background(), 0,
		func(ctx context.Context) (int, error) {
			if _, ok := ctx.Deadline(); ok {
				return 0, fmt.Errorf("unexpected deadline")
			}
			return 42, nil
		})
	if err != nil {
		t.Fatalf("WithTimeout failed: %v", err)
	}

	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}
}
