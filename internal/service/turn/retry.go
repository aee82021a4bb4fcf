package turn

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/parley-ai/parley/internal/core"
)

// RetryPolicy defines how transient step failures are retried. Only errors
// the domain layer marks retryable (timeouts, rate limits, network) qualify;
// everything else returns immediately.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64 // Exponential factor
}

// StepRetryPolicy returns the policy used for read/analyze/generate steps.
// maxRetries is the number of extra attempts beyond the first.
func StepRetryPolicy(maxRetries int) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryPolicy{
		MaxAttempts:  1 + maxRetries,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.2,
		Multiplier:   2.0,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// RetryNotifyFunc is called before each retry wait.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// Execute runs the function with retry logic.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

// ExecuteWithNotify runs with retry and per-retry notifications.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !core.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if notify != nil {
			notify(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &RetryExhaustedError{Attempts: attempts, LastErr: lastErr}
}

// Delay computes the backoff delay after the given attempt.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		jitter := delay * p.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryExhaustedError indicates all attempts failed with transient errors.
// It unwraps to the last error so category checks still see the real cause.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	_, ok := err.(*RetryExhaustedError)
	return ok
}
