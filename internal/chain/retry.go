package chain

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Sentinel errors for retry logic.
var (
	ErrRetryable = &harvesterr.HarvestError{
		Code:     "RETRYABLE_ERROR",
		Message:  "retryable error",
		ExitCode: harvesterr.ExitGeneral,
	}

	ErrTimeout = &harvesterr.HarvestError{
		Code:     "TIMEOUT",
		Message:  "operation timed out",
		ExitCode: harvesterr.ExitGeneral,
	}

	ErrRateLimited = &harvesterr.HarvestError{
		Code:     "RATE_LIMITED",
		Message:  "rate limited",
		ExitCode: harvesterr.ExitGeneral,
	}
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts (including initial)
	BaseDelay   time.Duration // Initial delay between retries
	MaxDelay    time.Duration // Maximum delay between retries
}

// DefaultRetryConfig returns the retry configuration for off-chain HTTP calls.
// 3 attempts total with delays around 250ms and 500ms, so a slow overlay
// endpoint never holds an on-chain result for long.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    time.Second,
	}
}

// Retry executes the operation with exponential backoff using the default configuration.
func Retry[T any](ctx context.Context, operation func(context.Context) (T, error)) (T, error) {
	return RetryWithConfig(ctx, DefaultRetryConfig(), operation)
}

// RetryWithConfig executes the operation with the specified retry configuration.
// Only errors accepted by IsRetryable are retried.
func RetryWithConfig[T any](ctx context.Context, cfg RetryConfig, operation func(context.Context) (T, error)) (T, error) {
	var result T
	var err error

	attempts := max(cfg.MaxAttempts, 1)
	for attempt := 0; attempt < attempts; attempt++ {
		result, err = operation(ctx)
		if err == nil {
			return result, nil
		}

		if !IsRetryable(err) {
			return result, err
		}

		if attempt < attempts-1 {
			delay := calculateDelay(attempt, cfg.BaseDelay, cfg.MaxDelay)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return result, fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}

// calculateDelay returns the backoff for attempt with jitter in [delay/2, delay).
func calculateDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := baseDelay * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half) //nolint:gosec // G404: jitter does not require cryptographic randomness
}

// IsRetryable returns true if the error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrRetryable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

// StatusError classifies an HTTP status code. 429 and 5xx are retryable.
func StatusError(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= http.StatusInternalServerError:
		return WrapRetryable(fmt.Errorf("%w: HTTP %d", harvesterr.ErrNetworkError, status))
	case status >= http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d", harvesterr.ErrNetworkError, status)
	}
	return nil
}

// ParseRetryAfter parses the Retry-After header value.
// Returns the duration to wait, or 0 if parsing fails.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	seconds, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// WrapRetryable wraps an error to mark it as retryable.
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}
