package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"helpdesk/pkg/incerrors"
)

// RetryMiddleware wraps a client with bounded retry on transient failures.
// Capability failures are retried according to the capability retry budget
// (once, with backoff) and then surfaced as a classified
// CapabilityUnavailable error. Validation-kind errors are never retried.
func RetryMiddleware() Middleware {
	return retryMiddlewareWith(incerrors.DefaultRetryConfigs[incerrors.KindCapabilityUnavailable])
}

// retryMiddlewareWith is the configurable core, split out for tests.
func retryMiddlewareWith(cfg incerrors.RetryConfig) Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				var lastErr error

				maxAttempts := cfg.MaxRetries + 1
				for attempt := 1; attempt <= maxAttempts; attempt++ {
					// Wait for backoff delay (except on first attempt).
					if attempt > 1 {
						delay := calculateDelay(cfg, attempt)
						if delay > 0 {
							select {
							case <-ctx.Done():
								return CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
							case <-time.After(delay):
							}
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}

					lastErr = err

					if !shouldRetry(err) {
						return CompletionResponse{}, err
					}
				}

				return CompletionResponse{}, incerrors.CapabilityUnavailable("llm", lastErr)
			},
			func() string {
				return next.ModelName()
			},
		)
	}
}

// shouldRetry reports whether a completion error is worth another attempt.
// Classified non-retryable errors (validation, not-found) short-circuit;
// everything else is treated as transient.
func shouldRetry(err error) bool {
	switch incerrors.KindOf(err) {
	case incerrors.KindValidation, incerrors.KindNotFound:
		return false
	default:
		return true
	}
}

// calculateDelay computes the exponential backoff delay for an attempt,
// with optional jitter to avoid thundering herd.
func calculateDelay(cfg incerrors.RetryConfig, attempt int) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}

	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-2))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		// Up to 25% random jitter.
		delay += delay * 0.25 * rand.Float64() //nolint:gosec // Jitter does not need crypto randomness
	}

	return time.Duration(delay)
}

// TimeoutMiddleware bounds each completion call with a deadline so a hung
// provider cannot stall a conversation turn indefinitely.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				callCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				resp, err := next.Complete(callCtx, req)
				if err != nil && callCtx.Err() == context.DeadlineExceeded {
					return CompletionResponse{}, fmt.Errorf("completion timed out after %s: %w", timeout, err)
				}
				return resp, err
			},
			func() string {
				return next.ModelName()
			},
		)
	}
}
