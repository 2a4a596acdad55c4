package embedding

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"helpdesk/pkg/incerrors"
)

// WithRetry wraps an embedder with bounded retry on transient failures,
// using the same capability retry budget as completion calls: one retry
// with backoff, then a classified CapabilityUnavailable error.
// Validation-kind errors are never retried.
func WithRetry(next Embedder) Embedder {
	return withRetryConfig(next, incerrors.DefaultRetryConfigs[incerrors.KindCapabilityUnavailable])
}

// withRetryConfig is the configurable core, split out for tests.
func withRetryConfig(next Embedder, cfg incerrors.RetryConfig) Embedder {
	return &retryEmbedder{next: next, cfg: cfg}
}

type retryEmbedder struct {
	next Embedder
	cfg  incerrors.RetryConfig
}

func (r *retryEmbedder) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	var lastErr error

	maxAttempts := r.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Wait for backoff delay (except on first attempt).
		if attempt > 1 {
			delay := retryDelay(r.cfg, attempt)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		vector, err := r.next.Embed(ctx, text, task)
		if err == nil {
			return vector, nil
		}

		lastErr = err

		if !retryableEmbedErr(err) {
			return nil, err
		}
	}

	return nil, incerrors.CapabilityUnavailable("embedder", lastErr)
}

func (r *retryEmbedder) Name() string {
	return r.next.Name()
}

// retryableEmbedErr reports whether an embedding error is worth another
// attempt. Classified non-retryable errors short-circuit; everything else
// is treated as transient.
func retryableEmbedErr(err error) bool {
	switch incerrors.KindOf(err) {
	case incerrors.KindValidation, incerrors.KindNotFound:
		return false
	default:
		return true
	}
}

// retryDelay computes the exponential backoff delay for an attempt,
// with optional jitter to avoid thundering herd.
func retryDelay(cfg incerrors.RetryConfig, attempt int) time.Duration {
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
