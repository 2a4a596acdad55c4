package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/pkg/incerrors"
)

// flakyEmbedder fails the first Failures calls, then returns a fixed vector.
type flakyEmbedder struct {
	Failures int
	FailWith error
	calls    int
}

func (f *flakyEmbedder) Embed(_ context.Context, _ string, _ TaskType) ([]float32, error) {
	f.calls++
	if f.calls <= f.Failures {
		return nil, f.FailWith
	}
	return []float32{1, 0}, nil
}

func (f *flakyEmbedder) Name() string { return "flaky" }

func fastEmbedRetryConfig(maxRetries int) incerrors.RetryConfig {
	return incerrors.RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        false,
	}
}

func TestEmbedRetrySucceedsAfterTransientFailure(t *testing.T) {
	flaky := &flakyEmbedder{Failures: 1, FailWith: errors.New("connection reset")}
	embedder := withRetryConfig(flaky, fastEmbedRetryConfig(1))

	vector, err := embedder.Embed(context.Background(), "vpn is down", TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vector)
	assert.Equal(t, 2, flaky.calls)
}

func TestEmbedRetryBudgetExhaustedSurfacesCapabilityError(t *testing.T) {
	flaky := &flakyEmbedder{Failures: 10, FailWith: errors.New("timeout")}

	// One retry only: two attempts total, then a classified error.
	embedder := withRetryConfig(flaky, fastEmbedRetryConfig(1))

	_, err := embedder.Embed(context.Background(), "vpn is down", TaskRetrievalQuery)
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindCapabilityUnavailable))
	assert.Equal(t, 2, flaky.calls)
}

func TestEmbedRetrySkipsValidationErrors(t *testing.T) {
	flaky := &flakyEmbedder{Failures: 10, FailWith: incerrors.Validation("text rejected")}
	embedder := withRetryConfig(flaky, fastEmbedRetryConfig(3))

	_, err := embedder.Embed(context.Background(), "vpn is down", TaskRetrievalQuery)
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindValidation))
	assert.Equal(t, 1, flaky.calls, "validation errors must not be retried")
}

func TestEmbedRetryRespectsContextCancellation(t *testing.T) {
	flaky := &flakyEmbedder{Failures: 100, FailWith: errors.New("always failing")}

	cfg := fastEmbedRetryConfig(5)
	cfg.InitialDelay = time.Hour // Force the retry loop to block on backoff.
	embedder := withRetryConfig(flaky, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := embedder.Embed(ctx, "vpn is down", TaskRetrievalQuery)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEmbedRetryPreservesEngineName(t *testing.T) {
	embedder := WithRetry(&flakyEmbedder{})
	assert.Equal(t, "flaky", embedder.Name())
}
