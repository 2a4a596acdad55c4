package llm

import (
	"context"
	"time"

	"helpdesk/pkg/metrics"
)

// InstrumentMiddleware records call counts and latency for every completion.
// Place it outermost so retries inside the chain count as a single call.
func InstrumentMiddleware() Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				result := "ok"
				if err != nil {
					result = "error"
				}
				metrics.LLMCalls.WithLabelValues(result).Inc()
				metrics.LLMCallDuration.Observe(time.Since(start).Seconds())
				return resp, err
			},
			next.ModelName,
		)
	}
}
