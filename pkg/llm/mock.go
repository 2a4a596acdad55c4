package llm

import (
	"context"
	"sync"
)

// MockClient is a scriptable Client for tests. Responses are returned in
// order; when the script runs out, the last response repeats. An optional
// CompleteFunc overrides the scripted behavior entirely.
type MockClient struct {
	mu           sync.Mutex
	responses    []CompletionResponse
	errs         []error
	calls        []CompletionRequest
	CompleteFunc func(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// NewMockClient creates a mock that replies with the given texts in order.
func NewMockClient(texts ...string) *MockClient {
	m := &MockClient{}
	for _, text := range texts {
		m.responses = append(m.responses, CompletionResponse{Content: text, StopReason: "end_turn"})
		m.errs = append(m.errs, nil)
	}
	return m
}

// Enqueue appends a scripted response.
func (m *MockClient) Enqueue(text string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, CompletionResponse{Content: text, StopReason: "end_turn"})
	m.errs = append(m.errs, nil)
	return m
}

// EnqueueError appends a scripted failure.
func (m *MockClient) EnqueueError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, CompletionResponse{})
	m.errs = append(m.errs, err)
	return m
}

// Complete implements the Client interface.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	if idx < 0 {
		return CompletionResponse{Content: "", StopReason: "end_turn"}, nil
	}
	if idx < len(m.errs) && m.errs[idx] != nil {
		return CompletionResponse{}, m.errs[idx]
	}
	return m.responses[idx], nil
}

// ModelName returns a fixed identifier for logging.
func (m *MockClient) ModelName() string {
	return "mock"
}

// Calls returns a copy of every request seen so far.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many completions were requested.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
