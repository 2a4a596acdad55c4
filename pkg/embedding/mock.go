package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockEmbedder is a deterministic Embedder for tests. Vectors are assigned
// per registered keyword: a text containing a keyword maps onto that
// keyword's axis, so similarity between related texts is 1 and between
// unrelated texts is 0. Unmatched texts get the zero-adjacent fallback axis.
type MockEmbedder struct {
	mu       sync.Mutex
	keywords []string
	Err      error // When set, every Embed call fails with this error
	calls    int
}

// NewMockEmbedder creates a mock with the given keyword axes.
func NewMockEmbedder(keywords ...string) *MockEmbedder {
	return &MockEmbedder{keywords: keywords}
}

// Embed implements the Embedder interface.
func (m *MockEmbedder) Embed(_ context.Context, text string, _ TaskType) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.Err != nil {
		return nil, m.Err
	}

	// One dimension per keyword plus a fallback axis.
	vec := make([]float32, len(m.keywords)+1)
	lower := strings.ToLower(text)
	matched := false
	for i, kw := range m.keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			vec[i] = 1
			matched = true
		}
	}
	if !matched {
		vec[len(m.keywords)] = 1
	}
	return vec, nil
}

// Name returns a fixed identifier for logging.
func (m *MockEmbedder) Name() string {
	return fmt.Sprintf("mock:%d-axes", len(m.keywords))
}

// CallCount returns how many embeddings were requested.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
