// Package embedding provides text embedding engines used by the KB index,
// plus vector similarity helpers.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// TaskType hints the embedding model about how the vector will be used.
// Retrieval quality improves when documents and queries are embedded with
// their respective task types.
type TaskType string

const (
	TaskRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    TaskType = "RETRIEVAL_QUERY"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string, task TaskType) ([]float32, error)

	// Name returns the engine identifier (provider:model).
	Name() string
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns an error on dimension mismatch; zero-magnitude vectors yield 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i]) * float64(b[i])
		aMagnitude += float64(a[i]) * float64(a[i])
		bMagnitude += float64(b[i]) * float64(b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}
