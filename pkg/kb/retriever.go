package kb

import (
	"context"
	"errors"

	"helpdesk/pkg/embedding"
	"helpdesk/pkg/incerrors"
	"helpdesk/pkg/logx"
)

// Match is the result of a retrieval: the matched entry plus its similarity
// to the query, and the snapshot generation it came from.
type Match struct {
	Entry      Entry
	Similarity float64
	Generation uint64
}

// Retriever finds the best KB entry for a user's problem statement.
type Retriever struct {
	index    *Index
	embedder embedding.Embedder
	logger   *logx.Logger

	// similarityMin is the cosine similarity an entry must reach to count
	// as a match.
	similarityMin float64

	// failOpen treats retriever-side failures as "no match" instead of
	// surfacing them. Fail-closed is the recommended default: routing to
	// admin review erroneously beats fabricating an answer.
	failOpen bool
}

// NewRetriever creates a retriever over the given index.
func NewRetriever(index *Index, embedder embedding.Embedder, similarityMin float64, failOpen bool) *Retriever {
	return &Retriever{
		index:         index,
		embedder:      embedder,
		logger:        logx.NewLogger("retriever"),
		similarityMin: similarityMin,
		failOpen:      failOpen,
	}
}

// Retrieve embeds the query and scans the current snapshot for the
// best-scoring entry. Returns (nil, nil) when nothing clears the similarity
// floor. All scoring happens against a single snapshot, so a concurrent
// reindex can never produce a mixed result.
func (r *Retriever) Retrieve(ctx context.Context, query string) (*Match, error) {
	snapshot := r.index.Current()
	if snapshot.Len() == 0 {
		r.logger.Debug("Retrieval against empty index: no match")
		return nil, nil
	}

	queryVec, err := r.embedder.Embed(ctx, query, embedding.TaskRetrievalQuery)
	if err != nil {
		return r.failure(embedderErr(err))
	}

	var best *Match
	for i := range snapshot.entries {
		ie := &snapshot.entries[i]
		sim, err := embedding.CosineSimilarity(queryVec, ie.Vector)
		if err != nil {
			return r.failure(incerrors.CapabilityUnavailable("kb index", err))
		}
		if best == nil || sim > best.Similarity {
			best = &Match{
				Entry:      ie.Entry,
				Similarity: sim,
				Generation: snapshot.Generation,
			}
		}
	}

	if best == nil || best.Similarity < r.similarityMin {
		r.logger.Debug("No KB match above %.2f for query", r.similarityMin)
		return nil, nil
	}

	r.logger.Debug("KB match %s (similarity %.3f, generation %d)", best.Entry.ID, best.Similarity, best.Generation)
	return best, nil
}

// failure applies the fail-open policy to a retrieval error.
func (r *Retriever) failure(err error) (*Match, error) {
	if r.failOpen {
		r.logger.Warn("Retriever failing open, treating as no match: %v", err)
		return nil, nil
	}
	return nil, err
}

// embedderErr classifies an embedder failure, passing already-classified
// errors through unchanged so retry-wrapped engines are not double-wrapped.
func embedderErr(err error) error {
	var incErr *incerrors.Error
	if errors.As(err, &incErr) {
		return err
	}
	return incerrors.CapabilityUnavailable("embedder", err)
}
