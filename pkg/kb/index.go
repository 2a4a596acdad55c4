package kb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"helpdesk/pkg/embedding"
	"helpdesk/pkg/incerrors"
	"helpdesk/pkg/logx"
)

// indexedEntry pairs a parsed entry with its document embedding.
type indexedEntry struct {
	Entry  Entry
	Vector []float32
}

// Snapshot is one immutable, fully built generation of the KB index.
// Readers always dereference a complete snapshot; a reindex publishes a new
// one atomically, so no reader ever observes a mix of old and new entries.
type Snapshot struct {
	Generation uint64
	BuiltAt    time.Time
	entries    []indexedEntry
	byID       map[string]*Entry
}

// Entries returns the entries in this snapshot, in KB text order.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	for i := range s.entries {
		out[i] = s.entries[i].Entry
	}
	return out
}

// Lookup finds an entry by ID within this snapshot.
func (s *Snapshot) Lookup(id string) (*Entry, bool) {
	e, ok := s.byID[id]
	return e, ok
}

// Len returns the number of entries in this snapshot.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Index holds the current KB snapshot and rebuilds it on demand.
type Index struct {
	embedder   embedding.Embedder
	logger     *logx.Logger
	current    atomic.Pointer[Snapshot]
	reindexMu  sync.Mutex // Serializes writers; readers never block
	generation atomic.Uint64
}

// NewIndex creates an empty index. Retrieval against an empty index reports
// no match; call Reindex to load content.
func NewIndex(embedder embedding.Embedder) *Index {
	idx := &Index{
		embedder: embedder,
		logger:   logx.NewLogger("kb"),
	}
	idx.current.Store(&Snapshot{
		Generation: 0,
		BuiltAt:    time.Now().UTC(),
		byID:       map[string]*Entry{},
	})
	return idx
}

// Reindex parses fullText, embeds every entry, and atomically replaces the
// prior snapshot. The previous snapshot stays live until the new one is fully
// built: a failure at any point (malformed text, embedder outage) leaves the
// index untouched. Returns the number of entries indexed.
func (idx *Index) Reindex(ctx context.Context, fullText string) (int, error) {
	idx.reindexMu.Lock()
	defer idx.reindexMu.Unlock()

	entries, err := Parse(fullText)
	if err != nil {
		return 0, incerrors.WrapErr(incerrors.KindValidation, err, "knowledge base content rejected")
	}

	indexed := make([]indexedEntry, 0, len(entries))
	byID := make(map[string]*Entry, len(entries))
	for i := range entries {
		vector, err := idx.embedder.Embed(ctx, entries[i].Content, embedding.TaskRetrievalDocument)
		if err != nil {
			return 0, embedderErr(err)
		}
		indexed = append(indexed, indexedEntry{Entry: entries[i], Vector: vector})
	}
	for i := range indexed {
		byID[indexed[i].Entry.ID] = &indexed[i].Entry
	}

	snapshot := &Snapshot{
		Generation: idx.generation.Add(1),
		BuiltAt:    time.Now().UTC(),
		entries:    indexed,
		byID:       byID,
	}
	idx.current.Store(snapshot)

	idx.logger.Info("📚 KB reindexed: %d entries, generation %d", len(indexed), snapshot.Generation)
	return len(indexed), nil
}

// Current returns the live snapshot.
func (idx *Index) Current() *Snapshot {
	return idx.current.Load()
}
