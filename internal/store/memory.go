package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
)

// MemoryStore is an in-memory DocumentStore for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[int]catalog.ProductDocument
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[int]catalog.ProductDocument)}
}

// Upsert writes a document keyed by product ID.
func (s *MemoryStore) Upsert(_ context.Context, doc catalog.ProductDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[doc.ProductID] = doc
	return nil
}

// Get returns the document for a product, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, productID int) (catalog.ProductDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[productID]
	if !ok {
		return catalog.ProductDocument{}, ErrNotFound
	}
	return doc, nil
}

// Delete removes a product's document.
func (s *MemoryStore) Delete(_ context.Context, productID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, productID)
	return nil
}

// VectorSearch scans all live chunks and returns the top matches by cosine
// similarity.
func (s *MemoryStore) VectorSearch(_ context.Context, query []float32, opts SearchOptions) ([]ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ScoredChunk
	for _, doc := range s.docs {
		if !matchesFilters(&doc, opts.Filters) {
			continue
		}
		for _, ch := range doc.Chunks {
			if len(ch.Vector) == 0 || !docTypeAllowed(ch.DocType, opts.DocTypes) {
				continue
			}
			results = append(results, ScoredChunk{Chunk: ch, Score: Cosine(query, ch.Vector)})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.DocID < results[j].Chunk.DocID
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// RuleChunks returns non-vector chunks of the given doc types per product.
func (s *MemoryStore) RuleChunks(_ context.Context, productIDs []int, docTypes []catalog.DocType) (map[int][]catalog.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int][]catalog.Chunk, len(productIDs))
	for _, id := range productIDs {
		doc, ok := s.docs[id]
		if !ok {
			continue
		}
		for _, ch := range doc.RuleChunks {
			if docTypeAllowed(ch.DocType, docTypes) {
				out[id] = append(out[id], ch)
			}
		}
	}
	return out, nil
}

// Stats reports store contents.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Products: len(s.docs)}
	for _, doc := range s.docs {
		if doc.Indexed() {
			st.IndexedProducts++
		}
		st.VectorChunks += len(doc.Chunks)
		st.RuleChunks += len(doc.RuleChunks)
	}
	return st, nil
}

// Purge removes all documents.
func (s *MemoryStore) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[int]catalog.ProductDocument)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ DocumentStore = (*MemoryStore)(nil)
