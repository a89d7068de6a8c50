// Package store persists product documents and serves vector candidate
// retrieval over them.
package store

import (
	"context"
	"errors"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
)

// Common errors.
var (
	ErrNotFound = errors.New("product document not found")
)

// SearchOptions narrows a vector search. Discontinued products are always
// excluded; that is not an option.
type SearchOptions struct {
	Filters  catalog.FilterSet
	DocTypes []catalog.DocType
	Limit    int
}

// ScoredChunk is one vector search candidate with its similarity score.
type ScoredChunk struct {
	Chunk catalog.Chunk `json:"chunk"`
	Score float64       `json:"score"`
}

// Stats summarizes store contents.
type Stats struct {
	Products        int `json:"products"`
	IndexedProducts int `json:"indexed_products"`
	VectorChunks    int `json:"vector_chunks"`
	RuleChunks      int `json:"rule_chunks"`
}

// DocumentStore is the persistence interface for product documents.
type DocumentStore interface {
	// Upsert writes a document keyed by product ID, replacing any previous
	// version whole.
	Upsert(ctx context.Context, doc catalog.ProductDocument) error

	// Get returns the document for a product, or ErrNotFound.
	Get(ctx context.Context, productID int) (catalog.ProductDocument, error)

	// Delete removes a product's document. Deleting a missing product is not
	// an error.
	Delete(ctx context.Context, productID int) error

	// VectorSearch returns up to opts.Limit chunks by descending cosine
	// similarity to the query vector, honoring opts filters and never
	// returning chunks of discontinued products.
	VectorSearch(ctx context.Context, query []float32, opts SearchOptions) ([]ScoredChunk, error)

	// RuleChunks returns the non-vector chunks of the given doc types for
	// each requested product.
	RuleChunks(ctx context.Context, productIDs []int, docTypes []catalog.DocType) (map[int][]catalog.Chunk, error)

	// Stats reports store contents.
	Stats(ctx context.Context) (Stats, error)

	// Purge removes all documents.
	Purge(ctx context.Context) error

	Close() error
}

// matchesFilters applies the mandatory filter semantics shared by all
// drivers: an unknown fee cannot exceed a cap, a zero spend requirement
// passes any spend ceiling.
func matchesFilters(doc *catalog.ProductDocument, f catalog.FilterSet) bool {
	if doc.Discontinued {
		return false
	}
	if f.FeeMax != nil && doc.FeeTotal != nil && *doc.FeeTotal > *f.FeeMax {
		return false
	}
	if f.SpendMax != nil && doc.MinSpendRequirement > *f.SpendMax {
		return false
	}
	if f.ProductType != nil && doc.Type != *f.ProductType {
		return false
	}
	if f.OnlineOnly != nil && *f.OnlineOnly && !doc.OnlineOnly {
		return false
	}
	return true
}

func docTypeAllowed(dt catalog.DocType, allowed []catalog.DocType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if dt == a {
			return true
		}
	}
	return false
}
