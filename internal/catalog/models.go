// Package catalog defines the domain model shared across the engine:
// benefit records as delivered by the ingestion collaborator, the chunks
// derived from them, and the product documents persisted by the store.
package catalog

import (
	"fmt"
	"time"
)

// ProductType identifies the payment product family.
type ProductType string

const (
	ProductTypeCredit  ProductType = "credit"
	ProductTypeDebit   ProductType = "debit"
	ProductTypePrepaid ProductType = "prepaid"
)

// Valid reports whether the product type is one of the known families.
func (t ProductType) Valid() bool {
	switch t {
	case ProductTypeCredit, ProductTypeDebit, ProductTypePrepaid:
		return true
	}
	return false
}

// DocType classifies a chunk.
type DocType string

const (
	DocTypeSummary   DocType = "summary"
	DocTypeCore      DocType = "core"
	DocTypeCondition DocType = "condition"
	DocTypeExclusion DocType = "exclusion"
	DocTypeNotes     DocType = "notes"
)

// VectorBound reports whether chunks of this type carry an embedding vector.
// Condition and exclusion chunks are rule material only and are never embedded.
func (d DocType) VectorBound() bool {
	switch d {
	case DocTypeSummary, DocTypeCore, DocTypeNotes:
		return true
	}
	return false
}

// BenefitType is the reward mechanism a benefit entry describes.
type BenefitType string

const (
	BenefitTypeDiscount BenefitType = "discount"
	BenefitTypeCashback BenefitType = "cashback"
	BenefitTypePoint    BenefitType = "point"
	BenefitTypeMiles    BenefitType = "miles"
	BenefitTypeUnknown  BenefitType = "unknown"
)

// BenefitEntry is one category's raw benefit description as ingested.
type BenefitEntry struct {
	CategoryLabel string `json:"category_label"`
	RawHTML       string `json:"raw_html"`
}

// BenefitRecord is one product's compressed profile. It is produced by an
// external ingestion collaborator and is read-only to this engine.
type BenefitRecord struct {
	ProductID           int            `json:"product_id"`
	Name                string         `json:"name"`
	Issuer              string         `json:"issuer"`
	Type                ProductType    `json:"type"`
	Brands              []string       `json:"brands,omitempty"`
	FeeTotal            *int           `json:"fee_total,omitempty"`
	MinSpendRequirement int            `json:"min_spend_requirement"`
	Benefits            []BenefitEntry `json:"benefits"`
	OnlineOnly          bool           `json:"online_only,omitempty"`
	Discontinued        bool           `json:"discontinued"`
}

// ChunkMetadata is the flat filter metadata carried by every chunk.
type ChunkMetadata struct {
	ProductID           int         `json:"product_id"`
	CategoryStd         string      `json:"category_std,omitempty"`
	BenefitType         BenefitType `json:"benefit_type"`
	FeeTotal            *int        `json:"fee_total,omitempty"`
	MinSpendRequirement int         `json:"min_spend_requirement"`
	Type                ProductType `json:"type"`
	Issuer              string      `json:"issuer"`
	Brands              []string    `json:"brands,omitempty"`
}

// Chunk is one classified, length-bounded text unit derived from a benefit
// record. Vector is populated only for summary/core/notes chunks.
type Chunk struct {
	DocID    string        `json:"doc_id"`
	DocType  DocType       `json:"doc_type"`
	Text     string        `json:"text"`
	Vector   []float32     `json:"vector,omitempty"`
	Metadata ChunkMetadata `json:"metadata"`
}

// EmbeddingMeta records which model produced a product's vectors. A dimension
// change between runs invalidates the stored vectors.
type EmbeddingMeta struct {
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	IndexedAt time.Time `json:"indexed_at"`
}

// ProductDocument is the store's upsert unit, keyed by ProductID. Chunks holds
// the vector-bound chunks; RuleChunks holds condition/exclusion chunks kept for
// rule-based use only.
type ProductDocument struct {
	ProductID           int            `json:"product_id" db:"product_id"`
	Name                string         `json:"name" db:"name"`
	Issuer              string         `json:"issuer" db:"issuer"`
	Type                ProductType    `json:"type" db:"type"`
	Brands              []string       `json:"brands,omitempty"`
	FeeTotal            *int           `json:"fee_total,omitempty" db:"fee_total"`
	MinSpendRequirement int            `json:"min_spend_requirement" db:"min_spend_requirement"`
	OnlineOnly          bool           `json:"online_only,omitempty" db:"online_only"`
	Discontinued        bool           `json:"discontinued" db:"discontinued"`
	Chunks              []Chunk        `json:"chunks"`
	RuleChunks          []Chunk        `json:"rule_chunks,omitempty"`
	EmbeddingMeta       *EmbeddingMeta `json:"embedding_meta,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

// Indexed reports whether the document already holds embedded chunks. The
// first chunk's vector decides: segmenting alone does not index a product.
func (d *ProductDocument) Indexed() bool {
	return d.EmbeddingMeta != nil && len(d.Chunks) > 0 && len(d.Chunks[0].Vector) > 0
}

// FilterSet is the mandatory retrieval predicate supplied by the intent
// extraction collaborator. Nil fields are unconstrained. Discontinued
// products are always excluded regardless of the filter set.
type FilterSet struct {
	FeeMax      *int         `json:"fee_max,omitempty"`
	SpendMax    *int         `json:"spend_max,omitempty"`
	ProductType *ProductType `json:"product_type,omitempty"`
	OnlineOnly  *bool        `json:"online_only,omitempty"`
}

// VectorDocID builds the stable identifier for a vector-bound chunk.
func VectorDocID(productID int, docType DocType, ordinal int) string {
	return fmt.Sprintf("%d_%s_%d", productID, docType, ordinal)
}

// RuleDocID builds the stable identifier for a non-vector rule chunk.
func RuleDocID(productID int, docType DocType, ordinal int) string {
	return fmt.Sprintf("%d_%s_nv_%d", productID, docType, ordinal)
}

// IntPtr is a convenience for optional numeric fields in literals and tests.
func IntPtr(v int) *int { return &v }
