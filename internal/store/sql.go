package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
)

// sqlStore implements DocumentStore on database/sql. Both the SQLite and
// Postgres drivers accept $N placeholders and ON CONFLICT upserts, so the
// query text is shared; only connection setup and DDL differ per driver.
type sqlStore struct {
	db *sql.DB
}

const documentColumns = `product_id, name, issuer, type, brands, fee_total,
	min_spend_requirement, online_only, discontinued, chunks, rule_chunks,
	chunk_count, rule_chunk_count, embedding_model, embedding_dimension,
	indexed_at, updated_at`

// Upsert writes a document keyed by product ID, replacing any previous
// version whole.
func (s *sqlStore) Upsert(ctx context.Context, doc catalog.ProductDocument) error {
	brands, err := json.Marshal(doc.Brands)
	if err != nil {
		return fmt.Errorf("marshal brands: %w", err)
	}
	chunks, err := json.Marshal(doc.Chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	rules, err := json.Marshal(doc.RuleChunks)
	if err != nil {
		return fmt.Errorf("marshal rule chunks: %w", err)
	}

	var embModel sql.NullString
	var embDim sql.NullInt64
	var indexedAt sql.NullTime
	if doc.EmbeddingMeta != nil {
		embModel = sql.NullString{String: doc.EmbeddingMeta.Model, Valid: true}
		embDim = sql.NullInt64{Int64: int64(doc.EmbeddingMeta.Dimension), Valid: true}
		indexedAt = sql.NullTime{Time: doc.EmbeddingMeta.IndexedAt, Valid: true}
	}

	var feeTotal sql.NullInt64
	if doc.FeeTotal != nil {
		feeTotal = sql.NullInt64{Int64: int64(*doc.FeeTotal), Valid: true}
	}

	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO product_documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (product_id) DO UPDATE SET
			name = excluded.name,
			issuer = excluded.issuer,
			type = excluded.type,
			brands = excluded.brands,
			fee_total = excluded.fee_total,
			min_spend_requirement = excluded.min_spend_requirement,
			online_only = excluded.online_only,
			discontinued = excluded.discontinued,
			chunks = excluded.chunks,
			rule_chunks = excluded.rule_chunks,
			chunk_count = excluded.chunk_count,
			rule_chunk_count = excluded.rule_chunk_count,
			embedding_model = excluded.embedding_model,
			embedding_dimension = excluded.embedding_dimension,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		doc.ProductID, doc.Name, doc.Issuer, string(doc.Type), string(brands), feeTotal,
		doc.MinSpendRequirement, doc.OnlineOnly, doc.Discontinued, string(chunks), string(rules),
		len(doc.Chunks), len(doc.RuleChunks), embModel, embDim, indexedAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert product %d: %w", doc.ProductID, err)
	}
	return nil
}

// Get returns the document for a product, or ErrNotFound.
func (s *sqlStore) Get(ctx context.Context, productID int) (catalog.ProductDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM product_documents WHERE product_id = $1`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ProductDocument{}, ErrNotFound
	}
	if err != nil {
		return catalog.ProductDocument{}, fmt.Errorf("get product %d: %w", productID, err)
	}
	return doc, nil
}

// Delete removes a product's document.
func (s *sqlStore) Delete(ctx context.Context, productID int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM product_documents WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("delete product %d: %w", productID, err)
	}
	return nil
}

// VectorSearch narrows rows with SQL predicates, then scores the surviving
// chunks in process.
func (s *sqlStore) VectorSearch(ctx context.Context, query []float32, opts SearchOptions) ([]ScoredChunk, error) {
	sqlQuery := `SELECT ` + documentColumns + ` FROM product_documents WHERE NOT discontinued AND chunk_count > 0`
	var args []interface{}

	f := opts.Filters
	if f.FeeMax != nil {
		args = append(args, *f.FeeMax)
		sqlQuery += fmt.Sprintf(" AND (fee_total IS NULL OR fee_total <= $%d)", len(args))
	}
	if f.SpendMax != nil {
		args = append(args, *f.SpendMax)
		sqlQuery += fmt.Sprintf(" AND min_spend_requirement <= $%d", len(args))
	}
	if f.ProductType != nil {
		args = append(args, string(*f.ProductType))
		sqlQuery += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.OnlineOnly != nil && *f.OnlineOnly {
		sqlQuery += " AND online_only"
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("vector search scan: %w", err)
		}
		for _, ch := range doc.Chunks {
			if len(ch.Vector) == 0 || !docTypeAllowed(ch.DocType, opts.DocTypes) {
				continue
			}
			results = append(results, ScoredChunk{Chunk: ch, Score: Cosine(query, ch.Vector)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search rows: %w", err)
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
func (s *sqlStore) RuleChunks(ctx context.Context, productIDs []int, docTypes []catalog.DocType) (map[int][]catalog.Chunk, error) {
	out := make(map[int][]catalog.Chunk, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(productIDs))
	args := make([]interface{}, len(productIDs))
	for i, id := range productIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `SELECT product_id, rule_chunks FROM product_documents WHERE product_id IN (` +
		strings.Join(placeholders, ", ") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rule chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID int
		var raw []byte
		if err := rows.Scan(&productID, &raw); err != nil {
			return nil, fmt.Errorf("rule chunks scan: %w", err)
		}
		var chunks []catalog.Chunk
		if err := json.Unmarshal(raw, &chunks); err != nil {
			return nil, fmt.Errorf("decode rule chunks for %d: %w", productID, err)
		}
		for _, ch := range chunks {
			if docTypeAllowed(ch.DocType, docTypes) {
				out[productID] = append(out[productID], ch)
			}
		}
	}
	return out, rows.Err()
}

// Stats reports store contents.
func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(indexed_at),
			COALESCE(SUM(chunk_count), 0),
			COALESCE(SUM(rule_chunk_count), 0)
		FROM product_documents
	`
	var st Stats
	err := s.db.QueryRowContext(ctx, query).Scan(
		&st.Products, &st.IndexedProducts, &st.VectorChunks, &st.RuleChunks,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Purge removes all documents.
func (s *sqlStore) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM product_documents`); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (catalog.ProductDocument, error) {
	var doc catalog.ProductDocument
	var typ string
	var brands, chunks, rules []byte
	var feeTotal, embDim sql.NullInt64
	var embModel sql.NullString
	var indexedAt sql.NullTime
	var chunkCount, ruleCount int

	err := row.Scan(
		&doc.ProductID, &doc.Name, &doc.Issuer, &typ, &brands, &feeTotal,
		&doc.MinSpendRequirement, &doc.OnlineOnly, &doc.Discontinued, &chunks, &rules,
		&chunkCount, &ruleCount, &embModel, &embDim, &indexedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return catalog.ProductDocument{}, err
	}

	doc.Type = catalog.ProductType(typ)
	if feeTotal.Valid {
		doc.FeeTotal = catalog.IntPtr(int(feeTotal.Int64))
	}
	if err := json.Unmarshal(brands, &doc.Brands); err != nil {
		return catalog.ProductDocument{}, fmt.Errorf("decode brands: %w", err)
	}
	if err := json.Unmarshal(chunks, &doc.Chunks); err != nil {
		return catalog.ProductDocument{}, fmt.Errorf("decode chunks: %w", err)
	}
	if err := json.Unmarshal(rules, &doc.RuleChunks); err != nil {
		return catalog.ProductDocument{}, fmt.Errorf("decode rule chunks: %w", err)
	}
	if indexedAt.Valid {
		doc.EmbeddingMeta = &catalog.EmbeddingMeta{
			Model:     embModel.String,
			Dimension: int(embDim.Int64),
			IndexedAt: indexedAt.Time,
		}
	}
	return doc, nil
}
