package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds Postgres store configuration.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore is the DocumentStore on Postgres with jsonb documents.
type PostgresStore struct {
	sqlStore
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS product_documents (
	product_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	issuer TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	brands JSONB NOT NULL DEFAULT '[]'::jsonb,
	fee_total INTEGER,
	min_spend_requirement INTEGER NOT NULL DEFAULT 0,
	online_only BOOLEAN NOT NULL DEFAULT FALSE,
	discontinued BOOLEAN NOT NULL DEFAULT FALSE,
	chunks JSONB NOT NULL DEFAULT '[]'::jsonb,
	rule_chunks JSONB NOT NULL DEFAULT '[]'::jsonb,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	rule_chunk_count INTEGER NOT NULL DEFAULT 0,
	embedding_model TEXT,
	embedding_dimension INTEGER,
	indexed_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_product_documents_live
	ON product_documents (discontinued, type);
`

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}

	return &PostgresStore{sqlStore{db: db}}, nil
}

var _ DocumentStore = (*PostgresStore)(nil)
