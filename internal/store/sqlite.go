package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path         string
	JournalMode  string // Default: WAL
	MaxOpenConns int
}

// SQLiteStore is the DocumentStore on a local SQLite file.
type SQLiteStore struct {
	sqlStore
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS product_documents (
	product_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	issuer TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	brands TEXT NOT NULL DEFAULT '[]',
	fee_total INTEGER,
	min_spend_requirement INTEGER NOT NULL DEFAULT 0,
	online_only BOOLEAN NOT NULL DEFAULT 0,
	discontinued BOOLEAN NOT NULL DEFAULT 0,
	chunks TEXT NOT NULL DEFAULT '[]',
	rule_chunks TEXT NOT NULL DEFAULT '[]',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	rule_chunk_count INTEGER NOT NULL DEFAULT 0,
	embedding_model TEXT,
	embedding_dimension INTEGER,
	indexed_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_product_documents_live
	ON product_documents (discontinued, type);
`

// NewSQLiteStore opens (creating if needed) a SQLite-backed store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "WAL"
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=5000&_foreign_keys=on",
		cfg.Path, url.QueryEscape(journalMode))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{sqlStore{db: db}}, nil
}

var _ DocumentStore = (*SQLiteStore)(nil)
