// Package config provides unified configuration loading for the engine.
// Supports YAML files, .env files, environment variables, and defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine and its serving shells.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	Indexing      IndexingConfig      `yaml:"indexing"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Aggregation   AggregationConfig   `yaml:"aggregation"`
	Selection     SelectionConfig     `yaml:"selection"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// StoreConfig holds document store settings.
type StoreConfig struct {
	Driver   string         `yaml:"driver"` // memory, sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds query-result cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Dimension         int           `yaml:"dimension"`
	BatchSize         int           `yaml:"batch_size"` // provider payload cap, <=128
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// SegmenterConfig holds text segmentation bounds.
type SegmenterConfig struct {
	MaxChunkChars   int `yaml:"max_chunk_chars"`
	MergeBelowChars int `yaml:"merge_below_chars"`
	MinKeepChars    int `yaml:"min_keep_chars"`
}

// IndexingConfig holds batch indexing settings.
type IndexingConfig struct {
	Workers int `yaml:"workers"`
}

// RetrievalConfig holds similarity search settings.
type RetrievalConfig struct {
	TopK                int           `yaml:"top_k"`
	OverProvisionFactor int           `yaml:"over_provision_factor"`
	MaxFetchProducts    int           `yaml:"max_fetch_products"`
	RescoreWorkers      int           `yaml:"rescore_workers"`
	CacheResults        bool          `yaml:"cache_results"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`
}

// AggregationConfig holds candidate scoring settings. The bonus constants are
// empirically chosen tuning knobs; they are configuration, not code.
type AggregationConfig struct {
	TopM            int     `yaml:"top_m"`
	EvidencePerCard int     `yaml:"evidence_per_card"`
	SecondCoreBonus float64 `yaml:"second_core_bonus"`
	ThirdCoreBonus  float64 `yaml:"third_core_bonus"`
	SecondCoreRatio float64 `yaml:"second_core_ratio"`
	ThirdCoreRatio  float64 `yaml:"third_core_ratio"`
	CoverageBonus   float64 `yaml:"coverage_bonus"`
}

// SelectionConfig holds final selection settings.
type SelectionConfig struct {
	WarningPenalty   float64 `yaml:"warning_penalty"`
	WarningThreshold int     `yaml:"warning_threshold"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A missing path means defaults + environment only.
func Load(path string) (*Config, error) {
	// Best-effort .env loading for local development.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
			SQLite: SQLiteConfig{
				Path:         "/tmp/cardmatch.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Embedding: EmbeddingConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "text-embedding-3-small",
			Dimension:         1536,
			BatchSize:         128,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Segmenter: SegmenterConfig{
			MaxChunkChars:   600,
			MergeBelowChars: 140,
			MinKeepChars:    70,
		},
		Indexing: IndexingConfig{
			Workers: 4,
		},
		Retrieval: RetrievalConfig{
			TopK:                30,
			OverProvisionFactor: 3,
			MaxFetchProducts:    50,
			RescoreWorkers:      4,
			CacheResults:        true,
			CacheTTL:            5 * time.Minute,
		},
		Aggregation: AggregationConfig{
			TopM:            5,
			EvidencePerCard: 3,
			SecondCoreBonus: 0.04,
			ThirdCoreBonus:  0.02,
			SecondCoreRatio: 0.90,
			ThirdCoreRatio:  0.85,
			CoverageBonus:   0.08,
		},
		Selection: SelectionConfig{
			WarningPenalty:   0.5,
			WarningThreshold: 2,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "cardmatch",
		},
	}
}

// Validate checks the configuration for errors. Invalid configuration is
// fatal at startup, never recovered per-request.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	if c.Store.Driver == "postgres" && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("postgres store requires a dsn")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 128 {
		return fmt.Errorf("embedding batch_size must be between 1 and 128")
	}

	s := c.Segmenter
	if s.MinKeepChars < 1 || s.MinKeepChars >= s.MergeBelowChars || s.MergeBelowChars >= s.MaxChunkChars {
		return fmt.Errorf("segmenter bounds must satisfy 0 < min_keep < merge_below < max_chunk")
	}

	if c.Indexing.Workers < 1 {
		return fmt.Errorf("indexing workers must be at least 1")
	}

	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be at least 1")
	}

	if c.Retrieval.OverProvisionFactor < 1 {
		return fmt.Errorf("retrieval over_provision_factor must be at least 1")
	}

	if c.Aggregation.EvidencePerCard < 1 {
		return fmt.Errorf("aggregation evidence_per_card must be at least 1")
	}

	if c.Aggregation.TopM < 1 {
		return fmt.Errorf("aggregation top_m must be at least 1")
	}

	return nil
}

// IsDevelopment reports whether the config points at local-only backends.
func (c *Config) IsDevelopment() bool {
	return c.Store.Driver != "postgres"
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Store.Driver = "sqlite"
			cfg.Store.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Store.Driver = "postgres"
			cfg.Store.Postgres.DSN = v
		}
	}

	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Store.Postgres.DSN = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimension = dim
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
