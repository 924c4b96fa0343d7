package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the campaign memory engine.
type Config struct {
	// Data directory for the local sqlite database and vector index.
	DataDir string

	// Datastore backend type: "sqlite" or "postgres".
	DatastoreType string

	// DBURL is the postgres connection URL, or an explicit sqlite file
	// path. Empty means <data-dir>/chronicle.db for sqlite.
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool (postgres only)
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Vector index backend type: "sqlitevec", "pgvector", "qdrant", or "none".
	VectorType string

	// Run vector index migrations on startup.
	VectorMigrateAtStart bool

	// ReindexAtStart clears indexed_at on every fragment so the
	// background indexer re-embeds the whole corpus. Required after
	// switching embedding models.
	ReindexAtStart bool

	// Qdrant
	QdrantHost           string
	QdrantPort           int
	QdrantCollection     string
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantStartupTimeout time.Duration

	// Embedding backend type: "ollama", "openai", "local", or "none".
	EmbedType string

	// Ollama (embeddings and generation)
	OllamaURL string

	// Embedding model and expected output dimensionality. Dimensions
	// zero means trust the backend's first response.
	EmbedModelName  string
	EmbedDimensions int
	EmbedTimeout    time.Duration

	// OpenAI-compatible embeddings endpoint (also llama.cpp server).
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Inference backend type: "ollama" or "none".
	InferType string

	// Inference model and sampling parameters.
	InferModelName   string
	InferTemperature float64
	InferMaxTokens   int
	InferTimeout     time.Duration

	// SystemPrompt is the DM persona preamble placed ahead of the
	// assembled context sections.
	SystemPrompt string

	// Context assembly
	MaxContextLength    int // characters
	RecencyWindow       int // turns always included
	RetrievalTopK       int
	RetrievalMinResults int // below this, the keyword fallback kicks in
	TurnDecayHalfLife   time.Duration

	// Ingestion
	ChunkTargetWords  int
	ChunkOverlapWords int

	// Background indexer
	IndexerInterval  time.Duration
	IndexerBatchSize int

	// Eviction
	MaxMemoryEntries   int // fragments retained per campaign
	EvictionInterval   time.Duration
	EvictionBatchSize  int
	EvictionBatchDelay int // milliseconds

	// Embedding cache backend type: "ristretto", "redis", or "none".
	CacheType string
	RedisURL  string
	CacheTTL  time.Duration

	// Server
	Listener  ListenerConfig
	AccessLog bool

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR}
	// expansion. Defaults to "service=chronicle".
	MetricsLabels string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults for a local
// single-player install: sqlite store, sqlite-vec index, Ollama
// backends, in-process embedding cache.
func DefaultConfig() Config {
	return Config{
		DataDir:                 defaultDataDir(),
		DatastoreType:           "sqlite",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		VectorType:              "sqlitevec",
		VectorMigrateAtStart:    true,
		QdrantHost:              "localhost",
		QdrantPort:              6334,
		QdrantCollection:        "chronicle-fragments",
		QdrantStartupTimeout:    30 * time.Second,
		EmbedType:               "ollama",
		OllamaURL:               "http://localhost:11434",
		EmbedModelName:          "nomic-embed-text",
		EmbedTimeout:            30 * time.Second,
		OpenAIBaseURL:           "https://api.openai.com/v1",
		InferType:               "ollama",
		InferModelName:          "llama3.1",
		InferTemperature:        0.7,
		InferMaxTokens:          1024,
		InferTimeout:            5 * time.Minute,
		SystemPrompt:            defaultSystemPrompt,
		MaxContextLength:        16384,
		RecencyWindow:           10,
		RetrievalTopK:           20,
		RetrievalMinResults:     3,
		TurnDecayHalfLife:       12 * time.Hour,
		ChunkTargetWords:        400,
		ChunkOverlapWords:       50,
		IndexerInterval:         15 * time.Second,
		IndexerBatchSize:        100,
		MaxMemoryEntries:        1000,
		EvictionInterval:        time.Hour,
		EvictionBatchSize:       200,
		EvictionBatchDelay:      100,
		CacheType:               "ristretto",
		CacheTTL:                24 * time.Hour,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		DrainTimeout: 30,
	}
}

const defaultSystemPrompt = `You are an expert Dungeon Master. You are creative, fair, and focused on creating an engaging story. Create vivid descriptions, respond to player actions meaningfully, keep the story moving forward, and remember that player choices have permanent consequences.`

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "chronicle")
	}
	return "data"
}

// QdrantAddress returns the host:port target for the Qdrant gRPC client.
func (c *Config) QdrantAddress() string {
	host := strings.TrimSpace(c.QdrantHost)
	if host == "" {
		host = "localhost"
	}
	if strings.Contains(host, ":") {
		return host
	}
	port := c.QdrantPort
	if port == 0 {
		port = 6334
	}
	return host + ":" + strconv.Itoa(port)
}

// SQLitePath resolves the sqlite database file: an explicit DBURL wins,
// otherwise <data-dir>/chronicle.db.
func (c *Config) SQLitePath() string {
	if url := strings.TrimSpace(c.DBURL); url != "" {
		return url
	}
	return filepath.Join(c.DataDir, "chronicle.db")
}

// SQLiteVecPath resolves the sqlite-vec index file, kept separate from
// the main database so a re-embed can start from an empty index.
func (c *Config) SQLiteVecPath() string {
	return filepath.Join(c.DataDir, "chronicle-vec.db")
}
