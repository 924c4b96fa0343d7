package serve

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chronicle-rpg/chronicle/internal/config"
	registrycache "github.com/chronicle-rpg/chronicle/internal/registry/cache"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	registryinfer "github.com/chronicle-rpg/chronicle/internal/registry/infer"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/cache/noop"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/cache/redis"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/cache/ristretto"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/embed/disabled"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/embed/local"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/embed/ollama"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/embed/openai"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/infer/disabled"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/infer/ollama"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/route/system"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/store/gormstore"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/vector/pgvector"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/vector/qdrant"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/vector/sqlitevec"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the campaign memory HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHRONICLE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHRONICLE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHRONICLE_ACCESS_LOG"),
			Destination: &cfg.AccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHRONICLE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHRONICLE_DATA_DIR"),
			Destination: &cfg.DataDir,
			Value:       cfg.DataDir,
			Usage:       "Directory for the local sqlite database and vector index",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHRONICLE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHRONICLE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Postgres connection URL, or an explicit sqlite file path",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHRONICLE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections (postgres)",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHRONICLE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections (postgres)",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHRONICLE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run datastore migrations on startup",
		},

		// ── Vector Index ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("CHRONICLE_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector index (" + strings.Join(registryvector.Names(), "|") + "|none)",
		},
		&cli.BoolFlag{
			Name:        "vector-migrate-at-start",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("CHRONICLE_VECTOR_MIGRATE_AT_START"),
			Destination: &cfg.VectorMigrateAtStart,
			Value:       cfg.VectorMigrateAtStart,
			Usage:       "Run vector index migrations on startup",
		},
		&cli.BoolFlag{
			Name:        "reindex-at-start",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("CHRONICLE_REINDEX_AT_START"),
			Destination: &cfg.ReindexAtStart,
			Usage:       "Clear fragment index state so the background indexer re-embeds everything (required after switching embedding models)",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("CHRONICLE_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant host or host:port",
		},
		&cli.IntFlag{
			Name:        "qdrant-port",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("CHRONICLE_QDRANT_PORT"),
			Destination: &cfg.QdrantPort,
			Value:       cfg.QdrantPort,
			Usage:       "Qdrant gRPC port",
		},
		&cli.StringFlag{
			Name:        "qdrant-collection",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("CHRONICLE_QDRANT_COLLECTION"),
			Destination: &cfg.QdrantCollection,
			Value:       cfg.QdrantCollection,
			Usage:       "Qdrant collection name",
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("CHRONICLE_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "qdrant-tls",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("CHRONICLE_QDRANT_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Usage:       "Use TLS for the Qdrant connection",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHRONICLE_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHRONICLE_EMBEDDING_MODEL"),
			Destination: &cfg.EmbedModelName,
			Value:       cfg.EmbedModelName,
			Usage:       "Embedding model name",
		},
		&cli.IntFlag{
			Name:        "embedding-dimensions",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHRONICLE_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.EmbedDimensions,
			Usage:       "Expected embedding dimensionality (0 = trust the backend)",
		},
		&cli.DurationFlag{
			Name:        "embedding-timeout",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHRONICLE_EMBEDDING_TIMEOUT"),
			Destination: &cfg.EmbedTimeout,
			Value:       cfg.EmbedTimeout,
			Usage:       "Timeout for one embedding backend call",
		},
		&cli.StringFlag{
			Name:        "ollama-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHRONICLE_OLLAMA_URL"),
			Destination: &cfg.OllamaURL,
			Value:       cfg.OllamaURL,
			Usage:       "Ollama base URL (embeddings and inference)",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHRONICLE_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHRONICLE_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible embeddings endpoint (also llama.cpp server)",
		},

		// ── Embedding Cache ───────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Embedding Cache:",
			Sources:     cli.EnvVars("CHRONICLE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Embedding cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Embedding Cache:",
			Sources:     cli.EnvVars("CHRONICLE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Embedding Cache:",
			Sources:     cli.EnvVars("CHRONICLE_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "Cached embedding time-to-live",
		},

		// ── Inference ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "inference-kind",
			Category:    "Inference:",
			Sources:     cli.EnvVars("CHRONICLE_INFERENCE_KIND"),
			Destination: &cfg.InferType,
			Value:       cfg.InferType,
			Usage:       "Inference backend (" + strings.Join(registryinfer.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "inference-model",
			Category:    "Inference:",
			Sources:     cli.EnvVars("CHRONICLE_INFERENCE_MODEL"),
			Destination: &cfg.InferModelName,
			Value:       cfg.InferModelName,
			Usage:       "Inference model name",
		},
		&cli.FloatFlag{
			Name:        "inference-temperature",
			Category:    "Inference:",
			Sources:     cli.EnvVars("CHRONICLE_INFERENCE_TEMPERATURE"),
			Destination: &cfg.InferTemperature,
			Value:       cfg.InferTemperature,
			Usage:       "Sampling temperature",
		},
		&cli.IntFlag{
			Name:        "inference-max-tokens",
			Category:    "Inference:",
			Sources:     cli.EnvVars("CHRONICLE_INFERENCE_MAX_TOKENS"),
			Destination: &cfg.InferMaxTokens,
			Value:       cfg.InferMaxTokens,
			Usage:       "Maximum tokens per generation",
		},
		&cli.DurationFlag{
			Name:        "inference-timeout",
			Category:    "Inference:",
			Sources:     cli.EnvVars("CHRONICLE_INFERENCE_TIMEOUT"),
			Destination: &cfg.InferTimeout,
			Value:       cfg.InferTimeout,
			Usage:       "Timeout for one inference call",
		},
		&cli.StringFlag{
			Name:        "system-prompt",
			Category:    "Inference:",
			Sources:     cli.EnvVars("CHRONICLE_SYSTEM_PROMPT"),
			Destination: &cfg.SystemPrompt,
			Value:       cfg.SystemPrompt,
			Usage:       "DM persona preamble placed ahead of the assembled context",
		},

		// ── Context Assembly ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "max-context-length",
			Category:    "Context Assembly:",
			Sources:     cli.EnvVars("CHRONICLE_MAX_CONTEXT_LENGTH"),
			Destination: &cfg.MaxContextLength,
			Value:       cfg.MaxContextLength,
			Usage:       "Assembled context budget in characters",
		},
		&cli.IntFlag{
			Name:        "recency-window",
			Category:    "Context Assembly:",
			Sources:     cli.EnvVars("CHRONICLE_RECENCY_WINDOW"),
			Destination: &cfg.RecencyWindow,
			Value:       cfg.RecencyWindow,
			Usage:       "Number of recent turns always included",
		},
		&cli.IntFlag{
			Name:        "retrieval-top-k",
			Category:    "Context Assembly:",
			Sources:     cli.EnvVars("CHRONICLE_RETRIEVAL_TOP_K"),
			Destination: &cfg.RetrievalTopK,
			Value:       cfg.RetrievalTopK,
			Usage:       "Vector search candidate count",
		},
		&cli.IntFlag{
			Name:        "retrieval-min-results",
			Category:    "Context Assembly:",
			Sources:     cli.EnvVars("CHRONICLE_RETRIEVAL_MIN_RESULTS"),
			Destination: &cfg.RetrievalMinResults,
			Value:       cfg.RetrievalMinResults,
			Usage:       "Below this many vector hits the keyword fallback kicks in",
		},
		&cli.DurationFlag{
			Name:        "turn-decay-half-life",
			Category:    "Context Assembly:",
			Sources:     cli.EnvVars("CHRONICLE_TURN_DECAY_HALF_LIFE"),
			Destination: &cfg.TurnDecayHalfLife,
			Value:       cfg.TurnDecayHalfLife,
			Usage:       "Half-life of turn fragment relevance decay",
		},

		// ── Ingestion ─────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "chunk-target-words",
			Category:    "Ingestion:",
			Sources:     cli.EnvVars("CHRONICLE_CHUNK_TARGET_WORDS"),
			Destination: &cfg.ChunkTargetWords,
			Value:       cfg.ChunkTargetWords,
			Usage:       "Target chunk size in words",
		},
		&cli.IntFlag{
			Name:        "chunk-overlap-words",
			Category:    "Ingestion:",
			Sources:     cli.EnvVars("CHRONICLE_CHUNK_OVERLAP_WORDS"),
			Destination: &cfg.ChunkOverlapWords,
			Value:       cfg.ChunkOverlapWords,
			Usage:       "Overlap between adjacent chunks in words",
		},

		// ── Background Services ───────────────────────────────────
		&cli.DurationFlag{
			Name:        "indexer-interval",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("CHRONICLE_INDEXER_INTERVAL"),
			Destination: &cfg.IndexerInterval,
			Value:       cfg.IndexerInterval,
			Usage:       "Background indexer tick interval (0 = disabled)",
		},
		&cli.IntFlag{
			Name:        "indexer-batch-size",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("CHRONICLE_INDEXER_BATCH_SIZE"),
			Destination: &cfg.IndexerBatchSize,
			Value:       cfg.IndexerBatchSize,
			Usage:       "Fragments to embed and index per tick",
		},
		&cli.IntFlag{
			Name:        "max-memory-entries",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("CHRONICLE_MAX_MEMORY_ENTRIES"),
			Destination: &cfg.MaxMemoryEntries,
			Value:       cfg.MaxMemoryEntries,
			Usage:       "Document fragments retained per campaign before eviction (0 = unbounded)",
		},
		&cli.DurationFlag{
			Name:        "eviction-interval",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("CHRONICLE_EVICTION_INTERVAL"),
			Destination: &cfg.EvictionInterval,
			Value:       cfg.EvictionInterval,
			Usage:       "Eviction pass interval (0 = disabled)",
		},
		&cli.IntFlag{
			Name:        "eviction-batch-size",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("CHRONICLE_EVICTION_BATCH_SIZE"),
			Destination: &cfg.EvictionBatchSize,
			Value:       cfg.EvictionBatchSize,
			Usage:       "Fragments evicted per batch",
		},
		&cli.IntFlag{
			Name:        "eviction-batch-delay-ms",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("CHRONICLE_EVICTION_BATCH_DELAY_MS"),
			Destination: &cfg.EvictionBatchDelay,
			Value:       cfg.EvictionBatchDelay,
			Usage:       "Pause between eviction batches in milliseconds",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CHRONICLE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=chronicle",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}
