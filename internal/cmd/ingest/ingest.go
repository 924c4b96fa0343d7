// Package ingest provides the ingest sub-command: load an
// extracted-text campaign document into a campaign's memory from the
// terminal, without going through the HTTP API.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/chronicle-rpg/chronicle/internal/config"
	docingest "github.com/chronicle-rpg/chronicle/internal/ingest"
	"github.com/chronicle-rpg/chronicle/internal/plugin/embed/cached"
	registrycache "github.com/chronicle-rpg/chronicle/internal/registry/cache"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	registrymigrate "github.com/chronicle-rpg/chronicle/internal/registry/migrate"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"

	_ "github.com/chronicle-rpg/chronicle/internal/plugin/cache/noop"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/cache/redis"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/cache/ristretto"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/embed/disabled"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/embed/local"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/embed/ollama"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/embed/openai"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/store/gormstore"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/vector/pgvector"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/vector/qdrant"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/vector/sqlitevec"
)

// Command returns the ingest sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var campaignID, documentID, title, file string
	return &cli.Command{
		Name:  "ingest",
		Usage: "Ingest an extracted-text document into a campaign's memory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "campaign",
				Sources:     cli.EnvVars("CHRONICLE_CAMPAIGN"),
				Destination: &campaignID,
				Usage:       "Campaign id",
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "file",
				Destination: &file,
				Usage:       "Plain-text file to ingest",
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "document-id",
				Destination: &documentID,
				Usage:       "Stable document id; defaults to the file name. Re-ingesting the same id replaces the prior ingest",
			},
			&cli.StringFlag{
				Name:        "title",
				Destination: &title,
				Usage:       "Document title; defaults to the document id",
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Sources:     cli.EnvVars("CHRONICLE_DATA_DIR"),
				Destination: &cfg.DataDir,
				Value:       cfg.DataDir,
				Usage:       "Directory for the local sqlite database and vector index",
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("CHRONICLE_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Backend store (sqlite|postgres)",
			},
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("CHRONICLE_DB_URL"),
				Destination: &cfg.DBURL,
				Usage:       "Postgres connection URL, or an explicit sqlite file path",
			},
			&cli.StringFlag{
				Name:        "vector-kind",
				Sources:     cli.EnvVars("CHRONICLE_VECTOR_KIND"),
				Destination: &cfg.VectorType,
				Value:       cfg.VectorType,
				Usage:       "Vector index (sqlitevec|pgvector|qdrant|none)",
			},
			&cli.StringFlag{
				Name:        "embedding-kind",
				Sources:     cli.EnvVars("CHRONICLE_EMBEDDING_KIND"),
				Destination: &cfg.EmbedType,
				Value:       cfg.EmbedType,
				Usage:       "Embedding provider (ollama|openai|local|none)",
			},
			&cli.StringFlag{
				Name:        "embedding-model",
				Sources:     cli.EnvVars("CHRONICLE_EMBEDDING_MODEL"),
				Destination: &cfg.EmbedModelName,
				Value:       cfg.EmbedModelName,
				Usage:       "Embedding model name",
			},
			&cli.StringFlag{
				Name:        "ollama-url",
				Sources:     cli.EnvVars("CHRONICLE_OLLAMA_URL"),
				Destination: &cfg.OllamaURL,
				Value:       cfg.OllamaURL,
				Usage:       "Ollama base URL",
			},
			&cli.StringFlag{
				Name:        "openai-api-key",
				Sources:     cli.EnvVars("CHRONICLE_OPENAI_API_KEY", "OPENAI_API_KEY"),
				Destination: &cfg.OpenAIAPIKey,
				Usage:       "OpenAI API key",
			},
			&cli.IntFlag{
				Name:        "chunk-target-words",
				Sources:     cli.EnvVars("CHRONICLE_CHUNK_TARGET_WORDS"),
				Destination: &cfg.ChunkTargetWords,
				Value:       cfg.ChunkTargetWords,
				Usage:       "Target chunk size in words",
			},
			&cli.IntFlag{
				Name:        "chunk-overlap-words",
				Sources:     cli.EnvVars("CHRONICLE_CHUNK_OVERLAP_WORDS"),
				Destination: &cfg.ChunkOverlapWords,
				Value:       cfg.ChunkOverlapWords,
				Usage:       "Overlap between adjacent chunks in words",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(config.WithContext(ctx, &cfg), &cfg, campaignID, documentID, title, file)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, campaignID, documentID, title, file string) error {
	campaign, err := uuid.Parse(campaignID)
	if err != nil {
		return fmt.Errorf("invalid campaign id %q: %w", campaignID, err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if documentID == "" {
		documentID = filepath.Base(file)
	}
	if title == "" {
		title = strings.TrimSuffix(documentID, filepath.Ext(documentID))
	}

	if cfg.DatastoreType == "sqlite" || cfg.VectorType == "sqlitevec" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if err := registrymigrate.RunAll(ctx); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	var index registryvector.FragmentIndex
	if cfg.VectorType != "" && cfg.VectorType != "none" {
		vectorLoader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			return err
		}
		if index, err = vectorLoader(ctx); err != nil {
			return fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}

	var embedder registryembed.Embedder
	if cfg.EmbedType != "" && cfg.EmbedType != "none" {
		embedLoader, err := registryembed.Select(cfg.EmbedType)
		if err != nil {
			return err
		}
		if embedder, err = embedLoader(ctx); err != nil {
			return fmt.Errorf("failed to initialize embedder: %w", err)
		}
		if cfg.CacheType != "" && cfg.CacheType != "none" {
			if cacheLoader, err := registrycache.Select(cfg.CacheType); err == nil {
				if embedCache, err := cacheLoader(ctx); err == nil {
					embedder = cached.Wrap(embedder, embedCache, cfg.CacheTTL)
				}
			}
		}
	}

	ingestor := docingest.New(store, index, embedder, docingest.ChunkOptions{
		TargetWords:  cfg.ChunkTargetWords,
		OverlapWords: cfg.ChunkOverlapWords,
	})
	report, err := ingestor.IngestDocument(ctx, campaign, documentID, title, string(data))
	if err != nil {
		return err
	}

	log.Info("Done",
		"document", report.DocumentID,
		"chunks", report.ChunkCount,
		"indexed", report.Indexed,
		"entities", report.Entities,
		"failed", len(report.Failed))
	for _, f := range report.Failed {
		log.Warn("Chunk left pending", "ordinal", f.Ordinal, "err", f.Error)
	}
	return nil
}
