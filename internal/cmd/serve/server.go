package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/chronicle-rpg/chronicle/internal/assemble"
	"github.com/chronicle-rpg/chronicle/internal/config"
	"github.com/chronicle-rpg/chronicle/internal/ingest"
	"github.com/chronicle-rpg/chronicle/internal/plugin/embed/cached"
	"github.com/chronicle-rpg/chronicle/internal/plugin/route/campaigns"
	"github.com/chronicle-rpg/chronicle/internal/plugin/route/characters"
	"github.com/chronicle-rpg/chronicle/internal/plugin/route/documents"
	"github.com/chronicle-rpg/chronicle/internal/plugin/route/entities"
	"github.com/chronicle-rpg/chronicle/internal/plugin/route/play"
	"github.com/chronicle-rpg/chronicle/internal/plugin/route/sessions"
	routesystem "github.com/chronicle-rpg/chronicle/internal/plugin/route/system"
	storemetrics "github.com/chronicle-rpg/chronicle/internal/plugin/store/metrics"
	registrycache "github.com/chronicle-rpg/chronicle/internal/registry/cache"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	registryinfer "github.com/chronicle-rpg/chronicle/internal/registry/infer"
	registrymigrate "github.com/chronicle-rpg/chronicle/internal/registry/migrate"
	registryroute "github.com/chronicle-rpg/chronicle/internal/registry/route"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/chronicle-rpg/chronicle/internal/service"
	"github.com/chronicle-rpg/chronicle/internal/telemetry"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config  *config.Config
	Store   registrystore.CampaignStore
	Router  *gin.Engine
	Port    int
	httpSrv *http.Server
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port; the bound port is in
// Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chronicle",
		"port", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
		"inference", cfg.InferType,
	)

	if cfg.DatastoreType == "sqlite" || cfg.VectorType == "sqlitevec" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := telemetry.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	telemetry.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	if cfg.ReindexAtStart {
		log.Info("Clearing fragment index state; the background indexer will re-embed everything")
		if err := store.ClearIndexState(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear index state: %w", err)
		}
	}

	// Initialize the vector index (optional; keyword fallback only
	// without it).
	var index registryvector.FragmentIndex
	if cfg.VectorType != "" && cfg.VectorType != "none" {
		vectorLoader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			return nil, err
		}
		index, err = vectorLoader(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}

	// Initialize the embedder, behind the embedding cache when one is
	// configured.
	var embedder registryembed.Embedder
	if cfg.EmbedType != "" && cfg.EmbedType != "none" {
		embedLoader, err := registryembed.Select(cfg.EmbedType)
		if err != nil {
			return nil, err
		}
		embedder, err = embedLoader(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		if cfg.CacheType != "" && cfg.CacheType != "none" {
			cacheLoader, err := registrycache.Select(cfg.CacheType)
			if err != nil {
				log.Warn("Embedding cache not available", "cache", cfg.CacheType, "err", err)
			} else if embedCache, err := cacheLoader(ctx); err != nil {
				log.Warn("Failed to initialize embedding cache", "cache", cfg.CacheType, "err", err)
			} else {
				embedder = cached.Wrap(embedder, embedCache, cfg.CacheTTL)
			}
		}
	}
	if index != nil && index.IsEnabled() && embedder == nil {
		return nil, fmt.Errorf("vector index %q requires an embedding provider: set --embedding-kind to a value other than 'none'", cfg.VectorType)
	}

	// Initialize the inference backend (optional; the play endpoint
	// returns 503 without it).
	var narrator registryinfer.Narrator
	if cfg.InferType != "" && cfg.InferType != "none" {
		inferLoader, err := registryinfer.Select(cfg.InferType)
		if err != nil {
			return nil, err
		}
		narrator, err = inferLoader(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize inference backend: %w", err)
		}
	}

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.AccessLog {
		router.Use(telemetry.AccessLogMiddleware())
	} else {
		router.Use(telemetry.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(telemetry.MetricsMiddleware())

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	ingestor := ingest.New(store, index, embedder, ingest.ChunkOptions{
		TargetWords:  cfg.ChunkTargetWords,
		OverlapWords: cfg.ChunkOverlapWords,
	})
	assembler := assemble.New(store, index, embedder, cfg)
	updater := service.NewMemoryUpdater(store, index, embedder, cfg.EmbedTimeout)
	locks := service.NewSessionLocks()

	// Mount API routes
	campaigns.MountRoutes(router, store)
	sessions.MountRoutes(router, store)
	characters.MountRoutes(router, store)
	entities.MountRoutes(router, store)
	documents.MountRoutes(router, store, ingestor)
	play.MountRoutes(router, store, assembler, narrator, updater, locks, cfg)

	// Start background services
	if embedder != nil && index != nil && index.IsEnabled() {
		indexer := service.NewFragmentIndexer(store, embedder, index, cfg.IndexerInterval, cfg.IndexerBatchSize)
		go indexer.Start(ctx)
	}

	evictionSvc := service.NewEvictionService(store, cfg.MaxMemoryEntries, cfg.EvictionInterval, cfg.EvictionBatchSize, cfg.EvictionBatchDelay)
	go evictionSvc.Start(ctx)

	taskProc := service.NewTaskProcessor(store, index)
	go taskProc.Start(ctx)

	// Management routes share the main port: single-process local
	// deployment has no separate management listener.
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Listener.Port))
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}
	httpSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpSrv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "err", err)
		}
	}()

	port := lis.Addr().(*net.TCPAddr).Port
	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:  cfg,
		Store:   store,
		Router:  router,
		Port:    port,
		httpSrv: httpSrv,
	}, nil
}
