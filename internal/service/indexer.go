package service

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/chronicle-rpg/chronicle/internal/telemetry"
)

// FragmentIndexer polls for fragments with no embedding, embeds them
// and upserts them into the vector index. Runs on a ticker; Trigger
// runs one cycle synchronously (used after writes and in tests).
type FragmentIndexer struct {
	store     registrystore.CampaignStore
	embedder  registryembed.Embedder
	index     registryvector.FragmentIndex
	interval  time.Duration
	batchSize int
	mu        sync.Mutex
}

// IndexRunStats summarizes a single indexer cycle.
type IndexRunStats struct {
	Pending  int `json:"pending"`
	Indexed  int `json:"indexed"`
	Failures int `json:"failures"`
}

func NewFragmentIndexer(store registrystore.CampaignStore, embedder registryembed.Embedder, index registryvector.FragmentIndex, interval time.Duration, batchSize int) *FragmentIndexer {
	return &FragmentIndexer{
		store:     store,
		embedder:  embedder,
		index:     index,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start runs the indexer until ctx is cancelled.
func (idx *FragmentIndexer) Start(ctx context.Context) {
	if idx.embedder == nil || idx.index == nil || !idx.index.IsEnabled() {
		log.Info("Fragment indexer disabled (no embedder or vector index)")
		return
	}
	if idx.interval <= 0 {
		return
	}
	ticker := time.NewTicker(idx.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = idx.Trigger(ctx)
		}
	}
}

// Trigger runs one indexing cycle synchronously.
func (idx *FragmentIndexer) Trigger(ctx context.Context) (IndexRunStats, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.runOnce(ctx), nil
}

func (idx *FragmentIndexer) runOnce(ctx context.Context) IndexRunStats {
	stats := IndexRunStats{}
	if idx.embedder == nil || idx.index == nil || !idx.index.IsEnabled() {
		return stats
	}

	pending, err := idx.store.FindFragmentsPendingIndex(ctx, idx.batchSize)
	if err != nil {
		log.Error("Indexer: find pending fragments failed", "err", err)
		stats.Failures++
		return stats
	}
	stats.Pending = len(pending)
	if telemetry.FragmentsPendingIndex != nil {
		telemetry.FragmentsPendingIndex.Set(float64(len(pending)))
	}
	if len(pending) == 0 {
		return stats
	}

	texts := make([]string, len(pending))
	for i, f := range pending {
		texts[i] = f.Text
	}
	embeddings, err := idx.embedder.EmbedTexts(ctx, texts)
	if err != nil || len(embeddings) != len(pending) {
		log.Error("Indexer: batch embed failed", "err", err)
		for _, f := range pending {
			if mErr := idx.store.MarkFragmentIndexFailed(ctx, f.ID); mErr != nil {
				log.Error("Indexer: record attempt failed", "fragment", f.ID, "err", mErr)
			}
		}
		stats.Failures = len(pending)
		return stats
	}

	upserts := make([]registryvector.UpsertRequest, len(pending))
	for i, f := range pending {
		upserts[i] = registryvector.UpsertRequest{
			FragmentID: f.ID,
			CampaignID: f.CampaignID,
			SourceKind: f.SourceKind,
			EntityTags: f.EntityTags,
			CreatedAt:  f.CreatedAt,
			Embedding:  embeddings[i],
			ModelName:  idx.embedder.ModelName(),
		}
	}
	if err := idx.index.Upsert(ctx, upserts); err != nil {
		log.Error("Indexer: vector upsert failed", "err", err)
		stats.Failures = len(pending)
		return stats
	}

	now := time.Now()
	for i, f := range pending {
		if err := idx.store.MarkFragmentIndexed(ctx, f.ID, idx.embedder.ModelName(), len(embeddings[i]), now); err != nil {
			log.Error("Indexer: mark indexed failed", "fragment", f.ID, "err", err)
			stats.Failures++
			continue
		}
		stats.Indexed++
	}
	if stats.Indexed > 0 {
		log.Info("Indexer: indexed fragments", "count", stats.Indexed)
	}
	return stats
}
