package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/model"
	"github.com/google/uuid"
)

// Result is a single similarity search hit.
type Result struct {
	FragmentID uuid.UUID `json:"fragmentId"`
	Score      float64   `json:"score"`
}

// SearchFilter restricts a similarity search. CampaignID is mandatory:
// cross-campaign isolation is enforced at this boundary, not left to
// caller discipline.
type SearchFilter struct {
	CampaignID uuid.UUID
	SourceKind *model.SourceKind
	EntityTag  *string
}

// Validate rejects filters that would leak across campaigns.
func (f SearchFilter) Validate() error {
	if f.CampaignID == uuid.Nil {
		return fmt.Errorf("vector search requires a campaign filter")
	}
	return nil
}

// UpsertRequest holds the data for a single vector upsert operation.
type UpsertRequest struct {
	FragmentID uuid.UUID
	CampaignID uuid.UUID
	SourceKind model.SourceKind
	EntityTags []string
	CreatedAt  time.Time
	Embedding  []float32
	ModelName  string
}

// FragmentIndex is the searchable embedding index over memory
// fragments. Fragments with no embedding never appear here; they are
// reachable only through the store's keyword fallback.
type FragmentIndex interface {
	// Search returns up to limit fragments by descending similarity.
	// Ties on score are broken by the assembler, which has row metadata.
	Search(ctx context.Context, embedding []float32, filter SearchFilter, limit int) ([]Result, error)
	// Upsert stores or replaces embeddings for a batch of fragments.
	Upsert(ctx context.Context, requests []UpsertRequest) error
	// DeleteByCampaignID removes every embedding for a campaign.
	DeleteByCampaignID(ctx context.Context, campaignID uuid.UUID) error
	// DeleteByFragmentIDs removes the embeddings for specific fragments
	// (supersede on re-ingest, eviction).
	DeleteByFragmentIDs(ctx context.Context, ids []uuid.UUID) error
	// IsEnabled returns true if the index is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "sqlitevec", "pgvector").
	Name() string
}

// Loader creates a FragmentIndex from config.
type Loader func(ctx context.Context) (FragmentIndex, error)

// Plugin represents a vector index plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector index plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector index plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector index plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector index %q; valid: %v", name, Names())
}
