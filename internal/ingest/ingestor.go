// Package ingest turns campaign source documents into indexed memory
// fragments.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chronicle-rpg/chronicle/internal/extract"
	"github.com/chronicle-rpg/chronicle/internal/model"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/google/uuid"
)

// ChunkFailure records one chunk whose embedding failed during ingest.
// The chunk is still stored and reachable via keyword search; the
// background indexer retries it.
type ChunkFailure struct {
	Ordinal int    `json:"ordinal"`
	Error   string `json:"error"`
}

// Report summarizes one document ingest.
type Report struct {
	DocumentID string         `json:"documentId"`
	ChunkCount int            `json:"chunkCount"`
	Indexed    int            `json:"indexed"`
	Entities   int            `json:"entities"`
	Failed     []ChunkFailure `json:"failed,omitempty"`
}

// Ingestor chunks documents, extracts entities, embeds and indexes.
type Ingestor struct {
	store    registrystore.CampaignStore
	index    registryvector.FragmentIndex
	embedder registryembed.Embedder
	opts     ChunkOptions
}

func New(store registrystore.CampaignStore, index registryvector.FragmentIndex, embedder registryembed.Embedder, opts ChunkOptions) *Ingestor {
	return &Ingestor{store: store, index: index, embedder: embedder, opts: opts}
}

// IngestDocument stores a document as memory fragments. Idempotent per
// document id: re-ingesting replaces the prior fragments in one
// transaction, so a failed re-ingest never leaves a mix of old and new
// chunks. Embedding failures are isolated per chunk; failed chunks stay
// pending for the background indexer.
func (ing *Ingestor) IngestDocument(ctx context.Context, campaignID uuid.UUID, documentID, title, text string) (*Report, error) {
	if documentID == "" {
		return nil, &registrystore.ValidationError{Field: "documentId", Message: "documentId is required"}
	}
	if text == "" {
		return nil, &registrystore.ValidationError{Field: "text", Message: "text is required"}
	}

	chunks := SplitChunks(text, ing.opts)
	report := &Report{DocumentID: documentID, ChunkCount: len(chunks)}

	// Extract entity mentions per chunk and merge them into the
	// campaign's entity table before fragments reference them.
	mentionsByChunk := make([][]extract.Mention, len(chunks))
	var upserts []registrystore.EntityUpsert
	seen := map[string]bool{}
	for i, chunk := range chunks {
		mentionsByChunk[i] = extract.Entities(chunk.Text)
		for _, m := range mentionsByChunk[i] {
			key := string(m.Kind) + ":" + m.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			upserts = append(upserts, registrystore.EntityUpsert{
				Kind:       m.Kind,
				Name:       m.Name,
				Attributes: map[string]string{"context": m.Context},
			})
		}
	}
	entities, err := ing.store.UpsertEntities(ctx, campaignID, upserts)
	if err != nil {
		return nil, fmt.Errorf("ingest: upsert entities: %w", err)
	}
	report.Entities = len(entities)
	entityIDByName := make(map[string]uuid.UUID, len(entities))
	for _, e := range entities {
		entityIDByName[e.NameKey] = e.ID
	}

	embeddings, failures := ing.embedChunks(ctx, chunks)
	report.Failed = failures

	now := time.Now()
	fragments := make([]model.MemoryFragment, len(chunks))
	for i, chunk := range chunks {
		frag := model.MemoryFragment{
			ID:         uuid.New(),
			CampaignID: campaignID,
			SourceKind: model.SourceDocumentChunk,
			SourceRef:  fmt.Sprintf("doc:%s:%d", documentID, chunk.Ordinal),
			Text:       chunk.Text,
			CreatedAt:  now,
		}
		for _, m := range mentionsByChunk[i] {
			frag.EntityTags = append(frag.EntityTags, m.Name)
			if id, ok := entityIDByName[lowerKey(m.Name)]; ok {
				frag.EntityIDs = append(frag.EntityIDs, id)
			}
		}
		fragments[i] = frag
	}

	doc := model.Document{ID: documentID, CampaignID: campaignID, Title: title}
	superseded, err := ing.store.ReplaceDocumentFragments(ctx, campaignID, doc, fragments)
	if err != nil {
		return nil, fmt.Errorf("ingest: replace fragments: %w", err)
	}
	if len(superseded) > 0 && ing.index != nil && ing.index.IsEnabled() {
		if err := ing.index.DeleteByFragmentIDs(ctx, superseded); err != nil {
			log.Warn("Failed to remove superseded index entries", "document", documentID, "err", err)
		}
	}

	// Fragments are committed pending and marked indexed only after the
	// vector upsert succeeds, so a vector-store failure leaves them
	// visible to the background indexer instead of stranded.
	if ing.index != nil && ing.index.IsEnabled() {
		var requests []registryvector.UpsertRequest
		var embedded []int
		for i, frag := range fragments {
			if embeddings[i] == nil {
				continue
			}
			embedded = append(embedded, i)
			requests = append(requests, registryvector.UpsertRequest{
				FragmentID: frag.ID,
				CampaignID: campaignID,
				SourceKind: frag.SourceKind,
				EntityTags: frag.EntityTags,
				CreatedAt:  frag.CreatedAt,
				Embedding:  embeddings[i],
				ModelName:  ing.embedder.ModelName(),
			})
		}
		if len(requests) > 0 {
			if err := ing.index.Upsert(ctx, requests); err != nil {
				log.Warn("Ingest index upsert failed, leaving chunks pending",
					"document", documentID, "chunks", len(requests), "err", err)
				for _, i := range embedded {
					if mErr := ing.store.MarkFragmentIndexFailed(ctx, fragments[i].ID); mErr != nil {
						log.Error("Failed to record index attempt", "fragment", fragments[i].ID, "err", mErr)
					}
				}
			} else {
				at := time.Now()
				for _, i := range embedded {
					if mErr := ing.store.MarkFragmentIndexed(ctx, fragments[i].ID, ing.embedder.ModelName(), len(embeddings[i]), at); mErr != nil {
						log.Error("Failed to mark chunk indexed", "fragment", fragments[i].ID, "err", mErr)
						continue
					}
					report.Indexed++
				}
			}
		}
	}

	log.Info("Ingested document",
		"campaign", campaignID, "document", documentID,
		"chunks", report.ChunkCount, "indexed", report.Indexed,
		"entities", report.Entities, "failed", len(report.Failed))
	return report, nil
}

func lowerKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// embedChunks embeds all chunks in one batch, falling back to
// chunk-at-a-time when the batch fails so one bad chunk cannot sink
// the rest. A nil entry means that chunk stays pending.
func (ing *Ingestor) embedChunks(ctx context.Context, chunks []Chunk) ([][]float32, []ChunkFailure) {
	embeddings := make([][]float32, len(chunks))
	if ing.embedder == nil || len(chunks) == 0 {
		return embeddings, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	batch, err := ing.embedder.EmbedTexts(ctx, texts)
	if err == nil && len(batch) == len(chunks) {
		copy(embeddings, batch)
		return embeddings, nil
	}

	var failures []ChunkFailure
	for i, c := range chunks {
		one, err := ing.embedder.EmbedTexts(ctx, []string{c.Text})
		if err != nil || len(one) != 1 {
			msg := "embedding failed"
			if err != nil {
				msg = err.Error()
			}
			failures = append(failures, ChunkFailure{Ordinal: c.Ordinal, Error: msg})
			continue
		}
		embeddings[i] = one[0]
	}
	return embeddings, failures
}
