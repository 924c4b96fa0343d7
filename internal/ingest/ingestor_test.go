package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/chronicle-rpg/chronicle/internal/config"
	"github.com/chronicle-rpg/chronicle/internal/model"
	registrymigrate "github.com/chronicle-rpg/chronicle/internal/registry/migrate"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/chronicle-rpg/chronicle/internal/plugin/store/gormstore"
)

// flakyEmbedder fails on any text containing the poison marker.
type flakyEmbedder struct {
	poison string
}

func (f *flakyEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.poison != "" && strings.Contains(t, f.poison) {
			return nil, fmt.Errorf("embed backend rejected input")
		}
		out[i] = []float32{1, 0, 0, float32(len(t))}
	}
	return out, nil
}

func (f *flakyEmbedder) ModelName() string { return "fake-embed" }
func (f *flakyEmbedder) Dimension() int    { return 4 }

// recordingIndex captures upserts and deletes for assertions.
type recordingIndex struct {
	failUpsert bool
	upserts    []registryvector.UpsertRequest
	deleted    []uuid.UUID
}

func (r *recordingIndex) Search(context.Context, []float32, registryvector.SearchFilter, int) ([]registryvector.Result, error) {
	return nil, nil
}

func (r *recordingIndex) Upsert(_ context.Context, requests []registryvector.UpsertRequest) error {
	if r.failUpsert {
		return fmt.Errorf("vector backend unreachable")
	}
	r.upserts = append(r.upserts, requests...)
	return nil
}

func (r *recordingIndex) DeleteByCampaignID(context.Context, uuid.UUID) error { return nil }

func (r *recordingIndex) DeleteByFragmentIDs(_ context.Context, ids []uuid.UUID) error {
	r.deleted = append(r.deleted, ids...)
	return nil
}

func (r *recordingIndex) IsEnabled() bool { return true }
func (r *recordingIndex) Name() string    { return "recording" }

func setupIngestStore(t *testing.T) (context.Context, registrystore.CampaignStore, uuid.UUID) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DatastoreType = "sqlite"
	cfg.VectorType = "none"
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))
	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)
	return ctx, store, campaign.ID
}

func paragraphs(n, wordsEach int) string {
	var parts []string
	for i := 0; i < n; i++ {
		words := make([]string, wordsEach)
		for j := range words {
			words[j] = fmt.Sprintf("para%dword%d", i, j)
		}
		parts = append(parts, strings.Join(words, " ")+".")
	}
	return strings.Join(parts, "\n\n")
}

func TestIngestDocumentMultiChunk(t *testing.T) {
	ctx, store, campaignID := setupIngestStore(t)
	index := &recordingIndex{}
	ing := New(store, index, &flakyEmbedder{}, ChunkOptions{TargetWords: 20, OverlapWords: 0})

	report, err := ing.IngestDocument(ctx, campaignID, "world.md", "World Primer", paragraphs(3, 15))
	require.NoError(t, err)

	assert.Equal(t, "world.md", report.DocumentID)
	assert.Equal(t, 3, report.ChunkCount)
	assert.Equal(t, 3, report.Indexed)
	assert.Empty(t, report.Failed)
	assert.Len(t, index.upserts, 3)

	rows, err := store.ListDocumentFragments(ctx, campaignID, "world.md")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, fmt.Sprintf("doc:world.md:%d", i), row.SourceRef)
		assert.Equal(t, model.SourceDocumentChunk, row.SourceKind)
		require.NotNil(t, row.IndexedAt)
		assert.Equal(t, "fake-embed", row.EmbedModel)
		assert.Equal(t, 4, row.EmbedDim)
	}
}

func TestIngestChunkFailureIsolation(t *testing.T) {
	ctx, store, campaignID := setupIngestStore(t)
	index := &recordingIndex{}
	ing := New(store, index, &flakyEmbedder{poison: "para1word0"}, ChunkOptions{TargetWords: 20, OverlapWords: 0})

	report, err := ing.IngestDocument(ctx, campaignID, "lore.md", "Lore", paragraphs(3, 15))
	require.NoError(t, err, "one bad chunk must not fail the whole ingest")

	assert.Equal(t, 3, report.ChunkCount)
	assert.Equal(t, 2, report.Indexed)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 1, report.Failed[0].Ordinal)

	rows, err := store.ListDocumentFragments(ctx, campaignID, "lore.md")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[1].IndexedAt, "the failed chunk stays pending for the background indexer")
	assert.NotNil(t, rows[0].IndexedAt)
	assert.NotNil(t, rows[2].IndexedAt)
}

func TestIngestIndexFailureLeavesChunksPending(t *testing.T) {
	ctx, store, campaignID := setupIngestStore(t)
	index := &recordingIndex{failUpsert: true}
	ing := New(store, index, &flakyEmbedder{}, ChunkOptions{TargetWords: 20, OverlapWords: 0})

	report, err := ing.IngestDocument(ctx, campaignID, "world.md", "World Primer", paragraphs(3, 15))
	require.NoError(t, err, "a vector-store outage must not fail the ingest")
	assert.Equal(t, 3, report.ChunkCount)
	assert.Equal(t, 0, report.Indexed)

	rows, err := store.ListDocumentFragments(ctx, campaignID, "world.md")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Nil(t, row.IndexedAt, "chunks missing from the index must not claim to be indexed")
	}

	pending, err := store.FindFragmentsPendingIndex(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "every chunk stays visible to the background indexer")
}

func TestIngestReplacesPriorFragments(t *testing.T) {
	ctx, store, campaignID := setupIngestStore(t)
	index := &recordingIndex{}
	ing := New(store, index, &flakyEmbedder{}, ChunkOptions{TargetWords: 20, OverlapWords: 0})

	_, err := ing.IngestDocument(ctx, campaignID, "notes.md", "Notes", paragraphs(2, 15))
	require.NoError(t, err)
	oldRows, err := store.ListDocumentFragments(ctx, campaignID, "notes.md")
	require.NoError(t, err)
	var oldIDs []uuid.UUID
	for _, row := range oldRows {
		oldIDs = append(oldIDs, row.ID)
	}

	report, err := ing.IngestDocument(ctx, campaignID, "notes.md", "Notes v2", paragraphs(3, 15))
	require.NoError(t, err)
	assert.Equal(t, 3, report.ChunkCount)

	assert.ElementsMatch(t, oldIDs, index.deleted,
		"superseded fragments are removed from the vector index")

	newRows, err := store.ListDocumentFragments(ctx, campaignID, "notes.md")
	require.NoError(t, err)
	require.Len(t, newRows, 3)
	for _, row := range newRows {
		assert.NotContains(t, oldIDs, row.ID)
	}

	docs, err := store.ListDocuments(ctx, campaignID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Notes v2", docs[0].Title)
	assert.Equal(t, 3, docs[0].ChunkCount)
}

func TestIngestExtractsEntities(t *testing.T) {
	ctx, store, campaignID := setupIngestStore(t)
	ing := New(store, &recordingIndex{}, &flakyEmbedder{}, DefaultChunkOptions())

	text := "NPC: Bram Hollis\n\nBram Hollis owns the Rusty Anchor Tavern and knows every rumor in port."
	report, err := ing.IngestDocument(ctx, campaignID, "npcs.md", "NPCs", text)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Entities, 2)

	entities, err := store.ListEntities(ctx, campaignID, nil)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entities {
		names[e.Name] = true
	}
	assert.True(t, names["Bram Hollis"])
	assert.True(t, names["Rusty Anchor Tavern"])

	rows, err := store.ListDocumentFragments(ctx, campaignID, "npcs.md")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Contains(t, rows[0].EntityTags, "Bram Hollis")
	assert.NotEmpty(t, rows[0].EntityIDs)
}

func TestIngestValidation(t *testing.T) {
	ctx, store, campaignID := setupIngestStore(t)
	ing := New(store, nil, nil, DefaultChunkOptions())

	var validation *registrystore.ValidationError
	_, err := ing.IngestDocument(ctx, campaignID, "", "Title", "body")
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "documentId", validation.Field)

	_, err = ing.IngestDocument(ctx, campaignID, "doc.md", "Title", "")
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "text", validation.Field)
}
