package gormstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/config"
	"github.com/chronicle-rpg/chronicle/internal/model"
	registrymigrate "github.com/chronicle-rpg/chronicle/internal/registry/migrate"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/chronicle-rpg/chronicle/internal/plugin/store/gormstore"
)

func setupTestStore(t *testing.T) (registrystore.CampaignStore, context.Context) {
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

	return store, ctx
}

func TestCreateAndGetCampaign(t *testing.T) {
	store, ctx := setupTestStore(t)

	campaign, err := store.CreateCampaign(ctx, "The Sunken Keep")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, campaign.ID)

	got, err := store.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Sunken Keep", got.Title)

	_, err = store.GetCampaign(ctx, uuid.New())
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestCreateCampaignRequiresTitle(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, err := store.CreateCampaign(ctx, "   ")
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "title", validation.Field)

	campaign, err := store.CreateCampaign(ctx, "  Bramblewood  ")
	require.NoError(t, err)
	assert.Equal(t, "Bramblewood", campaign.Title, "surrounding whitespace is stripped")
}

func TestSingleActiveSession(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)

	first, err := store.StartSession(ctx, campaign.ID)
	require.NoError(t, err)

	_, err = store.StartSession(ctx, campaign.ID)
	var active *registrystore.SessionActiveError
	require.ErrorAs(t, err, &active)
	assert.Equal(t, first.ID.String(), active.SessionID)

	got, err := store.GetActiveSession(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	ended, err := store.EndSession(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)

	// Ending again is idempotent.
	again, err := store.EndSession(ctx, first.ID)
	require.NoError(t, err)
	assert.NotNil(t, again.EndedAt)

	_, err = store.GetActiveSession(ctx, campaign.ID)
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)

	// A new session can start now.
	_, err = store.StartSession(ctx, campaign.ID)
	require.NoError(t, err)
}

func TestAppendTurnSequencing(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)
	session, err := store.StartSession(ctx, campaign.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		actor := model.ActorPlayer
		if i%2 == 1 {
			actor = model.ActorDM
		}
		turn, err := store.AppendTurn(ctx, session.ID, actor, fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), turn.Seq)
	}

	turns, err := store.ListRecentTurns(ctx, session.ID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	for i, turn := range turns {
		assert.Equal(t, int64(i+1), turn.Seq, "turns must come back ascending with no gaps")
	}

	// Window cuts from the oldest end.
	turns, err = store.ListRecentTurns(ctx, session.ID, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, int64(4), turns[0].Seq)
	assert.Equal(t, int64(5), turns[1].Seq)

	count, err := store.CountTurns(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestAppendTurnInvalidSession(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)

	var invalid *registrystore.InvalidSessionError
	_, err = store.AppendTurn(ctx, uuid.New(), model.ActorPlayer, "hello")
	require.ErrorAs(t, err, &invalid)

	session, err := store.StartSession(ctx, campaign.ID)
	require.NoError(t, err)
	_, err = store.EndSession(ctx, session.ID)
	require.NoError(t, err)

	_, err = store.AppendTurn(ctx, session.ID, model.ActorPlayer, "too late")
	require.ErrorAs(t, err, &invalid)

	// Bad actor and empty text are validation failures.
	session2, err := store.StartSession(ctx, campaign.ID)
	require.NoError(t, err)
	var validation *registrystore.ValidationError
	_, err = store.AppendTurn(ctx, session2.ID, model.Actor("narrator"), "x")
	require.ErrorAs(t, err, &validation)
	_, err = store.AppendTurn(ctx, session2.ID, model.ActorPlayer, "")
	require.ErrorAs(t, err, &validation)
}

func TestCharacterPutAndPatch(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)

	name := "Mira"
	class := "Rogue"
	char, err := store.PutCharacter(ctx, campaign.ID, registrystore.CharacterUpdate{
		Name:       &name,
		Class:      &class,
		Attributes: map[string]string{"str": "12"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, char.Level)

	// Patch: omitted fields keep their values, attributes merge.
	level := 3
	char, err = store.PutCharacter(ctx, campaign.ID, registrystore.CharacterUpdate{
		Level:      &level,
		Attributes: map[string]string{"str": "14", "dex": "16"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Mira", char.Name)
	assert.Equal(t, "Rogue", char.Class)
	assert.Equal(t, 3, char.Level)
	assert.Equal(t, "14", char.Attributes["str"])
	assert.Equal(t, "16", char.Attributes["dex"])

	got, err := store.GetCharacter(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, char.ID, got.ID)
}

func TestUpsertEntitiesMerge(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)

	seq := int64(4)
	entities, err := store.UpsertEntities(ctx, campaign.ID, []registrystore.EntityUpsert{
		{Kind: model.EntityNPC, Name: "The Innkeeper", FirstSeenSeq: &seq, Attributes: map[string]string{"mood": "wary"}},
	})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.NotNil(t, entities[0].FirstSeenSeq)
	assert.Equal(t, int64(4), *entities[0].FirstSeenSeq)

	// Same name, different case: merges into the same entity, keeps
	// the original FirstSeenSeq, overwrites the attribute.
	later := int64(9)
	entities, err = store.UpsertEntities(ctx, campaign.ID, []registrystore.EntityUpsert{
		{Kind: model.EntityNPC, Name: "the innkeeper", FirstSeenSeq: &later, Attributes: map[string]string{"mood": "friendly"}},
	})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, int64(4), *entities[0].FirstSeenSeq)
	assert.Equal(t, "friendly", entities[0].Attributes["mood"])

	all, err := store.ListEntities(ctx, campaign.ID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	kind := model.EntityLocation
	locations, err := store.ListEntities(ctx, campaign.ID, &kind)
	require.NoError(t, err)
	assert.Empty(t, locations)
}

func docFragment(campaignID uuid.UUID, docID string, ordinal int, text string) model.MemoryFragment {
	return model.MemoryFragment{
		ID:         uuid.New(),
		CampaignID: campaignID,
		SourceKind: model.SourceDocumentChunk,
		SourceRef:  fmt.Sprintf("doc:%s:%d", docID, ordinal),
		Text:       text,
		CreatedAt:  time.Now(),
	}
}

func TestReplaceDocumentFragmentsSupersedes(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)

	doc := model.Document{ID: "guide.txt", CampaignID: campaign.ID, Title: "Guide"}
	first := []model.MemoryFragment{
		docFragment(campaign.ID, "guide.txt", 0, "the old keep"),
		docFragment(campaign.ID, "guide.txt", 1, "the cursed door"),
	}
	superseded, err := store.ReplaceDocumentFragments(ctx, campaign.ID, doc, first)
	require.NoError(t, err)
	assert.Empty(t, superseded)

	second := []model.MemoryFragment{
		docFragment(campaign.ID, "guide.txt", 0, "the restored keep"),
	}
	superseded, err = store.ReplaceDocumentFragments(ctx, campaign.ID, doc, second)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{first[0].ID, first[1].ID}, superseded)

	remaining, err := store.ListDocumentFragments(ctx, campaign.ID, "guide.txt")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "the restored keep", remaining[0].Text)

	docs, err := store.ListDocuments(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, docs[0].ChunkCount)
}

func TestFragmentIndexLifecycle(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)

	frag := docFragment(campaign.ID, "d", 0, "pending text")
	require.NoError(t, store.CreateFragment(ctx, &frag))

	pending, err := store.FindFragmentsPendingIndex(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkFragmentIndexFailed(ctx, frag.ID))
	require.NoError(t, store.MarkFragmentIndexed(ctx, frag.ID, "local-hash-v1", 384, time.Now()))

	pending, err = store.FindFragmentsPendingIndex(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	rows, err := store.GetFragmentsByIDs(ctx, campaign.ID, []uuid.UUID{frag.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 384, rows[0].EmbedDim)
	assert.Equal(t, "local-hash-v1", rows[0].EmbedModel)

	require.NoError(t, store.ClearIndexState(ctx))
	pending, err = store.FindFragmentsPendingIndex(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].EmbedDim)
}

func TestKeywordSearchFragments(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)
	other, err := store.CreateCampaign(ctx, "other")
	require.NoError(t, err)

	frag := docFragment(campaign.ID, "d", 0, "The Cursed Door groans at midnight")
	require.NoError(t, store.CreateFragment(ctx, &frag))
	foreign := docFragment(other.ID, "d", 0, "cursed treasure elsewhere")
	require.NoError(t, store.CreateFragment(ctx, &foreign))

	hits, err := store.KeywordSearchFragments(ctx, campaign.ID, []string{"cursed", "door"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, frag.ID, hits[0].ID)

	hits, err = store.KeywordSearchFragments(ctx, campaign.ID, []string{"dragon"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEvictionOrderingAndRetrievalTouch(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)

	low := docFragment(campaign.ID, "d", 0, "rarely useful lore")
	high := docFragment(campaign.ID, "d", 1, "critical plot point")
	require.NoError(t, store.CreateFragment(ctx, &low))
	require.NoError(t, store.CreateFragment(ctx, &high))

	// Turn fragments are never evictable.
	turnFrag := model.MemoryFragment{
		ID: uuid.New(), CampaignID: campaign.ID, SourceKind: model.SourceTurn,
		SourceRef: "turn:x:1", Text: "Player: hi\nDM: hello", CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateFragment(ctx, &turnFrag))

	now := time.Now()
	require.NoError(t, store.TouchFragmentRetrieval(ctx, []registrystore.RetrievalTouch{
		{FragmentID: low.ID, Score: 0.1},
		{FragmentID: high.ID, Score: 0.9},
	}, now))

	count, err := store.CountDocumentFragments(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	evictable, err := store.FindEvictableFragments(ctx, campaign.ID, 1)
	require.NoError(t, err)
	require.Len(t, evictable, 1)
	assert.Equal(t, low.ID, evictable[0].ID, "worst score goes first")

	require.NoError(t, store.DeleteFragments(ctx, []uuid.UUID{low.ID}))
	count, err = store.CountDocumentFragments(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTaskQueue(t *testing.T) {
	store, ctx := setupTestStore(t)

	require.NoError(t, store.CreateTask(ctx, "vector_fragment_delete", map[string]interface{}{
		"fragment_ids": []interface{}{uuid.New().String()},
	}))

	tasks, err := store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// Claimed tasks are pushed out; an immediate second claim sees none.
	tasks2, err := store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks2)

	require.NoError(t, store.FailTask(ctx, tasks[0].ID, "index down", 0))
	tasks, err = store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].LastError)
	assert.Equal(t, 1, tasks[0].RetryCount)

	require.NoError(t, store.DeleteTask(ctx, tasks[0].ID))
}

func TestDeleteCampaignCascades(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "doomed")
	require.NoError(t, err)

	session, err := store.StartSession(ctx, campaign.ID)
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, session.ID, model.ActorPlayer, "hello")
	require.NoError(t, err)

	frag := docFragment(campaign.ID, "d", 0, "lore")
	require.NoError(t, store.CreateFragment(ctx, &frag))
	_, err = store.UpsertEntities(ctx, campaign.ID, []registrystore.EntityUpsert{
		{Kind: model.EntityNPC, Name: "Bram"},
	})
	require.NoError(t, err)
	name := "Hero"
	_, err = store.PutCharacter(ctx, campaign.ID, registrystore.CharacterUpdate{Name: &name})
	require.NoError(t, err)

	require.NoError(t, store.DeleteCampaign(ctx, campaign.ID))

	var notFound *registrystore.NotFoundError
	_, err = store.GetCampaign(ctx, campaign.ID)
	require.ErrorAs(t, err, &notFound)
	_, err = store.GetCharacter(ctx, campaign.ID)
	require.ErrorAs(t, err, &notFound)

	_, err = store.ListSessions(ctx, campaign.ID)
	require.ErrorAs(t, err, &notFound)
	_, err = store.ListEntities(ctx, campaign.ID, nil)
	require.ErrorAs(t, err, &notFound)
	frags, err := store.GetFragmentsByIDs(ctx, campaign.ID, []uuid.UUID{frag.ID})
	require.NoError(t, err)
	assert.Empty(t, frags)

	// The cascade leaves a vector cleanup task behind.
	tasks, err := store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "vector_campaign_delete", tasks[0].TaskType)
	assert.Equal(t, campaign.ID.String(), tasks[0].TaskBody["campaign_id"])
}

func TestCampaignStats(t *testing.T) {
	store, ctx := setupTestStore(t)
	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)

	session, err := store.StartSession(ctx, campaign.ID)
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, session.ID, model.ActorPlayer, "go north")
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, session.ID, model.ActorDM, "you go north")
	require.NoError(t, err)

	indexed := docFragment(campaign.ID, "d", 0, "indexed lore")
	now := time.Now()
	indexed.IndexedAt = &now
	indexed.EmbedModel = "m"
	indexed.EmbedDim = 3
	require.NoError(t, store.CreateFragment(ctx, &indexed))
	pendingFrag := docFragment(campaign.ID, "d", 1, "pending lore")
	require.NoError(t, store.CreateFragment(ctx, &pendingFrag))

	stats, err := store.GetCampaignStats(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.Equal(t, int64(2), stats.Turns)
	assert.Equal(t, int64(2), stats.DocumentFragments)
	assert.Equal(t, int64(0), stats.TurnFragments)
	assert.Equal(t, int64(1), stats.PendingFragments)
}
