package assemble_test

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/assemble"
	"github.com/chronicle-rpg/chronicle/internal/config"
	"github.com/chronicle-rpg/chronicle/internal/model"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	registrymigrate "github.com/chronicle-rpg/chronicle/internal/registry/migrate"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/chronicle-rpg/chronicle/internal/plugin/embed/local"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/store/gormstore"
)

// memIndex is an in-memory FragmentIndex with brute-force cosine search.
type memIndex struct {
	entries map[uuid.UUID]registryvector.UpsertRequest
}

func newMemIndex() *memIndex {
	return &memIndex{entries: map[uuid.UUID]registryvector.UpsertRequest{}}
}

func (m *memIndex) Search(_ context.Context, embedding []float32, filter registryvector.SearchFilter, limit int) ([]registryvector.Result, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	var results []registryvector.Result
	for _, e := range m.entries {
		if e.CampaignID != filter.CampaignID {
			continue
		}
		results = append(results, registryvector.Result{FragmentID: e.FragmentID, Score: cosine(embedding, e.Embedding)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *memIndex) Upsert(_ context.Context, requests []registryvector.UpsertRequest) error {
	for _, r := range requests {
		m.entries[r.FragmentID] = r
	}
	return nil
}

func (m *memIndex) DeleteByCampaignID(_ context.Context, campaignID uuid.UUID) error {
	for id, e := range m.entries {
		if e.CampaignID == campaignID {
			delete(m.entries, id)
		}
	}
	return nil
}

func (m *memIndex) DeleteByFragmentIDs(_ context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *memIndex) IsEnabled() bool { return true }
func (m *memIndex) Name() string    { return "memory" }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type fixture struct {
	store    registrystore.CampaignStore
	index    *memIndex
	embedder registryembed.Embedder
	cfg      *config.Config
	ctx      context.Context
	campaign *model.Campaign
	session  *model.Session
}

func setup(t *testing.T) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DatastoreType = "sqlite"
	cfg.VectorType = "none"
	cfg.SystemPrompt = "You are the DM."
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))
	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	embedLoader, err := registryembed.Select("local")
	require.NoError(t, err)
	embedder, err := embedLoader(ctx)
	require.NoError(t, err)

	campaign, err := store.CreateCampaign(ctx, "camp")
	require.NoError(t, err)
	session, err := store.StartSession(ctx, campaign.ID)
	require.NoError(t, err)

	return &fixture{
		store:    store,
		index:    newMemIndex(),
		embedder: embedder,
		cfg:      &cfg,
		ctx:      ctx,
		campaign: campaign,
		session:  session,
	}
}

// addIndexedFragment stores a fragment and its embedding.
func (f *fixture) addIndexedFragment(t *testing.T, text string, entityIDs ...uuid.UUID) model.MemoryFragment {
	t.Helper()
	vecs, err := f.embedder.EmbedTexts(f.ctx, []string{text})
	require.NoError(t, err)
	now := time.Now()
	frag := model.MemoryFragment{
		ID:         uuid.New(),
		CampaignID: f.campaign.ID,
		SourceKind: model.SourceDocumentChunk,
		SourceRef:  fmt.Sprintf("doc:test:%s", uuid.New()),
		Text:       text,
		EntityIDs:  entityIDs,
		CreatedAt:  now,
		IndexedAt:  &now,
		EmbedModel: f.embedder.ModelName(),
		EmbedDim:   len(vecs[0]),
	}
	require.NoError(t, f.store.CreateFragment(f.ctx, &frag))
	require.NoError(t, f.index.Upsert(f.ctx, []registryvector.UpsertRequest{{
		FragmentID: frag.ID,
		CampaignID: f.campaign.ID,
		SourceKind: frag.SourceKind,
		CreatedAt:  frag.CreatedAt,
		Embedding:  vecs[0],
		ModelName:  f.embedder.ModelName(),
	}}))
	return frag
}

func TestAssembleValidation(t *testing.T) {
	f := setup(t)
	assembler := assemble.New(f.store, nil, nil, f.cfg)

	var validation *registrystore.ValidationError
	_, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "   ")
	require.ErrorAs(t, err, &validation)

	var invalid *registrystore.InvalidSessionError
	_, err = assembler.Assemble(f.ctx, uuid.New(), f.session.ID, "look around")
	require.ErrorAs(t, err, &invalid, "session of a different campaign is rejected")

	_, err = f.store.EndSession(f.ctx, f.session.ID)
	require.NoError(t, err)
	_, err = assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "look around")
	require.ErrorAs(t, err, &invalid, "ended session is rejected")
}

func TestAssemblePromptLayout(t *testing.T) {
	f := setup(t)
	name := "Mira"
	class := "Rogue"
	level := 3
	summary := "A wary lockpick from the coast."
	_, err := f.store.PutCharacter(f.ctx, f.campaign.ID, registrystore.CharacterUpdate{
		Name: &name, Class: &class, Level: &level, Summary: &summary,
	})
	require.NoError(t, err)

	_, err = f.store.AppendTurn(f.ctx, f.session.ID, model.ActorPlayer, "I enter the tavern")
	require.NoError(t, err)
	_, err = f.store.AppendTurn(f.ctx, f.session.ID, model.ActorDM, "The room falls silent")
	require.NoError(t, err)

	assembler := assemble.New(f.store, nil, nil, f.cfg)
	out, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I order an ale")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out.Prompt, "You are the DM."))
	assert.Contains(t, out.Prompt, "Player Character: Mira (Level 3 Rogue)")
	assert.Contains(t, out.Prompt, summary)
	assert.Contains(t, out.Prompt, "Recent exchanges:\nPlayer: I enter the tavern\nDM: The room falls silent")
	assert.True(t, strings.HasSuffix(out.Prompt, "\nPlayer: I order an ale\nDM:"))
	assert.Equal(t, 2, out.TurnsIncluded)
	assert.Equal(t, len(out.Prompt), out.Size)
}

func TestAssembleSimilarityRanking(t *testing.T) {
	f := setup(t)
	door := f.addIndexedFragment(t, "The cursed door in the crypt groans and whispers at midnight")
	f.addIndexedFragment(t, "Dragons roost high on the frozen mountain peaks far away")

	assembler := assemble.New(f.store, f.index, f.embedder, f.cfg)
	out, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I inspect the cursed door in the crypt")
	require.NoError(t, err)

	require.NotEmpty(t, out.Fragments)
	assert.Equal(t, door.ID, out.Fragments[0].Fragment.ID,
		"the fragment about the cursed door must outrank unrelated lore")
}

func TestAssembleBudgetNeverExceeded(t *testing.T) {
	f := setup(t)
	for i := 0; i < 20; i++ {
		actor := model.ActorPlayer
		if i%2 == 1 {
			actor = model.ActorDM
		}
		_, err := f.store.AppendTurn(f.ctx, f.session.ID, actor, fmt.Sprintf("turn %d with some padding text", i))
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		f.addIndexedFragment(t, fmt.Sprintf("Lore entry %d: %s", i, strings.Repeat("words and more words ", 10)))
	}

	f.cfg.MaxContextLength = 400
	assembler := assemble.New(f.store, f.index, f.embedder, f.cfg)
	out, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I look around")
	require.NoError(t, err)

	assert.LessOrEqual(t, out.Size, 400)
	assert.Equal(t, len(out.Prompt), out.Size)
	// The window gave up its oldest turns, keeping the newest.
	assert.Less(t, out.TurnsIncluded, f.cfg.RecencyWindow)
	if out.TurnsIncluded > 0 {
		assert.Contains(t, out.Prompt, "turn 19")
	}
}

func TestAssembleBudgetFloorKeepsMandatorySections(t *testing.T) {
	f := setup(t)
	_, err := f.store.AppendTurn(f.ctx, f.session.ID, model.ActorPlayer, "I knock on the cursed door")
	require.NoError(t, err)
	f.addIndexedFragment(t, "The cursed door never opens for the living")

	// Below the mandatory floor: only system prompt and tail survive.
	f.cfg.MaxContextLength = 10
	assembler := assemble.New(f.store, f.index, f.embedder, f.cfg)
	out, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I knock again")
	require.NoError(t, err)

	assert.Equal(t, 0, out.TurnsIncluded)
	assert.Empty(t, out.Fragments)
	assert.True(t, strings.HasPrefix(out.Prompt, "You are the DM."))
	assert.True(t, strings.HasSuffix(out.Prompt, "\nPlayer: I knock again\nDM:"))
	assert.NotContains(t, out.Prompt, "Recent exchanges")
	assert.NotContains(t, out.Prompt, "Relevant campaign memory")
}

func TestAssembleBestFitSkipsOversized(t *testing.T) {
	f := setup(t)
	huge := f.addIndexedFragment(t, "cursed door "+strings.Repeat("endless cursed door lore ", 40))
	small := f.addIndexedFragment(t, "cursed door small note")

	f.cfg.MaxContextLength = len(f.cfg.SystemPrompt) + 150
	assembler := assemble.New(f.store, f.index, f.embedder, f.cfg)
	out, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I study the cursed door")
	require.NoError(t, err)

	assert.LessOrEqual(t, out.Size, f.cfg.MaxContextLength)
	var ids []uuid.UUID
	for _, sf := range out.Fragments {
		ids = append(ids, sf.Fragment.ID)
	}
	assert.Contains(t, ids, small.ID, "the smaller fragment fits and is selected")
	assert.NotContains(t, ids, huge.ID, "the oversized fragment is skipped whole, never split")
}

func TestAssembleKeywordFallback(t *testing.T) {
	f := setup(t)
	// A fragment with no embedding is reachable only by keyword.
	pending := model.MemoryFragment{
		ID:         uuid.New(),
		CampaignID: f.campaign.ID,
		SourceKind: model.SourceDocumentChunk,
		SourceRef:  "doc:pending:0",
		Text:       "The amulet hums beneath the floorboards",
		CreatedAt:  time.Now(),
	}
	require.NoError(t, f.store.CreateFragment(f.ctx, &pending))

	assembler := assemble.New(f.store, nil, nil, f.cfg)
	out, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I search for the amulet")
	require.NoError(t, err)

	require.Len(t, out.Fragments, 1)
	assert.Equal(t, pending.ID, out.Fragments[0].Fragment.ID)
	assert.InDelta(t, 0.1, out.Fragments[0].Similarity, 1e-9)
}

func TestAssembleDedupsAgainstRecencyWindow(t *testing.T) {
	f := setup(t)
	turn, err := f.store.AppendTurn(f.ctx, f.session.ID, model.ActorPlayer, "I open the cursed door")
	require.NoError(t, err)
	_, err = f.store.AppendTurn(f.ctx, f.session.ID, model.ActorDM, "It creaks open")
	require.NoError(t, err)

	// The exchange fragment for the turn already in the window.
	windowFrag := model.MemoryFragment{
		ID:         uuid.New(),
		CampaignID: f.campaign.ID,
		SourceKind: model.SourceTurn,
		SourceRef:  fmt.Sprintf("turn:%s:%d", f.session.ID, turn.Seq),
		Text:       "Player: I open the cursed door\nDM: It creaks open",
		CreatedAt:  time.Now(),
	}
	require.NoError(t, f.store.CreateFragment(f.ctx, &windowFrag))

	assembler := assemble.New(f.store, nil, nil, f.cfg)
	out, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I step through the cursed door")
	require.NoError(t, err)

	for _, sf := range out.Fragments {
		assert.NotEqual(t, windowFrag.ID, sf.Fragment.ID,
			"a fragment already present in the recency window must not repeat as memory")
	}
}

func TestAssembleDimensionMismatch(t *testing.T) {
	f := setup(t)
	frag := f.addIndexedFragment(t, "old lore written under a previous model")
	// Simulate an index entry embedded at a different dimensionality.
	require.NoError(t, f.store.MarkFragmentIndexed(f.ctx, frag.ID, "other-model", 1536, time.Now()))

	assembler := assemble.New(f.store, f.index, f.embedder, f.cfg)
	_, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I recall the old lore")
	var mismatch *registrystore.DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1536, mismatch.Have)
}

func TestAssembleDeterministic(t *testing.T) {
	f := setup(t)
	f.addIndexedFragment(t, "The cursed door groans at midnight")
	f.addIndexedFragment(t, "The innkeeper knows more than he says")
	_, err := f.store.AppendTurn(f.ctx, f.session.ID, model.ActorPlayer, "I listen at the door")
	require.NoError(t, err)

	assembler := assemble.New(f.store, f.index, f.embedder, f.cfg)
	first, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I open the cursed door")
	require.NoError(t, err)
	second, err := assembler.Assemble(f.ctx, f.campaign.ID, f.session.ID, "I open the cursed door")
	require.NoError(t, err)

	assert.Equal(t, first.Prompt, second.Prompt)
}
