package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chronicle-rpg/chronicle/internal/extract"
	"github.com/chronicle-rpg/chronicle/internal/model"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/google/uuid"
)

// Exchange is one recorded player/DM round trip.
type Exchange struct {
	PlayerTurn *model.Turn           `json:"playerTurn"`
	DMTurn     *model.Turn           `json:"dmTurn"`
	Fragment   *model.MemoryFragment `json:"fragment"`
	Entities   []model.Entity        `json:"entities,omitempty"`
}

// MemoryUpdater records completed exchanges into the event log and the
// retrievable memory. Extraction and embedding happen inline after the
// turns are durable; an embedding failure leaves the fragment pending
// for the background indexer, never loses the exchange.
type MemoryUpdater struct {
	store        registrystore.CampaignStore
	index        registryvector.FragmentIndex
	embedder     registryembed.Embedder
	embedTimeout time.Duration
}

func NewMemoryUpdater(store registrystore.CampaignStore, index registryvector.FragmentIndex, embedder registryembed.Embedder, embedTimeout time.Duration) *MemoryUpdater {
	return &MemoryUpdater{store: store, index: index, embedder: embedder, embedTimeout: embedTimeout}
}

// RecordExchange appends both turns, merges extracted entities, and
// writes one memory fragment covering the whole exchange.
func (u *MemoryUpdater) RecordExchange(ctx context.Context, campaignID, sessionID uuid.UUID, playerText, dmText string) (*Exchange, error) {
	playerTurn, err := u.store.AppendTurn(ctx, sessionID, model.ActorPlayer, playerText)
	if err != nil {
		return nil, err
	}
	dmTurn, err := u.store.AppendTurn(ctx, sessionID, model.ActorDM, dmText)
	if err != nil {
		return nil, err
	}

	exchangeText := "Player: " + playerText + "\nDM: " + dmText
	mentions := extract.Entities(exchangeText)

	firstSeen := playerTurn.Seq
	var upserts []registrystore.EntityUpsert
	for _, m := range mentions {
		seq := firstSeen
		upserts = append(upserts, registrystore.EntityUpsert{
			Kind:         m.Kind,
			Name:         m.Name,
			FirstSeenSeq: &seq,
			Attributes:   map[string]string{"context": m.Context},
		})
	}
	entities, err := u.store.UpsertEntities(ctx, campaignID, upserts)
	if err != nil {
		return nil, fmt.Errorf("record exchange: upsert entities: %w", err)
	}

	fragment := &model.MemoryFragment{
		ID:         uuid.New(),
		CampaignID: campaignID,
		SourceKind: model.SourceTurn,
		SourceRef:  fmt.Sprintf("turn:%s:%d", sessionID, playerTurn.Seq),
		Text:       exchangeText,
		CreatedAt:  time.Now(),
	}
	for _, e := range entities {
		fragment.EntityTags = append(fragment.EntityTags, e.Name)
		fragment.EntityIDs = append(fragment.EntityIDs, e.ID)
	}

	// The fragment is stored pending first; it only counts as indexed
	// once the vector upsert succeeds. On failure the background indexer
	// picks it up, so the exchange is never lost.
	if err := u.store.CreateFragment(ctx, fragment); err != nil {
		return nil, fmt.Errorf("record exchange: create fragment: %w", err)
	}

	embedding := u.tryEmbed(ctx, exchangeText)
	if embedding != nil && u.index != nil && u.index.IsEnabled() {
		err := u.index.Upsert(ctx, []registryvector.UpsertRequest{{
			FragmentID: fragment.ID,
			CampaignID: campaignID,
			SourceKind: fragment.SourceKind,
			EntityTags: fragment.EntityTags,
			CreatedAt:  fragment.CreatedAt,
			Embedding:  embedding,
			ModelName:  u.embedder.ModelName(),
		}})
		if err != nil {
			log.Warn("Exchange index upsert failed, leaving pending", "fragment", fragment.ID, "err", err)
			if cErr := u.store.MarkFragmentIndexFailed(ctx, fragment.ID); cErr != nil {
				log.Error("Failed to record index attempt", "fragment", fragment.ID, "err", cErr)
			}
		} else {
			now := time.Now()
			if mErr := u.store.MarkFragmentIndexed(ctx, fragment.ID, u.embedder.ModelName(), len(embedding), now); mErr != nil {
				log.Error("Failed to mark exchange fragment indexed", "fragment", fragment.ID, "err", mErr)
			} else {
				fragment.IndexedAt = &now
				fragment.EmbedModel = u.embedder.ModelName()
				fragment.EmbedDim = len(embedding)
			}
		}
	}

	return &Exchange{
		PlayerTurn: playerTurn,
		DMTurn:     dmTurn,
		Fragment:   fragment,
		Entities:   entities,
	}, nil
}

func (u *MemoryUpdater) tryEmbed(ctx context.Context, text string) []float32 {
	if u.embedder == nil || u.index == nil || !u.index.IsEnabled() {
		return nil
	}
	embedCtx := ctx
	if u.embedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, u.embedTimeout)
		defer cancel()
	}
	vecs, err := u.embedder.EmbedTexts(embedCtx, []string{text})
	if err != nil || len(vecs) != 1 {
		log.Warn("Exchange embedding failed, leaving pending", "err", err)
		return nil
	}
	return vecs[0]
}
