package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	"github.com/google/uuid"
)

// EvictionService keeps each campaign's stored document fragments under
// the configured cap. Only document chunks are ever evicted; the play
// log and its turn fragments are permanent. Candidates go worst
// retrieval score first, then least recently retrieved, then oldest.
type EvictionService struct {
	store      registrystore.CampaignStore
	maxEntries int
	interval   time.Duration
	batchSize  int
	delay      time.Duration
}

func NewEvictionService(store registrystore.CampaignStore, maxEntries int, interval time.Duration, batchSize int, delayMs int) *EvictionService {
	return &EvictionService{
		store:      store,
		maxEntries: maxEntries,
		interval:   interval,
		batchSize:  batchSize,
		delay:      time.Duration(delayMs) * time.Millisecond,
	}
}

// Start begins the periodic eviction loop. Returns when ctx is cancelled.
func (e *EvictionService) Start(ctx context.Context) {
	if e.maxEntries <= 0 || e.interval <= 0 {
		return
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce evicts over-cap campaigns in one pass.
func (e *EvictionService) RunOnce(ctx context.Context) {
	campaigns, err := e.store.ListCampaigns(ctx)
	if err != nil {
		log.Error("Eviction: list campaigns failed", "err", err)
		return
	}
	for _, campaign := range campaigns {
		count, err := e.store.CountDocumentFragments(ctx, campaign.ID)
		if err != nil {
			log.Error("Eviction: count failed", "campaign", campaign.ID, "err", err)
			continue
		}
		over := int(count) - e.maxEntries
		if over <= 0 {
			continue
		}

		log.Info("Eviction: campaign over cap", "campaign", campaign.ID, "fragments", count, "cap", e.maxEntries)
		for over > 0 {
			batch := e.batchSize
			if over < batch {
				batch = over
			}
			victims, err := e.store.FindEvictableFragments(ctx, campaign.ID, batch)
			if err != nil {
				log.Error("Eviction: find candidates failed", "campaign", campaign.ID, "err", err)
				break
			}
			if len(victims) == 0 {
				break
			}

			idStrings := make([]interface{}, len(victims))
			ids := make([]uuid.UUID, len(victims))
			for i, f := range victims {
				ids[i] = f.ID
				idStrings[i] = f.ID.String()
			}
			// Enqueue vector cleanup before the rows disappear so a crash
			// between the two steps leaves a task, not an orphan.
			body := map[string]interface{}{"fragment_ids": idStrings}
			if err := e.store.CreateTask(ctx, "vector_fragment_delete", body); err != nil {
				log.Error("Eviction: enqueue vector cleanup failed", "campaign", campaign.ID, "err", err)
				break
			}
			if err := e.store.DeleteFragments(ctx, ids); err != nil {
				log.Error("Eviction: delete fragments failed", "campaign", campaign.ID, "err", err)
				break
			}
			over -= len(victims)

			if e.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.delay):
				}
			}
		}
	}
}
