package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/model"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) CreateCampaign(ctx context.Context, title string) (*model.Campaign, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &registrystore.ValidationError{Field: "title", Message: "title is required"}
	}
	campaign := model.Campaign{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	return &campaign, nil
}

func (s *Store) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*model.Campaign, error) {
	var campaign model.Campaign
	if err := s.db.WithContext(ctx).Where("id = ?", campaignID).First(&campaign).Error; err != nil {
		if isNotFound(err) {
			return nil, &registrystore.NotFoundError{Resource: "campaign", ID: campaignID.String()}
		}
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	return &campaign, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// DeleteCampaign removes the campaign and everything under it, then
// enqueues the vector index cleanup task. Hard deletes: the event log
// has no per-turn deletion path, only this one.
func (s *Store) DeleteCampaign(ctx context.Context, campaignID uuid.UUID) error {
	unlock := s.lockCampaign(campaignID)
	defer unlock()

	var campaign model.Campaign
	if err := s.db.WithContext(ctx).Where("id = ?", campaignID).First(&campaign).Error; err != nil {
		if isNotFound(err) {
			return &registrystore.NotFoundError{Resource: "campaign", ID: campaignID.String()}
		}
		return fmt.Errorf("failed to load campaign: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, target := range []interface{}{
			&model.Turn{},
			&model.Session{},
			&model.MemoryFragment{},
			&model.Entity{},
			&model.Character{},
			&model.Document{},
		} {
			if err := tx.Where("campaign_id = ?", campaignID).Delete(target).Error; err != nil {
				return fmt.Errorf("failed to delete campaign rows: %w", err)
			}
		}
		if err := tx.Where("id = ?", campaignID).Delete(&model.Campaign{}).Error; err != nil {
			return fmt.Errorf("failed to delete campaign: %w", err)
		}
		task := model.Task{
			ID:        uuid.New(),
			TaskType:  "vector_campaign_delete",
			TaskBody:  map[string]interface{}{"campaign_id": campaignID.String()},
			CreatedAt: time.Now(),
			RetryAt:   time.Now(),
		}
		if err := tx.Create(&task).Error; err != nil {
			return fmt.Errorf("failed to enqueue vector cleanup: %w", err)
		}
		return nil
	})
}

func (s *Store) GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (*registrystore.CampaignStats, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	stats := &registrystore.CampaignStats{}
	db := s.db.WithContext(ctx)
	if err := db.Model(&model.Session{}).Where("campaign_id = ?", campaignID).Count(&stats.Sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	if err := db.Model(&model.Turn{}).Where("campaign_id = ?", campaignID).Count(&stats.Turns).Error; err != nil {
		return nil, fmt.Errorf("failed to count turns: %w", err)
	}
	if err := db.Model(&model.MemoryFragment{}).
		Where("campaign_id = ? AND source_kind = ?", campaignID, model.SourceDocumentChunk).
		Count(&stats.DocumentFragments).Error; err != nil {
		return nil, fmt.Errorf("failed to count document fragments: %w", err)
	}
	if err := db.Model(&model.MemoryFragment{}).
		Where("campaign_id = ? AND source_kind = ?", campaignID, model.SourceTurn).
		Count(&stats.TurnFragments).Error; err != nil {
		return nil, fmt.Errorf("failed to count turn fragments: %w", err)
	}
	if err := db.Model(&model.MemoryFragment{}).
		Where("campaign_id = ? AND indexed_at IS NULL", campaignID).
		Count(&stats.PendingFragments).Error; err != nil {
		return nil, fmt.Errorf("failed to count pending fragments: %w", err)
	}
	if err := db.Model(&model.Entity{}).Where("campaign_id = ?", campaignID).Count(&stats.Entities).Error; err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	return stats, nil
}
