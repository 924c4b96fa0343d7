package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/model"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	"github.com/google/uuid"
)

func (s *Store) GetCharacter(ctx context.Context, campaignID uuid.UUID) (*model.Character, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	var character model.Character
	result := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Limit(1).Find(&character)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load character: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "character", ID: campaignID.String()}
	}
	return &character, nil
}

// PutCharacter creates the campaign's character sheet on first write
// and patches it after: nil fields are left alone, Attributes merge
// last-write-wins per key.
func (s *Store) PutCharacter(ctx context.Context, campaignID uuid.UUID, update registrystore.CharacterUpdate) (*model.Character, error) {
	unlock := s.lockCampaign(campaignID)
	defer unlock()

	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	var character model.Character
	result := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Limit(1).Find(&character)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load character: %w", result.Error)
	}

	now := time.Now()
	if result.RowsAffected == 0 {
		if update.Name == nil || *update.Name == "" {
			return nil, &registrystore.ValidationError{Field: "name", Message: "name is required to create a character"}
		}
		character = model.Character{
			ID:         uuid.New(),
			CampaignID: campaignID,
			Name:       *update.Name,
			Level:      1,
			Attributes: map[string]string{},
			UpdatedAt:  now,
		}
		if update.Class != nil {
			character.Class = *update.Class
		}
		if update.Level != nil {
			character.Level = *update.Level
		}
		if update.Summary != nil {
			character.Summary = *update.Summary
		}
		for k, v := range update.Attributes {
			character.Attributes[k] = v
		}
		if err := s.db.WithContext(ctx).Create(&character).Error; err != nil {
			return nil, fmt.Errorf("failed to create character: %w", err)
		}
		return &character, nil
	}

	if update.Name != nil {
		character.Name = *update.Name
	}
	if update.Class != nil {
		character.Class = *update.Class
	}
	if update.Level != nil {
		character.Level = *update.Level
	}
	if update.Summary != nil {
		character.Summary = *update.Summary
	}
	if character.Attributes == nil {
		character.Attributes = map[string]string{}
	}
	for k, v := range update.Attributes {
		character.Attributes[k] = v
	}
	character.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(&character).Error; err != nil {
		return nil, fmt.Errorf("failed to update character: %w", err)
	}
	return &character, nil
}

// UpsertEntities merges extracted mentions into the entity table. The
// lower-cased name is the identity, so a mention of "the innkeeper"
// lands on the existing "The Innkeeper". Attribute merge is
// last-write-wins per key; FirstSeenSeq is set only once.
func (s *Store) UpsertEntities(ctx context.Context, campaignID uuid.UUID, upserts []registrystore.EntityUpsert) ([]model.Entity, error) {
	if len(upserts) == 0 {
		return nil, nil
	}
	unlock := s.lockCampaign(campaignID)
	defer unlock()

	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]model.Entity, 0, len(upserts))
	for _, up := range upserts {
		name := strings.TrimSpace(up.Name)
		if name == "" {
			continue
		}
		nameKey := strings.ToLower(name)

		var entity model.Entity
		result := s.db.WithContext(ctx).
			Where("campaign_id = ? AND name_key = ?", campaignID, nameKey).
			Limit(1).
			Find(&entity)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to load entity: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			entity = model.Entity{
				ID:           uuid.New(),
				CampaignID:   campaignID,
				Kind:         up.Kind,
				Name:         name,
				NameKey:      nameKey,
				FirstSeenSeq: up.FirstSeenSeq,
				Attributes:   map[string]string{},
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			for k, v := range up.Attributes {
				entity.Attributes[k] = v
			}
			if err := s.db.WithContext(ctx).Create(&entity).Error; err != nil {
				return nil, fmt.Errorf("failed to create entity %q: %w", name, err)
			}
		} else {
			if entity.Attributes == nil {
				entity.Attributes = map[string]string{}
			}
			for k, v := range up.Attributes {
				entity.Attributes[k] = v
			}
			if entity.FirstSeenSeq == nil && up.FirstSeenSeq != nil {
				entity.FirstSeenSeq = up.FirstSeenSeq
			}
			entity.UpdatedAt = now
			if err := s.db.WithContext(ctx).Save(&entity).Error; err != nil {
				return nil, fmt.Errorf("failed to update entity %q: %w", name, err)
			}
		}
		out = append(out, entity)
	}
	return out, nil
}

func (s *Store) ListEntities(ctx context.Context, campaignID uuid.UUID, kind *model.EntityKind) ([]model.Entity, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if kind != nil {
		tx = tx.Where("kind = ?", *kind)
	}
	var entities []model.Entity
	if err := tx.Order("name_key ASC").Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return entities, nil
}

func (s *Store) GetEntity(ctx context.Context, campaignID uuid.UUID, entityID uuid.UUID) (*model.Entity, error) {
	var entity model.Entity
	result := s.db.WithContext(ctx).
		Where("campaign_id = ? AND id = ?", campaignID, entityID).
		Limit(1).
		Find(&entity)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load entity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "entity", ID: entityID.String()}
	}
	return &entity, nil
}
