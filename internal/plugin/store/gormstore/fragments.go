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
	"gorm.io/gorm/clause"
)

func (s *Store) ListDocuments(ctx context.Context, campaignID uuid.UUID) ([]model.Document, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	var docs []model.Document
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("ingested_at ASC").
		Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// ReplaceDocumentFragments supersedes any prior fragments for the
// document in one transaction, so a re-ingest never leaves a mix of old
// and new chunks behind. Superseded fragment ids are returned for
// vector index cleanup.
func (s *Store) ReplaceDocumentFragments(ctx context.Context, campaignID uuid.UUID, doc model.Document, fragments []model.MemoryFragment) ([]uuid.UUID, error) {
	unlock := s.lockCampaign(campaignID)
	defer unlock()

	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	var superseded []uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior []model.MemoryFragment
		if err := tx.Select("id").
			Where("campaign_id = ? AND source_kind = ? AND source_ref LIKE ?",
				campaignID, model.SourceDocumentChunk, "doc:"+doc.ID+":%").
			Find(&prior).Error; err != nil {
			return fmt.Errorf("failed to find prior fragments: %w", err)
		}
		for _, f := range prior {
			superseded = append(superseded, f.ID)
		}
		if len(superseded) > 0 {
			if err := tx.Where("id IN ?", superseded).Delete(&model.MemoryFragment{}).Error; err != nil {
				return fmt.Errorf("failed to delete superseded fragments: %w", err)
			}
		}

		doc.CampaignID = campaignID
		doc.ChunkCount = len(fragments)
		doc.IngestedAt = time.Now()
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}, {Name: "campaign_id"}},
			UpdateAll: true,
		}).Create(&doc).Error; err != nil {
			return fmt.Errorf("failed to record document: %w", err)
		}

		for i := range fragments {
			fragments[i].CampaignID = campaignID
			if fragments[i].ID == uuid.Nil {
				fragments[i].ID = uuid.New()
			}
			if fragments[i].CreatedAt.IsZero() {
				fragments[i].CreatedAt = time.Now()
			}
		}
		if len(fragments) > 0 {
			if err := tx.Create(&fragments).Error; err != nil {
				return fmt.Errorf("failed to create fragments: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

func (s *Store) CreateFragment(ctx context.Context, fragment *model.MemoryFragment) error {
	if fragment.ID == uuid.Nil {
		fragment.ID = uuid.New()
	}
	if fragment.CreatedAt.IsZero() {
		fragment.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(fragment).Error; err != nil {
		return fmt.Errorf("failed to create fragment: %w", err)
	}
	return nil
}

func (s *Store) GetFragmentsByIDs(ctx context.Context, campaignID uuid.UUID, ids []uuid.UUID) ([]model.MemoryFragment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var fragments []model.MemoryFragment
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND id IN ?", campaignID, ids).
		Find(&fragments).Error; err != nil {
		return nil, fmt.Errorf("failed to load fragments: %w", err)
	}
	return fragments, nil
}

func (s *Store) ListDocumentFragments(ctx context.Context, campaignID uuid.UUID, documentID string) ([]model.MemoryFragment, error) {
	var fragments []model.MemoryFragment
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND source_kind = ? AND source_ref LIKE ?",
			campaignID, model.SourceDocumentChunk, "doc:"+documentID+":%").
		Order("source_ref ASC").
		Find(&fragments).Error; err != nil {
		return nil, fmt.Errorf("failed to list document fragments: %w", err)
	}
	return fragments, nil
}

func (s *Store) FindFragmentsPendingIndex(ctx context.Context, limit int) ([]model.MemoryFragment, error) {
	var fragments []model.MemoryFragment
	if err := s.db.WithContext(ctx).
		Where("indexed_at IS NULL").
		Order("index_attempts ASC, created_at ASC").
		Limit(limit).
		Find(&fragments).Error; err != nil {
		return nil, fmt.Errorf("failed to find pending fragments: %w", err)
	}
	return fragments, nil
}

func (s *Store) MarkFragmentIndexed(ctx context.Context, fragmentID uuid.UUID, embedModel string, embedDim int, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.MemoryFragment{}).
		Where("id = ?", fragmentID).
		Updates(map[string]interface{}{
			"indexed_at":  at,
			"embed_model": embedModel,
			"embed_dim":   embedDim,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark fragment indexed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "fragment", ID: fragmentID.String()}
	}
	return nil
}

func (s *Store) MarkFragmentIndexFailed(ctx context.Context, fragmentID uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&model.MemoryFragment{}).
		Where("id = ?", fragmentID).
		Update("index_attempts", gorm.Expr("index_attempts + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to mark fragment index failure: %w", result.Error)
	}
	return nil
}

func (s *Store) ClearIndexState(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&model.MemoryFragment{}).
		Where("1 = 1").
		Updates(map[string]interface{}{
			"indexed_at":     nil,
			"embed_model":    "",
			"embed_dim":      0,
			"index_attempts": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to clear index state: %w", err)
	}
	return nil
}

// KeywordSearchFragments matches fragments whose text contains any of
// the terms, case-insensitively. Reaches fragments that have no
// embedding yet, which is the point of the fallback.
func (s *Store) KeywordSearchFragments(ctx context.Context, campaignID uuid.UUID, terms []string, limit int) ([]model.MemoryFragment, error) {
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}

	tx := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	var conds []string
	var args []interface{}
	for _, t := range cleaned {
		conds = append(conds, "LOWER(text) LIKE ?")
		args = append(args, "%"+strings.ToLower(t)+"%")
	}
	tx = tx.Where(strings.Join(conds, " OR "), args...)

	var fragments []model.MemoryFragment
	if err := tx.Order("created_at DESC, id ASC").Limit(limit).Find(&fragments).Error; err != nil {
		return nil, fmt.Errorf("failed to keyword search fragments: %w", err)
	}
	return fragments, nil
}

func (s *Store) TouchFragmentRetrieval(ctx context.Context, touches []registrystore.RetrievalTouch, at time.Time) error {
	for _, touch := range touches {
		err := s.db.WithContext(ctx).Model(&model.MemoryFragment{}).
			Where("id = ?", touch.FragmentID).
			Updates(map[string]interface{}{
				"last_score":      touch.Score,
				"retrieved_at":    at,
				"retrieval_count": gorm.Expr("retrieval_count + 1"),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to touch fragment retrieval: %w", err)
		}
	}
	return nil
}

func (s *Store) CountDocumentFragments(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.MemoryFragment{}).
		Where("campaign_id = ? AND source_kind = ?", campaignID, model.SourceDocumentChunk).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count document fragments: %w", err)
	}
	return count, nil
}

func (s *Store) FindEvictableFragments(ctx context.Context, campaignID uuid.UUID, limit int) ([]model.MemoryFragment, error) {
	var fragments []model.MemoryFragment
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND source_kind = ?", campaignID, model.SourceDocumentChunk).
		Order("last_score ASC, retrieved_at ASC NULLS FIRST, created_at ASC").
		Limit(limit).
		Find(&fragments).Error; err != nil {
		return nil, fmt.Errorf("failed to find evictable fragments: %w", err)
	}
	return fragments, nil
}

func (s *Store) DeleteFragments(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.MemoryFragment{}).Error; err != nil {
		return fmt.Errorf("failed to delete fragments: %w", err)
	}
	return nil
}
