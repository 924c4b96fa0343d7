package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/model"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) StartSession(ctx context.Context, campaignID uuid.UUID) (*model.Session, error) {
	unlock := s.lockCampaign(campaignID)
	defer unlock()

	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	var active model.Session
	result := s.db.WithContext(ctx).
		Where("campaign_id = ? AND ended_at IS NULL", campaignID).
		Limit(1).
		Find(&active)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to check active session: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil, &registrystore.SessionActiveError{CampaignID: campaignID.String(), SessionID: active.ID.String()}
	}

	session := model.Session{
		ID:         uuid.New(),
		CampaignID: campaignID,
		StartedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return &session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	var session model.Session
	if err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		if isNotFound(err) {
			return nil, &registrystore.NotFoundError{Resource: "session", ID: sessionID.String()}
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

func (s *Store) GetActiveSession(ctx context.Context, campaignID uuid.UUID) (*model.Session, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	var session model.Session
	result := s.db.WithContext(ctx).
		Where("campaign_id = ? AND ended_at IS NULL", campaignID).
		Limit(1).
		Find(&session)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load active session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "active session", ID: campaignID.String()}
	}
	return &session, nil
}

func (s *Store) ListSessions(ctx context.Context, campaignID uuid.UUID) ([]model.Session, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	var sessions []model.Session
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("started_at ASC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// EndSession is idempotent: ending an already ended session returns it
// unchanged.
func (s *Store) EndSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockCampaign(session.CampaignID)
	defer unlock()

	if session.EndedAt != nil {
		return session, nil
	}
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Update("ended_at", now).Error; err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	session.EndedAt = &now
	return session, nil
}

// AppendTurn assigns the next per-session sequence number under the
// campaign lock. Durable when it returns; turns are never updated.
func (s *Store) AppendTurn(ctx context.Context, sessionID uuid.UUID, actor model.Actor, text string) (*model.Turn, error) {
	if !actor.Valid() {
		return nil, &registrystore.ValidationError{Field: "actor", Message: fmt.Sprintf("unknown actor %q", actor)}
	}
	if text == "" {
		return nil, &registrystore.ValidationError{Field: "text", Message: "text is required"}
	}

	var session model.Session
	if err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		if isNotFound(err) {
			return nil, &registrystore.InvalidSessionError{SessionID: sessionID.String(), Reason: "session not found"}
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.EndedAt != nil {
		return nil, &registrystore.InvalidSessionError{SessionID: sessionID.String(), Reason: "session has ended"}
	}

	unlock := s.lockCampaign(session.CampaignID)
	defer unlock()

	var turn model.Turn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last model.Turn
		result := tx.
			Where("session_id = ?", sessionID).
			Order("seq DESC").
			Limit(1).
			Find(&last)
		if result.Error != nil {
			return fmt.Errorf("failed to read last turn: %w", result.Error)
		}
		turn = model.Turn{
			ID:         uuid.New(),
			SessionID:  sessionID,
			CampaignID: session.CampaignID,
			Seq:        last.Seq + 1,
			Actor:      actor,
			Text:       text,
			CreatedAt:  time.Now(),
		}
		if err := tx.Create(&turn).Error; err != nil {
			return fmt.Errorf("failed to append turn: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func (s *Store) ListRecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.Turn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	var turns []model.Turn
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		Limit(limit).
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	// Reverse to ascending sequence, most recent last.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *Store) CountTurns(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Turn{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}
