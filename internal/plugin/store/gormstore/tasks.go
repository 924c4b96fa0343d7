package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	task := model.Task{
		ID:        uuid.New(),
		TaskType:  taskType,
		TaskBody:  taskBody,
		CreatedAt: time.Now(),
		RetryAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *Store) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	var tasks []model.Task
	if err := s.db.WithContext(ctx).
		Where("retry_at <= ?", time.Now()).
		Order("retry_at ASC").
		Limit(limit).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	// Push the claimed tasks into the future so a slow handler does not
	// get the same batch twice from the next poll.
	ids := make([]uuid.UUID, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	if err := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id IN ?", ids).
		Update("retry_at", time.Now().Add(5*time.Minute)).Error; err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	if err := s.db.WithContext(ctx).Where("id = ?", taskID).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (s *Store) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	err := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"last_error":  errMsg,
			"retry_at":    time.Now().Add(retryDelay),
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record task failure: %w", err)
	}
	return nil
}
