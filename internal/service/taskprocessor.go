package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/google/uuid"
)

// TaskProcessor polls for ready tasks and executes them. It handles the
// vector index cleanup that trails campaign deletes and evictions.
type TaskProcessor struct {
	store      registrystore.CampaignStore
	index      registryvector.FragmentIndex
	interval   time.Duration
	retryDelay time.Duration
	batchSize  int
}

func NewTaskProcessor(store registrystore.CampaignStore, index registryvector.FragmentIndex) *TaskProcessor {
	return &TaskProcessor{
		store:      store,
		index:      index,
		interval:   1 * time.Minute,
		retryDelay: 10 * time.Minute,
		batchSize:  100,
	}
}

// Start begins the periodic task processing loop. Returns when ctx is cancelled.
func (p *TaskProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims and runs one batch of ready tasks.
func (p *TaskProcessor) ProcessBatch(ctx context.Context) {
	tasks, err := p.store.ClaimReadyTasks(ctx, p.batchSize)
	if err != nil {
		log.Error("TaskProcessor: claim tasks failed", "err", err)
		return
	}
	for _, task := range tasks {
		if err := p.executeTask(ctx, task.TaskType, task.TaskBody); err != nil {
			log.Error("TaskProcessor: task failed", "taskId", task.ID, "type", task.TaskType, "err", err)
			if fErr := p.store.FailTask(ctx, task.ID, err.Error(), p.retryDelay); fErr != nil {
				log.Error("TaskProcessor: fail task record failed", "taskId", task.ID, "err", fErr)
			}
		} else {
			if dErr := p.store.DeleteTask(ctx, task.ID); dErr != nil {
				log.Error("TaskProcessor: delete task failed", "taskId", task.ID, "err", dErr)
			}
		}
	}
}

func (p *TaskProcessor) executeTask(ctx context.Context, taskType string, body map[string]any) error {
	switch taskType {
	case "vector_campaign_delete":
		return p.executeCampaignDelete(ctx, body)
	case "vector_fragment_delete":
		return p.executeFragmentDelete(ctx, body)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (p *TaskProcessor) executeCampaignDelete(ctx context.Context, body map[string]any) error {
	if p.index == nil || !p.index.IsEnabled() {
		return nil // vector index not configured; nothing to clean
	}
	idStr, ok := body["campaign_id"].(string)
	if !ok {
		return fmt.Errorf("missing or invalid campaign_id in task body")
	}
	campaignID, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid campaign_id %q: %w", idStr, err)
	}
	return p.index.DeleteByCampaignID(ctx, campaignID)
}

func (p *TaskProcessor) executeFragmentDelete(ctx context.Context, body map[string]any) error {
	if p.index == nil || !p.index.IsEnabled() {
		return nil
	}
	raw, ok := body["fragment_ids"].([]interface{})
	if !ok {
		return fmt.Errorf("missing or invalid fragment_ids in task body")
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("invalid fragment id %v", v)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid fragment id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return p.index.DeleteByFragmentIDs(ctx, ids)
}
