package metrics

import (
	"context"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/model"
	"github.com/chronicle-rpg/chronicle/internal/registry/store"
	"github.com/chronicle-rpg/chronicle/internal/telemetry"
	"github.com/google/uuid"
)

// Wrap returns a CampaignStore that records StoreLatency for every operation.
func Wrap(inner store.CampaignStore) store.CampaignStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.CampaignStore
}

func observe(op string, start time.Time) {
	telemetry.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateCampaign(ctx context.Context, title string) (*model.Campaign, error) {
	defer observe("create_campaign", time.Now())
	return m.inner.CreateCampaign(ctx, title)
}

func (m *metricsStore) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*model.Campaign, error) {
	defer observe("get_campaign", time.Now())
	return m.inner.GetCampaign(ctx, campaignID)
}

func (m *metricsStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	defer observe("list_campaigns", time.Now())
	return m.inner.ListCampaigns(ctx)
}

func (m *metricsStore) DeleteCampaign(ctx context.Context, campaignID uuid.UUID) error {
	defer observe("delete_campaign", time.Now())
	return m.inner.DeleteCampaign(ctx, campaignID)
}

func (m *metricsStore) GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (*store.CampaignStats, error) {
	defer observe("get_campaign_stats", time.Now())
	return m.inner.GetCampaignStats(ctx, campaignID)
}

func (m *metricsStore) StartSession(ctx context.Context, campaignID uuid.UUID) (*model.Session, error) {
	defer observe("start_session", time.Now())
	return m.inner.StartSession(ctx, campaignID)
}

func (m *metricsStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	defer observe("get_session", time.Now())
	return m.inner.GetSession(ctx, sessionID)
}

func (m *metricsStore) GetActiveSession(ctx context.Context, campaignID uuid.UUID) (*model.Session, error) {
	defer observe("get_active_session", time.Now())
	return m.inner.GetActiveSession(ctx, campaignID)
}

func (m *metricsStore) ListSessions(ctx context.Context, campaignID uuid.UUID) ([]model.Session, error) {
	defer observe("list_sessions", time.Now())
	return m.inner.ListSessions(ctx, campaignID)
}

func (m *metricsStore) EndSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	defer observe("end_session", time.Now())
	return m.inner.EndSession(ctx, sessionID)
}

func (m *metricsStore) AppendTurn(ctx context.Context, sessionID uuid.UUID, actor model.Actor, text string) (*model.Turn, error) {
	defer observe("append_turn", time.Now())
	return m.inner.AppendTurn(ctx, sessionID, actor, text)
}

func (m *metricsStore) ListRecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.Turn, error) {
	defer observe("list_recent_turns", time.Now())
	return m.inner.ListRecentTurns(ctx, sessionID, limit)
}

func (m *metricsStore) CountTurns(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	defer observe("count_turns", time.Now())
	return m.inner.CountTurns(ctx, sessionID)
}

func (m *metricsStore) GetCharacter(ctx context.Context, campaignID uuid.UUID) (*model.Character, error) {
	defer observe("get_character", time.Now())
	return m.inner.GetCharacter(ctx, campaignID)
}

func (m *metricsStore) PutCharacter(ctx context.Context, campaignID uuid.UUID, update store.CharacterUpdate) (*model.Character, error) {
	defer observe("put_character", time.Now())
	return m.inner.PutCharacter(ctx, campaignID, update)
}

func (m *metricsStore) UpsertEntities(ctx context.Context, campaignID uuid.UUID, upserts []store.EntityUpsert) ([]model.Entity, error) {
	defer observe("upsert_entities", time.Now())
	return m.inner.UpsertEntities(ctx, campaignID, upserts)
}

func (m *metricsStore) ListEntities(ctx context.Context, campaignID uuid.UUID, kind *model.EntityKind) ([]model.Entity, error) {
	defer observe("list_entities", time.Now())
	return m.inner.ListEntities(ctx, campaignID, kind)
}

func (m *metricsStore) GetEntity(ctx context.Context, campaignID uuid.UUID, entityID uuid.UUID) (*model.Entity, error) {
	defer observe("get_entity", time.Now())
	return m.inner.GetEntity(ctx, campaignID, entityID)
}

func (m *metricsStore) ListDocuments(ctx context.Context, campaignID uuid.UUID) ([]model.Document, error) {
	defer observe("list_documents", time.Now())
	return m.inner.ListDocuments(ctx, campaignID)
}

func (m *metricsStore) ReplaceDocumentFragments(ctx context.Context, campaignID uuid.UUID, doc model.Document, fragments []model.MemoryFragment) ([]uuid.UUID, error) {
	defer observe("replace_document_fragments", time.Now())
	return m.inner.ReplaceDocumentFragments(ctx, campaignID, doc, fragments)
}

func (m *metricsStore) CreateFragment(ctx context.Context, fragment *model.MemoryFragment) error {
	defer observe("create_fragment", time.Now())
	return m.inner.CreateFragment(ctx, fragment)
}

func (m *metricsStore) GetFragmentsByIDs(ctx context.Context, campaignID uuid.UUID, ids []uuid.UUID) ([]model.MemoryFragment, error) {
	defer observe("get_fragments_by_ids", time.Now())
	return m.inner.GetFragmentsByIDs(ctx, campaignID, ids)
}

func (m *metricsStore) ListDocumentFragments(ctx context.Context, campaignID uuid.UUID, documentID string) ([]model.MemoryFragment, error) {
	defer observe("list_document_fragments", time.Now())
	return m.inner.ListDocumentFragments(ctx, campaignID, documentID)
}

func (m *metricsStore) FindFragmentsPendingIndex(ctx context.Context, limit int) ([]model.MemoryFragment, error) {
	defer observe("find_fragments_pending_index", time.Now())
	return m.inner.FindFragmentsPendingIndex(ctx, limit)
}

func (m *metricsStore) MarkFragmentIndexed(ctx context.Context, fragmentID uuid.UUID, embedModel string, embedDim int, at time.Time) error {
	defer observe("mark_fragment_indexed", time.Now())
	return m.inner.MarkFragmentIndexed(ctx, fragmentID, embedModel, embedDim, at)
}

func (m *metricsStore) MarkFragmentIndexFailed(ctx context.Context, fragmentID uuid.UUID) error {
	defer observe("mark_fragment_index_failed", time.Now())
	return m.inner.MarkFragmentIndexFailed(ctx, fragmentID)
}

func (m *metricsStore) ClearIndexState(ctx context.Context) error {
	defer observe("clear_index_state", time.Now())
	return m.inner.ClearIndexState(ctx)
}

func (m *metricsStore) KeywordSearchFragments(ctx context.Context, campaignID uuid.UUID, terms []string, limit int) ([]model.MemoryFragment, error) {
	defer observe("keyword_search_fragments", time.Now())
	return m.inner.KeywordSearchFragments(ctx, campaignID, terms, limit)
}

func (m *metricsStore) TouchFragmentRetrieval(ctx context.Context, touches []store.RetrievalTouch, at time.Time) error {
	defer observe("touch_fragment_retrieval", time.Now())
	return m.inner.TouchFragmentRetrieval(ctx, touches, at)
}

func (m *metricsStore) CountDocumentFragments(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	defer observe("count_document_fragments", time.Now())
	return m.inner.CountDocumentFragments(ctx, campaignID)
}

func (m *metricsStore) FindEvictableFragments(ctx context.Context, campaignID uuid.UUID, limit int) ([]model.MemoryFragment, error) {
	defer observe("find_evictable_fragments", time.Now())
	return m.inner.FindEvictableFragments(ctx, campaignID, limit)
}

func (m *metricsStore) DeleteFragments(ctx context.Context, ids []uuid.UUID) error {
	defer observe("delete_fragments", time.Now())
	return m.inner.DeleteFragments(ctx, ids)
}

func (m *metricsStore) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	defer observe("create_task", time.Now())
	return m.inner.CreateTask(ctx, taskType, taskBody)
}

func (m *metricsStore) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	defer observe("claim_ready_tasks", time.Now())
	return m.inner.ClaimReadyTasks(ctx, limit)
}

func (m *metricsStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	defer observe("delete_task", time.Now())
	return m.inner.DeleteTask(ctx, taskID)
}

func (m *metricsStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	defer observe("fail_task", time.Now())
	return m.inner.FailTask(ctx, taskID, errMsg, retryDelay)
}
