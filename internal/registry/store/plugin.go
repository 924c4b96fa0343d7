package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/model"
	"github.com/google/uuid"
)

// CharacterUpdate defines the mutable character sheet fields.
type CharacterUpdate struct {
	Name       *string
	Class      *string
	Level      *int
	Summary    *string
	Attributes map[string]string
}

// EntityUpsert is one extracted entity mention to merge into the
// campaign's entity table. Previously unseen names create an entity;
// known names merge Attributes last-write-wins per key.
type EntityUpsert struct {
	Kind         model.EntityKind
	Name         string
	FirstSeenSeq *int64
	Attributes   map[string]string
}

// RetrievalTouch records that a fragment was selected into an
// assembled context, for LRU-by-score eviction.
type RetrievalTouch struct {
	FragmentID uuid.UUID
	Score      float64
}

// CampaignStats summarizes a campaign's stored memory.
type CampaignStats struct {
	Sessions          int64 `json:"sessions"`
	Turns             int64 `json:"turns"`
	DocumentFragments int64 `json:"documentFragments"`
	TurnFragments     int64 `json:"turnFragments"`
	PendingFragments  int64 `json:"pendingFragments"`
	Entities          int64 `json:"entities"`
}

// CampaignStore is the durable backbone of the memory engine: the
// append-only event log plus campaign, entity, character, fragment and
// task persistence. All writes for one campaign serialize through the
// implementation's per-campaign lock.
type CampaignStore interface {
	// Campaigns
	CreateCampaign(ctx context.Context, title string) (*model.Campaign, error)
	GetCampaign(ctx context.Context, campaignID uuid.UUID) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	// DeleteCampaign cascades to sessions, turns, fragments, entities,
	// the character sheet and documents, and enqueues the vector index
	// cleanup task. The only deletion path for any of them.
	DeleteCampaign(ctx context.Context, campaignID uuid.UUID) error
	GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (*CampaignStats, error)

	// Sessions. At most one active session per campaign; StartSession
	// fails with SessionActiveError until the prior one is ended.
	StartSession(ctx context.Context, campaignID uuid.UUID) (*model.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	GetActiveSession(ctx context.Context, campaignID uuid.UUID) (*model.Session, error)
	ListSessions(ctx context.Context, campaignID uuid.UUID) ([]model.Session, error)
	EndSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)

	// Turns. AppendTurn assigns the next sequence number under the
	// campaign write lock and is durable when it returns. Fails with
	// InvalidSessionError if the session is missing or ended.
	AppendTurn(ctx context.Context, sessionID uuid.UUID, actor model.Actor, text string) (*model.Turn, error)
	// ListRecentTurns returns the last limit turns in ascending sequence
	// order (most recent last).
	ListRecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.Turn, error)
	CountTurns(ctx context.Context, sessionID uuid.UUID) (int64, error)

	// Character sheet (one per campaign; read by the assembler)
	GetCharacter(ctx context.Context, campaignID uuid.UUID) (*model.Character, error)
	PutCharacter(ctx context.Context, campaignID uuid.UUID, update CharacterUpdate) (*model.Character, error)

	// Entities
	UpsertEntities(ctx context.Context, campaignID uuid.UUID, upserts []EntityUpsert) ([]model.Entity, error)
	ListEntities(ctx context.Context, campaignID uuid.UUID, kind *model.EntityKind) ([]model.Entity, error)
	GetEntity(ctx context.Context, campaignID uuid.UUID, entityID uuid.UUID) (*model.Entity, error)

	// Documents
	ListDocuments(ctx context.Context, campaignID uuid.UUID) ([]model.Document, error)

	// Fragments
	// ReplaceDocumentFragments transactionally supersedes all prior
	// fragments for the document id (idempotent re-ingest) and records
	// the document row. Superseded fragment ids are returned so their
	// index entries can be cleaned up.
	ReplaceDocumentFragments(ctx context.Context, campaignID uuid.UUID, doc model.Document, fragments []model.MemoryFragment) (superseded []uuid.UUID, err error)
	CreateFragment(ctx context.Context, fragment *model.MemoryFragment) error
	GetFragmentsByIDs(ctx context.Context, campaignID uuid.UUID, ids []uuid.UUID) ([]model.MemoryFragment, error)
	ListDocumentFragments(ctx context.Context, campaignID uuid.UUID, documentID string) ([]model.MemoryFragment, error)
	// FindFragmentsPendingIndex returns fragments with no embedding yet,
	// fewest prior attempts first.
	FindFragmentsPendingIndex(ctx context.Context, limit int) ([]model.MemoryFragment, error)
	MarkFragmentIndexed(ctx context.Context, fragmentID uuid.UUID, embedModel string, embedDim int, at time.Time) error
	MarkFragmentIndexFailed(ctx context.Context, fragmentID uuid.UUID) error
	// ClearIndexState resets indexed_at on every fragment so the
	// background indexer re-embeds the corpus (model change recovery).
	ClearIndexState(ctx context.Context) error
	// KeywordSearchFragments is the fallback retrieval path: substring
	// containment over fragment text, campaign-scoped, including
	// fragments that have no embedding.
	KeywordSearchFragments(ctx context.Context, campaignID uuid.UUID, terms []string, limit int) ([]model.MemoryFragment, error)
	TouchFragmentRetrieval(ctx context.Context, touches []RetrievalTouch, at time.Time) error
	CountDocumentFragments(ctx context.Context, campaignID uuid.UUID) (int64, error)
	// FindEvictableFragments returns document-chunk fragments ordered
	// worst-score first (then least recently retrieved, then oldest).
	// Turn fragments are never evictable.
	FindEvictableFragments(ctx context.Context, campaignID uuid.UUID, limit int) ([]model.MemoryFragment, error)
	DeleteFragments(ctx context.Context, ids []uuid.UUID) error

	// Task queue for asynchronous vector index cleanup.
	CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error
	ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error)
	DeleteTask(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error
}

// Loader creates a CampaignStore from config.
type Loader func(ctx context.Context) (CampaignStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
