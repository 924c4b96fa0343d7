package model

import (
	"time"

	"github.com/google/uuid"
)

// Actor identifies who produced a turn.
type Actor string

const (
	ActorPlayer Actor = "player"
	ActorDM     Actor = "dm"
)

// Valid reports whether a is a known actor value.
func (a Actor) Valid() bool {
	return a == ActorPlayer || a == ActorDM
}

// EntityKind classifies an extracted campaign entity.
type EntityKind string

const (
	EntityNPC       EntityKind = "npc"
	EntityLocation  EntityKind = "location"
	EntityItem      EntityKind = "item"
	EntityPlotPoint EntityKind = "plot_point"
)

// Campaign is the root aggregate. Deleting a campaign is the only
// deletion path for its sessions, turns, fragments and entities.
type Campaign struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	Title     string    `json:"title"     gorm:"not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (Campaign) TableName() string { return "campaigns" }

// Document records an ingested source document (the upstream parser's
// identifier, not the raw bytes). One row per document id per campaign;
// re-ingesting updates the row and supersedes its fragments.
type Document struct {
	ID         string    `json:"id"         gorm:"primaryKey"`
	CampaignID uuid.UUID `json:"campaignId" gorm:"primaryKey;type:uuid;index"`
	Title      string    `json:"title"`
	ChunkCount int       `json:"chunkCount" gorm:"not null;default:0"`
	IngestedAt time.Time `json:"ingestedAt" gorm:"not null"`
}

func (Document) TableName() string { return "documents" }

// Session is one sitting of play. Active while EndedAt is nil; at most
// one session per campaign may be active at a time.
type Session struct {
	ID         uuid.UUID  `json:"id"                gorm:"primaryKey;type:uuid"`
	CampaignID uuid.UUID  `json:"campaignId"        gorm:"not null;type:uuid;index"`
	StartedAt  time.Time  `json:"startedAt"         gorm:"not null"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

func (Session) TableName() string { return "sessions" }

// Active reports whether the session is still open for play.
func (s *Session) Active() bool { return s != nil && s.EndedAt == nil }

// Turn is one immutable recorded step of play. Seq is assigned by the
// store under the campaign write lock and is strictly increasing per
// session with no gaps. There is no update or delete operation for
// turns; campaign deletion is the only way a turn ever goes away.
type Turn struct {
	ID         uuid.UUID `json:"id"         gorm:"primaryKey;type:uuid"`
	SessionID  uuid.UUID `json:"sessionId"  gorm:"not null;type:uuid;uniqueIndex:idx_turns_session_seq,priority:1"`
	CampaignID uuid.UUID `json:"campaignId" gorm:"not null;type:uuid;index"`
	Seq        int64     `json:"seq"        gorm:"not null;uniqueIndex:idx_turns_session_seq,priority:2"`
	Actor      Actor     `json:"actor"      gorm:"not null"`
	Text       string    `json:"text"       gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"  gorm:"not null"`
}

func (Turn) TableName() string { return "turns" }

// Character is the player-facing sheet. It is mutated only through the
// character route; the context assembler reads it.
type Character struct {
	ID         uuid.UUID         `json:"id"         gorm:"primaryKey;type:uuid"`
	CampaignID uuid.UUID         `json:"campaignId" gorm:"not null;type:uuid;uniqueIndex"`
	Name       string            `json:"name"       gorm:"not null"`
	Class      string            `json:"class"`
	Level      int               `json:"level"      gorm:"not null;default:1"`
	Summary    string            `json:"summary"`
	Attributes map[string]string `json:"attributes" gorm:"type:jsonb;serializer:json"`
	UpdatedAt  time.Time         `json:"updatedAt"  gorm:"not null"`
}

func (Character) TableName() string { return "characters" }

// Entity is a named thing the campaign knows about (an NPC, location,
// item or plot point). Entities are referenced weakly by fragments and
// turns: nothing that mentions an entity owns it.
type Entity struct {
	ID         uuid.UUID  `json:"id"                 gorm:"primaryKey;type:uuid"`
	CampaignID uuid.UUID  `json:"campaignId"         gorm:"not null;type:uuid;uniqueIndex:idx_entities_campaign_name,priority:1"`
	Kind       EntityKind `json:"kind"               gorm:"not null"`
	Name       string     `json:"name"               gorm:"not null"`
	// NameKey is the lower-cased name used for uniqueness, so "The
	// Innkeeper" and "the innkeeper" resolve to one entity.
	NameKey      string            `json:"-"                  gorm:"not null;uniqueIndex:idx_entities_campaign_name,priority:2"`
	FirstSeenSeq *int64            `json:"firstSeenSeq,omitempty"`
	Attributes   map[string]string `json:"attributes"         gorm:"type:jsonb;serializer:json"`
	CreatedAt    time.Time         `json:"createdAt"          gorm:"not null"`
	UpdatedAt    time.Time         `json:"updatedAt"          gorm:"not null"`
}

func (Entity) TableName() string { return "entities" }

// Task is a queued background cleanup job (vector deletes that trail a
// campaign delete or an eviction pass).
type Task struct {
	ID         uuid.UUID              `json:"id"                  gorm:"primaryKey;type:uuid"`
	TaskType   string                 `json:"taskType"            gorm:"not null"`
	TaskBody   map[string]interface{} `json:"taskBody"            gorm:"type:jsonb;serializer:json;not null"`
	CreatedAt  time.Time              `json:"createdAt"           gorm:"not null"`
	RetryAt    time.Time              `json:"retryAt"             gorm:"not null;index"`
	LastError  *string                `json:"lastError,omitempty"`
	RetryCount int                    `json:"retryCount"          gorm:"not null;default:0"`
}

func (Task) TableName() string { return "tasks" }
