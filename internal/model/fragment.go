package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind says where a memory fragment came from.
type SourceKind string

const (
	// SourceDocumentChunk marks fragments produced by document ingestion.
	SourceDocumentChunk SourceKind = "document_chunk"
	// SourceTurn marks fragments produced from recorded play.
	SourceTurn SourceKind = "turn"
)

// MemoryFragment is the unit of retrieval: a chunk of campaign source
// material or one recorded player/DM exchange, with its text and the
// bookkeeping needed to keep the vector index in sync.
//
// The embedding vector itself lives in the vector index plugin, keyed
// by fragment id; this row records whether and how it was embedded.
type MemoryFragment struct {
	// ID is the primary key (UUID), shared with the vector index entry.
	ID uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`

	// CampaignID scopes the fragment. Index queries never cross campaigns.
	CampaignID uuid.UUID `json:"campaignId" gorm:"not null;type:uuid;index"`

	// SourceKind is document_chunk or turn.
	SourceKind SourceKind `json:"sourceKind" gorm:"not null;index"`

	// SourceRef identifies the origin: "doc:<documentID>:<chunk ordinal>"
	// for document chunks, "turn:<sessionID>:<player seq>" for exchanges.
	// The assembler dedups retrieved fragments against the recency window
	// by this value.
	SourceRef string `json:"sourceRef" gorm:"not null;index"`

	// Text is the retrievable content. Never truncated on retrieval; a
	// fragment either fits the context budget whole or is skipped.
	Text string `json:"text" gorm:"not null"`

	// EntityTags holds the names of entities mentioned in the text.
	EntityTags []string `json:"entityTags" gorm:"type:jsonb;serializer:json"`

	// EntityIDs holds weak references to the entities behind EntityTags.
	EntityIDs []uuid.UUID `json:"entityIds" gorm:"type:jsonb;serializer:json"`

	// CreatedAt is when the fragment was written. Used as the similarity
	// tie-break (most recent first) and as the age input to turn decay.
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`

	// IndexedAt is nil while the fragment has no embedding in the vector
	// index — either freshly written or its embedding call failed. Such
	// fragments are reachable only through the keyword fallback until the
	// background indexer embeds them.
	IndexedAt *time.Time `json:"indexedAt,omitempty" gorm:"index"`

	// EmbedModel and EmbedDim record the embedding model used at index
	// time. A mismatch against the active embedder's dimensionality fails
	// queries fast until the campaign is re-embedded.
	EmbedModel string `json:"embedModel,omitempty"`
	EmbedDim   int    `json:"embedDim,omitempty"`

	// IndexAttempts counts failed embedding attempts, for backoff.
	IndexAttempts int `json:"-" gorm:"not null;default:0"`

	// Retrieval stats drive LRU-by-score eviction of document chunks.
	LastScore      float64    `json:"-" gorm:"not null;default:0"`
	RetrievedAt    *time.Time `json:"-"`
	RetrievalCount int64      `json:"-" gorm:"not null;default:0"`
}

func (MemoryFragment) TableName() string { return "memory_fragments" }
