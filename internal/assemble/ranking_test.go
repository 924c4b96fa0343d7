package assemble

import (
	"testing"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBlendScoreDocumentChunksNeverDecay(t *testing.T) {
	score := blendScore(0.8, model.SourceDocumentChunk, 1000*time.Hour, 12*time.Hour)
	assert.Equal(t, 0.8, score)
}

func TestBlendScoreTurnDecay(t *testing.T) {
	halfLife := 12 * time.Hour

	fresh := blendScore(0.8, model.SourceTurn, 0, halfLife)
	assert.InDelta(t, 0.8, fresh, 1e-9)

	// One half-life halves the score, two quarter it.
	oneHalf := blendScore(0.8, model.SourceTurn, 12*time.Hour, halfLife)
	assert.InDelta(t, 0.4, oneHalf, 1e-9)
	twoHalves := blendScore(0.8, model.SourceTurn, 24*time.Hour, halfLife)
	assert.InDelta(t, 0.2, twoHalves, 1e-9)

	// Decays toward zero but never reaches it.
	ancient := blendScore(0.8, model.SourceTurn, 500*time.Hour, halfLife)
	assert.Greater(t, ancient, 0.0)
	assert.Less(t, ancient, 0.001)
}

func TestBlendScoreMonotonic(t *testing.T) {
	halfLife := 12 * time.Hour
	prev := blendScore(0.9, model.SourceTurn, 0, halfLife)
	for age := time.Hour; age <= 72*time.Hour; age += time.Hour {
		cur := blendScore(0.9, model.SourceTurn, age, halfLife)
		assert.Less(t, cur, prev, "older fragments must never outrank newer ones at equal similarity")
		prev = cur
	}
}

func TestBlendScoreDisabledHalfLife(t *testing.T) {
	score := blendScore(0.5, model.SourceTurn, 48*time.Hour, 0)
	assert.Equal(t, 0.5, score)
}

func TestSortScoredDeterministicOrder(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Hour)
	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	idB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	scored := []ScoredFragment{
		{Fragment: model.MemoryFragment{ID: idB, CreatedAt: now}, Blend: 0.5},
		{Fragment: model.MemoryFragment{ID: idA, CreatedAt: now}, Blend: 0.5},
		{Fragment: model.MemoryFragment{ID: uuid.New(), CreatedAt: older}, Blend: 0.9},
		{Fragment: model.MemoryFragment{ID: uuid.New(), CreatedAt: older}, Blend: 0.5},
	}
	sortScored(scored)

	assert.Equal(t, 0.9, scored[0].Blend)
	// Equal blend: most recent first.
	assert.Equal(t, now, scored[1].Fragment.CreatedAt)
	assert.Equal(t, now, scored[2].Fragment.CreatedAt)
	// Equal blend and time: id ascending.
	assert.Equal(t, idA, scored[1].Fragment.ID)
	assert.Equal(t, idB, scored[2].Fragment.ID)
	assert.Equal(t, older, scored[3].Fragment.CreatedAt)
}
