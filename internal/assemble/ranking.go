package assemble

import (
	"math"
	"sort"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/model"
)

// ScoredFragment is a retrieved fragment with its raw similarity and
// the recency-blended score used for ordering.
type ScoredFragment struct {
	Fragment   model.MemoryFragment `json:"fragment"`
	Similarity float64              `json:"similarity"`
	Blend      float64              `json:"blend"`
}

// blendScore combines similarity with recency decay. Document chunks do
// not decay: lore is as true now as when it was written. Turn fragments
// halve in weight every halfLife so stale table talk drifts down
// without ever hitting zero.
func blendScore(similarity float64, kind model.SourceKind, age time.Duration, halfLife time.Duration) float64 {
	if kind != model.SourceTurn || halfLife <= 0 {
		return similarity
	}
	if age < 0 {
		age = 0
	}
	decay := math.Exp2(-age.Hours() / halfLife.Hours())
	return similarity * decay
}

// sortScored orders fragments for selection: blended score descending,
// then most recently created, then id ascending. Fully deterministic
// for identical inputs.
func sortScored(scored []ScoredFragment) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Blend != b.Blend {
			return a.Blend > b.Blend
		}
		if !a.Fragment.CreatedAt.Equal(b.Fragment.CreatedAt) {
			return a.Fragment.CreatedAt.After(b.Fragment.CreatedAt)
		}
		return a.Fragment.ID.String() < b.Fragment.ID.String()
	})
}
