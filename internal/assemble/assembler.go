// Package assemble builds the bounded prompt context for a player
// action: character sheet, recent play, and retrieved campaign memory.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chronicle-rpg/chronicle/internal/config"
	"github.com/chronicle-rpg/chronicle/internal/model"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/chronicle-rpg/chronicle/internal/telemetry"
	"github.com/google/uuid"
)

// keywordSimilarity is the similarity assigned to keyword-fallback
// hits, low enough that any real vector hit outranks them.
const keywordSimilarity = 0.1

// Context is an assembled prompt plus the provenance of what went in.
type Context struct {
	Prompt        string           `json:"prompt"`
	Size          int              `json:"size"`
	Fragments     []ScoredFragment `json:"fragments"`
	TurnsIncluded int              `json:"turnsIncluded"`
	EntityIDs     []uuid.UUID      `json:"entityIds,omitempty"`
}

// Assembler builds contexts. Safe for concurrent use.
type Assembler struct {
	store    registrystore.CampaignStore
	index    registryvector.FragmentIndex
	embedder registryembed.Embedder
	cfg      *config.Config
}

func New(store registrystore.CampaignStore, index registryvector.FragmentIndex, embedder registryembed.Embedder, cfg *config.Config) *Assembler {
	return &Assembler{store: store, index: index, embedder: embedder, cfg: cfg}
}

// Assemble builds the prompt for one player action. The result never
// exceeds the configured character budget: fragments that do not fit
// whole are skipped, and the recency window gives up its oldest turns
// before anything else is cut.
func (a *Assembler) Assemble(ctx context.Context, campaignID, sessionID uuid.UUID, action string) (*Context, error) {
	if strings.TrimSpace(action) == "" {
		return nil, &registrystore.ValidationError{Field: "action", Message: "action is required"}
	}

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CampaignID != campaignID {
		return nil, &registrystore.InvalidSessionError{SessionID: sessionID.String(), Reason: "session belongs to a different campaign"}
	}
	if !session.Active() {
		return nil, &registrystore.InvalidSessionError{SessionID: sessionID.String(), Reason: "session has ended"}
	}

	character, err := a.store.GetCharacter(ctx, campaignID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
		character = nil
	}

	window, err := a.store.ListRecentTurns(ctx, sessionID, a.cfg.RecencyWindow)
	if err != nil {
		return nil, err
	}
	windowRefs := map[string]bool{}
	for _, t := range window {
		if t.Actor == model.ActorPlayer {
			windowRefs[fmt.Sprintf("turn:%s:%d", sessionID, t.Seq)] = true
		}
	}

	scored, err := a.retrieve(ctx, campaignID, action, windowRefs)
	if err != nil {
		return nil, err
	}
	sortScored(scored)

	out := a.compose(action, character, window, scored)

	if len(out.Fragments) > 0 {
		touches := make([]registrystore.RetrievalTouch, len(out.Fragments))
		for i, sf := range out.Fragments {
			touches[i] = registrystore.RetrievalTouch{FragmentID: sf.Fragment.ID, Score: sf.Blend}
		}
		if err := a.store.TouchFragmentRetrieval(ctx, touches, time.Now()); err != nil {
			log.Warn("Failed to record fragment retrieval", "err", err)
		}
	}
	if telemetry.ContextAssemblySize != nil {
		telemetry.ContextAssemblySize.Observe(float64(out.Size))
	}
	return out, nil
}

// retrieve runs the vector search with keyword fallback, dedups against
// the recency window, and scores everything.
func (a *Assembler) retrieve(ctx context.Context, campaignID uuid.UUID, action string, windowRefs map[string]bool) ([]ScoredFragment, error) {
	now := time.Now()
	var scored []ScoredFragment
	seenIDs := map[uuid.UUID]bool{}
	seenRefs := map[string]bool{}
	for ref := range windowRefs {
		seenRefs[ref] = true
	}

	var queryEmbedding []float32
	if a.embedder != nil && a.index != nil && a.index.IsEnabled() {
		embedCtx, cancel := context.WithTimeout(ctx, a.cfg.EmbedTimeout)
		vecs, err := a.embedder.EmbedTexts(embedCtx, []string{action})
		cancel()
		if err != nil || len(vecs) != 1 {
			// Embedding the query is best effort; the keyword fallback
			// still runs below.
			log.Warn("Query embedding failed, using keyword fallback", "err", err)
		} else {
			queryEmbedding = vecs[0]
		}
	}

	if queryEmbedding != nil {
		results, err := a.index.Search(ctx, queryEmbedding,
			registryvector.SearchFilter{CampaignID: campaignID}, a.cfg.RetrievalTopK)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		ids := make([]uuid.UUID, len(results))
		simByID := make(map[uuid.UUID]float64, len(results))
		for i, r := range results {
			ids[i] = r.FragmentID
			simByID[r.FragmentID] = r.Score
		}
		rows, err := a.store.GetFragmentsByIDs(ctx, campaignID, ids)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.EmbedDim > 0 && row.EmbedDim != len(queryEmbedding) {
				return nil, &registrystore.DimensionMismatchError{
					FragmentID: row.ID.String(),
					Have:       row.EmbedDim,
					Want:       len(queryEmbedding),
				}
			}
			if seenIDs[row.ID] || seenRefs[row.SourceRef] {
				continue
			}
			seenIDs[row.ID] = true
			seenRefs[row.SourceRef] = true
			sim := simByID[row.ID]
			scored = append(scored, ScoredFragment{
				Fragment:   row,
				Similarity: sim,
				Blend:      blendScore(sim, row.SourceKind, now.Sub(row.CreatedAt), a.cfg.TurnDecayHalfLife),
			})
		}
	}

	if len(scored) < a.cfg.RetrievalMinResults {
		terms := keywordTerms(action)
		rows, err := a.store.KeywordSearchFragments(ctx, campaignID, terms, a.cfg.RetrievalTopK)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if seenIDs[row.ID] || seenRefs[row.SourceRef] {
				continue
			}
			seenIDs[row.ID] = true
			seenRefs[row.SourceRef] = true
			scored = append(scored, ScoredFragment{
				Fragment:   row,
				Similarity: keywordSimilarity,
				Blend:      blendScore(keywordSimilarity, row.SourceKind, now.Sub(row.CreatedAt), a.cfg.TurnDecayHalfLife),
			})
		}
	}
	return scored, nil
}

// compose lays out the prompt inside the character budget. Sections in
// priority order: system prompt and character line always, then the
// recency window (oldest turns dropped first if it alone overflows),
// then retrieved memory best-fit by rank. The mandatory sections are a
// floor: a budget below system prompt + character line + action tail
// yields a prompt of exactly those sections, over budget.
func (a *Assembler) compose(action string, character *model.Character, window []model.Turn, scored []ScoredFragment) *Context {
	budget := a.cfg.MaxContextLength

	var head strings.Builder
	head.WriteString(strings.TrimSpace(a.cfg.SystemPrompt))
	head.WriteString("\n")
	if character != nil {
		head.WriteString("\n")
		head.WriteString(characterLine(character))
		head.WriteString("\n")
	}
	tail := "\nPlayer: " + action + "\nDM:"

	fixed := head.Len() + len(tail)

	turnLines := make([]string, len(window))
	for i, t := range window {
		turnLines[i] = turnLine(t)
	}
	const recentHeader = "\nRecent exchanges:\n"
	windowSize := func(lines []string) int {
		if len(lines) == 0 {
			return 0
		}
		n := len(recentHeader)
		for _, l := range lines {
			n += len(l) + 1
		}
		return n
	}
	// Drop oldest turns until the skeleton fits.
	included := turnLines
	for len(included) > 0 && fixed+windowSize(included) > budget {
		included = included[1:]
	}

	remaining := budget - fixed - windowSize(included)

	const memoryHeader = "\nRelevant campaign memory:\n"
	var selected []ScoredFragment
	memSize := 0
	for _, sf := range scored {
		entry := "- " + sf.Fragment.Text + "\n"
		need := len(entry)
		if memSize == 0 {
			need += len(memoryHeader)
		}
		if need > remaining {
			continue // skip oversized, keep looking for smaller fragments
		}
		selected = append(selected, sf)
		memSize += len(entry)
		if len(selected) == 1 {
			memSize += len(memoryHeader)
		}
		remaining -= need
	}

	var b strings.Builder
	b.WriteString(head.String())
	if len(selected) > 0 {
		b.WriteString(memoryHeader)
		for _, sf := range selected {
			b.WriteString("- ")
			b.WriteString(sf.Fragment.Text)
			b.WriteString("\n")
		}
	}
	if len(included) > 0 {
		b.WriteString(recentHeader)
		for _, l := range included {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	b.WriteString(tail)

	prompt := b.String()
	out := &Context{
		Prompt:        prompt,
		Size:          len(prompt),
		Fragments:     selected,
		TurnsIncluded: len(included),
	}
	seenEntity := map[uuid.UUID]bool{}
	for _, sf := range selected {
		for _, id := range sf.Fragment.EntityIDs {
			if !seenEntity[id] {
				seenEntity[id] = true
				out.EntityIDs = append(out.EntityIDs, id)
			}
		}
	}
	return out
}

func characterLine(c *model.Character) string {
	line := fmt.Sprintf("Player Character: %s", c.Name)
	if c.Class != "" {
		line = fmt.Sprintf("Player Character: %s (Level %d %s)", c.Name, c.Level, c.Class)
	}
	if c.Summary != "" {
		line += "\n" + c.Summary
	}
	return line
}

func turnLine(t model.Turn) string {
	if t.Actor == model.ActorDM {
		return "DM: " + t.Text
	}
	return "Player: " + t.Text
}

// keywordTerms picks the significant words out of a player action.
func keywordTerms(action string) []string {
	var terms []string
	seen := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(action)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 4 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}
