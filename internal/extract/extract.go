// Package extract finds entity mentions in campaign and play text with
// rule-based pattern matching. It is a pure function over text so it
// can be swapped or tuned without touching storage logic.
package extract

import (
	"regexp"
	"strings"

	"github.com/chronicle-rpg/chronicle/internal/model"
)

// Mention is one extracted entity reference.
type Mention struct {
	Kind model.EntityKind
	Name string
	// Context is the surrounding text the name was found in, kept as a
	// seed description attribute for newly created entities.
	Context string
}

const (
	minNameLen = 3
	maxNameLen = 50

	// Context window around a match, in bytes.
	contextBefore = 100
	contextAfter  = 200

	maxPerKind = 20
)

// Capitalized phrase: one to four capitalized words, allowing "of",
// "the", "'s" connectors inside ("Temple of the Broken Moon"). Names
// never span lines, so intra-phrase whitespace excludes newlines.
const nameSep = `[^\S\n]+`

const namePhrase = `([A-Z][a-z]+(?:(?:` + nameSep + `(?:of|the|'s))?` + nameSep + `[A-Z][a-z]+){0,3})`

var npcPatterns = []*regexp.Regexp{
	// Explicit markup from structured import formats.
	regexp.MustCompile(`(?m)(?:NPC|Character):[^\S\n]*` + namePhrase),
	// A named someone doing or being something.
	regexp.MustCompile(namePhrase + nameSep + `(?:is|was|says|asks|tells|warns|works|lives|owns|guards)\b`),
	// A named someone the player runs into.
	regexp.MustCompile(`(?:meets?|encounters?|finds?|approach(?:es)?|speak(?:s)? (?:to|with))` + nameSep + namePhrase),
}

// Place or item names keep their suffix noun ("Raven Tower", "Amulet
// of Dawn"), so those patterns capture phrase and suffix together.
const placeName = `((?:[A-Z][a-z]+` + nameSep + `){1,3}(?:Tower|Castle|Keep|Inn|Tavern|Forest|Mountain|Cave|Temple|Ruins|Hall|Chamber|Bridge|Gate|Square|Market|Crypt|Mine))\b`

var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)(?:Location|Place|Area|Room|Town|City|Village|Dungeon):[^\S\n]*` + namePhrase),
	regexp.MustCompile(placeName),
	regexp.MustCompile(`(?:in|at|near|inside|beneath|toward)` + nameSep + `(?:the` + nameSep + `)?` + placeName),
}

var itemPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)(?:Item|Treasure|Artifact|Weapon):[^\S\n]*` + namePhrase),
	regexp.MustCompile(`((?:[A-Z][a-z]+` + nameSep + `){0,2}(?:Sword|Blade|Shield|Amulet|Ring|Staff|Wand|Tome|Orb|Crown|Cloak|Dagger)(?:` + nameSep + `of(?:` + nameSep + `the)?` + nameSep + `[A-Z][a-z]+)?)\b`),
}

var plotPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)(?:Plot Hook|Quest|Rumor|Hook):[^\S\n]*` + namePhrase),
}

// Words that pattern matching over capitalized phrases tends to pick up
// but that are never entity names.
var stopNames = map[string]bool{
	"The": true, "You": true, "They": true, "She": true, "He": true,
	"It": true, "There": true, "This": true, "That": true, "When": true,
	"Then": true, "Player": true, "Dungeon Master": true, "And": true,
	"But": true, "Chapter": true, "Part": true, "Page": true,
}

// Entities runs the extraction pass over text and returns deduplicated
// mentions in discovery order. Deterministic for identical input.
func Entities(text string) []Mention {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var mentions []Mention
	mentions = appendMatches(mentions, text, model.EntityNPC, npcPatterns)
	mentions = appendMatches(mentions, text, model.EntityLocation, locationPatterns)
	mentions = appendMatches(mentions, text, model.EntityItem, itemPatterns)
	mentions = appendMatches(mentions, text, model.EntityPlotPoint, plotPatterns)
	return mentions
}

func appendMatches(out []Mention, text string, kind model.EntityKind, patterns []*regexp.Regexp) []Mention {
	count := 0
	for _, pattern := range patterns {
		for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
			if count >= maxPerKind {
				return out
			}
			// Submatch 1 is the name phrase.
			if len(loc) < 4 || loc[2] < 0 {
				continue
			}
			name := strings.TrimSpace(text[loc[2]:loc[3]])
			if len(name) < minNameLen || len(name) > maxNameLen {
				continue
			}
			if stopNames[name] {
				continue
			}
			if containsName(out, name) {
				continue
			}
			out = append(out, Mention{
				Kind:    kind,
				Name:    name,
				Context: contextAround(text, loc[2], loc[3]),
			})
			count++
		}
	}
	return out
}

// containsName treats a name that contains or is contained by an
// already-extracted one as a duplicate ("Elara" vs "Elara Moonwhisper").
func containsName(mentions []Mention, name string) bool {
	lower := strings.ToLower(name)
	for _, m := range mentions {
		existing := strings.ToLower(m.Name)
		if strings.Contains(existing, lower) || strings.Contains(lower, existing) {
			return true
		}
	}
	return false
}

func contextAround(text string, start, end int) string {
	from := start - contextBefore
	if from < 0 {
		from = 0
	}
	to := end + contextAfter
	if to > len(text) {
		to = len(text)
	}
	return strings.TrimSpace(text[from:to])
}
