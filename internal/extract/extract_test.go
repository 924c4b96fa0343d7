package extract_test

import (
	"testing"

	"github.com/chronicle-rpg/chronicle/internal/extract"
	"github.com/chronicle-rpg/chronicle/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namesOf(mentions []extract.Mention, kind model.EntityKind) []string {
	var names []string
	for _, m := range mentions {
		if m.Kind == kind {
			names = append(names, m.Name)
		}
	}
	return names
}

func TestEntitiesFromStructuredMarkup(t *testing.T) {
	text := `NPC: Elara Moonwhisper
Location: Raven Tower
Item: Amulet of Dawn
Quest: The Missing Caravan`

	mentions := extract.Entities(text)
	assert.Contains(t, namesOf(mentions, model.EntityNPC), "Elara Moonwhisper")
	assert.Contains(t, namesOf(mentions, model.EntityLocation), "Raven Tower")
	assert.Contains(t, namesOf(mentions, model.EntityItem), "Amulet of Dawn")
	assert.Contains(t, namesOf(mentions, model.EntityPlotPoint), "The Missing Caravan")
}

func TestEntitiesFromProse(t *testing.T) {
	text := "You meet Bram Hollis at the Rusty Anchor Tavern. Bram Hollis warns you about the mine. " +
		"He offers a Silver Dagger for the journey."

	mentions := extract.Entities(text)
	assert.Contains(t, namesOf(mentions, model.EntityNPC), "Bram Hollis")
	assert.Contains(t, namesOf(mentions, model.EntityLocation), "Rusty Anchor Tavern")
	assert.Contains(t, namesOf(mentions, model.EntityItem), "Silver Dagger")
}

func TestEntitiesDeduplicatesSubnames(t *testing.T) {
	text := "NPC: Elara Moonwhisper\nElara says the road is closed."

	names := namesOf(extract.Entities(text), model.EntityNPC)
	require.Len(t, names, 1, "a contained name is the same entity")
	assert.Equal(t, "Elara Moonwhisper", names[0])
}

func TestEntitiesStopAtLineBreaks(t *testing.T) {
	// A name at the end of a line must not swallow the start of the
	// next one, even across a blank line.
	text := "NPC: Bram Hollis\n\nBram Hollis owns the Rusty Anchor Tavern."

	names := namesOf(extract.Entities(text), model.EntityNPC)
	require.Len(t, names, 1)
	assert.Equal(t, "Bram Hollis", names[0])

	text = "Quest: Amulet of Dawn\nRumor: Elara Moonwhisper"
	mentions := extract.Entities(text)
	plot := namesOf(mentions, model.EntityPlotPoint)
	assert.ElementsMatch(t, []string{"Amulet of Dawn", "Elara Moonwhisper"}, plot)
}

func TestEntitiesSkipsStopWords(t *testing.T) {
	text := "The road is long. You walk on. They wait. When is it over?"
	assert.Empty(t, extract.Entities(text))
}

func TestEntitiesDeterministic(t *testing.T) {
	text := "NPC: Elara Moonwhisper\nLocation: Raven Tower\nYou meet Bram Hollis near the Old Crypt."
	first := extract.Entities(text)
	second := extract.Entities(text)
	assert.Equal(t, first, second)
}

func TestEntitiesEmptyInput(t *testing.T) {
	assert.Nil(t, extract.Entities(""))
	assert.Nil(t, extract.Entities("   \n\t  "))
}

func TestEntitiesKeepsContext(t *testing.T) {
	text := "You meet Bram Hollis at the gate."
	mentions := extract.Entities(text)
	require.NotEmpty(t, mentions)
	assert.Contains(t, mentions[0].Context, "Bram Hollis")
}
