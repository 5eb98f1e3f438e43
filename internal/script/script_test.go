// SPDX-License-Identifier: MIT

package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVoices = [4]string{"en-Alice_woman", "en-Bob_man", "en-Claire_woman", "en-David_man"}

func twoCharacterStory() Story {
	return Story{
		Title:      "The Bazaar",
		Characters: []string{"Kaveh", "Mirza"},
		Chapters: []Chapter{
			{
				Number: 1,
				Title:  "Morning",
				Lines: []Line{
					{Speaker: "Narrator", Text: "The bazaar woke slowly."},
					{Speaker: "Kaveh", Text: "Another quiet day."},
					{Speaker: "Mirza", Text: "Not for long."},
				},
			},
			{
				Number: 2,
				Title:  "Noon",
				Lines: []Line{
					{Speaker: "Narrator", Text: "By noon the stalls were full."},
				},
			},
		},
	}
}

func TestFormatStructuredStory(t *testing.T) {
	res := Format(twoCharacterStory(), testVoices, nil)

	wantScript := strings.Join([]string{
		"Slot 1: The bazaar woke slowly.",
		"Slot 2: Another quiet day.",
		"Slot 3: Not for long.",
		"Slot 1: By noon the stalls were full.",
	}, "\n")
	assert.Equal(t, wantScript, res.Script)

	assert.Equal(t, []string{"Slot 1", "Slot 2", "Slot 3"}, res.Slots)
	assert.Equal(t, []string{"en-Alice_woman", "en-Bob_man", "en-Claire_woman"}, res.Voices)
	assert.Equal(t, map[string]string{
		"Narrator": "Slot 1",
		"Kaveh":    "Slot 2",
		"Mirza":    "Slot 3",
	}, res.SpeakerMap)
	assert.Empty(t, res.Warning)
}

func TestFormatUnmappedSpeakerFallsBackToNarrator(t *testing.T) {
	story := twoCharacterStory()
	story.Chapters[0].Lines = append(story.Chapters[0].Lines, Line{Speaker: "Stranger", Text: "Who goes there?"})

	res := Format(story, testVoices, nil)

	assert.Contains(t, res.Script, "Slot 1: Who goes there?")
	assert.NotContains(t, res.SpeakerMap, "Stranger")
}

func TestFormatTooManyCharactersWarnsNeverFails(t *testing.T) {
	story := Story{
		Characters: []string{"A", "B", "C", "D", "E"},
		Chapters: []Chapter{{Lines: []Line{
			{Speaker: "A", Text: "a"},
			{Speaker: "D", Text: "d"},
		}}},
	}

	res := Format(story, testVoices, nil)

	require.NotEmpty(t, res.Warning)
	assert.Contains(t, res.Warning, "D")
	assert.Contains(t, res.Warning, "E")
	// D has no slot of its own; its line lands on the narrator slot.
	assert.Contains(t, res.Script, "Slot 1: d")
	assert.Contains(t, res.Script, "Slot 2: a")
}

func TestFormatSlotOrderPreservedWithGaps(t *testing.T) {
	story := Story{
		Characters: []string{"Kaveh", "Mirza"},
		Chapters: []Chapter{{Lines: []Line{
			// Only the second character speaks; Slot 2 never appears.
			{Speaker: "Mirza", Text: "Alone again."},
			{Speaker: "Narrator", Text: "Silence."},
		}}},
	}

	res := Format(story, testVoices, nil)

	assert.Equal(t, []string{"Slot 1", "Slot 3"}, res.Slots, "slot 1 first, then used slots in order")
	assert.Equal(t, []string{"en-Alice_woman", "en-Claire_woman"}, res.Voices)
}

func TestFormatMatchesDecomposedSpeakerNames(t *testing.T) {
	story := Story{
		// Composed U+00E9 in the declaration.
		Characters: []string{"Zo\u00e9"},
		Chapters: []Chapter{{Lines: []Line{
			// Decomposed e + U+0301 on the line.
			{Speaker: "Zoe\u0301", Text: "Bonjour."},
		}}},
	}

	res := Format(story, testVoices, nil)

	assert.Contains(t, res.Script, "Slot 2: Bonjour.")
	assert.Equal(t, []string{"Slot 2"}, res.Slots)
}

func TestFormatVoiceOverridesByCharacterName(t *testing.T) {
	res := Format(twoCharacterStory(), testVoices, map[string]string{
		"Mirza":    "en-Grace_woman",
		"Narrator": "en-Henry_man",
	})

	assert.Equal(t, []string{"en-Henry_man", "en-Bob_man", "en-Grace_woman"}, res.Voices)
}

func TestFormatPlainText(t *testing.T) {
	res := FormatPlainText("Once upon a time.", testVoices, nil)

	assert.Equal(t, "Narrator: Once upon a time.", res.Script)
	assert.Equal(t, []string{"Slot 1"}, res.Slots)
	assert.Equal(t, []string{"en-Alice_woman"}, res.Voices)
}
