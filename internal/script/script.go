// SPDX-License-Identifier: MIT

// Package script converts structured stories into the slot-numbered script
// format the upstream TTS engine consumes. The engine accepts at most four
// positionally ordered voices per request; slot 1 always carries the
// narrator, slots 2 to 4 carry characters in declaration order.
package script

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxCharacterSlots is how many non-narrator characters get their own voice.
const maxCharacterSlots = 3

// NarratorSpeaker is the literal speaker name for narration lines.
const NarratorSpeaker = "Narrator"

// Line is one utterance of a story, spoken by the narrator or a character.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Chapter groups an ordered run of lines.
type Chapter struct {
	Number int    `json:"chapter_number"`
	Title  string `json:"title"`
	Lines  []Line `json:"lines"`
}

// Story is the structured input contract for audiobook generation.
type Story struct {
	Title      string    `json:"title"`
	Characters []string  `json:"characters"`
	Chapters   []Chapter `json:"chapters"`
}

// Result carries everything the TTS request needs for one story.
type Result struct {
	// Script is the newline-joined "Slot K: text" rendering of all chapters.
	Script string
	// Slots lists the slots actually used, ordered, slot 1 first.
	Slots []string
	// SpeakerMap maps speaker names to their slot labels.
	SpeakerMap map[string]string
	// Voices is the voice id per entry of Slots, same order.
	Voices []string
	// Warning is set when characters had to be folded into the narrator
	// slot. Formatting never fails on this condition.
	Warning string
}

func slotLabel(n int) string { return fmt.Sprintf("Slot %d", n) }

// canonicalName normalizes speaker names so composed and decomposed
// spellings of the same character match.
func canonicalName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func canonicalOverrides(overrides map[string]string) map[string]string {
	if len(overrides) == 0 {
		return overrides
	}
	out := make(map[string]string, len(overrides))
	for name, voice := range overrides {
		out[canonicalName(name)] = voice
	}
	return out
}

// Format renders a structured story into the TTS wire script.
//
// slotVoices carries the default voice per slot (index 0 is the narrator).
// overrides maps character names (or "Narrator") to voice ids and takes
// precedence over slot defaults.
func Format(story Story, slotVoices [4]string, overrides map[string]string) Result {
	overrides = canonicalOverrides(overrides)
	res := Result{
		SpeakerMap: map[string]string{NarratorSpeaker: slotLabel(1)},
	}

	for i, char := range story.Characters {
		if i >= maxCharacterSlots {
			extra := story.Characters[maxCharacterSlots:]
			res.Warning = fmt.Sprintf(
				"story has %d characters but only %d voiced slots; %s will use the narrator voice",
				len(story.Characters), maxCharacterSlots, strings.Join(extra, ", "))
			break
		}
		res.SpeakerMap[canonicalName(char)] = slotLabel(i + 2)
	}

	used := make(map[string]bool)
	var lines []string
	for _, ch := range story.Chapters {
		for _, line := range ch.Lines {
			slot, ok := res.SpeakerMap[canonicalName(line.Speaker)]
			if !ok {
				// Unmapped speakers fall back to the narrator slot.
				slot = slotLabel(1)
			}
			used[slot] = true
			lines = append(lines, slot+": "+line.Text)
		}
	}
	res.Script = strings.Join(lines, "\n")

	// Reverse map for override lookup by character name.
	bySlot := make(map[string]string, len(res.SpeakerMap))
	for name, slot := range res.SpeakerMap {
		bySlot[slot] = name
	}

	for n := 1; n <= 4; n++ {
		slot := slotLabel(n)
		if !used[slot] {
			continue
		}
		res.Slots = append(res.Slots, slot)
		res.Voices = append(res.Voices, voiceFor(slot, bySlot[slot], slotVoices, overrides))
	}

	return res
}

// FormatPlainText treats raw text as a single narrator utterance.
func FormatPlainText(text string, slotVoices [4]string, overrides map[string]string) Result {
	overrides = canonicalOverrides(overrides)
	slot := slotLabel(1)
	return Result{
		Script:     NarratorSpeaker + ": " + text,
		Slots:      []string{slot},
		SpeakerMap: map[string]string{NarratorSpeaker: slot},
		Voices:     []string{voiceFor(slot, NarratorSpeaker, slotVoices, overrides)},
	}
}

func voiceFor(slot, character string, slotVoices [4]string, overrides map[string]string) string {
	if character != "" {
		if v, ok := overrides[character]; ok && v != "" {
			return v
		}
	}
	var n int
	if _, err := fmt.Sscanf(slot, "Slot %d", &n); err == nil && n >= 1 && n <= 4 {
		return slotVoices[n-1]
	}
	return slotVoices[0]
}
