// SPDX-License-Identifier: MIT

// Package story loads the narration input for a session from the object
// store. Structured stories live in story.json; older sessions only carry a
// plain story.txt.
package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tech42-ai/storycast/internal/script"
	"github.com/tech42-ai/storycast/internal/store"
)

// ErrNotFound means the session has no story content at all.
var ErrNotFound = errors.New("story: no story content for session")

// Input is the loaded narration source. Exactly one of Structured or
// PlainText is set.
type Input struct {
	Structured *script.Story
	PlainText  string
}

// Load fetches the structured story for keys, falling back to plain text.
func Load(ctx context.Context, objects store.ObjectStore, keys store.Keys) (Input, error) {
	data, err := objects.Get(ctx, keys.StoryJSON())
	switch {
	case err == nil:
		var s script.Story
		if jsonErr := json.Unmarshal(data, &s); jsonErr != nil {
			return Input{}, fmt.Errorf("story: malformed %s: %w", keys.StoryJSON(), jsonErr)
		}
		if len(s.Chapters) > 0 {
			return Input{Structured: &s}, nil
		}
		// Empty structure, fall through to plain text.
	case !errors.Is(err, store.ErrNotFound):
		return Input{}, err
	}

	text, err := objects.Get(ctx, keys.StoryText())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Input{}, ErrNotFound
		}
		return Input{}, err
	}
	if strings.TrimSpace(string(text)) == "" {
		return Input{}, ErrNotFound
	}
	return Input{PlainText: string(text)}, nil
}
