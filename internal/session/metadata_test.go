// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tech42-ai/storycast/internal/store"
)

func testKeys() store.Keys {
	return store.Keys{BasePrefix: "p", UserID: "u-1", StoryID: "s-1"}
}

func TestSavePreservesUnknownFields(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	s := NewStore(mem)
	keys := testKeys()

	// Another service wrote fields this code knows nothing about.
	seed := `{"title":"The Bazaar","images":["a.png"],"pipeline_stage":"illustrated","created_at":"2026-01-01T00:00:00Z"}`
	require.NoError(t, mem.Put(ctx, keys.Metadata(), strings.NewReader(seed), "application/json"))

	require.NoError(t, s.Save(ctx, keys, map[string]any{"status": "generating"}))

	raw, err := mem.Get(ctx, keys.Metadata())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "illustrated", doc["pipeline_stage"], "unknown field must survive the merge")
	assert.Equal(t, []any{"a.png"}, doc["images"])
	assert.Equal(t, "generating", doc["status"])
	assert.Equal(t, "2026-01-01T00:00:00Z", doc["created_at"], "created_at is written once")
	assert.NotEmpty(t, doc["updated_at"])
}

func TestSaveSetsCreatedAtOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemStore())
	keys := testKeys()

	require.NoError(t, s.Save(ctx, keys, map[string]any{"title": "x"}))

	m, err := s.Load(ctx, keys)
	require.NoError(t, err)
	created, ok := m.Get("created_at")
	require.True(t, ok)
	assert.NotEmpty(t, created)
}

func TestMarkAudio(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemStore())
	keys := testKeys()

	require.NoError(t, s.MarkAudio(ctx, keys, "ready", "mp3"))

	m, err := s.Load(ctx, keys)
	require.NoError(t, err)
	assert.True(t, m.HasAudio())
	assert.Equal(t, "ready", m.Status())
	assert.Equal(t, "mp3", m.FileType())

	require.NoError(t, s.MarkAudio(ctx, keys, "failed", "wav"))
	m, err = s.Load(ctx, keys)
	require.NoError(t, err)
	assert.False(t, m.HasAudio())
	assert.Equal(t, "wav", m.FileType())
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	s := NewStore(store.NewMemStore())

	m, err := s.Load(context.Background(), testKeys())
	require.NoError(t, err)
	assert.False(t, m.HasAudio())
	assert.Empty(t, m.Status())
}

