// SPDX-License-Identifier: MIT

// Package session persists per-story metadata in the object store. The
// metadata document is an open map: fields written by other services must
// survive a round trip, so typed access happens over the raw map instead of
// a closed struct.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tech42-ai/storycast/internal/store"
)

// Metadata wraps the raw metadata.json document of one story.
type Metadata struct {
	fields map[string]any
}

func New() *Metadata {
	return &Metadata{fields: make(map[string]any)}
}

func (m *Metadata) str(key string) string {
	if v, ok := m.fields[key].(string); ok {
		return v
	}
	return ""
}

func (m *Metadata) Title() string    { return m.str("title") }
func (m *Metadata) Status() string   { return m.str("status") }
func (m *Metadata) FileType() string { return m.str("file_type") }

func (m *Metadata) HasAudio() bool {
	v, _ := m.fields["has_audio"].(bool)
	return v
}

// Set stores an arbitrary field, preserving whatever else the document holds.
func (m *Metadata) Set(key string, value any) {
	if m.fields == nil {
		m.fields = make(map[string]any)
	}
	m.fields[key] = value
}

// Get returns the raw value of a field.
func (m *Metadata) Get(key string) (any, bool) {
	v, ok := m.fields[key]
	return v, ok
}

func (m *Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.fields)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &m.fields)
}

// Store reads and writes metadata documents for stories.
type Store struct {
	objects store.ObjectStore
}

func NewStore(objects store.ObjectStore) *Store {
	return &Store{objects: objects}
}

// Load fetches the metadata document, returning an empty document when none
// exists yet.
func (s *Store) Load(ctx context.Context, keys store.Keys) (*Metadata, error) {
	data, err := s.objects.Get(ctx, keys.Metadata())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return New(), nil
		}
		return nil, err
	}
	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("session: malformed metadata %s: %w", keys.Metadata(), err)
	}
	return m, nil
}

// Save merges updates into the stored document and writes it back. Unknown
// fields written by other services are preserved. created_at is set once;
// updated_at on every save, both RFC 3339 UTC.
func (s *Store) Save(ctx context.Context, keys store.Keys, updates map[string]any) error {
	current, err := s.Load(ctx, keys)
	if err != nil {
		return err
	}
	for k, v := range updates {
		current.Set(k, v)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, ok := current.Get("created_at"); !ok {
		current.Set("created_at", now)
	}
	current.Set("updated_at", now)

	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("session: marshal metadata: %w", err)
	}
	return s.objects.Put(ctx, keys.Metadata(), bytes.NewReader(data), "application/json")
}

// MarkAudio records the outcome of an audio generation run.
func (s *Store) MarkAudio(ctx context.Context, keys store.Keys, status, fileType string) error {
	return s.Save(ctx, keys, map[string]any{
		"has_audio":        status == "ready",
		"status":           status,
		"file_type":        fileType,
		"audio_updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}
