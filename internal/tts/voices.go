// SPDX-License-Identifier: MIT

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tech42-ai/storycast/internal/log"
)

// Voice is one catalog entry, passed through as the engine shaped it.
type Voice map[string]any

// ErrNoAPIKey means neither the request nor the configuration carries an
// upstream API key, so the catalog cannot be fetched at all.
var ErrNoAPIKey = errors.New("tts: api key is required for voice catalog")

type catalogEntry struct {
	fetchedAt time.Time
	voices    []Voice
}

// VoiceCatalog caches the engine's /voices listing per API key. Concurrent
// refreshes for the same key are collapsed; a failed refresh serves the
// stale entry when one exists.
type VoiceCatalog struct {
	client *Client
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]catalogEntry
	group   singleflight.Group
}

// NewVoiceCatalog wraps client with a cache holding entries for ttl.
func NewVoiceCatalog(client *Client, ttl time.Duration) *VoiceCatalog {
	return &VoiceCatalog{
		client:  client,
		ttl:     ttl,
		entries: make(map[string]catalogEntry),
	}
}

// Voices returns the catalog for the effective API key. forceRefresh skips
// the TTL check; a fetch failure falls back to the cached entry if any.
func (v *VoiceCatalog) Voices(ctx context.Context, apiKeyOverride string, forceRefresh bool) ([]Voice, error) {
	key := apiKeyOverride
	if key == "" {
		key = v.client.apiKey
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}

	v.mu.Lock()
	entry, ok := v.entries[key]
	v.mu.Unlock()
	if ok && !forceRefresh && time.Since(entry.fetchedAt) < v.ttl {
		return entry.voices, nil
	}

	fetched, err, _ := v.group.Do(key, func() (any, error) {
		voices, err := v.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.entries[key] = catalogEntry{fetchedAt: time.Now(), voices: voices}
		v.mu.Unlock()
		return voices, nil
	})
	if err != nil {
		if ok {
			log.WithComponent("tts").Warn().
				Err(err).
				Int("cached_voices", len(entry.voices)).
				Msg("voice catalog refresh failed, serving stale entry")
			return entry.voices, nil
		}
		return nil, err
	}
	return fetched.([]Voice), nil
}

// fetch retrieves /voices. The engine answers either {"voices": [...]} or a
// bare array.
func (v *VoiceCatalog) fetch(ctx context.Context, apiKey string) ([]Voice, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.client.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("tts: build voices request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := v.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: fetch voice catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RejectedError{Status: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read voice catalog: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		var wrapped struct {
			Voices []Voice `json:"voices"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("tts: malformed voice catalog: %w", err)
		}
		return wrapped.Voices, nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var bare []Voice
		if err := json.Unmarshal(trimmed, &bare); err != nil {
			return nil, fmt.Errorf("tts: malformed voice catalog: %w", err)
		}
		return bare, nil
	}
	return nil, fmt.Errorf("tts: unexpected voice catalog shape: %s", truncateForLog(trimmed))
}

func truncateForLog(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
