// SPDX-License-Identifier: MIT

package tts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoicesWrappedAndBareShapes(t *testing.T) {
	for name, payload := range map[string]string{
		"wrapped": `{"voices":[{"id":"en-Alice_woman","name":"Alice"}]}`,
		"bare":    `[{"id":"en-Alice_woman","name":"Alice"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/voices", r.URL.Path)
				assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
				io.WriteString(w, payload)
			}))
			defer srv.Close()

			cat := NewVoiceCatalog(NewClient(srv.URL, "k"), time.Minute)
			voices, err := cat.Voices(context.Background(), "", false)
			require.NoError(t, err)
			require.Len(t, voices, 1)
			assert.Equal(t, "en-Alice_woman", voices[0]["id"])
		})
	}
}

func TestVoicesCachedWithinTTL(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"voices":[{"id":"v1"}]}`)
	}))
	defer srv.Close()

	cat := NewVoiceCatalog(NewClient(srv.URL, "k"), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cat.Voices(ctx, "", false)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := cat.Voices(ctx, "", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "force refresh bypasses the TTL")
}

func TestVoicesCacheKeyedByAPIKey(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"voices":[]}`)
	}))
	defer srv.Close()

	cat := NewVoiceCatalog(NewClient(srv.URL, "default"), time.Minute)
	ctx := context.Background()

	_, err := cat.Voices(ctx, "", false)
	require.NoError(t, err)
	_, err = cat.Voices(ctx, "other-key", false)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load(), "distinct keys fetch separately")
}

func TestVoicesStaleServedOnRefreshFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"voices":[{"id":"v1"}]}`)
	}))
	defer srv.Close()

	cat := NewVoiceCatalog(NewClient(srv.URL, "k"), time.Minute)
	ctx := context.Background()

	voices, err := cat.Voices(ctx, "", false)
	require.NoError(t, err)
	require.Len(t, voices, 1)

	fail.Store(true)
	voices, err = cat.Voices(ctx, "", true)
	require.NoError(t, err, "stale entry is served when refresh fails")
	assert.Len(t, voices, 1)
}

func TestVoicesNoKeyFails(t *testing.T) {
	cat := NewVoiceCatalog(NewClient("http://example.invalid", ""), time.Minute)
	_, err := cat.Voices(context.Background(), "", false)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
