// SPDX-License-Identifier: MIT

package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tech42-ai/storycast/internal/wav"
)

func collectStream(t *testing.T, r *StreamReader) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, chunk...)
	}
}

func TestStreamSendsWireRequest(t *testing.T) {
	var got wireRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/generate/stream", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write(wav.BuildFromRawPCM([]byte("pcm-data")))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "default-key")
	reader, err := c.Stream(context.Background(), Request{
		Script:         "Slot 1: hello",
		SpeakerVoices:  []string{"en-Alice_woman"},
		SessionID:      "sess-1",
		SpeakerMapping: map[string]string{"Narrator": "Slot 1"},
		VoiceOverrides: map[string]string{"Kaveh": "en-Grace_woman"},
	})
	require.NoError(t, err)
	defer reader.Close()

	pcm := collectStream(t, reader)
	assert.Equal(t, []byte("pcm-data"), pcm, "wav header must be stripped")

	assert.Equal(t, "Bearer default-key", auth)
	assert.Equal(t, "Slot 1: hello", got.Script)
	assert.Equal(t, []string{"en-Alice_woman"}, got.SpeakerVoices)
	assert.InDelta(t, 1.3, got.CfgScale, 1e-9)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, map[string]string{"Narrator": "Slot 1"}, got.SpeakerMapping)
	assert.Equal(t, map[string]string{"Kaveh": "en-Grace_woman"}, got.VoiceOverrides)
}

func TestStreamAPIKeyOverride(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write(wav.BuildFromRawPCM(nil))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "default-key")
	reader, err := c.Stream(context.Background(), Request{SessionID: "s", APIKey: "per-request"})
	require.NoError(t, err)
	reader.Close()

	assert.Equal(t, "Bearer per-request", auth)
}

func TestStreamRejectedCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "engine busy")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.Stream(context.Background(), Request{SessionID: "s"})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusTooManyRequests, rejected.Status)
	assert.Equal(t, "engine busy", rejected.Body)
}

func TestStreamTruncationReportsChunkCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Announce more bytes than are sent, then cut the connection so
		// the client sees an unexpected EOF mid-body.
		w.Header().Set("Content-Length", "100000")
		w.Write(wav.BuildFromRawPCM(make([]byte, 4096)))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	reader, err := c.Stream(context.Background(), Request{SessionID: "s"})
	require.NoError(t, err)
	defer reader.Close()

	var truncated *TruncatedError
	for {
		_, err := reader.Next()
		if err == nil {
			continue
		}
		require.NotErrorIs(t, err, io.EOF, "cut stream must not look like a clean end")
		require.ErrorAs(t, err, &truncated)
		break
	}
	assert.Greater(t, truncated.Chunks, 0)
}

func TestStreamDiscardsRuntFirstChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		// First chunk shorter than a wav header, then real PCM.
		w.Write([]byte("short"))
		f.Flush()
		w.Write([]byte("pcm-after-runt"))
		f.Flush()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	reader, err := c.Stream(context.Background(), Request{SessionID: "s"})
	require.NoError(t, err)
	defer reader.Close()

	pcm := collectStream(t, reader)
	assert.Equal(t, []byte("pcm-after-runt"), pcm)
}
