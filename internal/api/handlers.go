// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tech42-ai/storycast/internal/audio"
	"github.com/tech42-ai/storycast/internal/log"
	"github.com/tech42-ai/storycast/internal/store"
	"github.com/tech42-ai/storycast/internal/tts"
)

type generateRequest struct {
	ForceRegenerate       bool              `json:"force_regenerate"`
	SpeakerVoiceOverrides map[string]string `json:"speaker_voice_overrides"`
	TTSAPIKey             string            `json:"tech42_tts_api_key"`
}

// handleGenerate kicks off (or reports) a generation run. The response is
// always immediate; progress is tracked via the status endpoint.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(w, r)
	if sessionID == "" {
		return
	}
	ctx := log.ContextWithSessionID(r.Context(), sessionID)

	var req generateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid_body", "malformed JSON body")
			return
		}
	}
	apiKey := req.TTSAPIKey
	if apiKey == "" {
		apiKey = r.Header.Get(ttsKeyHeader)
	}

	res, err := s.generator.Start(ctx, audio.StartRequest{
		UserID:          userFrom(r),
		SessionID:       sessionID,
		ForceRegenerate: req.ForceRegenerate,
		VoiceOverrides:  req.SpeakerVoiceOverrides,
		APIKey:          apiKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrStoryNotFound):
			writeNotFound(w, "story_not_found", "no story content for this session")
		case store.IsTransient(err):
			writeUpstreamError(w, "object store unavailable")
		default:
			writeInternalError(w, "failed to start generation")
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(w, r)
	if sessionID == "" {
		return
	}
	if err := s.generator.Reset(r.Context(), userFrom(r), sessionID); err != nil {
		writeInternalError(w, "reset failed, session state unchanged")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(w, r)
	if sessionID == "" {
		return
	}
	writeJSON(w, http.StatusOK, s.generator.Status(r.Context(), userFrom(r), sessionID))
}

// handleStream serves the current playable file with range support. The
// file may still be growing, so caching is disabled.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(w, r)
	if sessionID == "" {
		return
	}
	path, err := s.generator.PlayablePath(sessionID)
	if err != nil {
		writeNotFound(w, "audio_not_found", "no audio generated for this session")
		return
	}
	s.serveLocalAudio(w, r, path, false)
}

// handleDownload serves the finished file as an attachment, preferring the
// store copy via redirect.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(w, r)
	if sessionID == "" {
		return
	}
	keys := s.keysFor(userFrom(r), sessionID)
	if _, err := s.objects.Head(r.Context(), keys.FinalMP3()); err == nil {
		if url, err := s.objects.PresignGet(r.Context(), keys.FinalMP3(), s.cfg.PresignTTL); err == nil {
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
	}
	path, err := s.generator.PlayablePath(sessionID)
	if err != nil {
		writeNotFound(w, "audio_not_found", "no audio generated for this session")
		return
	}
	s.serveLocalAudio(w, r, path, true)
}

func (s *Server) serveLocalAudio(w http.ResponseWriter, r *http.Request, path string, download bool) {
	f, err := os.Open(path)
	if err != nil {
		writeNotFound(w, "audio_not_found", "no audio generated for this session")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeInternalError(w, "failed to stat audio file")
		return
	}

	switch filepath.Ext(path) {
	case ".mp3":
		w.Header().Set("Content-Type", "audio/mpeg")
	case ".wav":
		w.Header().Set("Content-Type", "audio/wav")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Accept-Ranges", "bytes")
	if download {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	}
	// ServeContent handles Range requests, 206 responses and
	// Content-Range headers.
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// handlePlaylist proxies the HLS playlist: store copy when present, local
// file otherwise.
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(w, r)
	if sessionID == "" {
		return
	}
	keys := s.keysFor(userFrom(r), sessionID)

	if data, err := s.objects.Get(r.Context(), keys.Playlist()); err == nil {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
		return
	}

	local, err := s.generator.LocalHLSPath(sessionID, "stream.m3u8")
	if err != nil {
		writeNotFound(w, "playlist_not_found", "no HLS playlist for this session")
		return
	}
	data, err := os.ReadFile(local)
	if err != nil {
		writeNotFound(w, "playlist_not_found", "no HLS playlist for this session")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

// handleSegment validates the segment name, then redirects to a presigned
// store URL or serves the local file.
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(w, r)
	if sessionID == "" {
		return
	}
	segment := chi.URLParam(r, "segment")
	if !segmentNamePattern.MatchString(segment) {
		writeBadRequest(w, "invalid_segment", "segment name must match segment_NNN.ts")
		return
	}
	keys := s.keysFor(userFrom(r), sessionID)

	if _, err := s.objects.Head(r.Context(), keys.Segment(segment)); err == nil {
		url, err := s.objects.PresignGet(r.Context(), keys.Segment(segment), s.cfg.PresignTTL)
		if err == nil {
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
	}

	local, err := s.generator.LocalHLSPath(sessionID, segment)
	if err != nil {
		writeNotFound(w, "segment_not_found", "segment not available")
		return
	}
	f, err := os.Open(local)
	if err != nil {
		writeNotFound(w, "segment_not_found", "segment not available")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeInternalError(w, "failed to stat segment")
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	http.ServeContent(w, r, segment, info.ModTime(), f)
}

// handleVoices returns the upstream voice catalog. ?force=true bypasses the
// cache; the caller's own upstream key is honored. A missing key is not an
// error, clients use key_required to prompt for one.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	force := isTruthy(r.URL.Query().Get("force"))
	voices, err := s.voices.Voices(r.Context(), r.Header.Get(ttsKeyHeader), force)
	if err != nil {
		if errors.Is(err, tts.ErrNoAPIKey) {
			writeJSON(w, http.StatusOK, map[string]any{"voices": []tts.Voice{}, "key_required": true})
			return
		}
		var rejected *tts.RejectedError
		if errors.As(err, &rejected) && rejected.Status == http.StatusUnauthorized {
			writeError(w, http.StatusUnauthorized, "upstream_unauthorized", "upstream TTS rejected the API key")
			return
		}
		writeUpstreamError(w, "voice catalog unavailable")
		return
	}
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices, "key_required": false})
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "force":
		return true
	}
	return false
}
