// SPDX-License-Identifier: MIT

// Package api exposes the storycast HTTP surface: generation control,
// status, progressive streaming, HLS proxying, and the voice catalog.
package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/tech42-ai/storycast/internal/audio"
	"github.com/tech42-ai/storycast/internal/store"
	"github.com/tech42-ai/storycast/internal/tts"
)

// sessionIDPattern keeps client-supplied session ids path-safe before they
// touch the filesystem or object keys.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// segmentNamePattern admits only encoder-produced segment names.
var segmentNamePattern = regexp.MustCompile(`^segment_[0-9]+\.ts$`)

// Config carries the HTTP-level knobs.
type Config struct {
	APIToken     string
	RateLimitRPS int
	BasePrefix   string
	PresignTTL   time.Duration
}

// Server wires the handlers to their dependencies.
type Server struct {
	cfg       Config
	generator *audio.Generator
	voices    *tts.VoiceCatalog
	objects   store.ObjectStore
}

// New builds the server. objects is the same store the generator uploads to.
func New(cfg Config, generator *audio.Generator, voices *tts.VoiceCatalog, objects store.ObjectStore) *Server {
	return &Server{cfg: cfg, generator: generator, voices: voices, objects: objects}
}

// Routes returns the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRPS, time.Second))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1/audio", func(r chi.Router) {
		r.Use(bearerAuth(s.cfg.APIToken))

		r.Post("/generate/{session}", s.handleGenerate)
		r.Post("/reset/{session}", s.handleReset)
		r.Get("/status/{session}", s.handleStatus)
		r.Get("/stream/{session}", s.handleStream)
		r.Get("/download/{session}", s.handleDownload)
		r.Get("/hls/{session}/stream.m3u8", s.handlePlaylist)
		r.Get("/hls/{session}/{segment}", s.handleSegment)
		r.Get("/voices", s.handleVoices)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) keysFor(userID, sessionID string) store.Keys {
	return store.Keys{BasePrefix: s.cfg.BasePrefix, UserID: userID, StoryID: sessionID}
}

// sessionFrom validates the {session} route parameter. Returns "" after
// writing a 400 when the id is unusable.
func sessionFrom(w http.ResponseWriter, r *http.Request) string {
	id := chi.URLParam(r, "session")
	if !sessionIDPattern.MatchString(id) {
		writeBadRequest(w, "invalid_session", "session id must be alphanumeric with . _ -")
		return ""
	}
	return id
}
