// SPDX-License-Identifier: MIT

// Package audio orchestrates one audiobook generation per session: the TTS
// stream fans out into a progressive WAV, the ffmpeg HLS sidecar, and the
// live segment uploader. Runs are detached from the HTTP request that
// started them; a client disconnect never interrupts production.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tech42-ai/storycast/internal/fsutil"
	"github.com/tech42-ai/storycast/internal/hls"
	"github.com/tech42-ai/storycast/internal/log"
	"github.com/tech42-ai/storycast/internal/script"
	"github.com/tech42-ai/storycast/internal/session"
	"github.com/tech42-ai/storycast/internal/store"
	"github.com/tech42-ai/storycast/internal/story"
	"github.com/tech42-ai/storycast/internal/tts"
	"github.com/tech42-ai/storycast/internal/uploader"
	"github.com/tech42-ai/storycast/internal/wav"
)

// inProgressWindow is how fresh a local progressive.wav must be for Start
// and Status to call the session "generating" rather than stale.
const inProgressWindow = 30 * time.Second

// readyAge is how old a local progressive.wav must be before Status treats
// it as a finished (wav-only) artifact.
const readyAge = 3 * time.Second

// ErrStoryNotFound is returned by Start when the session has no story.
var ErrStoryNotFound = story.ErrNotFound

// Config carries the orchestrator knobs.
type Config struct {
	DataDir          string
	BasePrefix       string
	SlotVoices       [4]string
	PresignTTL       time.Duration
	FFmpegPath       string
	TranscodeTimeout time.Duration
}

// StartRequest is one generate call.
type StartRequest struct {
	UserID          string
	SessionID       string
	ForceRegenerate bool
	// VoiceOverrides maps character names to voice ids. Any override
	// implies a forced regeneration.
	VoiceOverrides map[string]string
	// APIKey overrides the default upstream TTS key for this run.
	APIKey string
}

// Result is the synchronous answer to Start and the Status payload.
type Result struct {
	Status   string `json:"status"`
	URL      string `json:"url,omitempty"`
	FileType string `json:"file_type,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Status values.
const (
	StatusReady        = "ready"
	StatusGenerating   = "generating"
	StatusStarted      = "started"
	StatusNotGenerated = "not_generated"
	StatusFaulted      = "faulted"
)

// Source values.
const (
	SourceStore = "s3"
	SourceLocal = "local"
)

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Generator owns the per-session state machines.
type Generator struct {
	cfg      Config
	objects  store.ObjectStore
	sessions *session.Store
	ttsc     *tts.Client
	logger   zerolog.Logger

	mu   sync.Mutex
	runs map[string]*run

	// uploaderOpts tightens watcher cadence in tests.
	uploaderOpts []uploader.Option
}

// NewGenerator wires the orchestrator. objects may be a MemStore when no
// bucket is configured.
func NewGenerator(cfg Config, objects store.ObjectStore, sessions *session.Store, ttsc *tts.Client) *Generator {
	return &Generator{
		cfg:      cfg,
		objects:  objects,
		sessions: sessions,
		ttsc:     ttsc,
		logger:   log.WithComponent("audio"),
		runs:     make(map[string]*run),
	}
}

func (g *Generator) keysFor(userID, sessionID string) store.Keys {
	return store.Keys{BasePrefix: g.cfg.BasePrefix, UserID: userID, StoryID: sessionID}
}

func (g *Generator) runKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}

// Start applies the state machine checks and either reports an existing
// artifact or spawns a detached background run. It never blocks on
// generation and never propagates a run failure.
func (g *Generator) Start(ctx context.Context, req StartRequest) (Result, error) {
	if len(req.VoiceOverrides) > 0 {
		req.ForceRegenerate = true
	}
	keys := g.keysFor(req.UserID, req.SessionID)
	paths := PathsFor(g.cfg.DataDir, req.SessionID)
	logger := g.logger.With().Str("session_id", req.SessionID).Str("user_id", req.UserID).Logger()

	if !req.ForceRegenerate {
		// 1. Finished asset in the store.
		if _, err := g.objects.Head(ctx, keys.FinalMP3()); err == nil {
			url, _ := g.objects.PresignGet(ctx, keys.FinalMP3(), g.cfg.PresignTTL)
			return Result{Status: StatusReady, URL: url, Source: SourceStore}, nil
		}
		// 2. Another worker already uploading.
		if _, err := g.objects.Head(ctx, keys.ProgressiveWAV()); err == nil {
			url, _ := g.objects.PresignGet(ctx, keys.ProgressiveWAV(), g.cfg.PresignTTL)
			return Result{Status: StatusGenerating, URL: url, Source: SourceStore}, nil
		}
		// 3. Finished asset on disk.
		if fsutil.IsRegularFile(paths.MP3) == nil {
			return Result{Status: StatusReady, Source: SourceLocal}, nil
		}
		// 4. A run on this host is mid-flight.
		if g.isRunning(req.UserID, req.SessionID) {
			return Result{Status: StatusGenerating, Source: SourceLocal}, nil
		}
		if info, err := os.Stat(paths.WAV); err == nil && time.Since(info.ModTime()) < inProgressWindow {
			return Result{Status: StatusGenerating, Source: SourceLocal}, nil
		}
	} else {
		// 5. Forced: clear previous artifacts first, fail-closed.
		if err := g.Reset(ctx, req.UserID, req.SessionID); err != nil {
			return Result{}, err
		}
	}

	// Load the story before spawning so a missing story is a synchronous
	// 404 rather than a silent background failure.
	input, err := story.Load(ctx, g.objects, keys)
	if err != nil {
		return Result{}, err
	}

	g.mu.Lock()
	key := g.runKey(req.UserID, req.SessionID)
	if _, exists := g.runs[key]; exists {
		g.mu.Unlock()
		return Result{Status: StatusGenerating, Source: SourceLocal}, nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	g.runs[key] = r
	g.mu.Unlock()

	generationsStarted.Inc()
	logger.Info().Bool("forced", req.ForceRegenerate).Msg("generation started")

	go func() {
		defer close(r.done)
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("generation run panicked")
				generationsCompleted.WithLabelValues("panic").Inc()
			}
			g.mu.Lock()
			delete(g.runs, key)
			g.mu.Unlock()
		}()
		g.runGeneration(runCtx, req, input, keys, paths, logger)
	}()

	return Result{Status: StatusStarted}, nil
}

func (g *Generator) isRunning(userID, sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.runs[g.runKey(userID, sessionID)]
	return ok
}

// runGeneration is the detached worker. It must not let any failure escape;
// outcomes are observable via logs, metrics, and Status.
func (g *Generator) runGeneration(ctx context.Context, req StartRequest, input story.Input, keys store.Keys, paths Paths, logger zerolog.Logger) {
	start := time.Now()
	defer func() { generationDuration.Observe(time.Since(start).Seconds()) }()

	var formatted script.Result
	if input.Structured != nil {
		formatted = script.Format(*input.Structured, g.cfg.SlotVoices, req.VoiceOverrides)
		if formatted.Warning != "" {
			logger.Warn().Str("warning", formatted.Warning).Msg("script formatting")
		}
	} else {
		formatted = script.FormatPlainText(input.PlainText, g.cfg.SlotVoices, req.VoiceOverrides)
	}

	if err := fsutil.EnsureDir(paths.HLSDir); err != nil {
		logger.Error().Err(err).Msg("create session directories")
		generationsCompleted.WithLabelValues("failed").Inc()
		g.markSession(keys, StatusFaulted, "")
		return
	}

	wavWriter, err := wav.NewProgressiveWriter(paths.WAV)
	if err != nil {
		logger.Error().Err(err).Msg("open progressive wav")
		generationsCompleted.WithLabelValues("failed").Inc()
		g.markSession(keys, StatusFaulted, "")
		return
	}

	// Sidecar first so ffmpeg is blocked on stdin before PCM arrives.
	sidecar, sidecarErr := hls.StartSidecar(g.cfg.FFmpegPath, paths.HLSDir, req.SessionID)
	if sidecarErr != nil {
		logger.Warn().Err(sidecarErr).Msg("hls sidecar unavailable, continuing wav only")
	}

	upCtx, upCancel := context.WithCancel(context.Background())
	up := uploader.New(g.objects, keys, paths.HLSDir, g.uploaderOpts...)
	var workers errgroup.Group
	workers.Go(func() error { return up.Run(upCtx) })

	streamErr := g.pump(ctx, req, formatted, wavWriter, sidecar, logger)
	captured := wavWriter.BytesWritten()

	if err := wavWriter.Close(); err != nil {
		logger.Error().Err(err).Msg("finalize progressive wav")
	}
	if sidecar != nil {
		if err := sidecar.Close(); err != nil {
			logger.Warn().Err(err).Msg("hls sidecar shutdown")
		}
	}
	upCancel()
	if err := workers.Wait(); err != nil {
		logger.Warn().Err(err).Msg("segment uploader stopped")
	}
	if err := up.Reconcile(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("segment reconciliation")
	}

	g.finalize(req, keys, paths, streamErr, captured, logger)
}

// pump copies PCM chunks from the TTS stream into the WAV file and the
// sidecar until the stream ends or ctx is canceled.
func (g *Generator) pump(ctx context.Context, req StartRequest, formatted script.Result, wavWriter *wav.ProgressiveWriter, sidecar *hls.Sidecar, logger zerolog.Logger) error {
	reader, err := g.ttsc.Stream(ctx, tts.Request{
		Script:         formatted.Script,
		SpeakerVoices:  formatted.Voices,
		SessionID:      req.SessionID,
		SpeakerMapping: formatted.SpeakerMap,
		VoiceOverrides: req.VoiceOverrides,
		APIKey:         req.APIKey,
	})
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			logger.Info().Int("chunks", reader.Chunks()).Msg("tts stream complete")
			return nil
		}
		if err != nil {
			return err
		}
		pcmBytesReceived.Add(float64(len(chunk)))
		if err := wavWriter.Write(chunk); err != nil {
			return err
		}
		if sidecar != nil {
			if err := sidecar.Write(chunk); err != nil {
				logger.Warn().Err(err).Msg("sidecar write")
			}
		}
	}
}

// finalize turns whatever was captured into the best servable artifact and
// records the session outcome.
func (g *Generator) finalize(req StartRequest, keys store.Keys, paths Paths, streamErr error, captured uint32, logger zerolog.Logger) {
	if captured == 0 {
		logger.Error().Err(streamErr).Msg("generation produced no audio")
		// Drop the header-only wav so Status does not mistake it for a
		// finished artifact.
		_ = os.Remove(paths.WAV)
		generationsCompleted.WithLabelValues("failed").Inc()
		g.markSession(keys, StatusFaulted, "")
		return
	}

	fileType := "wav"
	if streamErr == nil {
		if err := hls.TranscodeToMP3(context.Background(), g.cfg.FFmpegPath, paths.WAV, paths.MP3, g.cfg.TranscodeTimeout); err == nil {
			fileType = "mp3"
		}
	} else {
		// Partial capture stays servable as WAV; no transcode.
		logger.Warn().Err(streamErr).Uint32("pcm_bytes", captured).Msg("stream failed, finalizing partial wav")
	}

	g.uploadArtifact(keys.ProgressiveWAV(), paths.WAV, logger)
	if fileType == "mp3" {
		g.uploadArtifact(keys.FinalMP3(), paths.MP3, logger)
	}

	g.markSession(keys, StatusReady, fileType)
	outcome := "complete"
	if streamErr != nil {
		outcome = "partial"
	}
	generationsCompleted.WithLabelValues(outcome).Inc()
	logger.Info().
		Str("file_type", fileType).
		Uint32("pcm_bytes", captured).
		Msg("generation finalized")
}

// uploadBudget scales an artifact's upload deadline with its size. An hour
// of 24 kHz PCM is roughly 170 MB of WAV, which must still fit on a slow
// link: a two minute floor plus a minute per 16 MiB.
func uploadBudget(size int64) time.Duration {
	return 2*time.Minute + time.Duration(size/(16<<20))*time.Minute
}

func (g *Generator) uploadArtifact(key, path string, logger zerolog.Logger) {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("artifact missing for upload")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("artifact stat failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), uploadBudget(info.Size()))
	defer cancel()
	if err := g.objects.Put(ctx, key, f, store.ContentTypeFor(key)); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("artifact upload failed")
	}
}

func (g *Generator) markSession(keys store.Keys, status, fileType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := g.sessions.MarkAudio(ctx, keys, status, fileType); err != nil {
		g.logger.Warn().Err(err).Str("story_id", keys.StoryID).Msg("session metadata update failed")
	}
}

// Status reports the current state of a session's audio, preferring store
// artifacts over local ones.
func (g *Generator) Status(ctx context.Context, userID, sessionID string) Result {
	keys := g.keysFor(userID, sessionID)
	paths := PathsFor(g.cfg.DataDir, sessionID)

	if _, err := g.objects.Head(ctx, keys.FinalMP3()); err == nil {
		url, _ := g.objects.PresignGet(ctx, keys.FinalMP3(), g.cfg.PresignTTL)
		return Result{Status: StatusReady, URL: url, FileType: "mp3", Source: SourceStore}
	}
	if _, err := g.objects.Head(ctx, keys.ProgressiveWAV()); err == nil {
		url, _ := g.objects.PresignGet(ctx, keys.ProgressiveWAV(), g.cfg.PresignTTL)
		return Result{Status: StatusGenerating, URL: url, FileType: "wav", Source: SourceStore}
	}
	if fsutil.IsRegularFile(paths.MP3) == nil {
		return Result{Status: StatusReady, FileType: "mp3", Source: SourceLocal}
	}
	if info, err := os.Stat(paths.WAV); err == nil {
		status := StatusGenerating
		if !g.isRunning(userID, sessionID) && time.Since(info.ModTime()) > readyAge {
			status = StatusReady
		}
		return Result{Status: status, FileType: "wav", Source: SourceLocal}
	}
	return Result{Status: StatusNotGenerated}
}

// localPath confines a path assembled from client-supplied names to the
// audio tree under the data root.
func (g *Generator) localPath(parts ...string) (string, error) {
	return fsutil.ConfineRelPath(filepath.Join(g.cfg.DataDir, "audio"), filepath.Join(parts...))
}

// PlayablePath returns the best local file for range streaming: the MP3
// when finished, else the growing WAV. sessionID comes from the URL, so the
// path is confined to the data root.
func (g *Generator) PlayablePath(sessionID string) (string, error) {
	if mp3, err := g.localPath(sessionID, "final.mp3"); err == nil && fsutil.IsRegularFile(mp3) == nil {
		return mp3, nil
	}
	wavPath, err := g.localPath(sessionID, "progressive.wav")
	if err != nil {
		return "", err
	}
	if err := fsutil.IsRegularFile(wavPath); err != nil {
		return "", err
	}
	return wavPath, nil
}

// LocalHLSPath confines a client-supplied playlist or segment name to the
// session's local HLS directory.
func (g *Generator) LocalHLSPath(sessionID, name string) (string, error) {
	return g.localPath(sessionID, "hls", name)
}

// Reset cancels any running generation, removes local artifacts best-effort,
// and deletes the store audio prefix. A store failure fails the whole Reset;
// callers must not treat the session as cleared.
func (g *Generator) Reset(ctx context.Context, userID, sessionID string) error {
	key := g.runKey(userID, sessionID)
	g.mu.Lock()
	r := g.runs[key]
	g.mu.Unlock()
	if r != nil {
		r.cancel()
		select {
		case <-r.done:
		case <-time.After(15 * time.Second):
			g.logger.Warn().Str("session_id", sessionID).Msg("running generation did not stop in time for reset")
		}
	}

	paths := PathsFor(g.cfg.DataDir, sessionID)
	if err := os.RemoveAll(paths.SessionDir); err != nil {
		g.logger.Warn().Err(err).Str("dir", paths.SessionDir).Msg("local cleanup failed")
	}

	keys := g.keysFor(userID, sessionID)
	deleted, err := g.objects.DeletePrefix(ctx, keys.AudioPrefix())
	if err != nil {
		return fmt.Errorf("audio: reset store cleanup: %w", err)
	}
	g.logger.Info().
		Str("session_id", sessionID).
		Int("store_objects_deleted", deleted).
		Msg("session reset")
	return nil
}
