// SPDX-License-Identifier: MIT

// Package uploader ships HLS segments to the object store while ffmpeg is
// still writing them. A segment is only uploaded once its (size, mtime)
// observation has been stable for a window, so a half-written segment never
// leaves the machine.
package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/tech42-ai/storycast/internal/hls"
	"github.com/tech42-ai/storycast/internal/log"
	"github.com/tech42-ai/storycast/internal/store"
)

const (
	defaultScanInterval  = 500 * time.Millisecond
	defaultStability     = 500 * time.Millisecond
	defaultPlaylistEvery = 2 * time.Second

	maxBackoff = 30 * time.Second
	drainGrace = 30 * time.Second
)

type observation struct {
	size   int64
	mtime  time.Time
	seenAt time.Time
}

// Uploader watches one session's HLS directory for the lifetime of a
// generation run. Run owns all mutable state; no locking needed.
type Uploader struct {
	objects store.ObjectStore
	keys    store.Keys
	dir     string
	logger  zerolog.Logger

	scanInterval  time.Duration
	stability     time.Duration
	playlistEvery time.Duration

	uploaded map[string]bool
	obs      map[string]observation
	failures map[string]int
	retryAt  map[string]time.Time

	lastPlaylistUpload time.Time
}

// Option adjusts watcher cadence, mainly for tests.
type Option func(*Uploader)

func WithScanInterval(d time.Duration) Option  { return func(u *Uploader) { u.scanInterval = d } }
func WithStability(d time.Duration) Option     { return func(u *Uploader) { u.stability = d } }
func WithPlaylistEvery(d time.Duration) Option { return func(u *Uploader) { u.playlistEvery = d } }

// New builds an uploader for the HLS dir of one session.
func New(objects store.ObjectStore, keys store.Keys, dir string, opts ...Option) *Uploader {
	u := &Uploader{
		objects:       objects,
		keys:          keys,
		dir:           dir,
		logger:        log.WithComponent("uploader").With().Str("story_id", keys.StoryID).Logger(),
		scanInterval:  defaultScanInterval,
		stability:     defaultStability,
		playlistEvery: defaultPlaylistEvery,
		uploaded:      make(map[string]bool),
		obs:           make(map[string]observation),
		failures:      make(map[string]int),
		retryAt:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Run scans until ctx is canceled, then drains: remaining stable segments
// are uploaded best-effort and the final playlist last. Always returns nil
// after the drain; upload trouble is counted, logged, and left to the
// reconciliation pass.
func (u *Uploader) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := watcher.Add(u.dir); addErr != nil {
			u.logger.Debug().Err(addErr).Msg("fsnotify watch failed, polling only")
		} else {
			go func() {
				for {
					select {
					case _, ok := <-watcher.Events:
						if !ok {
							return
						}
						select {
						case wake <- struct{}{}:
						default:
						}
					case _, ok := <-watcher.Errors:
						if !ok {
							return
						}
					}
				}
			}()
		}
		defer watcher.Close()
	} else {
		u.logger.Debug().Err(err).Msg("fsnotify unavailable, polling only")
	}

	ticker := time.NewTicker(u.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.drain()
			return nil
		case <-ticker.C:
		case <-wake:
		}
		u.scan(ctx)
		u.maybeUploadPlaylist(ctx, false)
	}
}

// scan walks the directory once and uploads whatever qualifies.
func (u *Uploader) scan(ctx context.Context) {
	names, err := u.listSegments()
	if err != nil {
		u.logger.Debug().Err(err).Msg("hls dir scan failed")
		return
	}
	now := time.Now()
	for _, name := range names {
		if u.uploaded[name] {
			continue
		}
		info, err := os.Stat(filepath.Join(u.dir, name))
		if err != nil {
			continue
		}
		if info.Size() == 0 {
			continue
		}

		ob, seen := u.obs[name]
		if !seen || ob.size != info.Size() || !ob.mtime.Equal(info.ModTime()) {
			u.obs[name] = observation{size: info.Size(), mtime: info.ModTime(), seenAt: now}
			continue
		}
		if now.Sub(ob.seenAt) < u.stability {
			continue
		}
		if at, ok := u.retryAt[name]; ok && now.Before(at) {
			continue
		}

		u.uploadSegment(ctx, name)
	}
}

func (u *Uploader) listSegments() ([]string, error) {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, "segment_") && strings.HasSuffix(name, ".ts") {
			names = append(names, name)
		}
	}
	return names, nil
}

func (u *Uploader) uploadSegment(ctx context.Context, name string) {
	path := filepath.Join(u.dir, name)
	f, err := os.Open(path)
	if err != nil {
		u.recordFailure(name, err)
		return
	}
	defer f.Close()

	key := u.keys.Segment(name)
	if err := u.objects.Put(ctx, key, f, "video/mp2t"); err != nil {
		u.recordFailure(name, err)
		return
	}

	u.uploaded[name] = true
	delete(u.obs, name)
	delete(u.failures, name)
	delete(u.retryAt, name)
	segmentsUploaded.Inc()
	u.logger.Debug().Str("segment", name).Msg("segment uploaded")
}

func (u *Uploader) recordFailure(name string, err error) {
	u.failures[name]++
	backoff := backoffFor(u.failures[name])
	u.retryAt[name] = time.Now().Add(backoff)
	segmentUploadFailures.Inc()
	u.logger.Warn().
		Err(err).
		Str("segment", name).
		Int("failures", u.failures[name]).
		Dur("retry_in", backoff).
		Bool("transient", store.IsTransient(err)).
		Msg("segment upload failed")
}

// backoffFor is min(2^n, 30) seconds.
func backoffFor(failures int) time.Duration {
	if failures >= 5 {
		return maxBackoff
	}
	return time.Duration(1<<failures) * time.Second
}

// maybeUploadPlaylist re-ships the playlist when its cadence allows and at
// least one segment exists remotely. force skips the cadence check.
func (u *Uploader) maybeUploadPlaylist(ctx context.Context, force bool) {
	if len(u.uploaded) == 0 {
		return
	}
	if !force && time.Since(u.lastPlaylistUpload) < u.playlistEvery {
		return
	}
	data, err := os.ReadFile(filepath.Join(u.dir, hls.PlaylistName))
	if err != nil {
		return
	}
	if err := u.objects.Put(ctx, u.keys.Playlist(), strings.NewReader(string(data)), "application/vnd.apple.mpegurl"); err != nil {
		u.logger.Warn().Err(err).Msg("playlist upload failed")
		return
	}
	u.lastPlaylistUpload = time.Now()
	playlistUploads.Inc()
}

// drain runs after cancellation with its own deadline: one last pass over
// segments that are stable or unobserved, then the final playlist.
func (u *Uploader) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainGrace)
	defer cancel()

	names, err := u.listSegments()
	if err == nil {
		for _, name := range names {
			if u.uploaded[name] {
				continue
			}
			info, statErr := os.Stat(filepath.Join(u.dir, name))
			if statErr != nil || info.Size() == 0 {
				continue
			}
			// The encoder has exited; every segment on disk is final.
			u.uploadSegment(ctx, name)
		}
	}
	u.maybeUploadPlaylist(ctx, true)
	u.logger.Info().Int("segments", len(u.uploaded)).Msg("uploader drained")
}

// Reconcile compares every local segment against the store by size and
// re-uploads mismatches. Run after generation ends; it converges the remote
// state even when the live pass hit transient failures.
func (u *Uploader) Reconcile(ctx context.Context) error {
	names, err := u.listSegments()
	if err != nil {
		return fmt.Errorf("uploader: reconcile scan: %w", err)
	}
	var mismatches int
	for _, name := range names {
		info, err := os.Stat(filepath.Join(u.dir, name))
		if err != nil || info.Size() == 0 {
			continue
		}
		remoteSize, err := u.objects.Head(ctx, u.keys.Segment(name))
		if err == nil && remoteSize == info.Size() {
			continue
		}
		mismatches++
		delete(u.uploaded, name)
		delete(u.retryAt, name)
		u.uploadSegment(ctx, name)
	}
	if mismatches > 0 {
		reconcileReuploads.Add(float64(mismatches))
		u.logger.Info().Int("reuploaded", mismatches).Msg("reconciliation re-uploaded segments")
	}
	return nil
}
