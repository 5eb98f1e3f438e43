// SPDX-License-Identifier: MIT

// Package hls runs the ffmpeg sidecar that turns the live PCM stream into
// an event-style HLS playlist, and the post-run WAV to MP3 transcode.
package hls

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tech42-ai/storycast/internal/log"
	"github.com/tech42-ai/storycast/internal/procgroup"
	"github.com/tech42-ai/storycast/internal/wav"
)

const (
	// PlaylistName is the playlist file ffmpeg appends to.
	PlaylistName = "stream.m3u8"
	// SegmentPattern names segments segment_000.ts, segment_001.ts, ...
	SegmentPattern = "segment_%03d.ts"

	segmentSeconds = 2
	streamBitrate  = "128k"

	// Shutdown ladder after stdin close.
	drainWait = 10 * time.Second
	termGrace = 3 * time.Second
	killWait  = 3 * time.Second
)

// SidecarArgs builds the ffmpeg argument list: raw PCM on stdin, MP3 inside
// MPEG-TS segments of 2 s, append-only event playlist.
func SidecarArgs(dir string) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(wav.SampleRate),
		"-ac", strconv.Itoa(wav.Channels),
		"-i", "-",
		"-codec:a", "libmp3lame",
		"-b:a", streamBitrate,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", "0",
		"-hls_flags", "append_list+independent_segments",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", filepath.Join(dir, SegmentPattern),
		"-hls_playlist_type", "event",
		"-y", filepath.Join(dir, PlaylistName),
	}
}

// Sidecar is one running ffmpeg HLS encoder. Not safe for concurrent Write;
// the pipeline feeds it from a single goroutine.
type Sidecar struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	waitCh chan error
	logger zerolog.Logger

	mu      sync.Mutex
	faulted bool
	closed  bool
}

// StartSidecar spawns ffmpeg writing into dir. Call before the first
// upstream byte arrives so the encoder is already waiting on stdin.
func StartSidecar(ffmpegPath, dir, sessionID string) (*Sidecar, error) {
	cmd := exec.Command(ffmpegPath, SidecarArgs(dir)...)
	procgroup.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("hls: stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("hls: stderr pipe: %w", err)
	}

	logger := log.WithComponent("hls").With().Str("session_id", sessionID).Logger()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("hls: start ffmpeg: %w", err)
	}
	logger.Info().Int("pid", cmd.Process.Pid).Str("dir", dir).Msg("hls sidecar started")

	s := &Sidecar{
		cmd:    cmd,
		stdin:  stdin,
		waitCh: make(chan error, 1),
		logger: logger,
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
		}
	}()
	go func() { s.waitCh <- cmd.Wait() }()

	return s, nil
}

// Write feeds one PCM chunk to the encoder. A broken pipe faults the
// sidecar permanently; subsequent writes are dropped so the progressive WAV
// keeps going.
func (s *Sidecar) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faulted || s.closed {
		return nil
	}
	if _, err := s.stdin.Write(chunk); err != nil {
		s.faulted = true
		if isBrokenPipe(err) {
			s.logger.Warn().Err(err).Msg("ffmpeg stdin pipe broke, hls faulted, continuing wav only")
			return nil
		}
		s.logger.Error().Err(err).Msg("ffmpeg stdin write failed, hls faulted")
		return fmt.Errorf("hls: write to sidecar: %w", err)
	}
	return nil
}

// Faulted reports whether the encoder died mid-stream.
func (s *Sidecar) Faulted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faulted
}

// Close ends the stream: close stdin, give ffmpeg up to 10 s to flush the
// final segment and playlist, then escalate to terminate and kill. A
// non-zero exit is logged, not returned.
func (s *Sidecar) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.stdin.Close(); err != nil && !isBrokenPipe(err) {
		s.logger.Debug().Err(err).Msg("closing ffmpeg stdin")
	}

	select {
	case err := <-s.waitCh:
		s.logExit(err)
		return nil
	case <-time.After(drainWait):
		s.logger.Warn().Dur("waited", drainWait).Msg("ffmpeg still running after stdin close, terminating")
	}

	err := procgroup.Terminate(s.cmd, s.waitCh, termGrace, killWait)
	if errors.Is(err, procgroup.ErrKillTimeout) {
		s.logger.Error().Err(err).Msg("ffmpeg survived kill")
		return err
	}
	s.logExit(err)
	return nil
}

func (s *Sidecar) logExit(err error) {
	if err != nil {
		s.logger.Warn().Err(err).Msg("ffmpeg exited with error")
		return
	}
	s.logger.Info().Msg("ffmpeg exited cleanly")
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}
