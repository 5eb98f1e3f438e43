// SPDX-License-Identifier: MIT

package hls

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/tech42-ai/storycast/internal/log"
	"github.com/tech42-ai/storycast/internal/procgroup"
	"github.com/tech42-ai/storycast/internal/wav"
)

const (
	finalBitrate            = "192k"
	defaultTranscodeTimeout = 60 * time.Second
)

// TranscodeArgs builds the WAV to MP3 conversion argument list.
func TranscodeArgs(wavPath, mp3Path string) []string {
	return []string{
		"-i", wavPath,
		"-codec:a", "libmp3lame",
		"-b:a", finalBitrate,
		"-ar", strconv.Itoa(wav.SampleRate),
		"-y", mp3Path,
	}
}

// TranscodeToMP3 converts the finished WAV into the final MP3. timeout <= 0
// applies the 60 s default. The caller keeps serving the WAV when this
// fails.
func TranscodeToMP3(ctx context.Context, ffmpegPath, wavPath, mp3Path string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultTranscodeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, TranscodeArgs(wavPath, mp3Path)...)
	procgroup.Set(cmd)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	logger := log.WithComponent("hls")
	if err != nil {
		logger.Error().
			Err(err).
			Str("wav", wavPath).
			Dur("elapsed", time.Since(start)).
			Str("output", tailLines(out, 400)).
			Msg("wav to mp3 transcode failed")
		return fmt.Errorf("hls: transcode %s: %w", wavPath, err)
	}
	logger.Info().
		Str("mp3", mp3Path).
		Dur("elapsed", time.Since(start)).
		Msg("wav to mp3 transcode complete")
	return nil
}

func tailLines(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[len(b)-max:])
}
