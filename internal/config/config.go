// SPDX-License-Identifier: MIT

// Package config holds the storycast runtime configuration, loaded from the
// environment with logged defaults.
package config

import (
	"fmt"
	"strings"
	"time"
)

// AppConfig is the resolved configuration for the storycast daemon.
type AppConfig struct {
	// HTTP surface
	ListenAddr   string
	APIToken     string // bearer token required on all audio endpoints
	RateLimitRPS int    // per-IP request rate limit (0 disables)

	// Local storage
	DataDir string // root for per-session audio directories

	// Upstream TTS
	TTSBaseURL      string
	TTSAPIKey       string // default bearer key; per-request override allowed
	DefaultVoice    string // narrator voice (slot 1)
	SlotVoices      [4]string
	TTSReadTimeout  time.Duration // whole-stream read budget
	VoicesCacheTTL  time.Duration
	TranscodeBudget time.Duration

	// Object store
	Bucket     string
	BasePrefix string
	Region     string
	PresignTTL time.Duration

	// Tools
	FFmpegPath string

	// Logging
	LogLevel string
}

// FromEnv loads the configuration from environment variables, applying the
// documented defaults.
func FromEnv() (AppConfig, error) {
	cfg := AppConfig{
		ListenAddr:   ParseString("STORYCAST_LISTEN", ":8080"),
		APIToken:     ParseString("STORYCAST_API_TOKEN", ""),
		RateLimitRPS: ParseInt("STORYCAST_RATE_LIMIT_RPS", 50),

		DataDir: ParseString("STORYCAST_DATA", "./storage"),

		TTSBaseURL:      strings.TrimRight(ParseString("TECH42_TTS_API_URL", "http://localhost:8200"), "/"),
		TTSAPIKey:       ParseString("TECH42_TTS_API_KEY", ""),
		DefaultVoice:    ParseString("TECH42_TTS_DEFAULT_VOICE", "en-Alice_woman"),
		TTSReadTimeout:  ParseDuration("STORYCAST_TTS_READ_TIMEOUT", 20*time.Minute),
		VoicesCacheTTL:  ParseDuration("STORYCAST_VOICES_CACHE_TTL", 10*time.Minute),
		TranscodeBudget: ParseDuration("STORYCAST_TRANSCODE_TIMEOUT", 60*time.Second),

		Bucket:     ParseString("STORYCAST_S3_BUCKET", ""),
		BasePrefix: strings.Trim(ParseString("STORYCAST_S3_PREFIX", "AIWorkflow"), "/"),
		Region:     ParseString("AWS_REGION", "us-east-1"),
		PresignTTL: ParseDuration("STORYCAST_PRESIGN_TTL", time.Hour),

		FFmpegPath: ParseString("STORYCAST_FFMPEG_PATH", "ffmpeg"),

		LogLevel: ParseString("LOG_LEVEL", "info"),
	}

	// Slot 1 is the narrator; slots 2..4 carry per-character defaults.
	cfg.SlotVoices = [4]string{
		cfg.DefaultVoice,
		ParseString("TECH42_TTS_SPEAKER2", "en-Bob_man"),
		ParseString("TECH42_TTS_SPEAKER3", "en-Claire_woman"),
		ParseString("TECH42_TTS_SPEAKER4", "en-David_man"),
	}

	return cfg, cfg.Validate()
}

// Validate checks the invariants the daemon cannot run without.
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: STORYCAST_DATA must not be empty")
	}
	if strings.TrimSpace(c.TTSBaseURL) == "" {
		return fmt.Errorf("config: TECH42_TTS_API_URL must not be empty")
	}
	if c.TTSReadTimeout <= 0 {
		return fmt.Errorf("config: TTS read timeout must be positive")
	}
	return nil
}
