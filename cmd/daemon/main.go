// SPDX-License-Identifier: MIT

// Command daemon runs the storycast audio service: the HTTP surface on one
// listener and prometheus metrics alongside.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tech42-ai/storycast/internal/api"
	"github.com/tech42-ai/storycast/internal/audio"
	"github.com/tech42-ai/storycast/internal/config"
	"github.com/tech42-ai/storycast/internal/fsutil"
	sclog "github.com/tech42-ai/storycast/internal/log"
	"github.com/tech42-ai/storycast/internal/session"
	"github.com/tech42-ai/storycast/internal/store"
	"github.com/tech42-ai/storycast/internal/tts"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until config is loaded.
	sclog.Configure(sclog.Config{
		Level:   "info",
		Service: "storycast",
		Version: version,
	})
	logger := sclog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	sclog.Configure(sclog.Config{
		Level:   cfg.LogLevel,
		Service: "storycast",
		Version: version,
	})

	if err := fsutil.EnsureDir(cfg.DataDir); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("create data directory")
	}

	var objects store.ObjectStore
	if cfg.Bucket != "" {
		s3, err := store.NewS3Store(ctx, cfg.Bucket, cfg.Region)
		if err != nil {
			logger.Fatal().Err(err).Str("bucket", cfg.Bucket).Msg("object store init")
		}
		objects = s3
		logger.Info().Str("bucket", cfg.Bucket).Str("region", cfg.Region).Msg("object store ready")
	} else {
		objects = store.NewMemStore()
		logger.Warn().Msg("no bucket configured, using in-memory store (artifacts are lost on restart)")
	}

	ttsClient := tts.NewClient(cfg.TTSBaseURL, cfg.TTSAPIKey, tts.WithReadTimeout(cfg.TTSReadTimeout))
	voices := tts.NewVoiceCatalog(ttsClient, cfg.VoicesCacheTTL)
	sessions := session.NewStore(objects)

	generator := audio.NewGenerator(audio.Config{
		DataDir:          cfg.DataDir,
		BasePrefix:       cfg.BasePrefix,
		SlotVoices:       cfg.SlotVoices,
		PresignTTL:       cfg.PresignTTL,
		FFmpegPath:       cfg.FFmpegPath,
		TranscodeTimeout: cfg.TranscodeBudget,
	}, objects, sessions, ttsClient)

	server := api.New(api.Config{
		APIToken:     cfg.APIToken,
		RateLimitRPS: cfg.RateLimitRPS,
		BasePrefix:   cfg.BasePrefix,
		PresignTTL:   cfg.PresignTTL,
	}, generator, voices, objects)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Routes())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("tts", cfg.TTSBaseURL).
			Str("version", version).
			Msg("storycast listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("storycast stopped")
}
