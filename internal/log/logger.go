// SPDX-License-Identifier: MIT

// Package log provides structured logging utilities.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stdout)
	Service string    // optional service name attached to every log entry
	Version string    // optional build version attached to every log entry
}

var (
	mu   sync.RWMutex
	base zerolog.Logger
	done bool
)

// Configure initialises the global zerolog logger. The first call wins for
// concurrent callers; later explicit calls reconfigure (used after the
// configuration is loaded).
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	} else if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}

	service := cfg.Service
	if service == "" {
		service = os.Getenv("LOG_SERVICE")
		if service == "" {
			service = "storycast"
		}
	}

	ctx := zerolog.New(writer).With().
		Timestamp().
		Str("service", service)
	if cfg.Version != "" {
		ctx = ctx.Str("version", cfg.Version)
	}
	base = ctx.Logger()
	done = true
}

func logger() zerolog.Logger {
	mu.RLock()
	ok := done
	l := base
	mu.RUnlock()
	if ok {
		return l
	}
	Configure(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}

// Derive attaches arbitrary fields to a child logger using the provided builder function.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := logger().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}
