// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tech42-ai/storycast/internal/log"
)

// ParseString reads a string from environment variable or returns the default.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, exists := os.LookupEnv(key); exists {
		lowerKey := strings.ToLower(key)
		switch {
		case strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "key") || strings.Contains(lowerKey, "password"):
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		case value == "":
			logger.Debug().
				Str("key", key).
				Str("default", defaultValue).
				Str("source", "default").
				Msg("using default value (environment variable is empty)")
			return defaultValue
		default:
			logger.Debug().
				Str("key", key).
				Str("value", value).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return value
	}
	logger.Debug().
		Str("key", key).
		Str("default", defaultValue).
		Str("source", "default").
		Msg("using default value")
	return defaultValue
}

// ParseInt reads an integer from environment variable or returns the default.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseDuration reads a duration in Go duration format (e.g. "5s") from an
// environment variable. It falls back to default on parse errors.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}
