// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"io"
	"strings"
	"time"
)

// deletePrefixBatchSize is the maximum number of keys per bulk delete call.
const deletePrefixBatchSize = 1000

// ObjectStore is the persistence surface the pipeline needs. All methods
// take a context; the S3 implementation honors cancellation, the in-memory
// one is immediate.
type ObjectStore interface {
	// Put uploads body under key with the given content type.
	Put(ctx context.Context, key string, body io.Reader, contentType string) error

	// Get returns the full object body, or an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Head returns the object size in bytes, or an error wrapping
	// ErrNotFound.
	Head(ctx context.Context, key string) (int64, error)

	// List returns all keys under prefix, paginating as needed.
	List(ctx context.Context, prefix string) ([]string, error)

	// DeletePrefix removes every object under prefix in batches and
	// returns the number of objects deleted.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// PresignGet returns a time-limited GET URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ContentTypeFor maps the artifact kinds the pipeline uploads to their MIME
// types.
func ContentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(key, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(key, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(key, ".ts"):
		return "video/mp2t"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
