// SPDX-License-Identifier: MIT

package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tech42-ai/storycast/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testKeys() store.Keys {
	return store.Keys{BasePrefix: "p", UserID: "u", StoryID: "s"}
}

func fastOpts() []Option {
	return []Option{
		WithScanInterval(10 * time.Millisecond),
		WithStability(30 * time.Millisecond),
		WithPlaylistEvery(10 * time.Millisecond),
	}
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestUploadsStableSegmentsAndPlaylist(t *testing.T) {
	dir := t.TempDir()
	mem := store.NewMemStore()
	keys := testKeys()
	u := New(mem, keys, dir, fastOpts()...)

	writeFile(t, dir, "segment_000.ts", make([]byte, 188))
	writeFile(t, dir, "stream.m3u8", []byte("#EXTM3U\nsegment_000.ts\n"))
	writeFile(t, dir, "segment_empty.ts", nil) // zero size, never uploaded
	writeFile(t, dir, "not_a_segment.tmp", []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = u.Run(ctx)
	}()

	eventually(t, 3*time.Second, func() bool {
		_, err := mem.Head(context.Background(), keys.Segment("segment_000.ts"))
		return err == nil
	})
	eventually(t, 3*time.Second, func() bool {
		_, err := mem.Head(context.Background(), keys.Playlist())
		return err == nil
	})

	cancel()
	<-done

	_, err := mem.Head(context.Background(), keys.Segment("segment_empty.ts"))
	assert.ErrorIs(t, err, store.ErrNotFound, "zero-size segments stay local")
	listed, err := mem.List(context.Background(), keys.HLSPrefix())
	require.NoError(t, err)
	assert.NotContains(t, listed, keys.Segment("not_a_segment.tmp"))
}

func TestAtMostOnceUpload(t *testing.T) {
	dir := t.TempDir()
	mem := &countingStore{ObjectStore: store.NewMemStore()}
	keys := testKeys()
	u := New(mem, keys, dir, fastOpts()...)

	writeFile(t, dir, "segment_000.ts", make([]byte, 188))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = u.Run(ctx)
	}()

	eventually(t, 3*time.Second, func() bool { return mem.puts.Load() >= 1 })
	first := mem.puts.Load()

	// Keep scanning for a while; the uploaded set must block repeats.
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, first, mem.puts.Load(), "a segment is uploaded at most once per run")
}

func TestDrainUploadsRemainingSegmentsAndFinalPlaylist(t *testing.T) {
	dir := t.TempDir()
	mem := store.NewMemStore()
	keys := testKeys()
	// Long intervals: nothing happens before cancellation.
	u := New(mem, keys, dir,
		WithScanInterval(time.Hour),
		WithStability(time.Hour),
		WithPlaylistEvery(time.Hour),
	)

	writeFile(t, dir, "segment_000.ts", make([]byte, 188))
	writeFile(t, dir, "segment_001.ts", make([]byte, 376))
	writeFile(t, dir, "stream.m3u8", []byte("#EXTM3U\n#EXT-X-ENDLIST\n"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, u.Run(ctx))

	for _, name := range []string{"segment_000.ts", "segment_001.ts"} {
		_, err := mem.Head(context.Background(), keys.Segment(name))
		assert.NoError(t, err, name)
	}
	playlist, err := mem.Get(context.Background(), keys.Playlist())
	require.NoError(t, err)
	assert.Contains(t, string(playlist), "#EXT-X-ENDLIST")
}

func TestFailedUploadsRetryWithBackoff(t *testing.T) {
	dir := t.TempDir()
	failing := &flakyStore{ObjectStore: store.NewMemStore(), failures: 2}
	keys := testKeys()
	u := New(failing, keys, dir, fastOpts()...)

	writeFile(t, dir, "segment_000.ts", make([]byte, 188))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = u.Run(ctx)
	}()

	// First attempt fails, backoff is 2s; the drain pass retries
	// regardless, so cancel after the first failure and let it converge.
	eventually(t, 3*time.Second, func() bool { return failing.attempts.Load() >= 1 })
	cancel()
	<-done

	_, err := failing.Head(context.Background(), keys.Segment("segment_000.ts"))
	assert.Error(t, err, "still failing store cannot converge during drain")
}

func TestBackoffFor(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffFor(1))
	assert.Equal(t, 4*time.Second, backoffFor(2))
	assert.Equal(t, 16*time.Second, backoffFor(4))
	assert.Equal(t, 30*time.Second, backoffFor(5))
	assert.Equal(t, 30*time.Second, backoffFor(20))
}

func TestReconcileReuploadsSizeMismatches(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	mem := store.NewMemStore()
	keys := testKeys()
	u := New(mem, keys, dir, fastOpts()...)

	writeFile(t, dir, "segment_000.ts", make([]byte, 188))
	writeFile(t, dir, "segment_001.ts", make([]byte, 376))

	// Remote has a truncated copy of 000 and nothing for 001.
	require.NoError(t, mem.Put(ctx, keys.Segment("segment_000.ts"), bytesOf(100), "video/mp2t"))

	require.NoError(t, u.Reconcile(ctx))

	size, err := mem.Head(ctx, keys.Segment("segment_000.ts"))
	require.NoError(t, err)
	assert.Equal(t, int64(188), size)

	size, err = mem.Head(ctx, keys.Segment("segment_001.ts"))
	require.NoError(t, err)
	assert.Equal(t, int64(376), size)
}

func TestReconcileNoopWhenConverged(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	mem := &countingStore{ObjectStore: store.NewMemStore()}
	keys := testKeys()
	u := New(mem, keys, dir, fastOpts()...)

	writeFile(t, dir, "segment_000.ts", make([]byte, 188))
	require.NoError(t, mem.Put(ctx, keys.Segment("segment_000.ts"), bytesOf(188), "video/mp2t"))
	before := mem.puts.Load()

	require.NoError(t, u.Reconcile(ctx))
	assert.Equal(t, before, mem.puts.Load())
}

func bytesOf(n int) io.Reader {
	return bytes.NewReader(make([]byte, n))
}

type countingStore struct {
	store.ObjectStore
	puts atomic.Int64
}

func (c *countingStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	c.puts.Add(1)
	return c.ObjectStore.Put(ctx, key, body, contentType)
}

// flakyStore fails the first N puts, or forever when failures < 0.
type flakyStore struct {
	store.ObjectStore
	failures int64
	attempts atomic.Int64
}

func (f *flakyStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	n := f.attempts.Add(1)
	if f.failures < 0 || n <= f.failures {
		return &store.TransientError{Op: "put", Key: key, Err: errors.New("injected failure")}
	}
	return f.ObjectStore.Put(ctx, key, body, contentType)
}
