// SPDX-License-Identifier: MIT

package wav

import (
	"fmt"
	"os"
)

// headerPatchInterval is how many chunks may arrive between in-place header
// size patches. Players that open the file mid-write see sizes that are at
// most this many chunks stale.
const headerPatchInterval = 50

// ProgressiveWriter writes a WAV file chunk by chunk. The header is written
// up front with zero sizes and patched periodically, so the file on disk is
// a valid (if truncated) WAV at every point during generation.
type ProgressiveWriter struct {
	f       *os.File
	dataLen uint32
	chunks  int
}

// NewProgressiveWriter creates (or truncates) path and writes the placeholder
// header.
func NewProgressiveWriter(path string) (*ProgressiveWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wav: create %s: %w", path, err)
	}
	h := MakeHeader(0)
	if _, err := f.Write(h[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	return &ProgressiveWriter{f: f}, nil
}

// Write appends one PCM chunk and patches the header every
// headerPatchInterval chunks.
func (w *ProgressiveWriter) Write(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if _, err := w.f.Write(chunk); err != nil {
		return fmt.Errorf("wav: append chunk: %w", err)
	}
	w.dataLen += uint32(len(chunk))
	w.chunks++
	if w.chunks%headerPatchInterval == 0 {
		return w.patch()
	}
	return nil
}

// BytesWritten reports the PCM payload size written so far.
func (w *ProgressiveWriter) BytesWritten() uint32 { return w.dataLen }

func (w *ProgressiveWriter) patch() error {
	sizes := MakeHeader(w.dataLen)
	if _, err := w.f.WriteAt(sizes[4:8], 4); err != nil {
		return fmt.Errorf("wav: patch riff size: %w", err)
	}
	if _, err := w.f.WriteAt(sizes[40:44], 40); err != nil {
		return fmt.Errorf("wav: patch data size: %w", err)
	}
	return nil
}

// Close patches the final sizes and closes the file. Safe to call after a
// partial write; the file remains playable up to the last chunk.
func (w *ProgressiveWriter) Close() error {
	patchErr := w.patch()
	closeErr := w.f.Close()
	if patchErr != nil {
		return patchErr
	}
	return closeErr
}
