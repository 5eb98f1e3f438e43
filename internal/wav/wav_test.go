// SPDX-License-Identifier: MIT

package wav

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeHeaderWellFormed(t *testing.T) {
	for _, dataLen := range []uint32{0, 1, 44, 4800, 1 << 20} {
		h := MakeHeader(dataLen)

		assert.Equal(t, "RIFF", string(h[0:4]))
		assert.Equal(t, "WAVE", string(h[8:12]))
		assert.Equal(t, "fmt ", string(h[12:16]))
		assert.Equal(t, "data", string(h[36:40]))

		assert.Equal(t, 36+dataLen, binary.LittleEndian.Uint32(h[4:8]))
		assert.Equal(t, dataLen, binary.LittleEndian.Uint32(h[40:44]))

		assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(h[20:22]), "PCM format tag")
		assert.Equal(t, uint16(Channels), binary.LittleEndian.Uint16(h[22:24]))
		assert.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(h[24:28]))
		assert.Equal(t, uint32(SampleRate*Channels*BitsPerSample/8), binary.LittleEndian.Uint32(h[28:32]))
		assert.Equal(t, uint16(BitsPerSample), binary.LittleEndian.Uint16(h[34:36]))
	}
}

func TestPatchSizesIdempotent(t *testing.T) {
	h := MakeHeader(0)
	buf := h[:]

	PatchSizes(buf, 9600)
	PatchSizes(buf, 9600)

	assert.Equal(t, uint32(36+9600), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint32(9600), binary.LittleEndian.Uint32(buf[40:44]))

	want := MakeHeader(9600)
	assert.Equal(t, want[:], buf, "patching must converge to the canonical header")
}

func TestBuildFromRawPCM(t *testing.T) {
	pcm := make([]byte, 4800)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	out := BuildFromRawPCM(pcm)
	require.Len(t, out, HeaderSize+len(pcm))
	assert.Equal(t, pcm, out[HeaderSize:])
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(out[40:44]))
}

func TestProgressiveWriterStaysPlayable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progressive.wav")

	w, err := NewProgressiveWriter(path)
	require.NoError(t, err)

	chunk := make([]byte, 960)
	var total uint32
	for i := 0; i < headerPatchInterval+3; i++ {
		require.NoError(t, w.Write(chunk))
		total += uint32(len(chunk))
	}

	// Mid-write the header reflects at least the last patch point.
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	patched := binary.LittleEndian.Uint32(onDisk[40:44])
	assert.Equal(t, uint32(headerPatchInterval*len(chunk)), patched)

	require.NoError(t, w.Close())

	onDisk, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, onDisk, HeaderSize+int(total))
	assert.Equal(t, total, binary.LittleEndian.Uint32(onDisk[40:44]))
	assert.Equal(t, 36+total, binary.LittleEndian.Uint32(onDisk[4:8]))
	assert.Equal(t, total, w.BytesWritten())
}

func TestProgressiveWriterSkipsEmptyChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")

	w, err := NewProgressiveWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(nil))
	require.NoError(t, w.Close())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, onDisk, HeaderSize)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(onDisk[40:44]))
}
