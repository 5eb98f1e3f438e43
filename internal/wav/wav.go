// SPDX-License-Identifier: MIT

// Package wav builds and maintains RIFF/WAVE containers for the 16-bit mono
// PCM stream produced by the TTS engine. Headers are written with a size of
// zero first and patched in place as data arrives, so a partially written
// file stays playable.
package wav

import "encoding/binary"

// PCM format of the TTS stream.
const (
	SampleRate    = 24000
	Channels      = 1
	BitsPerSample = 16
	HeaderSize    = 44
)

// MakeHeader returns the canonical 44-byte header for dataLen bytes of PCM.
func MakeHeader(dataLen uint32) [HeaderSize]byte {
	var h [HeaderSize]byte

	byteRate := uint32(SampleRate * Channels * BitsPerSample / 8)
	blockAlign := uint16(Channels * BitsPerSample / 8)

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataLen)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], BitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataLen)

	return h
}

// PatchSizes rewrites the RIFF and data chunk sizes of header in place for
// dataLen bytes of PCM. header must be at least HeaderSize bytes.
func PatchSizes(header []byte, dataLen uint32) {
	binary.LittleEndian.PutUint32(header[4:8], 36+dataLen)
	binary.LittleEndian.PutUint32(header[40:44], dataLen)
}

// BuildFromRawPCM wraps raw PCM samples in a complete WAV container.
func BuildFromRawPCM(pcm []byte) []byte {
	h := MakeHeader(uint32(len(pcm)))
	out := make([]byte, 0, HeaderSize+len(pcm))
	out = append(out, h[:]...)
	return append(out, pcm...)
}
