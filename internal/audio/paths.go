// SPDX-License-Identifier: MIT

package audio

import "path/filepath"

// Paths locates the local artifacts of one session under the data root.
type Paths struct {
	SessionDir string
	WAV        string
	MP3        string
	HLSDir     string
}

// PathsFor lays out <dataDir>/audio/<sessionID>/{progressive.wav, final.mp3, hls/}.
func PathsFor(dataDir, sessionID string) Paths {
	dir := filepath.Join(dataDir, "audio", sessionID)
	return Paths{
		SessionDir: dir,
		WAV:        filepath.Join(dir, "progressive.wav"),
		MP3:        filepath.Join(dir, "final.mp3"),
		HLSDir:     filepath.Join(dir, "hls"),
	}
}
