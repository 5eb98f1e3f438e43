// SPDX-License-Identifier: MIT

// Package store persists story assets in an S3-compatible object store.
//
// Key layout, per user and story:
//
//	<base>/users/<user_id>/stories/<story_id>/
//	  ├── story.json
//	  ├── story.txt
//	  ├── metadata.json
//	  └── audio/
//	      ├── final.mp3
//	      ├── progressive.wav
//	      └── hls/
//	          ├── stream.m3u8
//	          └── segment_NNN.ts
package store

import "strings"

// Keys builds object keys for one story of one user.
type Keys struct {
	BasePrefix string
	UserID     string
	StoryID    string
}

func joinKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// StoryPrefix is the root of all objects belonging to this story, with a
// trailing slash so it can be used for listing and prefix deletion.
func (k Keys) StoryPrefix() string {
	return joinKey(k.BasePrefix, "users", k.UserID, "stories", k.StoryID) + "/"
}

// AudioPrefix covers every audio artifact of the story.
func (k Keys) AudioPrefix() string { return k.StoryPrefix() + "audio/" }

// HLSPrefix covers the playlist and segments.
func (k Keys) HLSPrefix() string { return k.AudioPrefix() + "hls/" }

func (k Keys) FinalMP3() string       { return k.AudioPrefix() + "final.mp3" }
func (k Keys) ProgressiveWAV() string { return k.AudioPrefix() + "progressive.wav" }
func (k Keys) Playlist() string       { return k.HLSPrefix() + "stream.m3u8" }
func (k Keys) Segment(name string) string {
	return k.HLSPrefix() + name
}

func (k Keys) Metadata() string  { return k.StoryPrefix() + "metadata.json" }
func (k Keys) StoryJSON() string { return k.StoryPrefix() + "story.json" }
func (k Keys) StoryText() string { return k.StoryPrefix() + "story.txt" }
