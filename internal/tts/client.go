// SPDX-License-Identifier: MIT

// Package tts talks to the upstream Tech42 TTS engine. One POST to
// /generate/stream synthesizes a whole audiobook; the response body is a
// 44-byte WAV header followed by raw 16-bit mono PCM at 24 kHz, streamed as
// it is produced. Reads run for many minutes on long stories.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tech42-ai/storycast/internal/log"
	"github.com/tech42-ai/storycast/internal/wav"
)

const (
	// cfgScale is the synthesis guidance factor the engine expects.
	cfgScale = 1.3

	connectTimeout = 30 * time.Second
	// defaultReadTimeout bounds the whole stream read. Long reads are
	// expected; a one hour story takes most of this.
	defaultReadTimeout = 1200 * time.Second

	chunkBufSize = 32 * 1024
)

// RejectedError reports a non-2xx response from the engine.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("tts: upstream rejected request with status %d: %s", e.Status, e.Body)
}

// TruncatedError reports a stream that died mid-synthesis. Chunks counts
// what arrived before the cut; the caller decides what to salvage.
type TruncatedError struct {
	Chunks int
	Err    error
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("tts: upstream stream truncated after %d chunks: %v", e.Chunks, e.Err)
}

func (e *TruncatedError) Unwrap() error { return e.Err }

// Request is one synthesis job.
type Request struct {
	Script         string
	SpeakerVoices  []string
	SessionID      string
	SpeakerMapping map[string]string
	VoiceOverrides map[string]string
	// APIKey overrides the client default bearer key for this request.
	APIKey string
}

type wireRequest struct {
	Script         string            `json:"script"`
	SpeakerVoices  []string          `json:"speaker_voices"`
	CfgScale       float64           `json:"cfg_scale"`
	SessionID      string            `json:"session_id"`
	SpeakerMapping map[string]string `json:"speaker_mapping"`
	VoiceOverrides map[string]string `json:"voice_overrides"`
}

// Client is a Tech42 TTS API client. Safe for concurrent use.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	readTimeout time.Duration
}

// Option adjusts client construction.
type Option func(*Client)

// WithReadTimeout changes the whole-stream read budget.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithHTTPClient swaps the underlying HTTP client, for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient builds a client for the engine at baseURL with a default bearer
// key (may be empty if every request carries its own).
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				TLSHandshakeTimeout:   connectTimeout,
				ResponseHeaderTimeout: connectTimeout,
				IdleConnTimeout:       connectTimeout,
			},
		},
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) bearerFor(req Request) string {
	if req.APIKey != "" {
		return req.APIKey
	}
	return c.apiKey
}

// Stream opens the synthesis stream. The returned reader yields PCM chunks
// with the leading WAV header already stripped. The caller must Close it.
func (c *Client) Stream(ctx context.Context, req Request) (*StreamReader, error) {
	body, err := json.Marshal(wireRequest{
		Script:         req.Script,
		SpeakerVoices:  req.SpeakerVoices,
		CfgScale:       cfgScale,
		SessionID:      req.SessionID,
		SpeakerMapping: req.SpeakerMapping,
		VoiceOverrides: req.VoiceOverrides,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate/stream", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.bearerFor(req))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("tts: connect to engine: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RejectedError{Status: resp.StatusCode, Body: string(errBody)}
	}

	return &StreamReader{
		body:      resp.Body,
		cancel:    cancel,
		sessionID: req.SessionID,
	}, nil
}

// StreamReader iterates PCM chunks of one synthesis stream.
type StreamReader struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	sessionID string

	buf      [chunkBufSize]byte
	chunks   int
	stripped bool
	finalErr error
}

// Next returns the next PCM chunk. The slice is only valid until the next
// call. Returns io.EOF on clean end of stream and *TruncatedError when the
// upstream died mid-synthesis.
func (r *StreamReader) Next() ([]byte, error) {
	for {
		if r.finalErr != nil {
			return nil, r.finalErr
		}
		n, err := r.body.Read(r.buf[:])
		if err != nil {
			// Deliver any tail bytes first; the stream state is
			// reported on the next call.
			if errors.Is(err, io.EOF) {
				r.finalErr = io.EOF
			} else {
				r.finalErr = &TruncatedError{Chunks: r.chunks, Err: err}
				r.body.Close()
				r.cancel()
			}
		}
		if n == 0 {
			continue
		}
		chunk := r.buf[:n]
		r.chunks++
		if !r.stripped {
			r.stripped = true
			if n < wav.HeaderSize {
				// Engine sent a runt first chunk; drop it rather
				// than leak header bytes into PCM.
				log.WithComponent("tts").Warn().
					Str("session_id", r.sessionID).
					Int("bytes", n).
					Msg("first chunk shorter than wav header, discarding")
				continue
			}
			chunk = chunk[wav.HeaderSize:]
			if len(chunk) == 0 {
				continue
			}
		}
		return chunk, nil
	}
}

// Chunks reports how many chunks have been received so far.
func (r *StreamReader) Chunks() int { return r.chunks }

// Close releases the underlying connection. Safe to call multiple times.
func (r *StreamReader) Close() error {
	if r.finalErr == nil {
		r.finalErr = io.EOF
	}
	r.cancel()
	return r.body.Close()
}
