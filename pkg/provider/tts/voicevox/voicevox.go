// Package voicevox provides a TTS synthesizer backed by a local VOICEVOX
// engine (https://voicevox.hiroshiba.jp/). It implements the tts.Synthesizer
// interface.
//
// VOICEVOX exposes a two-step HTTP API: POST /audio_query builds a synthesis
// query from text, POST /synthesis renders the query to a WAV payload. The
// query JSON is passed through opaquely except for speedScale, which is
// patched in when the voice requests a non-default rate.
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts"
)

const (
	defaultBaseURL = "http://127.0.0.1:50021"
	defaultSpeaker = 1
)

// Option is a functional option for the VOICEVOX Synthesizer.
type Option func(*Synthesizer)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) { s.client = c }
}

// WithSpeaker sets the default speaker index used when the voice does not
// specify one.
func WithSpeaker(speaker int) Option {
	return func(s *Synthesizer) { s.speaker = speaker }
}

// Synthesizer implements tts.Synthesizer against a VOICEVOX engine.
type Synthesizer struct {
	baseURL string
	speaker int
	client  *http.Client
}

// New creates a VOICEVOX Synthesizer. baseURL may be empty, in which case
// the default local engine address is used.
func New(baseURL string, opts ...Option) (*Synthesizer, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("voicevox: invalid base URL: %w", err)
	}
	s := &Synthesizer{
		baseURL: baseURL,
		speaker: defaultSpeaker,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Audio, error) {
	if text == "" {
		return nil, errors.New("voicevox: text must not be empty")
	}

	speaker := voice.Speaker
	if speaker == 0 {
		speaker = s.speaker
	}

	query, err := s.audioQuery(ctx, text, speaker)
	if err != nil {
		return nil, err
	}
	if voice.SpeedFactor != 0 && voice.SpeedFactor != 1.0 {
		query, err = patchSpeedScale(query, voice.SpeedFactor)
		if err != nil {
			return nil, err
		}
	}

	wav, err := s.synthesis(ctx, query, speaker)
	if err != nil {
		return nil, err
	}

	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("voicevox: decode WAV: %w", err)
	}
	return &tts.Audio{PCM: pcm, Format: format}, nil
}

// audioQuery runs the /audio_query step and returns the raw query JSON.
func (s *Synthesizer) audioQuery(ctx context.Context, text string, speaker int) ([]byte, error) {
	q := url.Values{}
	q.Set("text", text)
	q.Set("speaker", strconv.Itoa(speaker))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/audio_query?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("voicevox: build audio_query request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicevox: audio_query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("voicevox: audio_query returned %d: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// synthesis runs the /synthesis step and returns the WAV payload.
func (s *Synthesizer) synthesis(ctx context.Context, query []byte, speaker int) ([]byte, error) {
	q := url.Values{}
	q.Set("speaker", strconv.Itoa(speaker))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/synthesis?"+q.Encode(), bytes.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("voicevox: build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicevox: synthesis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("voicevox: synthesis returned %d: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// patchSpeedScale rewrites the speedScale field of an audio query.
func patchSpeedScale(query []byte, speed float64) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(query, &m); err != nil {
		return nil, fmt.Errorf("voicevox: parse audio query: %w", err)
	}
	m["speedScale"] = speed
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("voicevox: re-encode audio query: %w", err)
	}
	return out, nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
