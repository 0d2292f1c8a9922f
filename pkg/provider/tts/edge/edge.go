// Package edge provides a TTS synthesizer backed by Microsoft Edge's online
// neural voices via github.com/wujunwei928/edge-tts-go. It implements the
// tts.Synthesizer interface.
//
// Edge returns MP3 audio; the payload is decoded to PCM with
// github.com/hajimehoshi/go-mp3 so playback sinks receive the same raw
// format as every other synthesizer.
package edge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts"
)

const defaultVoice = "ja-JP-NanamiNeural"

// Option is a functional option for the Edge Synthesizer.
type Option func(*Synthesizer)

// WithDefaultVoice sets the voice used when the request does not name one.
func WithDefaultVoice(voice string) Option {
	return func(s *Synthesizer) { s.voice = voice }
}

// Synthesizer implements tts.Synthesizer using Edge's online TTS.
type Synthesizer struct {
	voice string
}

// New creates an Edge Synthesizer.
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{voice: defaultVoice}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Audio, error) {
	if text == "" {
		return nil, errors.New("edge: text must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	voiceID := voice.ID
	if voiceID == "" {
		voiceID = s.voice
	}

	comm, err := edge_tts.NewCommunicate(text, edge_tts.SetVoice(voiceID))
	if err != nil {
		return nil, fmt.Errorf("edge: create communicator: %w", err)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := comm.Stream()
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("edge: synthesis: %w", res.err)
		}
		return decodeMP3(res.data)
	}
}

// decodeMP3 converts an MP3 payload into raw PCM. go-mp3 always emits
// 16-bit stereo at the stream's native sample rate.
func decodeMP3(data []byte) (*tts.Audio, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("edge: decode MP3: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("edge: read MP3 samples: %w", err)
	}

	return &tts.Audio{
		PCM:    pcm,
		Format: audio.Format{SampleRate: dec.SampleRate(), Channels: 2},
	}, nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
