// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer in unit tests to feed controlled audio and inspect which
// texts were synthesised without a live TTS backend.
package mock

import (
	"context"
	"sync"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice tts.Voice
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned by Synthesize. If nil and SynthesizeErr is nil, a
	// small silent mono clip at 24 kHz is returned so playback paths have
	// something to work with.
	Audio *tts.Audio

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Audio, SynthesizeErr.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Audio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if s.SynthesizeErr != nil {
		return nil, s.SynthesizeErr
	}
	if s.Audio != nil {
		return s.Audio, nil
	}
	return &tts.Audio{
		PCM:    make([]byte, 480), // 10ms of silence
		Format: audio.Format{SampleRate: 24000, Channels: 1},
	}, nil
}

// SynthesizeCallCount returns the number of Synthesize calls. Thread-safe.
func (s *Synthesizer) SynthesizeCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SynthesizeCalls)
}

// Texts returns the synthesised texts in call order. Thread-safe.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SynthesizeCalls))
	for i, c := range s.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
