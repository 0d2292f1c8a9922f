// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A TTS backend wraps a speech synthesis service (e.g., a local VOICEVOX
// engine or Microsoft Edge's online TTS) and returns decoded PCM for a whole
// utterance. Synthesis happens per sentence chunk: the dialogue loop splits
// LLM output at sentence boundaries and synthesises each one while the
// previous one is still playing, so latency hides behind playback.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
)

// Audio is the decoded result of a synthesis request.
type Audio struct {
	// PCM is the raw 16-bit little-endian audio payload.
	PCM []byte

	// Format describes the sample rate and channel count of PCM.
	Format audio.Format
}

// Synthesizer is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Synthesize should
// propagate context cancellation promptly: a pending synthesis is abandoned
// whenever the utterance it belongs to is interrupted.
type Synthesizer interface {
	// Synthesize converts text into PCM audio using the given voice. The
	// text is typically a single sentence; callers pipeline sentence-sized
	// requests for low latency.
	//
	// Returns an error if the backend is unreachable, the voice is unknown,
	// or ctx is cancelled before the audio arrives. An empty text must
	// return an error rather than empty audio.
	Synthesize(ctx context.Context, text string, voice Voice) (*Audio, error)
}
