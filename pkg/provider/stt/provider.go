// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram, a
// Vosk server, or a local Whisper endpoint) and exposes a uniform streaming
// interface. The central abstraction is SessionHandle: once opened, a session
// accepts raw PCM audio chunks and emits Transcript values — low-latency
// partials for responsiveness and authoritative finals for the dialogue
// history. The recogniser layer above this package stitches partials and
// finals into the cumulative utterance text.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the common choice
	// for speech recognition.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono, required by most
	// providers. Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "ja",
	// "en-US"). An empty string lets the provider auto-detect, if supported.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed; failing to
// do so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must match the SampleRate, Channels, and
	// 16-bit depth agreed in StreamConfig. Calling SendAudio after Close
	// returns an error.
	SendAudio(chunk []byte) error

	// Results returns a read-only channel that emits Transcript values as
	// the provider produces them. Partial (interim) and final results are
	// interleaved; check Transcript.IsFinal. The channel is closed when the
	// session ends.
	Results() <-chan Transcript

	// Close terminates the session, flushes pending audio, and releases all
	// associated resources. After Close returns, the Results channel will be
	// closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; sessions are opened and
// torn down frequently because the recogniser restarts its session at every
// turn boundary and on watchdog timeouts.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format. The returned SessionHandle is ready to accept audio
	// immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unsupported configuration, or ctx already cancelled). The
	// caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
