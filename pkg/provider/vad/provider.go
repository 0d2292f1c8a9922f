// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a frame-level speech classifier (a neural model such as
// Silero, or a simple energy gate) and surfaces it as a stateful, per-stream
// session. Each session keeps its own smoothing state so multiple audio
// streams can be classified independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// boolean verdict, making it suitable for the low-latency capture loop that
// drives turn-taking. Turn-level smoothing (run lengths, padding windows)
// lives above this interface — sessions only answer "does this frame contain
// speech?".
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session should not be shared across goroutines unless the
// implementation documents otherwise.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 8000, 16000.
	SampleRate int

	// Threshold is the speech probability (or energy level, for threshold
	// detectors) above which a frame is classified as speech. Range and
	// scale are backend-specific; see each Engine's documentation.
	Threshold float64
}

// Session is an active VAD classification stream for a single audio source.
// It is an interface so test code can supply mock implementations.
type Session interface {
	// ProcessFrame classifies a single frame of raw little-endian 16-bit PCM
	// and reports whether it contains speech. Returns an error if the frame
	// size is unsupported or the backend fails.
	//
	// ProcessFrame is called once per captured frame from the pipeline loop;
	// it must not block.
	ProcessFrame(frame []byte) (bool, error)

	// Reset clears accumulated detection state without closing the session.
	// Called when the audio stream restarts so stale state from the previous
	// segment cannot affect new frames.
	Reset()

	// Close releases resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a session with the given configuration, immediately
	// ready to accept frames. Returns an error if the configuration is
	// invalid or backend resources cannot be allocated.
	NewSession(cfg Config) (Session, error)
}
