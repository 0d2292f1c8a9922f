// Package audio defines the capture and playback primitives for the voice
// pipeline: PCM formats, fixed-size frames, the Source interface for
// microphone input, and the Sink/Playback pair for interruptible output.
//
// Sources deliver frames synchronously via Read so that the capture loop —
// not the device backend — controls pacing. Sinks start playback in the
// background and hand the caller a Playback handle that can be polled and
// stopped mid-utterance, which is what makes barge-in possible.
//
// Implementations live in subpackages (portaudio, pulse, mock).
package audio

import "context"

// Source is a live audio capture stream. Read blocks until the next frame is
// available, the stream ends, or ctx is cancelled.
//
// A Source is owned by a single capture loop; implementations are not
// required to support concurrent Read calls.
type Source interface {
	// Read returns the next captured frame. Returns io.EOF when the stream
	// has ended and ctx.Err() when the context is cancelled first.
	Read(ctx context.Context) (Frame, error)

	// Format returns the PCM layout of frames produced by this source.
	Format() Format

	// Close stops capture and releases the underlying device. Subsequent
	// Read calls return io.EOF. Close is idempotent.
	Close() error
}

// Playback is a handle to one in-flight utterance started via Sink.Play.
// All methods are safe for concurrent use: the speaking loop polls IsPlaying
// while another goroutine may call Stop.
type Playback interface {
	// IsPlaying reports whether audio is still being rendered. It becomes
	// false once the buffer has drained or Stop was called.
	IsPlaying() bool

	// Stop halts playback immediately, discarding any unplayed audio.
	// Stop is idempotent and returns nil on repeated calls.
	Stop() error
}

// Sink renders PCM audio to an output device.
//
// Play must return promptly: rendering happens in the background and the
// returned Playback is used to track and interrupt it. Implementations must
// support at least one active Playback at a time; starting a second Play
// while the first is live is implementation-defined.
type Sink interface {
	Play(ctx context.Context, pcm []byte, format Format) (Playback, error)

	// Close releases the output device. Active playbacks are stopped.
	Close() error
}
