// Package mock provides test doubles for the audio package interfaces.
//
// Source replays a scripted frame sequence, Sink records every Play call, and
// Playback exposes its playing state as a settable flag so tests can simulate
// utterances of any length and interrupt them at will.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
)

// Source is a mock implementation of audio.Source that replays scripted frames.
type Source struct {
	mu sync.Mutex

	// Frames is the script; each Read pops the next frame. When exhausted,
	// Read blocks until ctx is cancelled if BlockWhenEmpty is set, otherwise
	// it returns io.EOF.
	Frames []audio.Frame

	// SourceFormat is returned by Format.
	SourceFormat audio.Format

	// ReadErr, if non-nil, is returned by the next Read call.
	ReadErr error

	// BlockWhenEmpty makes Read wait on ctx instead of returning io.EOF once
	// the script is exhausted. Useful for capture loops that should keep
	// running while the test drives other components.
	BlockWhenEmpty bool

	// ReadCount is the number of Read calls made.
	ReadCount int

	closed bool
}

// Read pops the next scripted frame.
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.ReadCount++
	if s.ReadErr != nil {
		err := s.ReadErr
		s.ReadErr = nil
		s.mu.Unlock()
		return audio.Frame{}, err
	}
	if s.closed {
		s.mu.Unlock()
		return audio.Frame{}, io.EOF
	}
	if len(s.Frames) > 0 {
		f := s.Frames[0]
		s.Frames = s.Frames[1:]
		s.mu.Unlock()
		return f, nil
	}
	block := s.BlockWhenEmpty
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return audio.Frame{}, ctx.Err()
	}
	return audio.Frame{}, io.EOF
}

// Format returns SourceFormat.
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SourceFormat
}

// Close marks the source closed; subsequent Reads return io.EOF.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)

// PlayCall records a single invocation of Sink.Play.
type PlayCall struct {
	// PCM is a copy of the bytes passed to Play.
	PCM []byte

	// Format is the format passed to Play.
	Format audio.Format

	// Playback is the handle that Play returned for this call.
	Playback *Playback
}

// Sink is a mock implementation of audio.Sink.
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// AutoFinish makes each returned Playback report IsPlaying() == false
	// immediately, simulating an utterance that finishes instantly.
	AutoFinish bool

	// PlayCalls records every call to Play in order.
	PlayCalls []PlayCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Play records the call and returns a fresh Playback handle.
func (s *Sink) Play(_ context.Context, pcm []byte, format audio.Format) (audio.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayErr != nil {
		return nil, s.PlayErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	pb := &Playback{}
	pb.SetPlaying(!s.AutoFinish)
	s.PlayCalls = append(s.PlayCalls, PlayCall{PCM: cp, Format: format, Playback: pb})
	return pb, nil
}

// Close records the call.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// PlayCallCount returns the number of Play calls. Thread-safe.
func (s *Sink) PlayCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.PlayCalls)
}

// LastPlayback returns the Playback from the most recent Play call, or nil.
func (s *Sink) LastPlayback() *Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.PlayCalls) == 0 {
		return nil
	}
	return s.PlayCalls[len(s.PlayCalls)-1].Playback
}

// Reset clears all recorded calls. Thread-safe.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayCalls = nil
	s.CloseCallCount = 0
}

// Ensure Sink implements audio.Sink at compile time.
var _ audio.Sink = (*Sink)(nil)

// Playback is a mock implementation of audio.Playback whose playing state is
// controlled by the test.
type Playback struct {
	mu sync.Mutex

	playing bool

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// StopCallCount is the number of times Stop was called.
	StopCallCount int
}

// IsPlaying reports the current playing flag.
func (p *Playback) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// SetPlaying sets the playing flag. Tests call this to simulate playback
// finishing naturally.
func (p *Playback) SetPlaying(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = v
}

// Stop records the call, clears the playing flag, and returns StopErr.
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCallCount++
	p.playing = false
	return p.StopErr
}

// Ensure Playback implements audio.Playback at compile time.
var _ audio.Playback = (*Playback)(nil)
