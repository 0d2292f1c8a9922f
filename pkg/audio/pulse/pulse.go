// Package pulse implements audio.Source and audio.Sink on a PulseAudio (or
// PipeWire-with-Pulse-shim) server via github.com/jfreymuth/pulse. It is a
// pure-Go alternative to the PortAudio backend for Linux desktops.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
)

const appName = "aizuchi"

// Source captures mono 16-bit PCM from the default Pulse input source.
type Source struct {
	format audio.Format
	frame  time.Duration

	client *pulse.Client
	stream *pulse.RecordStream
	chunks chan []byte
	stopCh chan struct{}

	mu       sync.Mutex
	pending  []byte
	captured time.Duration
	stopped  bool
}

// NewSource connects to the Pulse server and starts a record stream producing
// frames of the given duration. Only mono capture is supported.
func NewSource(format audio.Format, frame time.Duration) (*Source, error) {
	if format.Channels != 1 {
		return nil, fmt.Errorf("pulse: capture supports mono only, got %d channels", format.Channels)
	}
	if frame <= 0 {
		frame = 10 * time.Millisecond
	}

	client, err := pulse.NewClient(pulse.ClientApplicationName(appName))
	if err != nil {
		return nil, fmt.Errorf("pulse: connect server: %w", err)
	}

	s := &Source{
		format: format,
		frame:  frame,
		client: client,
		chunks: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}

	frameBytes := format.FrameBytes(frame)
	writer := pulse.NewWriter(writerFunc(s.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordMono,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(frameBytes)),
		pulse.RecordMediaName("aizuchi capture"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: create record stream: %w", err)
	}

	s.stream = stream
	stream.Start()
	return s, nil
}

// onPCM receives raw bytes from the Pulse callback and emits fixed-size
// frames to the chunk channel.
func (s *Source) onPCM(buffer []byte) (int, error) {
	select {
	case <-s.stopCh:
		return 0, io.EOF
	default:
	}

	frameBytes := s.format.FrameBytes(s.frame)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.pending = append(s.pending, buffer...)
	var ready [][]byte
	for len(s.pending) >= frameBytes {
		chunk := make([]byte, frameBytes)
		copy(chunk, s.pending[:frameBytes])
		s.pending = s.pending[frameBytes:]
		ready = append(ready, chunk)
	}
	s.mu.Unlock()

	for _, chunk := range ready {
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.chunks <- chunk:
		}
	}
	return len(buffer), nil
}

// Read blocks until the next captured frame is available.
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case chunk, ok := <-s.chunks:
		if !ok {
			return audio.Frame{}, io.EOF
		}
		s.mu.Lock()
		ts := s.captured
		s.captured += s.frame
		s.mu.Unlock()
		return audio.Frame{Data: chunk, Format: s.format, Timestamp: ts}, nil
	}
}

// Format returns the capture format.
func (s *Source) Format() audio.Format { return s.format }

// Close stops the record stream and disconnects from the server.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	s.stream.Stop()
	s.stream.Close()
	s.client.Close()
	close(s.chunks)
	return nil
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }

// Sink renders PCM through a Pulse playback stream. Each Play call creates a
// dedicated stream so utterances can be stopped independently.
type Sink struct {
	mu     sync.Mutex
	client *pulse.Client
	closed bool
	active *playback
}

// NewSink connects to the Pulse server for playback.
func NewSink() (*Sink, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName(appName))
	if err != nil {
		return nil, fmt.Errorf("pulse: connect server: %w", err)
	}
	return &Sink{client: client}, nil
}

// Play starts rendering pcm in the background and returns a handle for it.
// Stereo input is downmixed to mono.
func (s *Sink) Play(_ context.Context, pcm []byte, format audio.Format) (audio.Playback, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("pulse: sink is closed")
	}
	if s.active != nil {
		prev := s.active
		s.mu.Unlock()
		_ = prev.Stop()
		s.mu.Lock()
	}

	if format.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
		format.Channels = 1
	}

	pb := &playback{
		samples: audio.Int16Samples(pcm),
		playing: true,
	}

	reader := pulse.Int16Reader(pb.fill)
	stream, err := s.client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(format.SampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("aizuchi speech"),
	)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("pulse: create playback stream: %w", err)
	}
	pb.stream = stream
	s.active = pb
	s.mu.Unlock()

	stream.Start()

	// Drain in the background so IsPlaying flips once the buffer empties.
	go func() {
		stream.Drain()
		pb.mu.Lock()
		pb.playing = false
		pb.mu.Unlock()
	}()

	return pb, nil
}

// Close stops any active playback and disconnects from the server.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := s.active
	s.active = nil
	s.mu.Unlock()

	if active != nil {
		_ = active.Stop()
	}
	s.client.Close()
	return nil
}

// Ensure Sink implements audio.Sink at compile time.
var _ audio.Sink = (*Sink)(nil)

// playback is one in-flight utterance on a dedicated Pulse stream.
type playback struct {
	stream *pulse.PlaybackStream

	mu      sync.Mutex
	samples []int16
	cursor  int
	playing bool
	stopped bool
}

// fill is the Pulse read callback feeding samples into the stream buffer.
func (p *playback) fill(buf []int16) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.cursor >= len(p.samples) {
		return 0, pulse.EndOfData
	}
	n := copy(buf, p.samples[p.cursor:])
	p.cursor += n
	if p.cursor >= len(p.samples) {
		return n, pulse.EndOfData
	}
	return n, nil
}

// IsPlaying reports whether the stream buffer still holds audio.
func (p *playback) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Stop halts playback immediately, discarding unplayed samples.
func (p *playback) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.playing = false
	p.mu.Unlock()

	p.stream.Stop()
	p.stream.Close()
	return nil
}

// Ensure playback implements audio.Playback at compile time.
var _ audio.Playback = (*playback)(nil)
