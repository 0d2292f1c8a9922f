// Package portaudio implements audio.Source and audio.Sink on top of
// PortAudio default devices. It is the cross-platform capture/playback
// backend; Linux desktops running PulseAudio may prefer the pulse package.
//
// PortAudio requires global initialisation. The first stream opened calls
// portaudio.Initialize and a matching Terminate happens when the last stream
// is closed.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
)

// defaultFrameDuration is the capture frame length when none is configured.
const defaultFrameDuration = 10 * time.Millisecond

var (
	initMu   sync.Mutex
	initRefs int
)

// acquire initialises PortAudio on first use.
func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	initRefs++
	return nil
}

// release terminates PortAudio when the last stream closes.
func release() {
	initMu.Lock()
	defer initMu.Unlock()
	initRefs--
	if initRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// Source captures audio from the default input device.
type Source struct {
	format audio.Format
	frame  time.Duration

	mu       sync.Mutex
	stream   *portaudio.Stream
	buf      []int16
	captured time.Duration
	closed   bool
}

// SourceOption is a functional option for NewSource.
type SourceOption func(*Source)

// WithFrameDuration sets the capture frame length. Default is 10ms.
func WithFrameDuration(d time.Duration) SourceOption {
	return func(s *Source) { s.frame = d }
}

// NewSource opens the default input device for capture in the given format
// and starts the stream.
func NewSource(format audio.Format, opts ...SourceOption) (*Source, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: invalid capture format %+v", format)
	}

	s := &Source{format: format, frame: defaultFrameDuration}
	for _, o := range opts {
		o(s)
	}

	if err := acquire(); err != nil {
		return nil, err
	}

	samples := format.FrameBytes(s.frame) / 2
	s.buf = make([]int16, samples)

	stream, err := portaudio.OpenDefaultStream(
		format.Channels, 0, float64(format.SampleRate), len(s.buf)/format.Channels, s.buf,
	)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	s.stream = stream
	return s, nil
}

// Read blocks until the next frame has been captured.
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.Frame{}, io.EOF
	}

	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			// Overflow drops old samples; the frame we read is still usable.
		} else {
			return audio.Frame{}, fmt.Errorf("portaudio: read: %w", err)
		}
	}

	frame := audio.Frame{
		Data:      audio.Int16Bytes(s.buf),
		Format:    s.format,
		Timestamp: s.captured,
	}
	s.captured += s.frame
	return frame, nil
}

// Format returns the capture format.
func (s *Source) Format() audio.Format { return s.format }

// Close stops the stream and releases the device.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	release()
	return err
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)

// Sink renders PCM to the default output device. Each Play call opens its own
// output stream so that utterances can be stopped independently.
type Sink struct {
	mu     sync.Mutex
	closed bool
	active *playback
}

// NewSink creates a playback sink on the default output device.
func NewSink() (*Sink, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	return &Sink{}, nil
}

// Play starts rendering pcm in the background and returns a handle for it.
// A previously active playback is stopped first.
func (s *Sink) Play(ctx context.Context, pcm []byte, format audio.Format) (audio.Playback, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: invalid playback format %+v", format)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("portaudio: sink is closed")
	}
	if s.active != nil {
		prev := s.active
		s.mu.Unlock()
		_ = prev.Stop()
		s.mu.Lock()
	}

	// 20ms write buffer per callback round.
	chunkSamples := format.FrameBytes(20*time.Millisecond) / 2
	buf := make([]int16, chunkSamples)

	stream, err := portaudio.OpenDefaultStream(
		0, format.Channels, float64(format.SampleRate), len(buf)/format.Channels, buf,
	)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		s.mu.Unlock()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}

	pb := &playback{
		stream:  stream,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		playing: true,
	}
	s.active = pb
	s.mu.Unlock()

	go pb.run(ctx, pcm, buf)
	return pb, nil
}

// Close stops any active playback and releases the device.
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
	release()
	return nil
}

// Ensure Sink implements audio.Sink at compile time.
var _ audio.Sink = (*Sink)(nil)

// playback renders one utterance to its own output stream.
type playback struct {
	stream *portaudio.Stream
	stop   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	playing bool
	stopped bool
}

// run feeds pcm into the output stream chunk by chunk until the data is
// exhausted, Stop is called, or ctx is cancelled.
func (p *playback) run(ctx context.Context, pcm []byte, buf []int16) {
	defer close(p.done)
	defer func() {
		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
		_ = p.stream.Stop()
		_ = p.stream.Close()
	}()

	samples := audio.Int16Samples(pcm)
	for off := 0; off < len(samples); off += len(buf) {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		n := copy(buf, samples[off:])
		// Zero-pad the final partial chunk.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return
		}
	}
}

// IsPlaying reports whether the render goroutine is still feeding audio.
func (p *playback) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Stop halts playback and waits for the render goroutine to exit.
func (p *playback) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stop)
	<-p.done
	return nil
}

// Ensure playback implements audio.Playback at compile time.
var _ audio.Playback = (*playback)(nil)
