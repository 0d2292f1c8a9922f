// Package listen implements the capture side of the dialogue loop: a capture
// fan-out that distributes microphone frames, a run-length voice activity
// detector, and a recognizer session that folds streaming transcription
// results into the current utterance text.
package listen

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
)

// defaultSubscriberBuffer is the frame queue depth per subscriber. At 10 ms
// frames this holds roughly a second of audio.
const defaultSubscriberBuffer = 128

// Subscription is one consumer's view of the capture stream. Frames are
// delivered in capture order; when the consumer falls behind, the oldest
// queued frame is dropped so capture never blocks.
type Subscription struct {
	frames chan audio.Frame
	fanout *Fanout
	once   sync.Once
}

// Frames returns the subscriber's frame channel. It is closed when the
// fan-out stops or the subscription is closed.
func (s *Subscription) Frames() <-chan audio.Frame { return s.frames }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() { s.fanout.unsubscribe(s) })
}

// Drain discards all currently queued frames without blocking.
func (s *Subscription) Drain() {
	for {
		select {
		case _, ok := <-s.frames:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// FanoutOption is a functional option for Fanout.
type FanoutOption func(*Fanout)

// WithFanoutLogger sets the logger used for capture diagnostics.
func WithFanoutLogger(l *slog.Logger) FanoutOption {
	return func(f *Fanout) { f.logger = l }
}

// Fanout reads frames from a single audio source and copies each one to
// every subscriber. Each subscriber owns its queue; a slow subscriber loses
// its oldest frames rather than stalling capture.
type Fanout struct {
	source audio.Source
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// NewFanout creates a Fanout over the given source. Call Run to start
// distribution.
func NewFanout(source audio.Source, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		source: source,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Subscribe registers a new consumer. buffer <= 0 selects the default queue
// depth. Subscribing after the fan-out stopped returns a subscription whose
// channel is already closed.
func (f *Fanout) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &Subscription{
		frames: make(chan audio.Frame, buffer),
		fanout: f,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(sub.frames)
		return sub
	}
	f.subs = append(f.subs, sub)
	return sub
}

// Run reads frames from the source until ctx is cancelled or the source is
// exhausted, distributing each frame to all subscribers. All subscriber
// channels are closed on return.
func (f *Fanout) Run(ctx context.Context) error {
	defer f.closeAll()

	for {
		frame, err := f.source.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		f.publish(frame)
	}
}

// publish delivers a frame to every subscriber, copying the payload so no
// two consumers share a buffer. The lock is held for the whole delivery;
// every send below is non-blocking, and holding it keeps sends from racing
// an unsubscribe closing the channel.
func (f *Fanout) publish(frame audio.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		cp := frame
		cp.Data = make([]byte, len(frame.Data))
		copy(cp.Data, frame.Data)

		select {
		case sub.frames <- cp:
			continue
		default:
		}
		// Queue full: drop the oldest frame, then retry once. If the
		// consumer raced us and made room, the second send succeeds; if it
		// filled the queue again, the frame is lost, which is the intended
		// behaviour for a lagging consumer.
		select {
		case <-sub.frames:
		default:
		}
		select {
		case sub.frames <- cp:
		default:
			f.logger.Debug("capture frame dropped", "subsystem", "fanout")
		}
	}
}

// unsubscribe removes the subscription and closes its channel.
func (f *Fanout) unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s == sub {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
	if !f.closed {
		close(sub.frames)
	}
}

// closeAll closes every subscriber channel and marks the fan-out stopped.
func (f *Fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, sub := range f.subs {
		close(sub.frames)
	}
	f.subs = nil
}
