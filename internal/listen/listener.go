package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aizuchi-dev/aizuchi/internal/observe"
	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/stt"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/vad"
)

// defaultPollInterval is the cadence at which WaitSpeechEnded re-evaluates
// the end-of-utterance predicate.
const defaultPollInterval = 10 * time.Millisecond

// ListenerConfig composes the detector and recognizer configurations.
type ListenerConfig struct {
	Detector   DetectorConfig
	Recognizer RecognizerConfig

	// PollInterval is the sleep between end-of-utterance checks. Zero
	// selects the default.
	PollInterval time.Duration
}

// Listener wires the capture fan-out to the VAD detector and the recognizer
// and exposes the combined turn-taking predicates.
type Listener struct {
	fanout     *Fanout
	detector   *Detector
	recognizer *Recognizer
	logger     *slog.Logger
	poll       time.Duration
}

// NewListener builds the capture pipeline: source → fan-out → {detector,
// recognizer}. Call Run to start all loops.
func NewListener(source audio.Source, vadSession vad.Session, sttProvider stt.Provider, cfg ListenerConfig, logger *slog.Logger, metrics *observe.Metrics) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Listener{
		fanout:     NewFanout(source, WithFanoutLogger(logger)),
		detector:   NewDetector(vadSession, cfg.Detector, logger),
		recognizer: NewRecognizer(sttProvider, cfg.Recognizer, logger, metrics),
		logger:     logger,
		poll:       poll,
	}
}

// Run starts the capture fan-out, the VAD loop, and the recognizer loop,
// and blocks until ctx is cancelled or the capture source fails.
func (l *Listener) Run(ctx context.Context) error {
	vadSub := l.fanout.Subscribe(0)
	sttSub := l.fanout.Subscribe(0)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer vadSub.Close()
		defer sttSub.Close()
		return l.fanout.Run(ctx)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case frame, ok := <-vadSub.Frames():
				if !ok {
					return nil
				}
				l.detector.ProcessFrame(frame.Data)
			}
		}
	})

	g.Go(func() error {
		return l.recognizer.Run(ctx, sttSub)
	})

	return g.Wait()
}

// Text returns the current utterance text.
func (l *Listener) Text() string { return l.recognizer.Text() }

// Delta returns the newly recognised suffix of the current text.
func (l *Listener) Delta() string { return l.recognizer.Delta() }

// SpeechStarted reports whether the user is currently speaking (speech run
// above the start threshold).
func (l *Listener) SpeechStarted() bool { return l.detector.SpeechStarted() }

// SpeechEnded reports whether the utterance has ended: sustained silence
// with a non-empty transcript.
func (l *Listener) SpeechEnded() bool {
	return l.detector.SilenceExceedsEnd() && l.recognizer.Text() != ""
}

// WaitSpeechEnded blocks, polling, until SpeechEnded holds or ctx is
// cancelled.
func (l *Listener) WaitSpeechEnded(ctx context.Context) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		if l.SpeechEnded() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Healthy reports whether the recognition backend is live: a session has
// been opened and has shown activity within twice its staleness window.
// Returns a descriptive error otherwise, for readiness probes.
func (l *Listener) Healthy() error {
	last := l.recognizer.LastActivity()
	if last.IsZero() {
		return errors.New("no recognition session opened yet")
	}
	if age := time.Since(last); age > 2*l.recognizer.cfg.StalenessTimeout {
		return fmt.Errorf("recognition backend inactive for %s", age.Round(time.Millisecond))
	}
	return nil
}

// SetDetectorConfig applies new turn-taking thresholds to the VAD detector.
// Used by the config reload path.
func (l *Listener) SetDetectorConfig(cfg DetectorConfig) {
	l.detector.SetConfig(cfg)
}

// PauseRecognition suspends audio forwarding to the STT backend while the
// system is speaking.
func (l *Listener) PauseRecognition() { l.recognizer.Pause() }

// StartNewSession clears the transcript, resets the VAD run counters, and
// reopens the STT backend stream for the next turn.
func (l *Listener) StartNewSession() {
	l.detector.Reset()
	l.recognizer.StartNewSession()
}
