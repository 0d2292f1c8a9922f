package listen

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aizuchi-dev/aizuchi/internal/observe"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/stt"
)

// Recognizer timing defaults, mirroring the session management the dialogue
// loop depends on: a watchdog probe every few seconds, restart on prolonged
// backend silence, and short pauses between sessions so a flapping backend
// cannot spin the loop.
const (
	defaultWatchdogInterval = 5 * time.Second
	defaultStalenessTimeout = 10 * time.Second
	defaultRestartDelay     = 500 * time.Millisecond
	defaultErrorBackoff     = time.Second
)

// RecognizerConfig configures session management for a Recognizer.
type RecognizerConfig struct {
	// Stream is the audio format and language passed to the STT backend.
	Stream stt.StreamConfig

	// WatchdogInterval is how often the watchdog checks for backend
	// activity.
	WatchdogInterval time.Duration

	// StalenessTimeout is the maximum backend inactivity before the session
	// is forcibly restarted.
	StalenessTimeout time.Duration

	// RestartDelay is the pause between one session ending and the next
	// opening.
	RestartDelay time.Duration

	// ErrorBackoff is the pause after a session fails to open.
	ErrorBackoff time.Duration
}

// withDefaults fills unset fields.
func (c RecognizerConfig) withDefaults() RecognizerConfig {
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = defaultWatchdogInterval
	}
	if c.StalenessTimeout <= 0 {
		c.StalenessTimeout = defaultStalenessTimeout
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = defaultErrorBackoff
	}
	return c
}

// Recognizer owns a streaming STT backend session and folds its results
// into the current utterance text. The session is restarted at every turn
// boundary (StartNewSession), by the watchdog on backend silence, and after
// backend errors — never fatally.
//
// Text is cumulative within one session: finalised segments are concatenated
// and the latest interim result is appended. Delta is the suffix of the
// current text not present in the previously observed text.
type Recognizer struct {
	provider stt.Provider
	cfg      RecognizerConfig
	logger   *slog.Logger
	metrics  *observe.Metrics

	mu           sync.Mutex
	finalBase    string
	interim      string
	prevText     string
	delta        string
	paused       bool
	lastActivity time.Time

	// segmentStart is the arrival time of the first interim result of the
	// segment being recognised; zero when no segment is open. Used to measure
	// how long the backend takes to finalise a segment.
	segmentStart time.Time

	// restart carries a restart request from StartNewSession to the session
	// loop. Capacity 1: repeated requests before the loop reacts coalesce.
	restart chan struct{}
}

// NewRecognizer creates a Recognizer over the given STT provider.
func NewRecognizer(provider stt.Provider, cfg RecognizerConfig, logger *slog.Logger, metrics *observe.Metrics) *Recognizer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Recognizer{
		provider: provider,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		restart:  make(chan struct{}, 1),
	}
}

// Text returns the current utterance text: finalised segments plus the
// latest interim result.
func (r *Recognizer) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalBase + r.interim
}

// Delta returns the portion of the current text that was not present in the
// previously observed text.
func (r *Recognizer) Delta() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delta
}

// Pause stops forwarding audio to the backend without discarding the
// accumulated text. Used while the system itself is speaking so the
// microphone's pickup of our own output is not transcribed.
func (r *Recognizer) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume restarts audio forwarding after a Pause.
func (r *Recognizer) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// Paused reports whether audio forwarding is currently suspended.
func (r *Recognizer) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// LastActivity returns the time of the last backend event (session open or
// transcript). The zero time means no session has been opened yet.
func (r *Recognizer) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// StartNewSession clears the accumulated text and delta, resumes audio
// forwarding, and asks the session loop to reopen a fresh backend stream.
// Buffered audio from the previous turn is discarded by the loop before the
// new session starts.
func (r *Recognizer) StartNewSession() {
	r.mu.Lock()
	r.finalBase = ""
	r.interim = ""
	r.prevText = ""
	r.delta = ""
	r.paused = false
	r.segmentStart = time.Time{}
	r.mu.Unlock()

	select {
	case r.restart <- struct{}{}:
	default:
	}
}

// Run consumes audio frames from sub and keeps a backend session open until
// ctx is cancelled. It never returns a backend error; sessions are reopened
// with backoff.
func (r *Recognizer) Run(ctx context.Context, sub *Subscription) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		reason, err := r.runSession(ctx, sub)
		if err != nil {
			r.logger.Warn("recognizer session failed",
				"subsystem", "recognizer", "error", err)
			r.metrics.RecordProviderError(ctx, "stt", "session")
			r.metrics.RecordSessionRestart(ctx, "error")
			if !sleepCtx(ctx, r.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}

		switch reason {
		case restartTurn:
			r.metrics.RecordSessionRestart(ctx, "turn")
		case restartWatchdog:
			r.metrics.RecordSessionRestart(ctx, "watchdog")
		case restartDone:
			return nil
		}
		if !sleepCtx(ctx, r.cfg.RestartDelay) {
			return nil
		}
	}
}

// restartReason says why a session loop iteration ended.
type restartReason int

const (
	restartDone restartReason = iota
	restartTurn
	restartWatchdog
	restartBackend
)

// runSession opens one backend session and pumps audio and results until a
// restart condition occurs.
func (r *Recognizer) runSession(ctx context.Context, sub *Subscription) (restartReason, error) {
	// Drop audio captured before this session existed.
	sub.Drain()
	// Clear any stale restart request left over from the previous session.
	select {
	case <-r.restart:
	default:
	}

	sess, err := r.provider.StartStream(ctx, r.cfg.Stream)
	if err != nil {
		r.metrics.RecordProviderRequest(ctx, "stt", "session", "error")
		return restartBackend, err
	}
	r.metrics.RecordProviderRequest(ctx, "stt", "session", "ok")
	defer sess.Close()

	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()

	sessionStart := time.Now()
	watchdog := time.NewTicker(r.cfg.WatchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return restartDone, nil

		case <-r.restart:
			return restartTurn, nil

		case frame, ok := <-sub.Frames():
			if !ok {
				return restartDone, nil
			}
			if r.Paused() {
				continue
			}
			if err := sess.SendAudio(frame.Data); err != nil {
				return restartBackend, err
			}

		case t, ok := <-sess.Results():
			if !ok {
				// Backend closed the stream; treat like a watchdog restart.
				r.logger.Debug("recognizer stream ended",
					"subsystem", "recognizer", "session_age", time.Since(sessionStart))
				return restartWatchdog, nil
			}
			r.fold(t)

		case <-watchdog.C:
			r.mu.Lock()
			stale := time.Since(r.lastActivity) > r.cfg.StalenessTimeout
			r.mu.Unlock()
			if stale {
				r.logger.Warn("recognizer inactive, restarting session",
					"subsystem", "recognizer", "staleness", r.cfg.StalenessTimeout)
				return restartWatchdog, nil
			}
		}
	}
}

// fold merges one transcription result into the cumulative text and updates
// the delta. Finalising a segment records its recognition latency.
func (r *Recognizer) fold(t stt.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.lastActivity = now

	if t.IsFinal {
		r.finalBase += t.Text
		r.interim = ""
		if !r.segmentStart.IsZero() {
			r.metrics.STTDuration.Record(context.Background(), now.Sub(r.segmentStart).Seconds())
			r.segmentStart = time.Time{}
		}
	} else {
		if r.segmentStart.IsZero() {
			r.segmentStart = now
		}
		r.interim = t.Text
	}

	text := r.finalBase + r.interim
	if strings.HasPrefix(text, r.prevText) {
		r.delta = text[len(r.prevText):]
	} else {
		r.delta = text
	}
	r.prevText = text
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
