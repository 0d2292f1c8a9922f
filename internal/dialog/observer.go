package dialog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aizuchi-dev/aizuchi/internal/observe"
)

// defaultObserverInterval is the sampling cadence for barge-in detection.
const defaultObserverInterval = 10 * time.Millisecond

// SpeechState is the slice of the listener the observer samples.
type SpeechState interface {
	SpeechStarted() bool
}

// PlaybackState is the slice of the speaker the observer samples.
type PlaybackState interface {
	IsPlaying() bool
}

// ObserverConfig configures the interruption Observer.
type ObserverConfig struct {
	// AllowInterrupt controls whether a detected barge-in raises the shared
	// flag. When false, detections are logged but the flag is left alone.
	AllowInterrupt bool

	// Interval is the sampling period. Zero selects the default.
	Interval time.Duration
}

// Observer periodically samples "is the user speaking while we are playing"
// and raises the shared interrupt flag on overlap. It never clears the flag;
// that is the orchestrator's job at turn boundaries.
type Observer struct {
	speech   SpeechState
	playback PlaybackState
	flag     *InterruptFlag
	cfg      ObserverConfig
	logger   *slog.Logger
	metrics  *observe.Metrics

	mu    sync.Mutex
	allow bool
	prev  bool
}

// NewObserver creates an Observer over the given states and shared flag.
func NewObserver(speech SpeechState, playback PlaybackState, flag *InterruptFlag, cfg ObserverConfig, logger *slog.Logger, metrics *observe.Metrics) *Observer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultObserverInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Observer{
		speech:   speech,
		playback: playback,
		flag:     flag,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		allow:    cfg.AllowInterrupt,
	}
}

// SetAllowInterrupt flips barge-in handling at runtime. Used by the config
// reload path.
func (o *Observer) SetAllowInterrupt(allow bool) {
	o.mu.Lock()
	o.allow = allow
	o.mu.Unlock()
}

// Run samples until ctx is cancelled.
func (o *Observer) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.Sample(ctx)
		}
	}
}

// Sample takes one barge-in reading. Exported so tests can drive the observer
// without its ticker.
func (o *Observer) Sample(ctx context.Context) {
	overlap := o.speech.SpeechStarted() && o.playback.IsPlaying()

	o.mu.Lock()
	rising := overlap && !o.prev
	o.prev = overlap
	allow := o.allow
	o.mu.Unlock()

	if !overlap {
		return
	}
	if !allow {
		if rising {
			o.logger.Info("interruption detected, but not allowed",
				"subsystem", "observer")
		}
		return
	}
	o.flag.Set()
	if rising {
		o.logger.Info("interruption detected", "subsystem", "observer")
		o.metrics.Interruptions.Add(ctx, 1)
	}
}
