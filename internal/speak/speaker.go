// Package speak implements the playback side of the dialogue loop: text goes
// in, interruptible audio comes out. A Speaker synthesises one sentence at a
// time through a synthesizer fallback group and plays it on an audio sink,
// polling an interrupt signal so a barge-in can cut the utterance short.
package speak

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/aizuchi-dev/aizuchi/internal/observe"
	"github.com/aizuchi-dev/aizuchi/internal/resilience"
	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts"
)

// defaultPollInterval is the cadence at which Speak checks playback progress
// and the interrupt signal.
const defaultPollInterval = 10 * time.Millisecond

// Interrupt is a level-triggered barge-in signal. Implemented by
// dialog.InterruptFlag.
type Interrupt interface {
	IsSet() bool
}

// SpeakerConfig configures a Speaker.
type SpeakerConfig struct {
	// Voice is passed to every synthesis request.
	Voice tts.Voice

	// OutputFormat, when non-zero, is the format the sink expects; synthesis
	// output in any other format is downmixed/resampled before playback.
	OutputFormat audio.Format

	// PollInterval is the sleep between playback/interrupt checks. Zero
	// selects the default.
	PollInterval time.Duration
}

// Speaker turns text into audible speech. Synthesis goes through a fallback
// group so a dead primary backend degrades to the fallback instead of muting
// the system. At most one utterance plays at a time; starting a new one stops
// whatever is still sounding.
type Speaker struct {
	synth   *resilience.FallbackGroup[tts.Synthesizer]
	sink    audio.Sink
	cfg     SpeakerConfig
	logger  *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	playback audio.Playback
}

// NewSpeaker creates a Speaker over the given synthesizer group and sink.
func NewSpeaker(synth *resilience.FallbackGroup[tts.Synthesizer], sink audio.Sink, cfg SpeakerConfig, logger *slog.Logger, metrics *observe.Metrics) *Speaker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Speaker{
		synth:   synth,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Speak synthesises text and plays it to completion, polling interrupt along
// the way. It returns interrupted=true when the utterance was cut short by
// the interrupt signal; playback is stopped exactly once in that case. Empty
// or whitespace-only text is a successful no-op. Any utterance still playing
// from a previous call is stopped first.
func (s *Speaker) Speak(ctx context.Context, text string, interrupt Interrupt) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}

	s.Stop()

	start := time.Now()
	a, err := resilience.ExecuteWithResult(s.synth, func(sy tts.Synthesizer) (*tts.Audio, error) {
		return sy.Synthesize(ctx, text, s.cfg.Voice)
	})
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "error")
		s.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return false, fmt.Errorf("speak: synthesize: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "ok")
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("voice", s.cfg.Voice.ID)))

	pcm, format := a.PCM, a.Format
	if s.cfg.OutputFormat != (audio.Format{}) && format != s.cfg.OutputFormat {
		pcm = audio.ToPlaybackFormat(pcm, format, s.cfg.OutputFormat)
		format = s.cfg.OutputFormat
	}

	pb, err := s.sink.Play(ctx, pcm, format)
	if err != nil {
		return false, fmt.Errorf("speak: play: %w", err)
	}

	s.mu.Lock()
	s.playback = pb
	s.mu.Unlock()
	s.metrics.PlaybackActive.Add(ctx, 1)
	defer func() {
		s.metrics.PlaybackActive.Add(ctx, -1)
		s.mu.Lock()
		if s.playback == pb {
			s.playback = nil
		}
		s.mu.Unlock()
	}()

	s.logger.Debug("speaking", "subsystem", "speaker", "text", text,
		"duration", format.Duration(len(pcm)))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if interrupt != nil && interrupt.IsSet() {
			if err := pb.Stop(); err != nil {
				s.logger.Warn("playback stop failed", "subsystem", "speaker", "error", err)
			}
			return true, nil
		}
		if !pb.IsPlaying() {
			return false, nil
		}
		select {
		case <-ctx.Done():
			if err := pb.Stop(); err != nil {
				s.logger.Warn("playback stop failed", "subsystem", "speaker", "error", err)
			}
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsPlaying reports whether an utterance is currently sounding.
func (s *Speaker) IsPlaying() bool {
	s.mu.Lock()
	pb := s.playback
	s.mu.Unlock()
	return pb != nil && pb.IsPlaying()
}

// Stop halts any in-flight playback. Safe to call when nothing is playing.
func (s *Speaker) Stop() {
	s.mu.Lock()
	pb := s.playback
	s.playback = nil
	s.mu.Unlock()
	if pb != nil && pb.IsPlaying() {
		if err := pb.Stop(); err != nil {
			s.logger.Warn("playback stop failed", "subsystem", "speaker", "error", err)
		}
	}
}
