package listen

import (
	"log/slog"
	"sync"

	"github.com/aizuchi-dev/aizuchi/pkg/provider/vad"
)

// Detector defaults, in frames. At 10 ms per frame the start and end
// thresholds are 100 ms of sustained speech/silence and the padding window
// is half a second.
const (
	defaultStartThreshold = 10
	defaultEndThreshold   = 10
	defaultPaddingFrames  = 50
)

// DetectorConfig tunes the run-length smoothing applied on top of the
// per-frame VAD classification.
type DetectorConfig struct {
	// StartThreshold is the number of consecutive-ish speech frames after
	// which SpeechStarted reports true.
	StartThreshold int

	// EndThreshold is the silence-run length the listener compares against
	// to decide the utterance has ended.
	EndThreshold int

	// PaddingFrames is the silence-run length below which the speech run is
	// preserved. Short pauses inside an utterance do not zero the speech
	// run; only a silence run longer than the padding window does.
	PaddingFrames int
}

// withDefaults fills unset fields.
func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.StartThreshold <= 0 {
		c.StartThreshold = defaultStartThreshold
	}
	if c.EndThreshold <= 0 {
		c.EndThreshold = defaultEndThreshold
	}
	if c.PaddingFrames <= 0 {
		c.PaddingFrames = defaultPaddingFrames
	}
	return c
}

// Detector feeds fixed-size frames to a VAD session and tracks speech and
// silence run lengths. A speech frame increments the speech run and zeroes
// the silence run; a silence frame increments the silence run and zeroes the
// speech run only once the silence run exceeds the padding window.
//
// Detector is safe for concurrent use: one goroutine processes frames while
// others read the derived predicates.
type Detector struct {
	session vad.Session
	cfg     DetectorConfig
	logger  *slog.Logger

	mu         sync.Mutex
	isSpeech   bool
	speechRun  int
	silenceRun int
}

// NewDetector creates a Detector over the given VAD session.
func NewDetector(session vad.Session, cfg DetectorConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		session: session,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// SetConfig replaces the run-length tuning. The counters are kept; the new
// thresholds apply from the next frame.
func (d *Detector) SetConfig(cfg DetectorConfig) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// ProcessFrame classifies one frame and updates the run counters. A VAD
// error (typically a malformed frame) retains the previous classification
// and leaves the counters untouched.
func (d *Detector) ProcessFrame(frame []byte) bool {
	isSpeech, err := d.session.ProcessFrame(frame)
	if err != nil {
		d.logger.Debug("vad frame skipped", "subsystem", "detector", "error", err)
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.isSpeech
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.isSpeech = isSpeech
	if isSpeech {
		d.silenceRun = 0
		d.speechRun++
	} else {
		d.silenceRun++
		if d.silenceRun > d.cfg.PaddingFrames {
			d.speechRun = 0
		}
	}
	return isSpeech
}

// IsSpeech reports the most recent frame classification.
func (d *Detector) IsSpeech() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isSpeech
}

// SpeechRun returns the current speech run length in frames.
func (d *Detector) SpeechRun() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speechRun
}

// SilenceRun returns the current silence run length in frames.
func (d *Detector) SilenceRun() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silenceRun
}

// SpeechStarted reports whether the speech run exceeds the start threshold.
func (d *Detector) SpeechStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speechRun > d.cfg.StartThreshold
}

// SilenceExceedsEnd reports whether the silence run exceeds the end
// threshold. The listener combines this with a non-empty transcript to form
// the speech-ended predicate.
func (d *Detector) SilenceExceedsEnd() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silenceRun > d.cfg.EndThreshold
}

// Reset zeroes the counters and resets the VAD session's internal state.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.isSpeech = false
	d.speechRun = 0
	d.silenceRun = 0
	d.mu.Unlock()
	d.session.Reset()
}
