// Package energy implements a dependency-free VAD engine based on short-term
// RMS energy. It classifies a frame as speech when its root-mean-square
// amplitude (normalised to [0, 1]) exceeds the configured threshold.
//
// The energy gate is far less robust than a neural detector against
// background noise, but it has zero startup cost and no model file, which
// makes it the default for tests and quick local setups. Production setups
// should prefer the silero package.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/vad"
)

// defaultThreshold is the normalised RMS level above which a frame counts as
// speech when the config leaves Threshold at zero. Typical speech at
// conversational distance lands around 0.05–0.3.
const defaultThreshold = 0.02

// Engine implements vad.Engine using an RMS energy gate.
type Engine struct{}

// New creates an energy-gate VAD engine.
func New() *Engine { return &Engine{} }

// NewSession creates an energy-gate session.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("energy: threshold %g out of range [0, 1]", threshold)
	}
	return &session{threshold: threshold}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu        sync.Mutex
	threshold float64
	closed    bool
}

// ProcessFrame computes the normalised RMS of the frame and compares it to
// the threshold.
func (s *session) ProcessFrame(frame []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("energy: session is closed")
	}
	if len(frame) < 2 {
		return false, fmt.Errorf("energy: frame too short (%d bytes)", len(frame))
	}

	samples := audio.Int16Samples(frame)
	var sum float64
	for _, v := range samples {
		f := float64(v) / 32768
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return rms > s.threshold, nil
}

// Reset is a no-op: the energy gate holds no cross-frame state.
func (s *session) Reset() {}

// Close marks the session closed.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure session implements vad.Session at compile time.
var _ vad.Session = (*session)(nil)
