// Package silero implements a VAD engine backed by the Silero VAD ONNX model
// via github.com/streamer45/silero-vad-go.
//
// The model operates on fixed 512-sample frames at 16kHz (256 at 8kHz) of
// float32 input. The streaming API reports speech start/end events; the
// session turns those edges back into a per-frame boolean by tracking the
// in-speech state between events.
package silero

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/vad"
)

// defaultThreshold is Silero's recommended speech probability cutoff.
const defaultThreshold = 0.5

// Engine implements vad.Engine backed by the Silero ONNX model.
type Engine struct {
	modelPath string
}

// New creates a Silero engine loading the ONNX model from modelPath. The
// model file is opened lazily per session, since each detector carries its
// own inference state.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero: modelPath must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession creates a detector instance for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if cfg.SampleRate != 8000 && cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", cfg.SampleRate)
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  e.modelPath,
		SampleRate: cfg.SampleRate,
		Threshold:  float32(threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	return &session{detector: detector}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu       sync.Mutex
	detector *speech.Detector
	inSpeech bool
	closed   bool
}

// ProcessFrame runs one frame through the streaming detector and reports the
// resulting in-speech state. The frame must be 512 samples at 16kHz (256 at
// 8kHz) of 16-bit PCM.
func (s *session) ProcessFrame(frame []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("silero: session is closed")
	}

	event, err := s.detector.DetectStreamFrame(audio.Float32Samples(frame))
	if err != nil {
		// The detector can desynchronise if end events arrive out of order;
		// reset its state and report silence for this frame.
		s.detector.Reset()
		s.inSpeech = false
		return false, fmt.Errorf("silero: detect frame: %w", err)
	}
	if event != nil {
		if event.IsStart {
			s.inSpeech = true
		}
		if event.IsEnd {
			s.inSpeech = false
		}
	}
	return s.inSpeech, nil
}

// Reset clears the detector's streaming state.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.detector.Reset()
	s.inSpeech = false
}

// Close releases the ONNX runtime resources held by the detector.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.detector.Destroy()
}

// Ensure session implements vad.Session at compile time.
var _ vad.Session = (*session)(nil)
