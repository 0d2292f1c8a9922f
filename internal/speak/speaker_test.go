package speak

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aizuchi-dev/aizuchi/internal/observe"
	"github.com/aizuchi-dev/aizuchi/internal/resilience"
	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	audiomock "github.com/aizuchi-dev/aizuchi/pkg/audio/mock"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts"
	ttsmock "github.com/aizuchi-dev/aizuchi/pkg/provider/tts/mock"
)

// flag is a minimal Interrupt implementation for tests.
type flag struct {
	mu  sync.Mutex
	set bool
}

func (f *flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

func (f *flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = true
}

func newSpeaker(synth tts.Synthesizer, sink audio.Sink, cfg SpeakerConfig) *Speaker {
	group := resilience.NewFallbackGroup(synth, "primary", resilience.FallbackConfig{})
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	return NewSpeaker(group, sink, cfg, nil, nil)
}

func TestSpeaker_EmptyTextIsNoOp(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{}
	sink := &audiomock.Sink{}
	s := newSpeaker(synth, sink, SpeakerConfig{})

	interrupted, err := s.Speak(context.Background(), "  \n", nil)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if interrupted {
		t.Error("empty text cannot be interrupted")
	}
	if synth.SynthesizeCallCount() != 0 {
		t.Error("empty text must not reach the synthesizer")
	}
	if len(sink.PlayCalls) != 0 {
		t.Error("empty text must not reach the sink")
	}
}

func TestSpeaker_SpeaksToCompletion(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{}
	sink := &audiomock.Sink{AutoFinish: true}
	s := newSpeaker(synth, sink, SpeakerConfig{})

	interrupted, err := s.Speak(context.Background(), "こんにちは。", nil)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if interrupted {
		t.Error("uninterrupted playback must report interrupted=false")
	}
	if got := synth.Texts(); len(got) != 1 || got[0] != "こんにちは。" {
		t.Errorf("synthesized texts = %v", got)
	}
	if len(sink.PlayCalls) != 1 {
		t.Fatalf("play calls = %d, want 1", len(sink.PlayCalls))
	}
	if got := sink.LastPlayback().StopCallCount; got != 0 {
		t.Errorf("Stop calls = %d, want 0 for natural completion", got)
	}
}

func TestSpeaker_InterruptStopsPlaybackOnce(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{}
	sink := &audiomock.Sink{} // playback stays live until stopped
	s := newSpeaker(synth, sink, SpeakerConfig{})

	f := &flag{}
	f.Set()

	interrupted, err := s.Speak(context.Background(), "長い話です。", f)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if !interrupted {
		t.Fatal("Speak must report the interruption")
	}
	if got := sink.LastPlayback().StopCallCount; got != 1 {
		t.Errorf("Stop calls = %d, want exactly 1", got)
	}
}

func TestSpeaker_NewSpeakStopsPreviousUtterance(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{}
	sink := &audiomock.Sink{}
	s := newSpeaker(synth, sink, SpeakerConfig{})

	first := make(chan struct{})
	go func() {
		defer close(first)
		if _, err := s.Speak(context.Background(), "一つ目。", nil); err != nil {
			t.Errorf("first Speak: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !s.IsPlaying() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.IsPlaying() {
		t.Fatal("first utterance never started")
	}

	second := make(chan struct{})
	go func() {
		defer close(second)
		if _, err := s.Speak(context.Background(), "二つ目。", nil); err != nil {
			t.Errorf("second Speak: %v", err)
		}
	}()

	// The first playback must be cut as the second one starts.
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("first Speak never returned after being displaced")
	}

	for sink.PlayCallCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sink.PlayCallCount() != 2 {
		t.Fatal("second utterance never started")
	}
	if got := sink.PlayCalls[0].Playback.StopCallCount; got != 1 {
		t.Errorf("first playback Stop calls = %d, want 1", got)
	}

	// Let the second utterance finish naturally.
	sink.LastPlayback().SetPlaying(false)
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second Speak never returned")
	}
}

func TestSpeaker_FallbackCoversPrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Synthesizer{SynthesizeErr: errors.New("engine down")}
	fallback := &ttsmock.Synthesizer{}
	sink := &audiomock.Sink{AutoFinish: true}

	group := resilience.NewFallbackGroup[tts.Synthesizer](primary, "primary", resilience.FallbackConfig{})
	group.AddFallback("fallback", fallback)
	s := NewSpeaker(group, sink, SpeakerConfig{PollInterval: time.Millisecond}, nil, nil)

	if _, err := s.Speak(context.Background(), "大丈夫。", nil); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if primary.SynthesizeCallCount() != 1 || fallback.SynthesizeCallCount() != 1 {
		t.Errorf("call counts = (%d, %d), want (1, 1)",
			primary.SynthesizeCallCount(), fallback.SynthesizeCallCount())
	}
	if len(sink.PlayCalls) != 1 {
		t.Errorf("play calls = %d, want 1", len(sink.PlayCalls))
	}
}

func TestSpeaker_AllSynthesizersFailing(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{SynthesizeErr: errors.New("engine down")}
	sink := &audiomock.Sink{}
	s := newSpeaker(synth, sink, SpeakerConfig{})

	_, err := s.Speak(context.Background(), "聞こえますか。", nil)
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if len(sink.PlayCalls) != 0 {
		t.Error("failed synthesis must not reach the sink")
	}
}

func TestSpeaker_ConvertsToOutputFormat(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Audio: &tts.Audio{
		PCM:    make([]byte, 480), // 240 samples at 24 kHz mono
		Format: audio.Format{SampleRate: 24000, Channels: 1},
	}}
	sink := &audiomock.Sink{AutoFinish: true}
	out := audio.Format{SampleRate: 16000, Channels: 1}
	s := newSpeaker(synth, sink, SpeakerConfig{OutputFormat: out})

	if _, err := s.Speak(context.Background(), "変換。", nil); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	call := sink.PlayCalls[0]
	if call.Format != out {
		t.Errorf("played format = %+v, want %+v", call.Format, out)
	}
	if want := 320; len(call.PCM) != want { // 240 samples * 16/24 = 160 samples
		t.Errorf("played pcm = %d bytes, want %d", len(call.PCM), want)
	}
}

func TestSpeaker_RecordsSynthesisRequests(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	group := resilience.NewFallbackGroup[tts.Synthesizer](&ttsmock.Synthesizer{}, "primary", resilience.FallbackConfig{})
	s := NewSpeaker(group, &audiomock.Sink{AutoFinish: true}, SpeakerConfig{PollInterval: time.Millisecond}, nil, m)
	if _, err := s.Speak(context.Background(), "こんにちは。", nil); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	failing := resilience.NewFallbackGroup[tts.Synthesizer](
		&ttsmock.Synthesizer{SynthesizeErr: errors.New("engine down")}, "primary", resilience.FallbackConfig{})
	sf := NewSpeaker(failing, &audiomock.Sink{}, SpeakerConfig{PollInterval: time.Millisecond}, nil, m)
	if _, err := sf.Speak(context.Background(), "聞こえますか。", nil); err == nil {
		t.Fatal("expected synthesis failure")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "aizuchi.provider.requests" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("metric is not a sum")
			}
			for _, dp := range sum.DataPoints {
				for _, kv := range dp.Attributes.ToSlice() {
					if string(kv.Key) == "status" {
						got[kv.Value.AsString()] += dp.Value
					}
				}
			}
		}
	}
	if got["ok"] != 1 {
		t.Errorf("ok requests = %d, want 1", got["ok"])
	}
	if got["error"] != 1 {
		t.Errorf("error requests = %d, want 1", got["error"])
	}
}
