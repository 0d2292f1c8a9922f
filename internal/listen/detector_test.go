package listen

import (
	"errors"
	"testing"

	vadmock "github.com/aizuchi-dev/aizuchi/pkg/provider/vad/mock"
)

var errMalformed = errors.New("malformed frame")

// scriptSession returns a mock VAD session that classifies frames according
// to the given verdicts.
func scriptSession(verdicts ...bool) *vadmock.Session {
	return &vadmock.Session{Verdicts: verdicts}
}

func TestDetector_SpeechRunAccumulates(t *testing.T) {
	t.Parallel()

	sess := scriptSession(true, true, true)
	d := NewDetector(sess, DetectorConfig{StartThreshold: 2}, nil)

	frame := make([]byte, 320)
	for i := 0; i < 3; i++ {
		d.ProcessFrame(frame)
	}

	if got := d.SpeechRun(); got != 3 {
		t.Errorf("speech run = %d, want 3", got)
	}
	if !d.SpeechStarted() {
		t.Error("expected SpeechStarted after 3 speech frames with threshold 2")
	}
	if got := d.SilenceRun(); got != 0 {
		t.Errorf("silence run = %d, want 0", got)
	}
}

func TestDetector_PaddingPreservesSpeechRun(t *testing.T) {
	t.Parallel()

	// 12 speech frames then 3 silence frames with a padding window of 5:
	// the speech run must survive the short silence.
	verdicts := make([]bool, 0, 15)
	for i := 0; i < 12; i++ {
		verdicts = append(verdicts, true)
	}
	for i := 0; i < 3; i++ {
		verdicts = append(verdicts, false)
	}

	d := NewDetector(scriptSession(verdicts...), DetectorConfig{
		StartThreshold: 10,
		PaddingFrames:  5,
	}, nil)

	frame := make([]byte, 320)
	for i := 0; i < 11; i++ {
		d.ProcessFrame(frame)
	}
	if !d.SpeechStarted() {
		t.Fatal("expected SpeechStarted after 11 speech frames")
	}

	for i := 0; i < 4; i++ {
		d.ProcessFrame(frame)
	}
	if !d.SpeechStarted() {
		t.Error("short silence inside the padding window must not clear the speech run")
	}
	if got := d.SilenceRun(); got != 3 {
		t.Errorf("silence run = %d, want 3", got)
	}
}

func TestDetector_LongSilenceClearsSpeechRun(t *testing.T) {
	t.Parallel()

	verdicts := []bool{true, true, true, false, false, false, false}
	d := NewDetector(scriptSession(verdicts...), DetectorConfig{
		StartThreshold: 2,
		PaddingFrames:  3,
	}, nil)

	frame := make([]byte, 320)
	for range verdicts {
		d.ProcessFrame(frame)
	}

	if got := d.SpeechRun(); got != 0 {
		t.Errorf("speech run = %d, want 0 after silence beyond padding", got)
	}
	if d.SpeechStarted() {
		t.Error("SpeechStarted must be false after the padding window is exceeded")
	}
}

func TestDetector_ErrorRetainsPreviousClassification(t *testing.T) {
	t.Parallel()

	sess := scriptSession(true)
	d := NewDetector(sess, DetectorConfig{}, nil)

	frame := make([]byte, 320)
	if got := d.ProcessFrame(frame); !got {
		t.Fatal("first frame should classify as speech")
	}

	sess.ProcessFrameErr = errMalformed
	if got := d.ProcessFrame(frame); !got {
		t.Error("error must retain the previous (speech) classification")
	}
	if got := d.SpeechRun(); got != 1 {
		t.Errorf("speech run = %d, want 1 (error frames do not count)", got)
	}
}

func TestDetector_ResetClearsCountersAndSession(t *testing.T) {
	t.Parallel()

	sess := scriptSession(true, true)
	d := NewDetector(sess, DetectorConfig{}, nil)

	frame := make([]byte, 320)
	d.ProcessFrame(frame)
	d.ProcessFrame(frame)
	d.Reset()

	if d.SpeechRun() != 0 || d.SilenceRun() != 0 || d.IsSpeech() {
		t.Error("Reset must zero all detector state")
	}
	if sess.ResetCallCount != 1 {
		t.Errorf("session Reset calls = %d, want 1", sess.ResetCallCount)
	}
}

func TestDetector_SetConfigAppliesNewThresholds(t *testing.T) {
	t.Parallel()

	sess := scriptSession(true, true, true)
	d := NewDetector(sess, DetectorConfig{StartThreshold: 10}, nil)

	frame := make([]byte, 320)
	for i := 0; i < 3; i++ {
		d.ProcessFrame(frame)
	}
	if d.SpeechStarted() {
		t.Fatal("3 speech frames must not clear a threshold of 10")
	}

	// Lowering the threshold re-evaluates the run already accumulated.
	d.SetConfig(DetectorConfig{StartThreshold: 2})
	if !d.SpeechStarted() {
		t.Error("the lowered threshold must apply to the existing speech run")
	}
	if got := d.SpeechRun(); got != 3 {
		t.Errorf("speech run = %d, want 3 (SetConfig keeps the counters)", got)
	}
}
