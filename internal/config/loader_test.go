package config_test

import (
	"strings"
	"testing"

	"github.com/aizuchi-dev/aizuchi/internal/config"
)

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_NegativeSampleRate(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  sample_rate: -16000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative sample_rate, got nil")
	}
	if !strings.Contains(err.Error(), "sample_rate") {
		t.Errorf("error should mention sample_rate, got: %v", err)
	}
}

func TestValidate_FallbackWithoutPrimaryTTS(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  tts_fallback:
    name: edge
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for tts_fallback without tts, got nil")
	}
	if !strings.Contains(err.Error(), "tts_fallback") {
		t.Errorf("error should mention tts_fallback, got: %v", err)
	}
}

func TestValidate_NegativeDialogThresholds(t *testing.T) {
	t.Parallel()
	yaml := `
dialog:
  speech_start_frames: -1
  speech_end_frames: -2
  padding_ms: -100
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors for negative thresholds, got nil")
	}
	errStr := err.Error()
	for _, field := range []string{"speech_start_frames", "speech_end_frames", "padding_ms"} {
		if !strings.Contains(errStr, field) {
			t.Errorf("error should mention %s, got: %v", field, err)
		}
	}
}

func TestValidate_NegativeTimeout(t *testing.T) {
	t.Parallel()
	yaml := `
dialog:
  answer_wait_timeout: -2s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative answer_wait_timeout, got nil")
	}
	if !strings.Contains(err.Error(), "answer_wait_timeout") {
		t.Errorf("error should mention answer_wait_timeout, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
dialog:
  padding_ms: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "padding_ms") {
		t.Errorf("error should mention padding_ms, got: %v", err)
	}
}

func TestValidate_UnknownProviderNameIsWarningOnly(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: mystery-stt
  tts:
    name: voicevox
`
	// Unknown names warn (third-party providers are allowed), never error.
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
	for _, kind := range []string{"stt", "tts", "vad", "source", "sink"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] should not be empty", kind)
		}
	}
}
