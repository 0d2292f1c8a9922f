// Package config provides the configuration schema, loader, and provider
// registry for the aizuchi dialogue server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration that unmarshals from YAML strings such as
// "2s" or "750ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for aizuchi.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Providers ProvidersConfig `yaml:"providers"`
	Dialog    DialogConfig    `yaml:"dialog"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address for the Prometheus /metrics endpoint
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// AudioConfig describes the capture format and the audio device backends.
type AudioConfig struct {
	// SampleRate is the capture sample rate in Hz. Zero selects 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the capture frame duration in milliseconds. Zero selects 30.
	// Neural VAD backends typically accept only 10, 20, or 30.
	FrameMs int `yaml:"frame_ms"`

	// Input selects the capture backend (e.g., "portaudio", "pulse").
	Input ProviderEntry `yaml:"input"`

	// Output selects the playback backend.
	Output ProviderEntry `yaml:"output"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// Backchannel is the fast LLM that produces fillers from interim
	// transcripts.
	Backchannel ProviderEntry `yaml:"backchannel"`

	// Answer is the LLM that produces the substantive response.
	Answer ProviderEntry `yaml:"answer"`

	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// TTSFallback, when set, is tried after TTS fails to synthesize.
	TTSFallback ProviderEntry `yaml:"tts_fallback"`

	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "voicevox").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini",
	// "nova-2", an Edge voice name).
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`
}

// DialogConfig tunes turn-taking and the orchestrator.
type DialogConfig struct {
	// AllowInterrupt enables barge-in: speech detected during playback aborts
	// the current answer.
	AllowInterrupt bool `yaml:"allow_interrupt"`

	// BackchannelPrompt overrides the default system prompt of the
	// backchannel model.
	BackchannelPrompt string `yaml:"backchannel_prompt"`

	// AnswerPrompt overrides the default system prompt of the answer model.
	AnswerPrompt string `yaml:"answer_prompt"`

	// AnswerWaitTimeout bounds the wait for the answer's first chunk after
	// the backchannel has been spoken. Zero selects 2s.
	AnswerWaitTimeout Duration `yaml:"answer_wait_timeout"`

	// SpeechStartFrames is the speech-frame run after which an utterance is
	// considered started.
	SpeechStartFrames int `yaml:"speech_start_frames"`

	// SpeechEndFrames is the silence-frame run after which an utterance is
	// considered ended.
	SpeechEndFrames int `yaml:"speech_end_frames"`

	// PaddingMs is the silence window inside an utterance that does not reset
	// the speech run, so short pauses survive.
	PaddingMs int `yaml:"padding_ms"`

	// WatchdogTimeout is the maximum STT backend inactivity before the
	// recognition session is forcibly restarted. Zero selects 10s.
	WatchdogTimeout Duration `yaml:"watchdog_timeout"`
}
