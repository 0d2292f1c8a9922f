package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":    {"deepgram", "vosk"},
	"tts":    {"voicevox", "edge"},
	"vad":    {"silero", "energy"},
	"source": {"portaudio", "pulse"},
	"sink":   {"portaudio", "pulse"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMs < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must not be negative", cfg.Audio.FrameMs))
	}
	if cfg.Audio.FrameMs != 0 && cfg.Audio.FrameMs != 10 && cfg.Audio.FrameMs != 20 && cfg.Audio.FrameMs != 30 {
		slog.Warn("audio.frame_ms is outside the 10/20/30 set supported by neural VAD backends",
			"frame_ms", cfg.Audio.FrameMs)
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.Backchannel.Name)
	validateProviderName("llm", cfg.Providers.Answer.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("source", cfg.Audio.Input.Name)
	validateProviderName("sink", cfg.Audio.Output.Name)

	// Provider availability warnings
	if cfg.Providers.Backchannel.Name == "" && cfg.Providers.Answer.Name == "" {
		slog.Warn("no LLM providers configured; the dialogue loop will not generate responses")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is empty; user speech will not be transcribed")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is empty; responses will not be spoken")
	}

	// A fallback without a primary is a misconfiguration, not a degraded mode.
	if cfg.Providers.TTSFallback.Name != "" && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts_fallback is set but providers.tts is not"))
	}

	// Dialog
	if cfg.Dialog.SpeechStartFrames < 0 {
		errs = append(errs, fmt.Errorf("dialog.speech_start_frames %d must not be negative", cfg.Dialog.SpeechStartFrames))
	}
	if cfg.Dialog.SpeechEndFrames < 0 {
		errs = append(errs, fmt.Errorf("dialog.speech_end_frames %d must not be negative", cfg.Dialog.SpeechEndFrames))
	}
	if cfg.Dialog.PaddingMs < 0 {
		errs = append(errs, fmt.Errorf("dialog.padding_ms %d must not be negative", cfg.Dialog.PaddingMs))
	}
	if cfg.Dialog.AnswerWaitTimeout < 0 {
		errs = append(errs, fmt.Errorf("dialog.answer_wait_timeout %s must not be negative", cfg.Dialog.AnswerWaitTimeout.Std()))
	}
	if cfg.Dialog.WatchdogTimeout < 0 {
		errs = append(errs, fmt.Errorf("dialog.watchdog_timeout %s must not be negative", cfg.Dialog.WatchdogTimeout.Std()))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
