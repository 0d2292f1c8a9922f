package config_test

import (
	"testing"

	"github.com/aizuchi-dev/aizuchi/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Dialog: config.DialogConfig{AllowInterrupt: true, SpeechEndFrames: 10},
		Providers: config.ProvidersConfig{
			TTS: config.ProviderEntry{Name: "voicevox", Options: map[string]any{"speaker": 1}},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.DialogChanged {
		t.Error("expected DialogChanged=false for identical configs")
	}
	if d.RestartRequired {
		t.Error("expected RestartRequired=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("a log level change must not require a restart")
	}
}

func TestDiff_DialogChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Dialog: config.DialogConfig{AllowInterrupt: false}}
	new := &config.Config{Dialog: config.DialogConfig{AllowInterrupt: true, SpeechEndFrames: 12}}

	d := config.Diff(old, new)
	if !d.DialogChanged {
		t.Error("expected DialogChanged=true")
	}
	if !d.NewDialog.AllowInterrupt || d.NewDialog.SpeechEndFrames != 12 {
		t.Errorf("NewDialog = %+v", d.NewDialog)
	}
	if d.RestartRequired {
		t.Error("a dialog tuning change must not require a restart")
	}
}

func TestDiff_ProviderChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "voicevox"}},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "edge"}},
	}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for a provider swap")
	}
}

func TestDiff_ProviderOptionChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{
			VAD: config.ProviderEntry{Name: "silero", Options: map[string]any{"threshold": 0.5}},
		},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{
			VAD: config.ProviderEntry{Name: "silero", Options: map[string]any{"threshold": 0.7}},
		},
	}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for a provider option change")
	}
}

func TestDiff_AudioDeviceChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Audio: config.AudioConfig{Input: config.ProviderEntry{Name: "portaudio"}},
	}
	new := &config.Config{
		Audio: config.AudioConfig{Input: config.ProviderEntry{Name: "pulse"}},
	}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for an audio backend swap")
	}
}
