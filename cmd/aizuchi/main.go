// Command aizuchi is the main entry point for the aizuchi spoken-dialogue
// server: it wires microphone capture, VAD, streaming STT, the twin LLM
// generation channels, TTS, and the turn orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/aizuchi-dev/aizuchi/internal/config"
	"github.com/aizuchi-dev/aizuchi/internal/dialog"
	"github.com/aizuchi-dev/aizuchi/internal/generation"
	"github.com/aizuchi-dev/aizuchi/internal/health"
	"github.com/aizuchi-dev/aizuchi/internal/listen"
	"github.com/aizuchi-dev/aizuchi/internal/observe"
	"github.com/aizuchi-dev/aizuchi/internal/resilience"
	"github.com/aizuchi-dev/aizuchi/internal/speak"
	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/audio/portaudio"
	"github.com/aizuchi-dev/aizuchi/pkg/audio/pulse"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/llm"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/llm/anyllm"
	oai "github.com/aizuchi-dev/aizuchi/pkg/provider/llm/openai"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/stt"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/stt/deepgram"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/stt/vosk"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts/edge"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts/voicevox"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/vad"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/vad/energy"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/vad/silero"
)

const (
	defaultSampleRate = 16000
	defaultFrameMs    = 30
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aizuchi: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aizuchi: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("aizuchi starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"allow_interrupt", cfg.Dialog.AllowInterrupt,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "aizuchi"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Capture format ────────────────────────────────────────────────────────
	sampleRate := cfg.Audio.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	frameMs := cfg.Audio.FrameMs
	if frameMs == 0 {
		frameMs = defaultFrameMs
	}
	captureFormat := audio.Format{SampleRate: sampleRate, Channels: 1}
	frameDuration := time.Duration(frameMs) * time.Millisecond

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, captureFormat, frameDuration)

	printStartupSummary(cfg)

	// ── Build the pipeline ────────────────────────────────────────────────────
	pl, err := buildPipeline(cfg, reg, captureFormat, sampleRate, frameMs, logger, metrics)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}
	defer pl.close()

	// ── Config reload ─────────────────────────────────────────────────────────
	// Log level and dialog tuning are applied live; provider and audio device
	// changes only take effect after a restart.
	watcher, err := config.NewWatcher(*configPath, func(prev, next *config.Config) {
		applyConfigChange(config.Diff(prev, next), logLevel, pl)
	})
	if err != nil {
		slog.Warn("config reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Metrics and health endpoints ──────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health.New(
			health.Checker{Name: "capture", Check: func(context.Context) error {
				if f := pl.source.Format(); f.SampleRate <= 0 {
					return fmt.Errorf("capture source reports format %+v", f)
				}
				return nil
			}},
			health.Checker{Name: "recognition", Check: func(context.Context) error {
				return pl.listener.Healthy()
			}},
		).Register(mux)
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pl.listener.Run(gctx) })
	g.Go(func() error { return pl.observer.Run(gctx) })
	g.Go(func() error { return pl.loop.Run(gctx) })
	if metricsSrv != nil {
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// pipeline holds the assembled runtime components and the resources to
// release on shutdown.
type pipeline struct {
	listener    *listen.Listener
	observer    *dialog.Observer
	loop        *dialog.Loop
	backchannel *generation.Channel
	answer      *generation.Channel

	source     audio.Source
	sink       audio.Sink
	vadSession vad.Session

	// frameMs is the capture frame length, needed to convert reloaded padding
	// durations into frame counts.
	frameMs int
}

func (p *pipeline) close() {
	if p.vadSession != nil {
		if err := p.vadSession.Close(); err != nil {
			slog.Warn("vad session close error", "err", err)
		}
	}
	if p.source != nil {
		if err := p.source.Close(); err != nil {
			slog.Warn("audio source close error", "err", err)
		}
	}
	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			slog.Warn("audio sink close error", "err", err)
		}
	}
}

// buildPipeline instantiates every configured provider and assembles the
// listener, speaker, generation channels, and orchestrator.
func buildPipeline(cfg *config.Config, reg *config.Registry, captureFormat audio.Format, sampleRate, frameMs int, logger *slog.Logger, metrics *observe.Metrics) (*pipeline, error) {
	p := &pipeline{frameMs: frameMs}

	// Providers.
	bcProvider, err := reg.CreateLLM(cfg.Providers.Backchannel)
	if err != nil {
		return nil, fmt.Errorf("create backchannel provider %q: %w", cfg.Providers.Backchannel.Name, err)
	}
	ansProvider, err := reg.CreateLLM(cfg.Providers.Answer)
	if err != nil {
		return nil, fmt.Errorf("create answer provider %q: %w", cfg.Providers.Answer.Name, err)
	}
	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	synth, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	vadEngine, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", cfg.Providers.VAD.Name, err)
	}
	p.source, err = reg.CreateSource(cfg.Audio.Input)
	if err != nil {
		return nil, fmt.Errorf("create audio source %q: %w", cfg.Audio.Input.Name, err)
	}
	p.sink, err = reg.CreateSink(cfg.Audio.Output)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("create audio sink %q: %w", cfg.Audio.Output.Name, err)
	}

	// Listening side.
	p.vadSession, err = vadEngine.NewSession(vad.Config{
		SampleRate: sampleRate,
		Threshold:  optFloat(cfg.Providers.VAD.Options, "threshold"),
	})
	if err != nil {
		p.close()
		return nil, fmt.Errorf("open vad session: %w", err)
	}

	paddingFrames := 0
	if cfg.Dialog.PaddingMs > 0 && frameMs > 0 {
		paddingFrames = cfg.Dialog.PaddingMs / frameMs
	}
	p.listener = listen.NewListener(p.source, p.vadSession, sttProvider, listen.ListenerConfig{
		Detector: listen.DetectorConfig{
			StartThreshold: cfg.Dialog.SpeechStartFrames,
			EndThreshold:   cfg.Dialog.SpeechEndFrames,
			PaddingFrames:  paddingFrames,
		},
		Recognizer: listen.RecognizerConfig{
			Stream: stt.StreamConfig{
				SampleRate: sampleRate,
				Channels:   captureFormat.Channels,
				Language:   optString(cfg.Providers.STT.Options, "language"),
			},
			StalenessTimeout: cfg.Dialog.WatchdogTimeout.Std(),
		},
	}, logger, metrics)

	// Speaking side, with optional synthesizer failover.
	group := resilience.NewFallbackGroup(synth, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
	if name := cfg.Providers.TTSFallback.Name; name != "" {
		fallback, err := reg.CreateTTS(cfg.Providers.TTSFallback)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("create tts fallback %q: %w", name, err)
		}
		group.AddFallback(name, fallback)
	}
	speaker := speak.NewSpeaker(group, p.sink, speak.SpeakerConfig{
		Voice: voiceFromEntry(cfg.Providers.TTS),
	}, logger, metrics)

	// Generation channels over a shared history.
	history := &dialog.History{}
	bcPrompt := cfg.Dialog.BackchannelPrompt
	if bcPrompt == "" {
		bcPrompt = dialog.DefaultBackchannelPrompt
	}
	ansPrompt := cfg.Dialog.AnswerPrompt
	if ansPrompt == "" {
		ansPrompt = dialog.DefaultAnswerPrompt
	}
	p.backchannel = generation.NewChannel(bcProvider, generation.ChannelConfig{
		Name:         "backchannel",
		SystemPrompt: bcPrompt,
		Separators:   generation.BackchannelSeparators,
		Temperature:  optFloat(cfg.Providers.Backchannel.Options, "temperature"),
		MaxTokens:    optInt(cfg.Providers.Backchannel.Options, "max_tokens"),
	}, history, logger, metrics)
	p.answer = generation.NewChannel(ansProvider, generation.ChannelConfig{
		Name:         "answer",
		SystemPrompt: ansPrompt,
		Temperature:  optFloat(cfg.Providers.Answer.Options, "temperature"),
		MaxTokens:    optInt(cfg.Providers.Answer.Options, "max_tokens"),
	}, history, logger, metrics)

	// Orchestration.
	interrupt := &dialog.InterruptFlag{}
	p.loop = dialog.NewLoop(p.listener, speaker, p.backchannel, p.answer, history, interrupt, dialog.LoopConfig{
		AllowInterrupt:    cfg.Dialog.AllowInterrupt,
		AnswerWaitTimeout: cfg.Dialog.AnswerWaitTimeout.Std(),
	}, logger, metrics)
	p.observer = dialog.NewObserver(p.listener, speaker, interrupt, dialog.ObserverConfig{
		AllowInterrupt: cfg.Dialog.AllowInterrupt,
	}, logger, metrics)

	return p, nil
}

// voiceFromEntry derives the synthesis voice from the TTS provider entry:
// Model carries the voice name for providers addressed by name (Edge), while
// numeric speaker styles (VOICEVOX) come from options.
func voiceFromEntry(entry config.ProviderEntry) tts.Voice {
	return tts.Voice{
		ID:          entry.Model,
		Speaker:     optInt(entry.Options, "speaker"),
		SpeedFactor: optFloat(entry.Options, "speed_factor"),
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, captureFormat audio.Format, frameDuration time.Duration) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native SDK; anthropic, gemini, deepseek, mistral, groq,
	// llamacpp and llamafile go through any-llm-go with the same
	// APIKey/BaseURL pattern.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oai.Option
		if entry.BaseURL != "" {
			opts = append(opts, oai.WithBaseURL(entry.BaseURL))
		}
		return oai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		opts = append(opts, deepgram.WithSampleRate(captureFormat.SampleRate))
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("vosk", func(entry config.ProviderEntry) (stt.Provider, error) {
		return vosk.New(entry.BaseURL, vosk.WithSampleRate(captureFormat.SampleRate))
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("voicevox", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []voicevox.Option
		if speaker := optInt(entry.Options, "speaker"); speaker != 0 {
			opts = append(opts, voicevox.WithSpeaker(speaker))
		}
		return voicevox.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("edge", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []edge.Option
		if entry.Model != "" {
			opts = append(opts, edge.WithDefaultVoice(entry.Model))
		}
		return edge.New(opts...), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := optString(entry.Options, "model_path")
		if modelPath == "" {
			modelPath = entry.Model
		}
		return silero.New(modelPath)
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Audio devices ─────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(entry config.ProviderEntry) (audio.Source, error) {
		return portaudio.NewSource(captureFormat, portaudio.WithFrameDuration(frameDuration))
	})
	reg.RegisterSource("pulse", func(entry config.ProviderEntry) (audio.Source, error) {
		return pulse.NewSource(captureFormat, frameDuration)
	})
	reg.RegisterSink("portaudio", func(entry config.ProviderEntry) (audio.Sink, error) {
		return portaudio.NewSink()
	})
	reg.RegisterSink("pulse", func(entry config.ProviderEntry) (audio.Sink, error) {
		return pulse.NewSink()
	})
}

// applyConfigChange applies the hot-reloadable parts of a config diff to the
// running pipeline: log level, loop and observer tuning, system prompts, and
// turn-taking thresholds. Everything else needs a restart.
func applyConfigChange(d config.ConfigDiff, logLevel *slog.LevelVar, pl *pipeline) {
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.DialogChanged {
		dc := d.NewDialog
		pl.loop.SetConfig(dialog.LoopConfig{
			AllowInterrupt:    dc.AllowInterrupt,
			AnswerWaitTimeout: dc.AnswerWaitTimeout.Std(),
		})
		pl.observer.SetAllowInterrupt(dc.AllowInterrupt)

		bcPrompt := dc.BackchannelPrompt
		if bcPrompt == "" {
			bcPrompt = dialog.DefaultBackchannelPrompt
		}
		ansPrompt := dc.AnswerPrompt
		if ansPrompt == "" {
			ansPrompt = dialog.DefaultAnswerPrompt
		}
		pl.backchannel.SetSystemPrompt(bcPrompt)
		pl.answer.SetSystemPrompt(ansPrompt)

		paddingFrames := 0
		if dc.PaddingMs > 0 && pl.frameMs > 0 {
			paddingFrames = dc.PaddingMs / pl.frameMs
		}
		pl.listener.SetDetectorConfig(listen.DetectorConfig{
			StartThreshold: dc.SpeechStartFrames,
			EndThreshold:   dc.SpeechEndFrames,
			PaddingFrames:  paddingFrames,
		})
		slog.Info("dialog tuning reloaded", "allow_interrupt", dc.AllowInterrupt)
	}

	if d.RestartRequired {
		slog.Warn("provider or audio configuration changed; restart required to apply")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         aizuchi — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Backchannel", cfg.Providers.Backchannel.Name, cfg.Providers.Backchannel.Model)
	printProvider("Answer", cfg.Providers.Answer.Name, cfg.Providers.Answer.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("TTS fallback", cfg.Providers.TTSFallback.Name, cfg.Providers.TTSFallback.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Input", cfg.Audio.Input.Name, "")
	printProvider("Output", cfg.Audio.Output.Name, "")
	bargein := "disabled"
	if cfg.Dialog.AllowInterrupt {
		bargein = "enabled"
	}
	fmt.Printf("║  Barge-in        : %-19s ║\n", bargein)
	if cfg.Server.MetricsAddr != "" {
		fmt.Printf("║  Metrics addr    : %-19s ║\n", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets the config
// reload path adjust verbosity without swapping the handler.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML numbers decode as int, but be
// lenient about float64 in case the value came through JSON-ish tooling.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optFloat extracts a float option, accepting ints too.
func optFloat(opts map[string]any, key string) float64 {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
