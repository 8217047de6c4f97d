// Command hotline runs the Time Travel Hotline: a rotary payphone connected
// to AI characters. By default it drives the real phone (GPIO dial, hook and
// bell, PortAudio handset); with --text it runs a console conversation
// instead, which is also the automatic fallback when the hardware cannot be
// opened.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hotlinehq/hotline/internal/app"
	"github.com/hotlinehq/hotline/internal/config"
	"github.com/hotlinehq/hotline/internal/hardware/gpio"
	"github.com/hotlinehq/hotline/internal/observe"
	"github.com/hotlinehq/hotline/internal/registry"
	"github.com/hotlinehq/hotline/internal/textmode"
	"github.com/hotlinehq/hotline/pkg/audio"
	audioportaudio "github.com/hotlinehq/hotline/pkg/audio/portaudio"
	"github.com/hotlinehq/hotline/pkg/provider/llm"
	"github.com/hotlinehq/hotline/pkg/provider/llm/anyllm"
	llmopenai "github.com/hotlinehq/hotline/pkg/provider/llm/openai"
	"github.com/hotlinehq/hotline/pkg/provider/stt"
	"github.com/hotlinehq/hotline/pkg/provider/stt/deepgram"
	"github.com/hotlinehq/hotline/pkg/provider/tts"
	"github.com/hotlinehq/hotline/pkg/provider/tts/elevenlabs"
	"github.com/hotlinehq/hotline/pkg/provider/vad"
	"github.com/hotlinehq/hotline/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	textMode := flag.Bool("text", false, "run the console conversation instead of the phone")
	mode := flag.String("mode", "", "turn-taking policy: turn or barge (overrides the config file)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hotline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hotline: %v\n", err)
		}
		return 1
	}
	if *mode != "" {
		cfg.Turn.Mode = *mode
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("hotline starting",
		"config", *configPath,
		"mode", cfg.Turn.Mode,
		"text", *textMode,
		"characters", len(cfg.Characters),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "hotline"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	if *textMode {
		return runText(ctx, cfg, reg)
	}
	return runPhone(ctx, cfg, reg)
}

// ---- voice mode ----

// runPhone claims the GPIO lines and the audio device and runs the full
// phone. Hardware failures fall back to text mode so a development machine
// without a chassis still gets a conversation.
func runPhone(ctx context.Context, cfg *config.Config, reg *config.Registry) int {
	hw, closeHW, err := openHardware(cfg)
	if err != nil {
		slog.Warn("hardware unavailable, falling back to text mode", "err", err)
		return runText(ctx, cfg, reg)
	}
	defer closeHW()

	providers, err := buildProviders(cfg, reg, true)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers, hw, slog.Default())
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("phone ready — lift the handset and dial")
	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// openHardware claims the four GPIO lines. On any failure everything already
// claimed is released and the error is returned.
func openHardware(cfg *config.Config) (*app.Hardware, func(), error) {
	chip := cfg.Hardware.Chip
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("gpio close error", "err", err)
			}
		}
	}

	edgeLine, err := gpio.RequestEdgeLine(chip, cfg.Hardware.PulsePin)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, edgeLine.Close)

	hookLine, err := gpio.RequestHookLine(chip, cfg.Hardware.HookPin)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, hookLine.Close)

	sensor, err := gpio.RequestProximitySensor(chip, cfg.Hardware.ProximityPin)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, sensor.Close)

	relay, err := gpio.RequestRelay(chip, cfg.Hardware.BellPin)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, relay.Close)

	hw := &app.Hardware{
		Edges:       edgeLine.Events(),
		HookSamples: hookLine.Samples(),
		Proximity:   sensor,
		Bell:        relay,
	}
	return hw, closeAll, nil
}

// ---- text mode ----

func runText(ctx context.Context, cfg *config.Config, reg *config.Registry) int {
	providers, err := buildProviders(cfg, reg, false)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.LLM == nil {
		slog.Error("text mode requires an LLM provider; set providers.llm in the config")
		return 1
	}

	catalogue := registry.NewStatic(charactersFromConfig(cfg.Characters))
	console := textmode.New(textmode.Config{
		Temperature:  cfg.Turn.Temperature,
		MaxTokens:    cfg.Turn.MaxTokens,
		FailureLimit: cfg.Turn.FailureLimit,
		HistoryLimit: cfg.Turn.HistoryLimit,
	}, textmode.Deps{
		Registry: catalogue,
		LLM:      providers.LLM,
		Matcher:  registry.NewSpokenMatcher(catalogue, cfg.Registry.SpokenMatchThreshold),
	}, os.Stdin, os.Stdout, slog.Default())

	if err := console.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("console error", "err", err)
		return 1
	}
	return 0
}

// charactersFromConfig converts catalogue entries for the text-mode registry.
func charactersFromConfig(entries []config.CharacterConfig) []registry.Character {
	out := make([]registry.Character, 0, len(entries))
	for _, e := range entries {
		out = append(out, registry.Character{
			ID:           e.ID,
			Name:         e.Name,
			Number:       e.Number,
			SystemPrompt: e.SystemPrompt,
			Greeting:     e.Greeting,
			Voice: tts.VoiceProfile{
				ID:              e.Voice.VoiceID,
				Stability:       e.Voice.Stability,
				SimilarityBoost: e.Voice.SimilarityBoost,
			},
		})
	}
	return out
}

// ---- provider wiring ----

// registerBuiltinProviders wires the factories that ship with the hotline
// into reg. The audio factory closes over the config so the device opens
// with the configured frame format.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// openai goes through the native SDK; the rest share the any-llm path.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
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
	// ollama is a local server; BaseURL is the address, no API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		opts = append(opts, deepgram.WithSampleRate(cfg.Audio.SampleRate))
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Device, error) {
		return audioportaudio.Open(audioportaudio.Config{
			SampleRate: cfg.Audio.SampleRate,
			FrameMs:    cfg.Audio.FrameMs,
		})
	})
}

// buildProviders instantiates the providers named in cfg. Voice mode fills
// unset VAD and audio entries with the built-in defaults and requires the
// full collaborator set; text mode only builds the LLM.
func buildProviders(cfg *config.Config, reg *config.Registry, voice bool) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	if !voice {
		return ps, nil
	}

	sttEntry := cfg.Providers.STT
	if sttEntry.Name == "" {
		return nil, errors.New("voice mode requires providers.stt (e.g. deepgram)")
	}
	sttP, err := reg.CreateSTT(sttEntry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sttEntry.Name, err)
	}
	ps.STT = sttP
	slog.Info("provider created", "kind", "stt", "name", sttEntry.Name)

	ttsEntry := cfg.Providers.TTS
	if ttsEntry.Name == "" {
		return nil, errors.New("voice mode requires providers.tts (e.g. elevenlabs)")
	}
	ttsP, err := reg.CreateTTS(ttsEntry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", ttsEntry.Name, err)
	}
	ps.TTS = ttsP
	slog.Info("provider created", "kind", "tts", "name", ttsEntry.Name)

	vadEntry := cfg.Providers.VAD
	if vadEntry.Name == "" {
		vadEntry.Name = "energy"
	}
	vadP, err := reg.CreateVAD(vadEntry)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", vadEntry.Name, err)
	}
	ps.VAD = vadP

	audioEntry := cfg.Providers.Audio
	if audioEntry.Name == "" {
		audioEntry.Name = "portaudio"
	}
	device, err := reg.CreateAudio(audioEntry)
	if err != nil {
		return nil, fmt.Errorf("open audio device %q: %w", audioEntry.Name, err)
	}
	ps.Audio = device
	slog.Info("audio device open", "name", audioEntry.Name)

	return ps, nil
}

// ---- logger ----

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// optString extracts a string from a provider Options map. Returns "" when
// the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
