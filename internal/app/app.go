// Package app wires the hotline subsystems into a running phone: hardware
// decoders feeding the call state machine, the audio turn engine behind it,
// and the metrics endpoint on the side.
//
// The App owns the full lifecycle: New connects everything, Run drives the
// pipelines until the context is cancelled, and Shutdown tears down in
// reverse order. main.go builds the Providers and Hardware structs (real
// GPIO and PortAudio on the phone, mocks in tests) and hands them in.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hotlinehq/hotline/internal/call"
	"github.com/hotlinehq/hotline/internal/config"
	"github.com/hotlinehq/hotline/internal/hardware"
	"github.com/hotlinehq/hotline/internal/registry"
	"github.com/hotlinehq/hotline/internal/turn"
	"github.com/hotlinehq/hotline/pkg/audio"
	"github.com/hotlinehq/hotline/pkg/provider/llm"
	"github.com/hotlinehq/hotline/pkg/provider/stt"
	"github.com/hotlinehq/hotline/pkg/provider/tts"
	"github.com/hotlinehq/hotline/pkg/provider/vad"
)

// catalogueKeywordBoost is the STT vocabulary boost applied to every
// character name in the directory.
const catalogueKeywordBoost = 3.0

// Providers holds one interface value per collaborator slot, populated by
// main.go via the config registry.
type Providers struct {
	LLM   llm.Provider
	STT   stt.Provider
	TTS   tts.Provider
	VAD   vad.Engine
	Audio audio.Device
}

// Hardware holds the electrical inputs and outputs claimed by main.go.
// All fields may be nil; a nil input simply never fires and a nil bell
// disables proximity ringing.
type Hardware struct {
	// Edges is the raw rotary dial pulse line.
	Edges <-chan hardware.EdgeEvent

	// HookSamples is the raw hook switch line.
	HookSamples <-chan hardware.HookSample

	// Proximity is the distance sensor in front of the phone.
	Proximity hardware.DistanceSensor

	// Bell is the bell relay.
	Bell hardware.Actuator
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	hw        *Hardware
	log       *slog.Logger

	registry registry.Registry
	decoder  *hardware.PulseDecoder
	hookMon  *hardware.HookMonitor
	bell     *hardware.BellController
	engine   *turn.Engine
	machine  *call.Machine

	// listenAddr is the bound metrics address, set once Run opens the
	// listener. Tests bind to port 0 and read it back.
	listenAddr atomic.Value

	closers  []func() error
	stopOnce sync.Once
}

// New wires the subsystems together. The character registry is built here
// (static from config, or Postgres when configured); everything else comes in
// through providers and hw.
func New(ctx context.Context, cfg *config.Config, providers *Providers, hw *Hardware, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if hw == nil {
		hw = &Hardware{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		hw:        hw,
		log:       log,
	}

	if err := a.initRegistry(ctx); err != nil {
		return nil, fmt.Errorf("app: init registry: %w", err)
	}
	if err := a.initPipeline(ctx); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	return a, nil
}

// initRegistry builds the character registry from config.
func (a *App) initRegistry(ctx context.Context) error {
	if a.cfg.Registry.Backend != config.RegistryPostgres {
		a.registry = registry.NewStatic(charactersFromConfig(a.cfg.Characters))
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.Registry.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	store := registry.NewPostgres(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.registry = store
	a.log.Info("character registry ready", "backend", "postgres")
	return nil
}

// initPipeline builds decoders, the turn engine, the bell, and the machine.
func (a *App) initPipeline(ctx context.Context) error {
	modeStr := a.cfg.Turn.Mode
	if modeStr == "" {
		modeStr = "turn"
	}
	mode, err := call.ParseTurnMode(modeStr)
	if err != nil {
		return err
	}

	if a.hw.Edges != nil {
		a.decoder = hardware.NewPulseDecoder(a.hw.Edges, hardware.PulseDecoderConfig{
			BounceGuard:       time.Duration(a.cfg.Hardware.BounceGuardMs) * time.Millisecond,
			InterPulseTimeout: time.Duration(a.cfg.Hardware.InterPulseTimeoutMs) * time.Millisecond,
		}, a.log)
	}
	if a.hw.HookSamples != nil {
		a.hookMon = hardware.NewHookMonitor(a.hw.HookSamples, hardware.HookMonitorConfig{
			SettleInterval: time.Duration(a.cfg.Hardware.HookSettleMs) * time.Millisecond,
		}, a.log)
	}

	keywords, err := a.catalogueKeywords(ctx)
	if err != nil {
		return err
	}

	a.engine = turn.NewEngine(turn.Config{
		Mode:                  mode,
		SampleRate:            a.cfg.Audio.SampleRate,
		FrameMs:               a.cfg.Audio.FrameMs,
		Language:              a.cfg.Turn.Language,
		SilenceTail:           time.Duration(a.cfg.Turn.SilenceTailMs) * time.Millisecond,
		MaxUtterance:          time.Duration(a.cfg.Turn.MaxUtteranceSec) * time.Second,
		SpeechThreshold:       a.cfg.Turn.SpeechThreshold,
		SilenceThreshold:      a.cfg.Turn.SilenceThreshold,
		BargeInDebounceFrames: a.cfg.Turn.BargeInDebounceFrames,
		BargeInDelay:          time.Duration(a.cfg.Turn.BargeInDelayMs) * time.Millisecond,
		Temperature:           a.cfg.Turn.Temperature,
		MaxTokens:             a.cfg.Turn.MaxTokens,
		FailureLimit:          a.cfg.Turn.FailureLimit,
		FallbackNotice:        a.cfg.Turn.FallbackNotice,
		HistoryLimit:          a.cfg.Turn.HistoryLimit,
	}, turn.Deps{
		Device:   a.providers.Audio,
		STT:      a.providers.STT,
		LLM:      a.providers.LLM,
		TTS:      a.providers.TTS,
		VAD:      a.providers.VAD,
		Keywords: keywords,
	}, a.log)

	if a.hw.Proximity != nil && a.hw.Bell != nil {
		// The gate reads machine state through the App so the bell can be
		// constructed before the machine that consumes its triggers.
		a.bell = hardware.NewBellController(a.hw.Proximity, a.hw.Bell, func() bool {
			return a.machine != nil && a.machine.BellGate()
		}, hardware.BellConfig{
			Threshold: a.cfg.Hardware.ProximityThresholdCm,
			Cooldown:  time.Duration(a.cfg.Hardware.RingCooldownSec) * time.Second,
		}, a.log)
	}

	deps := call.Deps{
		Registry:     a.registry,
		Conversation: a.engine,
		Prompter:     a.newPrompter(),
	}
	if a.decoder != nil {
		deps.Digits = a.decoder.Digits()
		deps.DecodeErrors = a.decoder.DecodeErrors()
	}
	if a.hookMon != nil {
		deps.Hooks = a.hookMon.Events()
	}
	if a.bell != nil {
		deps.Bell = a.bell
	}

	a.machine = call.NewMachine(call.Config{
		TurnMode:           mode,
		InterDigitWindow:   time.Duration(a.cfg.Call.DialWindowMs) * time.Millisecond,
		RingNoAnswerWindow: time.Duration(a.cfg.Call.RingNoAnswerSec) * time.Second,
		ResolveTimeout:     time.Duration(a.cfg.Call.ResolveTimeoutSec) * time.Second,
	}, deps, a.log)

	return nil
}

// catalogueKeywords builds STT vocabulary hints from the character directory
// so dialed-in callers saying "Cleopatra" are transcribed correctly.
func (a *App) catalogueKeywords(ctx context.Context) ([]stt.KeywordBoost, error) {
	chars, err := a.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	keywords := make([]stt.KeywordBoost, 0, len(chars))
	for _, ch := range chars {
		keywords = append(keywords, stt.KeywordBoost{Keyword: ch.Name, Boost: catalogueKeywordBoost})
	}
	return keywords, nil
}

// newPrompter returns the dial feedback prompter: spoken notices when TTS and
// the audio device are available, silent otherwise.
func (a *App) newPrompter() call.Prompter {
	if a.providers.TTS == nil || a.providers.Audio == nil {
		return nil
	}
	voice := tts.VoiceProfile{}
	if len(a.cfg.Characters) > 0 {
		// The operator speaks with the first catalogue voice.
		voice = voiceFromConfig(a.cfg.Characters[0].Voice)
	}
	return &speechPrompter{
		tts:        a.providers.TTS,
		device:     a.providers.Audio,
		voice:      voice,
		sampleRate: a.cfg.Audio.SampleRate,
		frameMs:    a.cfg.Audio.FrameMs,
		log:        a.log.With("component", "prompter"),
	}
}

// Machine exposes the call state machine for status reporting.
func (a *App) Machine() *call.Machine { return a.machine }

// ListenAddr returns the bound metrics address, or "" before Run opens it.
func (a *App) ListenAddr() string {
	if v := a.listenAddr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Run starts all pipelines and blocks until ctx is cancelled or a subsystem
// fails. The hardware decoders and the bell run alongside the machine in one
// errgroup; the first error cancels the rest.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.decoder != nil {
		g.Go(func() error {
			a.decoder.Run(ctx)
			return nil
		})
	}
	if a.hookMon != nil {
		g.Go(func() error {
			a.hookMon.Run(ctx)
			return nil
		})
	}
	if a.bell != nil {
		g.Go(func() error {
			a.bell.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return a.machine.Run(ctx)
	})
	if a.cfg.Server.ListenAddr != "" {
		if err := a.serveMetrics(ctx, g); err != nil {
			return err
		}
	}

	a.log.Info("hotline running", "characters", len(a.cfg.Characters), "mode", a.cfg.Turn.Mode)
	return g.Wait()
}

// serveMetrics exposes /metrics (Prometheus) and /healthz on the configured
// listen address.
func (a *App) serveMetrics(ctx context.Context, g *errgroup.Group) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.listenAddr.Store(ln.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "ok state=%s\n", a.machine.State())
	})
	srv := &http.Server{Handler: mux}

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	a.log.Info("metrics endpoint up", "addr", ln.Addr().String())
	return nil
}

// Shutdown releases resources in reverse-init order. Safe to call more than
// once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		var errs []error
		if a.providers.Audio != nil {
			if err := a.providers.Audio.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close audio device: %w", err))
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
				shutdownErr = errors.Join(errs...)
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
	})
	return shutdownErr
}

// ---- dial feedback prompter ----

// speechPrompter speaks short operator notices through the handset while the
// session is in DIALING. Prompts never block the machine loop and never
// overlap; a prompt arriving while one is playing is dropped.
type speechPrompter struct {
	tts        tts.Provider
	device     audio.Device
	voice      tts.VoiceProfile
	sampleRate int
	frameMs    int
	log        *slog.Logger

	busy atomic.Bool
}

var _ call.Prompter = (*speechPrompter)(nil)

// promptTimeout bounds one spoken notice end to end.
const promptTimeout = 10 * time.Second

// CharacterNotFound implements call.Prompter.
func (p *speechPrompter) CharacterNotFound(ctx context.Context, number string) {
	p.log.Info("number not in service", "number", number)
	p.say(ctx, "Not in service. Please hang up and try again.")
}

// NoSelection implements call.Prompter.
func (p *speechPrompter) NoSelection(ctx context.Context) {
	p.say(ctx, "Please dial a number from the directory.")
}

func (p *speechPrompter) say(ctx context.Context, text string) {
	if !p.busy.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.busy.Store(false)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), promptTimeout)
		defer cancel()
		if err := p.speak(sctx, text); err != nil && sctx.Err() == nil {
			p.log.Warn("prompt failed", "error", err)
		}
	}()
}

// speak synthesises text and plays it frame by frame.
func (p *speechPrompter) speak(ctx context.Context, text string) error {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := p.tts.SynthesizeStream(ctx, textCh, p.voice)
	if err != nil {
		return err
	}

	frameBytes := audio.FrameBytes(p.sampleRate, p.frameMs)
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			p.device.FlushOutput()
			return ctx.Err()
		case chunk, ok := <-audioCh:
			if !ok {
				if len(buf) > 0 {
					p.enqueue(ctx, buf)
				}
				return nil
			}
			buf = append(buf, chunk...)
			for len(buf) >= frameBytes {
				if !p.enqueue(ctx, buf[:frameBytes]) {
					return ctx.Err()
				}
				buf = buf[frameBytes:]
			}
		}
	}
}

func (p *speechPrompter) enqueue(ctx context.Context, data []byte) bool {
	fr := audio.AudioFrame{
		Data:       append([]byte(nil), data...),
		SampleRate: p.sampleRate,
		Channels:   1,
	}
	select {
	case p.device.Output() <- fr:
		return true
	case <-ctx.Done():
		return false
	}
}

// ---- config conversion ----

// charactersFromConfig converts the catalogue config entries to registry
// characters.
func charactersFromConfig(entries []config.CharacterConfig) []registry.Character {
	out := make([]registry.Character, 0, len(entries))
	for _, e := range entries {
		out = append(out, registry.Character{
			ID:           e.ID,
			Name:         e.Name,
			Number:       e.Number,
			SystemPrompt: e.SystemPrompt,
			Greeting:     e.Greeting,
			Voice:        voiceFromConfig(e.Voice),
		})
	}
	return out
}

// voiceFromConfig converts a config voice block to a tts.VoiceProfile.
func voiceFromConfig(vc config.VoiceConfig) tts.VoiceProfile {
	return tts.VoiceProfile{
		ID:              vc.VoiceID,
		Stability:       vc.Stability,
		SimilarityBoost: vc.SimilarityBoost,
	}
}
