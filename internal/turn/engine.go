// Package turn implements the audio conversation loop for a connected call.
//
// The Engine runs one call at a time: it captures handset audio, endpoints
// caller utterances with VAD, streams them to the STT collaborator, feeds the
// finalized transcript (plus the whole conversation so far) to the LLM, and
// pipes the streamed reply sentence by sentence through TTS to the handset
// speaker. In barge-in mode the caller can interrupt playback at any time;
// sustained speech on the microphone flushes the speaker, cancels the
// in-flight LLM and TTS requests, and opens a fresh caller turn.
//
// Collaborator failures never kill the call directly: the turn is marked
// failed, a short spoken notice goes out, and the engine resumes listening.
// Only a streak of consecutive failures makes Run return, which the call
// machine treats as a forced teardown.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hotlinehq/hotline/internal/call"
	"github.com/hotlinehq/hotline/internal/observe"
	"github.com/hotlinehq/hotline/internal/registry"
	"github.com/hotlinehq/hotline/internal/resilience"
	"github.com/hotlinehq/hotline/pkg/audio"
	"github.com/hotlinehq/hotline/pkg/provider/llm"
	"github.com/hotlinehq/hotline/pkg/provider/stt"
	"github.com/hotlinehq/hotline/pkg/provider/tts"
	"github.com/hotlinehq/hotline/pkg/provider/vad"
)

// ErrTooManyFailures is returned by Run when the consecutive collaborator
// failure streak reaches its limit and the call is unrecoverable.
var ErrTooManyFailures = errors.New("turn: too many consecutive collaborator failures")

// Engine defaults, matching the handset audio path.
const (
	DefaultSampleRate            = 16000
	DefaultFrameMs               = 20
	DefaultSilenceTail           = 700 * time.Millisecond
	DefaultMaxUtterance          = 12 * time.Second
	DefaultSpeechThreshold       = 0.015
	DefaultSilenceThreshold      = 0.008
	DefaultSpeechStartFrames     = 3
	DefaultBargeInDebounceFrames = 8
	DefaultBargeInDelay          = time.Second

	// DefaultFallbackNotice is spoken when a collaborator call fails.
	DefaultFallbackNotice = "Sorry, the line is crackling. Could you say that again?"

	// characterNameBoost is the STT keyword boost applied to the connected
	// character's name.
	characterNameBoost = 5.0

	// finalsGrace bounds how long the engine waits for trailing STT finals
	// after closing a session.
	finalsGrace = 3 * time.Second
)

// Config holds the engine's tunable parameters. Zero values select the
// defaults above.
type Config struct {
	// Mode is the turn-taking policy.
	Mode call.TurnMode

	// SampleRate and FrameMs describe the capture/playback format.
	SampleRate int
	FrameMs    int

	// Language is the STT recognition language tag.
	Language string

	// SilenceTail is the sustained low-activity duration that ends an
	// utterance.
	SilenceTail time.Duration

	// MaxUtterance caps a single caller utterance.
	MaxUtterance time.Duration

	// SpeechThreshold, SilenceThreshold, and SpeechStartFrames configure the
	// VAD sessions.
	SpeechThreshold   float64
	SilenceThreshold  float64
	SpeechStartFrames int

	// BargeInDebounceFrames is how many consecutive speech frames must be
	// seen during playback before the speaker is cut.
	BargeInDebounceFrames int

	// BargeInDelay arms barge-in detection this long after playback starts,
	// so the speaker's own output cannot self-trigger it.
	BargeInDelay time.Duration

	// Temperature and MaxTokens are forwarded to the LLM. Zero requests the
	// provider defaults.
	Temperature float64
	MaxTokens   int

	// FailureLimit is the consecutive collaborator failure count that aborts
	// the call. Zero selects resilience.DefaultStreakLimit.
	FailureLimit int

	// FallbackNotice is spoken after a collaborator failure.
	FallbackNotice string

	// HistoryLimit caps the conversation history sent to the LLM, in
	// messages. Zero keeps everything.
	HistoryLimit int
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameMs == 0 {
		c.FrameMs = DefaultFrameMs
	}
	if c.SilenceTail == 0 {
		c.SilenceTail = DefaultSilenceTail
	}
	if c.MaxUtterance == 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.SpeechStartFrames == 0 {
		c.SpeechStartFrames = DefaultSpeechStartFrames
	}
	if c.BargeInDebounceFrames == 0 {
		c.BargeInDebounceFrames = DefaultBargeInDebounceFrames
	}
	if c.BargeInDelay == 0 {
		c.BargeInDelay = DefaultBargeInDelay
	}
	if c.FallbackNotice == "" {
		c.FallbackNotice = DefaultFallbackNotice
	}
}

// Deps are the engine's collaborators. All are required except Keywords and
// Metrics.
type Deps struct {
	// Device is the full-duplex handset audio path.
	Device audio.Device

	// STT, LLM, and TTS are the external collaborators.
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// VAD supplies endpointing and barge-in detection sessions.
	VAD vad.Engine

	// Keywords are extra STT vocabulary hints, typically the character
	// catalogue's names.
	Keywords []stt.KeywordBoost

	// Metrics records pipeline activity. Nil selects the default instance.
	Metrics *observe.Metrics
}

// Engine is the audio turn engine. It implements [call.Conversation].
type Engine struct {
	cfg     Config
	deps    Deps
	metrics *observe.Metrics
	log     *slog.Logger

	sttBreaker *resilience.Breaker
	llmBreaker *resilience.Breaker
	ttsBreaker *resilience.Breaker

	turnsMu sync.Mutex
	turns   *call.TurnLog

	history []llm.Message
}

// Compile-time assertion that Engine satisfies call.Conversation.
var _ call.Conversation = (*Engine)(nil)

// NewEngine creates an engine. It does not touch the audio device until Run.
func NewEngine(cfg Config, deps Deps, log *slog.Logger) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	log = log.With("component", "turn_engine")
	return &Engine{
		cfg:        cfg,
		deps:       deps,
		metrics:    metrics,
		log:        log,
		sttBreaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "stt"}, log),
		llmBreaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "llm"}, log),
		ttsBreaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "tts"}, log),
		turns:      call.NewTurnLog(),
	}
}

// Turns returns the turn log of the current (or most recent) call.
func (e *Engine) Turns() *call.TurnLog {
	e.turnsMu.Lock()
	defer e.turnsMu.Unlock()
	return e.turns
}

// Run converses with the caller until ctx is cancelled or the failure streak
// overflows. Implements [call.Conversation].
func (e *Engine) Run(ctx context.Context, character *registry.Character) error {
	turns := call.NewTurnLog()
	e.turnsMu.Lock()
	e.turns = turns
	e.turnsMu.Unlock()
	e.history = e.history[:0]
	e.sttBreaker.Reset()
	e.llmBreaker.Reset()
	e.ttsBreaker.Reset()

	streak := resilience.NewStreak(e.cfg.FailureLimit)
	log := e.log.With("character", character.ID)
	log.Info("conversation started", "mode", e.cfg.Mode.String())

	if character.Greeting != "" {
		if err := e.greet(ctx, turns, character); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if e.failTurn(ctx, turns, streak, character, "tts", err) {
				return ErrTooManyFailures
			}
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lctx, span := observe.StartSpan(ctx, "turn.listen")
		text, endedAt, err := e.listen(lctx, character)
		if err != nil {
			span.RecordError(err)
			span.End()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if e.failTurn(ctx, turns, streak, character, "stt", err) {
				return ErrTooManyFailures
			}
			continue
		}
		span.End()
		if strings.TrimSpace(text) == "" {
			continue
		}

		turns.Begin(call.SpeakerHuman)
		turns.AppendText(text)
		turns.End()
		e.pushHistory(llm.Message{Role: "user", Content: text})
		observe.Logger(lctx, log).Info("caller said", "text", text)

		rctx, span := observe.StartSpan(ctx, "turn.respond")
		reply, barged, err := e.respond(rctx, turns, character, endedAt)
		if err != nil {
			span.RecordError(err)
			span.End()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if e.failTurn(ctx, turns, streak, character, collaboratorFor(err), err) {
				return ErrTooManyFailures
			}
			continue
		}
		span.End()
		streak.RecordSuccess()
		if reply != "" {
			e.pushHistory(llm.Message{Role: "assistant", Content: reply})
		}
		if barged {
			log.Debug("caller barged in")
		}
	}
}

// greet speaks the character's opening line before listening begins.
func (e *Engine) greet(ctx context.Context, turns *call.TurnLog, character *registry.Character) error {
	turns.Begin(call.SpeakerAI)
	turns.AppendText(character.Greeting)
	barged, err := e.speakText(ctx, character.Voice, character.Greeting)
	if err != nil {
		return err
	}
	if barged {
		turns.EndInterrupted()
	} else {
		turns.End()
	}
	e.pushHistory(llm.Message{Role: "assistant", Content: character.Greeting})
	return nil
}

// ---------------------------------------------------------------------------
// Listening: capture, endpointing, STT
// ---------------------------------------------------------------------------

// listen captures one caller utterance and returns its final transcript and
// the moment the utterance ended.
func (e *Engine) listen(ctx context.Context, character *registry.Character) (string, time.Time, error) {
	endpoint, err := e.deps.VAD.NewSession(e.endpointConfig())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("vad session: %w", err)
	}
	defer endpoint.Close()

	var sess stt.SessionHandle
	err = e.sttBreaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		sess, err = e.deps.STT.StartStream(ctx, e.streamConfig(character))
		return err
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("stt stream: %w", err)
	}
	defer sess.Close()

	input := e.deps.Device.Input()
	var (
		started bool
		maxC    <-chan time.Time
	)

capture:
	for {
		select {
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()

		case f, ok := <-input:
			if !ok {
				return "", time.Time{}, errors.New("turn: capture stream ended")
			}
			if err := sess.SendAudio(f.Data); err != nil {
				return "", time.Time{}, fmt.Errorf("stt send: %w", err)
			}
			ev, verr := endpoint.ProcessFrame(f.Data)
			if verr != nil {
				e.log.Debug("vad frame skipped", "error", verr)
				continue
			}
			switch ev.Type {
			case vad.SpeechStart:
				started = true
				maxC = time.After(e.cfg.MaxUtterance)
			case vad.SpeechEnd:
				if started {
					break capture
				}
			}

		case <-sess.Partials():
			// Drained to keep the provider's output path moving. Partials are
			// never written to the turn log.

		case <-maxC:
			e.log.Info("utterance hit max duration")
			break capture
		}
	}

	endedAt := time.Now()
	if err := sess.Close(); err != nil {
		e.log.Warn("stt close failed", "error", err)
	}

	var sb strings.Builder
	grace := time.NewTimer(finalsGrace)
	defer grace.Stop()
collect:
	for {
		select {
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		case t, ok := <-sess.Finals():
			if !ok {
				break collect
			}
			if sb.Len() > 0 && t.Text != "" {
				sb.WriteByte(' ')
			}
			sb.WriteString(t.Text)
		case <-sess.Partials():
		case <-grace.C:
			e.log.Warn("gave up waiting for stt finals")
			break collect
		}
	}

	e.metrics.STTDuration.Record(ctx, time.Since(endedAt).Seconds())
	return sb.String(), endedAt, nil
}

func (e *Engine) endpointConfig() vad.Config {
	return vad.Config{
		SampleRate:        e.cfg.SampleRate,
		FrameSizeMs:       e.cfg.FrameMs,
		SpeechThreshold:   e.cfg.SpeechThreshold,
		SilenceThreshold:  e.cfg.SilenceThreshold,
		SpeechStartFrames: e.cfg.SpeechStartFrames,
		SpeechEndFrames:   int(e.cfg.SilenceTail.Milliseconds()) / e.cfg.FrameMs,
	}
}

func (e *Engine) bargeConfig() vad.Config {
	cfg := e.endpointConfig()
	cfg.SpeechStartFrames = 1
	return cfg
}

func (e *Engine) streamConfig(character *registry.Character) stt.StreamConfig {
	kws := make([]stt.KeywordBoost, 0, len(e.deps.Keywords)+1)
	kws = append(kws, e.deps.Keywords...)
	if character.Name != "" {
		kws = append(kws, stt.KeywordBoost{Keyword: character.Name, Boost: characterNameBoost})
	}
	return stt.StreamConfig{
		SampleRate: e.cfg.SampleRate,
		Channels:   1,
		Language:   e.cfg.Language,
		Keywords:   kws,
	}
}

// ---------------------------------------------------------------------------
// Responding: LLM → sentences → TTS → playback
// ---------------------------------------------------------------------------

// respond generates and speaks the character's reply to the history's last
// user message. It returns the full generated text (also on barge-in, where
// only part of it was played) and whether the caller interrupted it.
func (e *Engine) respond(ctx context.Context, turns *call.TurnLog, character *registry.Character, utteranceEnd time.Time) (string, bool, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := llm.CompletionRequest{
		SystemPrompt: character.SystemPrompt,
		Messages:     append([]llm.Message(nil), e.history...),
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
	}

	turns.Begin(call.SpeakerAI)

	llmStart := time.Now()
	var chunks <-chan llm.Chunk
	err := e.llmBreaker.Execute(rctx, func(ctx context.Context) error {
		var err error
		chunks, err = e.deps.LLM.StreamCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("llm stream: %w", err)
	}

	// Feed LLM chunks into the TTS text channel sentence by sentence.
	textCh := make(chan string, 16)
	feederDone := make(chan struct{})
	var (
		full      strings.Builder
		streamErr error
	)
	go func() {
		defer close(textCh)
		defer close(feederDone)
		var split SentenceSplitter
		first := true
		for c := range chunks {
			if c.FinishReason == "error" {
				streamErr = fmt.Errorf("llm stream: %s", c.Text)
				return
			}
			if first && c.Text != "" {
				first = false
				e.metrics.LLMDuration.Record(rctx, time.Since(llmStart).Seconds())
			}
			full.WriteString(c.Text)
			turns.AppendText(c.Text)
			for _, s := range split.Push(c.Text) {
				select {
				case textCh <- s:
				case <-rctx.Done():
					return
				}
			}
		}
		if rest := split.Flush(); rest != "" {
			select {
			case textCh <- rest:
			case <-rctx.Done():
			}
		}
	}()

	barged, err := e.speak(rctx, character.Voice, textCh, func() {
		e.metrics.TurnDuration.Record(rctx, time.Since(utteranceEnd).Seconds())
	})
	if barged {
		// Stop the feeder too; its chunk channel closes on cancel.
		cancel()
	}
	<-feederDone

	if err != nil && ctx.Err() == nil {
		return "", false, err
	}
	if streamErr != nil && !barged {
		return "", false, streamErr
	}
	if ctx.Err() != nil {
		turns.EndInterrupted()
		return full.String(), false, ctx.Err()
	}

	if barged {
		turns.EndInterrupted()
	} else {
		turns.End()
	}
	return full.String(), barged, nil
}

// speak synthesises the text stream and plays it, watching for barge-in when
// the mode allows it. onFirstAudio, when non-nil, fires as the first audio
// chunk is queued.
func (e *Engine) speak(ctx context.Context, voice tts.VoiceProfile, text <-chan string, onFirstAudio func()) (bool, error) {
	ttsStart := time.Now()
	var audioCh <-chan []byte
	err := e.ttsBreaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		audioCh, err = e.deps.TTS.SynthesizeStream(ctx, text, voice)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("tts stream: %w", err)
	}

	var watch vad.SessionHandle
	if e.cfg.Mode == call.ModeBargeIn {
		watch, err = e.deps.VAD.NewSession(e.bargeConfig())
		if err != nil {
			e.log.Warn("barge-in watch unavailable", "error", err)
			watch = nil
		} else {
			defer watch.Close()
		}
	}

	// In turn-based mode the microphone is ignored during playback; a nil
	// channel never fires.
	input := e.deps.Device.Input()
	if watch == nil {
		input = nil
	}

	out := e.deps.Device.Output()
	frameBytes := audio.FrameBytes(e.cfg.SampleRate, e.cfg.FrameMs)

	var (
		playStart time.Time
		speechRun int
	)
	bargeHit := func(f audio.AudioFrame) bool {
		if playStart.IsZero() || time.Since(playStart) < e.cfg.BargeInDelay {
			return false
		}
		ev, verr := watch.ProcessFrame(f.Data)
		if verr != nil {
			return false
		}
		switch ev.Type {
		case vad.SpeechStart, vad.SpeechContinue:
			speechRun++
		default:
			speechRun = 0
		}
		return speechRun >= e.cfg.BargeInDebounceFrames
	}

	for {
		select {
		case <-ctx.Done():
			e.deps.Device.FlushOutput()
			return false, ctx.Err()

		case f, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			if bargeHit(f) {
				e.cutPlayback(ctx)
				return true, nil
			}

		case buf, ok := <-audioCh:
			if !ok {
				return e.drainPlayback(ctx, input, bargeHit)
			}
			if playStart.IsZero() {
				playStart = time.Now()
				e.metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
				if onFirstAudio != nil {
					onFirstAudio()
				}
			}
			for off := 0; off < len(buf); off += frameBytes {
				end := off + frameBytes
				if end > len(buf) {
					end = len(buf)
				}
				fr := audio.AudioFrame{Data: buf[off:end], SampleRate: e.cfg.SampleRate, Channels: 1}
				barged, err := e.enqueue(ctx, out, fr, input, bargeHit)
				if err != nil || barged {
					return barged, err
				}
			}
		}
	}
}

// enqueue writes one frame to the playback channel, still watching the
// microphone so a full output buffer cannot mask a barge-in.
func (e *Engine) enqueue(ctx context.Context, out chan<- audio.AudioFrame, fr audio.AudioFrame, input <-chan audio.AudioFrame, bargeHit func(audio.AudioFrame) bool) (bool, error) {
	for {
		select {
		case out <- fr:
			return false, nil
		case <-ctx.Done():
			e.deps.Device.FlushOutput()
			return false, ctx.Err()
		case f, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			if bargeHit(f) {
				e.cutPlayback(ctx)
				return true, nil
			}
		}
	}
}

// drainPlayback waits for queued audio to finish playing, still watching for
// barge-in.
func (e *Engine) drainPlayback(ctx context.Context, input <-chan audio.AudioFrame, bargeHit func(audio.AudioFrame) bool) (bool, error) {
	tick := time.NewTicker(time.Duration(e.cfg.FrameMs) * time.Millisecond)
	defer tick.Stop()
	for e.deps.Device.Playing() {
		select {
		case <-ctx.Done():
			e.deps.Device.FlushOutput()
			return false, ctx.Err()
		case f, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			if bargeHit(f) {
				e.cutPlayback(ctx)
				return true, nil
			}
		case <-tick.C:
		}
	}
	return false, nil
}

// cutPlayback silences the speaker. It returns only once the playback queue
// is empty, so the caller's next capture cannot pick up tail audio.
func (e *Engine) cutPlayback(ctx context.Context) {
	e.deps.Device.FlushOutput()
	e.metrics.BargeIns.Add(ctx, 1)
	e.log.Info("barge-in, playback flushed")
}

// speakText synthesises and plays a single fixed string.
func (e *Engine) speakText(ctx context.Context, voice tts.VoiceProfile, text string) (bool, error) {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return e.speak(ctx, voice, ch, nil)
}

// ---------------------------------------------------------------------------
// Failure handling and history
// ---------------------------------------------------------------------------

// failTurn records a collaborator failure: the open turn (if any) is marked
// failed, a fallback notice is spoken, and the streak decides whether the
// call is beyond saving. Reports true when Run should abort.
func (e *Engine) failTurn(ctx context.Context, turns *call.TurnLog, streak *resilience.Streak, character *registry.Character, collaborator string, err error) bool {
	e.log.Warn("collaborator failed", "collaborator", collaborator, "error", err)
	e.metrics.RecordCollaboratorError(ctx, collaborator, errKind(err))
	turns.EndFailed()

	if streak.RecordFailure() {
		e.log.Error("failure streak exhausted, ending call", "failures", streak.Count())
		return true
	}
	if _, nerr := e.speakText(ctx, character.Voice, e.cfg.FallbackNotice); nerr != nil && ctx.Err() == nil {
		e.log.Warn("fallback notice failed", "error", nerr)
	}
	return false
}

// pushHistory appends a message, trimming the oldest entries past the
// configured limit.
func (e *Engine) pushHistory(m llm.Message) {
	e.history = append(e.history, m)
	if e.cfg.HistoryLimit > 0 && len(e.history) > e.cfg.HistoryLimit {
		e.history = e.history[len(e.history)-e.cfg.HistoryLimit:]
	}
}

// collaboratorFor labels an error from respond for metrics.
func collaboratorFor(err error) string {
	s := err.Error()
	switch {
	case strings.HasPrefix(s, "tts"):
		return "tts"
	default:
		return "llm"
	}
}

func errKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, resilience.ErrBreakerOpen):
		return "breaker_open"
	default:
		return "error"
	}
}
