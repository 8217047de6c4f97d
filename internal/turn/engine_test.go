package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hotlinehq/hotline/internal/call"
	"github.com/hotlinehq/hotline/internal/registry"
	"github.com/hotlinehq/hotline/pkg/audio"
	audiomock "github.com/hotlinehq/hotline/pkg/audio/mock"
	"github.com/hotlinehq/hotline/pkg/provider/llm"
	llmmock "github.com/hotlinehq/hotline/pkg/provider/llm/mock"
	"github.com/hotlinehq/hotline/pkg/provider/stt"
	sttmock "github.com/hotlinehq/hotline/pkg/provider/stt/mock"
	"github.com/hotlinehq/hotline/pkg/provider/tts"
	ttsmock "github.com/hotlinehq/hotline/pkg/provider/tts/mock"
	"github.com/hotlinehq/hotline/pkg/provider/vad"
	vadmock "github.com/hotlinehq/hotline/pkg/provider/vad/mock"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// sttQueue hands out pre-scripted sessions in order, then falls back to fresh
// default sessions so later utterances block quietly instead of spinning on
// closed channels.
type sttQueue struct {
	mu       sync.Mutex
	sessions []stt.SessionHandle
}

func (q *sttQueue) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.sessions) > 0 {
		s := q.sessions[0]
		q.sessions = q.sessions[1:]
		return s, nil
	}
	return &sttmock.Session{
		PartialsCh:  make(chan stt.Transcript, 16),
		FinalsCh:    make(chan stt.Transcript, 16),
		CloseFinals: true,
	}, nil
}

func scriptedSTTSession(finals ...string) *sttmock.Session {
	s := &sttmock.Session{
		PartialsCh:  make(chan stt.Transcript, 16),
		FinalsCh:    make(chan stt.Transcript, 16),
		CloseFinals: true,
	}
	for _, text := range finals {
		s.FinalsCh <- stt.Transcript{Text: text, IsFinal: true}
	}
	return s
}

func einstein() *registry.Character {
	return &registry.Character{
		ID:           "einstein",
		Name:         "Albert Einstein",
		Number:       "3",
		SystemPrompt: "You are Albert Einstein.",
		Voice:        tts.VoiceProfile{ID: "voice-einstein"},
	}
}

func captureFrame() audio.AudioFrame {
	return audio.AudioFrame{
		Data:       make([]byte, audio.FrameBytes(DefaultSampleRate, DefaultFrameMs)),
		SampleRate: DefaultSampleRate,
		Channels:   1,
	}
}

// startPump simulates the speaker continuously playing queued frames so that
// drainPlayback can finish.
func startPump(t *testing.T, dev *audiomock.Device) {
	t.Helper()
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				dev.ConsumeQueued(-1)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() { close(stop) })
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// runEngine starts Run in a goroutine and returns its result channel plus a
// cancel for the call context.
func runEngine(t *testing.T, e *Engine, character *registry.Character) (<-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run(ctx, character)
		close(errCh)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return errCh, cancel
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestEngine_GreetingSpokenFirst(t *testing.T) {
	t.Parallel()

	dev := audiomock.NewDevice(256)
	startPump(t, dev)
	ttsP := &ttsmock.Provider{EchoText: true}
	e := NewEngine(
		Config{Mode: call.ModeTurnBased},
		Deps{
			Device: dev,
			STT:    &sttQueue{},
			LLM:    &llmmock.Provider{},
			TTS:    ttsP,
			VAD:    &vadmock.Engine{},
		},
		nil,
	)

	character := einstein()
	character.Greeting = "Guten Tag! You have reached Albert Einstein."
	_, _ = runEngine(t, e, character)

	waitFor(t, func() bool { return len(ttsP.ReceivedTextCopy()) > 0 }, "greeting never reached TTS")
	got := ttsP.ReceivedTextCopy()
	if got[0] != character.Greeting {
		t.Errorf("first synthesised text = %q, want greeting", got[0])
	}
	waitFor(t, func() bool { return len(dev.Played()) > 0 }, "greeting never played")

	turns := e.Turns().Turns()
	if len(turns) == 0 {
		t.Fatal("no turns logged")
	}
	if turns[0].Speaker != call.SpeakerAI || turns[0].Text != character.Greeting {
		t.Errorf("first turn = %+v, want AI greeting", turns[0])
	}
	if turns[0].Interrupted || turns[0].Failed {
		t.Error("greeting turn marked interrupted or failed")
	}
}

func TestEngine_FullTurn(t *testing.T) {
	t.Parallel()

	dev := audiomock.NewDevice(256)
	startPump(t, dev)

	endpoint := &vadmock.Session{Script: []vad.Event{
		{Type: vad.SpeechStart, Level: 0.4},
		{Type: vad.SpeechContinue, Level: 0.4},
		{Type: vad.SpeechEnd, Level: 0.01},
	}}
	sttP := &sttQueue{sessions: []stt.SessionHandle{
		scriptedSTTSession("tell me about relativity"),
	}}
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Relativity is "},
		{Text: "quite simple."},
		{FinishReason: "stop"},
	}}
	ttsP := &ttsmock.Provider{EchoText: true}

	e := NewEngine(
		Config{Mode: call.ModeTurnBased},
		Deps{
			Device: dev,
			STT:    sttP,
			LLM:    llmP,
			TTS:    ttsP,
			VAD:    &vadmock.Engine{Sessions: []vad.SessionHandle{endpoint}},
		},
		nil,
	)

	_, _ = runEngine(t, e, einstein())

	for i := 0; i < 3; i++ {
		dev.PushInput(captureFrame())
	}

	waitFor(t, func() bool { return llmP.StreamCallCount() == 1 }, "LLM never called")
	req := llmP.StreamCalls[0].Req
	if req.SystemPrompt != "You are Albert Einstein." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if n := len(req.Messages); n == 0 || req.Messages[n-1].Role != "user" ||
		req.Messages[n-1].Content != "tell me about relativity" {
		t.Errorf("last message = %+v, want the caller's transcript", req.Messages)
	}

	waitFor(t, func() bool { return len(ttsP.ReceivedTextCopy()) > 0 }, "reply never reached TTS")
	waitFor(t, func() bool { return len(dev.Played()) > 0 }, "reply never played")

	waitFor(t, func() bool {
		turns := e.Turns().Turns()
		return len(turns) >= 2 && !turns[1].Open()
	}, "turns not logged")
	turns := e.Turns().Turns()
	if turns[0].Speaker != call.SpeakerHuman || turns[0].Text != "tell me about relativity" {
		t.Errorf("human turn = %+v", turns[0])
	}
	if turns[1].Speaker != call.SpeakerAI || turns[1].Text != "Relativity is quite simple." {
		t.Errorf("ai turn = %+v", turns[1])
	}
	if turns[1].Interrupted || turns[1].Failed {
		t.Error("clean ai turn marked interrupted or failed")
	}
	if got := ttsP.ReceivedTextCopy(); got[0] != "Relativity is quite simple." {
		t.Errorf("synthesised sentence = %q", got[0])
	}
}

func TestEngine_BargeInFlushesPlayback(t *testing.T) {
	t.Parallel()

	dev := audiomock.NewDevice(256)

	endpoint := &vadmock.Session{Script: []vad.Event{
		{Type: vad.SpeechStart, Level: 0.4},
		{Type: vad.SpeechEnd, Level: 0.01},
	}}
	// Every playback-phase frame counts as speech, so the debounce run
	// completes as soon as enough frames arrive.
	watch := &vadmock.Session{EventResult: vad.Event{Type: vad.SpeechContinue, Level: 0.5}}

	sttP := &sttQueue{sessions: []stt.SessionHandle{
		scriptedSTTSession("tell me everything"),
	}}
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "It is a very long story. Let me begin at the beginning."},
		{FinishReason: "stop"},
	}}
	ttsP := &ttsmock.Provider{EchoText: true}

	e := NewEngine(
		Config{
			Mode:         call.ModeBargeIn,
			BargeInDelay: time.Nanosecond,
		},
		Deps{
			Device: dev,
			STT:    sttP,
			LLM:    llmP,
			TTS:    ttsP,
			VAD:    &vadmock.Engine{Sessions: []vad.SessionHandle{endpoint, watch}},
		},
		nil,
	)

	_, _ = runEngine(t, e, einstein())

	dev.PushInput(captureFrame())
	dev.PushInput(captureFrame())

	waitFor(t, func() bool { return len(dev.Played()) > 0 }, "playback never started")

	// The caller starts talking over the character.
	for i := 0; i < DefaultBargeInDebounceFrames+4; i++ {
		dev.PushInput(captureFrame())
	}

	waitFor(t, func() bool { return dev.FlushCount() > 0 }, "barge-in never flushed playback")

	// The in-flight synthesis must be cancelled, not just silenced.
	waitFor(t, func() bool {
		calls := ttsP.StreamCallsCopy()
		return len(calls) > 0 && calls[0].Ctx.Err() != nil
	}, "tts stream context not cancelled after barge-in")

	waitFor(t, func() bool {
		turns := e.Turns().Turns()
		return len(turns) >= 2 && turns[1].Interrupted
	}, "interrupted turn not recorded")
	turns := e.Turns().Turns()
	if turns[1].Speaker != call.SpeakerAI {
		t.Errorf("interrupted turn speaker = %q, want ai", turns[1].Speaker)
	}
}

func TestEngine_TurnSpansRecorded(t *testing.T) {
	// Installs the global tracer provider, so no t.Parallel.
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	dev := audiomock.NewDevice(256)
	startPump(t, dev)

	endpoint := &vadmock.Session{Script: []vad.Event{
		{Type: vad.SpeechStart, Level: 0.4},
		{Type: vad.SpeechEnd, Level: 0.01},
	}}
	sttP := &sttQueue{sessions: []stt.SessionHandle{
		scriptedSTTSession("what time is it"),
	}}
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Time is relative."},
		{FinishReason: "stop"},
	}}

	e := NewEngine(
		Config{Mode: call.ModeTurnBased},
		Deps{
			Device: dev,
			STT:    sttP,
			LLM:    llmP,
			TTS:    &ttsmock.Provider{EchoText: true},
			VAD:    &vadmock.Engine{Sessions: []vad.SessionHandle{endpoint}},
		},
		nil,
	)

	_, _ = runEngine(t, e, einstein())
	dev.PushInput(captureFrame())
	dev.PushInput(captureFrame())

	waitFor(t, func() bool {
		names := make(map[string]bool)
		for _, s := range rec.Ended() {
			names[s.Name()] = true
		}
		return names["turn.listen"] && names["turn.respond"]
	}, "turn pipeline spans not recorded")
}

func TestEngine_EmptyTranscriptSkipsLLM(t *testing.T) {
	t.Parallel()

	dev := audiomock.NewDevice(256)
	endpoint := &vadmock.Session{Script: []vad.Event{
		{Type: vad.SpeechStart, Level: 0.4},
		{Type: vad.SpeechEnd, Level: 0.01},
	}}
	sttP := &sttQueue{sessions: []stt.SessionHandle{scriptedSTTSession()}}
	llmP := &llmmock.Provider{}

	e := NewEngine(
		Config{Mode: call.ModeTurnBased},
		Deps{
			Device: dev,
			STT:    sttP,
			LLM:    llmP,
			TTS:    &ttsmock.Provider{EchoText: true},
			VAD:    &vadmock.Engine{Sessions: []vad.SessionHandle{endpoint}},
		},
		nil,
	)

	_, _ = runEngine(t, e, einstein())
	dev.PushInput(captureFrame())
	dev.PushInput(captureFrame())

	// Give the engine time to process the empty utterance.
	time.Sleep(50 * time.Millisecond)
	if llmP.StreamCallCount() != 0 {
		t.Error("LLM called for an empty transcript")
	}
	if e.Turns().Len() != 0 {
		t.Errorf("turns logged for empty transcript: %d", e.Turns().Len())
	}
}

func TestEngine_FailureStreakEndsCall(t *testing.T) {
	t.Parallel()

	dev := audiomock.NewDevice(256)
	startPump(t, dev)

	e := NewEngine(
		Config{Mode: call.ModeTurnBased},
		Deps{
			Device: dev,
			STT:    &sttmock.Provider{StartStreamErr: errors.New("deepgram unreachable")},
			LLM:    &llmmock.Provider{},
			TTS:    &ttsmock.Provider{EchoText: true},
			VAD:    &vadmock.Engine{},
		},
		nil,
	)

	errCh, _ := runEngine(t, e, einstein())

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTooManyFailures) {
			t.Fatalf("err = %v, want ErrTooManyFailures", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not escalate after repeated failures")
	}
}

func TestEngine_SingleFailureRecovers(t *testing.T) {
	t.Parallel()

	dev := audiomock.NewDevice(256)
	startPump(t, dev)

	endpoint := &vadmock.Session{Script: []vad.Event{
		{Type: vad.SpeechStart, Level: 0.4},
		{Type: vad.SpeechEnd, Level: 0.01},
	}}
	sttP := &sttQueue{sessions: []stt.SessionHandle{
		scriptedSTTSession("hello?"),
	}}
	// The first LLM request fails; the engine must speak the fallback notice
	// and keep listening instead of ending the call.
	llmP := &llmmock.Provider{StreamErr: errors.New("model overloaded")}
	ttsP := &ttsmock.Provider{EchoText: true}

	e := NewEngine(
		Config{Mode: call.ModeTurnBased},
		Deps{
			Device: dev,
			STT:    sttP,
			LLM:    llmP,
			TTS:    ttsP,
			VAD:    &vadmock.Engine{Sessions: []vad.SessionHandle{endpoint}},
		},
		nil,
	)

	errCh, _ := runEngine(t, e, einstein())
	dev.PushInput(captureFrame())
	dev.PushInput(captureFrame())

	waitFor(t, func() bool {
		for _, text := range ttsP.ReceivedTextCopy() {
			if text == DefaultFallbackNotice {
				return true
			}
		}
		return false
	}, "fallback notice never spoken")

	select {
	case err := <-errCh:
		t.Fatalf("engine ended after a single failure: %v", err)
	default:
	}

	waitFor(t, func() bool {
		turns := e.Turns().Turns()
		return len(turns) >= 2 && turns[1].Failed
	}, "failed turn not recorded")
}
