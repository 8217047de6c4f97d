package energy

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/hotlinehq/hotline/pkg/provider/vad"
)

const (
	testSampleRate = 16000
	testFrameMs    = 20
)

// pcmFrame builds a 20ms 16kHz mono PCM16 frame of a sine wave at the given
// amplitude (0.0 to 1.0). Amplitude 0 produces a silent frame.
func pcmFrame(amplitude float64) []byte {
	samples := testSampleRate * testFrameMs / 1000
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(testSampleRate))
		s := int16(v * 32767)
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

func newTestSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	sess, err := New().NewSession(vad.Config{
		SampleRate:  testSampleRate,
		FrameSizeMs: testFrameMs,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestNewSession_Validation(t *testing.T) {
	e := New()

	cases := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero sample rate", vad.Config{FrameSizeMs: 20}},
		{"zero frame size", vad.Config{SampleRate: 16000}},
		{"inverted thresholds", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.01, SilenceThreshold: 0.02}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.NewSession(tc.cfg); err == nil {
				t.Error("NewSession returned nil error, want non-nil")
			}
		})
	}
}

func TestProcessFrame_WrongSize(t *testing.T) {
	sess := newTestSession(t)
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("ProcessFrame(short frame) returned nil error, want non-nil")
	}
}

func TestProcessFrame_SilenceStaysSilent(t *testing.T) {
	sess := newTestSession(t)
	for i := 0; i < 50; i++ {
		ev, err := sess.ProcessFrame(pcmFrame(0))
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Type != vad.Silence {
			t.Fatalf("frame %d: Type = %v, want Silence", i, ev.Type)
		}
	}
}

func TestProcessFrame_SpeechStartAfterConsecutiveFrames(t *testing.T) {
	sess := newTestSession(t)

	// Frames 1 and 2 above threshold stay Silence; frame 3 fires SpeechStart.
	for i := 0; i < defaultSpeechStartFrames-1; i++ {
		ev, err := sess.ProcessFrame(pcmFrame(0.5))
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Type != vad.Silence {
			t.Fatalf("frame %d: Type = %v, want Silence before start threshold", i, ev.Type)
		}
	}

	ev, err := sess.ProcessFrame(pcmFrame(0.5))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.SpeechStart {
		t.Fatalf("Type = %v, want SpeechStart", ev.Type)
	}
	if ev.Level <= 0 {
		t.Errorf("Level = %v, want > 0", ev.Level)
	}

	// Next loud frame continues speech.
	ev, _ = sess.ProcessFrame(pcmFrame(0.5))
	if ev.Type != vad.SpeechContinue {
		t.Errorf("Type = %v, want SpeechContinue", ev.Type)
	}
}

func TestProcessFrame_SpeechEndAfterSilenceRun(t *testing.T) {
	sess := newTestSession(t)

	// Enter speech.
	for i := 0; i < defaultSpeechStartFrames; i++ {
		sess.ProcessFrame(pcmFrame(0.5))
	}

	// Silence frames below endFrames keep SpeechContinue.
	for i := 0; i < defaultSpeechEndFrames-1; i++ {
		ev, err := sess.ProcessFrame(pcmFrame(0))
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Type != vad.SpeechContinue {
			t.Fatalf("frame %d: Type = %v, want SpeechContinue during tail", i, ev.Type)
		}
	}

	ev, err := sess.ProcessFrame(pcmFrame(0))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.SpeechEnd {
		t.Fatalf("Type = %v, want SpeechEnd", ev.Type)
	}

	// Back to silence afterwards.
	ev, _ = sess.ProcessFrame(pcmFrame(0))
	if ev.Type != vad.Silence {
		t.Errorf("Type = %v, want Silence after end", ev.Type)
	}
}

func TestProcessFrame_BriefNoiseDoesNotTrigger(t *testing.T) {
	sess := newTestSession(t)

	// Two loud frames, then quiet: the speech counter must reset.
	sess.ProcessFrame(pcmFrame(0.5))
	sess.ProcessFrame(pcmFrame(0.5))
	sess.ProcessFrame(pcmFrame(0))

	ev, err := sess.ProcessFrame(pcmFrame(0.5))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.Silence {
		t.Errorf("Type = %v, want Silence (counter should have reset)", ev.Type)
	}
}

func TestProcessFrame_BriefDipDoesNotEndSpeech(t *testing.T) {
	sess := newTestSession(t)

	for i := 0; i < defaultSpeechStartFrames; i++ {
		sess.ProcessFrame(pcmFrame(0.5))
	}

	// A short dip followed by speech must not end the segment.
	sess.ProcessFrame(pcmFrame(0))
	sess.ProcessFrame(pcmFrame(0))
	ev, _ := sess.ProcessFrame(pcmFrame(0.5))
	if ev.Type != vad.SpeechContinue {
		t.Errorf("Type = %v, want SpeechContinue (dip should reset silence counter)", ev.Type)
	}

	// And the silence run must start over.
	for i := 0; i < defaultSpeechEndFrames-1; i++ {
		ev, _ = sess.ProcessFrame(pcmFrame(0))
		if ev.Type != vad.SpeechContinue {
			t.Fatalf("frame %d: Type = %v, want SpeechContinue", i, ev.Type)
		}
	}
}

func TestReset_ClearsState(t *testing.T) {
	sess := newTestSession(t)

	for i := 0; i < defaultSpeechStartFrames; i++ {
		sess.ProcessFrame(pcmFrame(0.5))
	}

	sess.Reset()

	ev, err := sess.ProcessFrame(pcmFrame(0))
	if err != nil {
		t.Fatalf("ProcessFrame after Reset: %v", err)
	}
	if ev.Type != vad.Silence {
		t.Errorf("Type = %v, want Silence after Reset", ev.Type)
	}
}

func TestClose_Idempotent(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := sess.ProcessFrame(pcmFrame(0)); err == nil {
		t.Error("ProcessFrame after Close returned nil error, want non-nil")
	}
}

func TestRMSLevel(t *testing.T) {
	if got := rmsLevel(pcmFrame(0)); got != 0 {
		t.Errorf("rmsLevel(silence) = %v, want 0", got)
	}

	// A full-scale sine has RMS 1/sqrt(2).
	got := rmsLevel(pcmFrame(1.0))
	want := 1 / math.Sqrt2
	if math.Abs(got-want) > 0.01 {
		t.Errorf("rmsLevel(full sine) = %v, want ~%v", got, want)
	}
}
