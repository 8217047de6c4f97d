// Package energy provides a pure-Go RMS energy VAD engine with hysteresis.
// It implements the vad.Engine interface.
//
// The detector classifies each frame by its normalised RMS level against two
// thresholds and requires a run of consecutive frames before changing state,
// which keeps it from flickering between speech and silence on breath noise
// or line hum. It needs no model files and adds no per-frame allocation,
// making it suitable for the 20 ms handset loop on a Raspberry Pi.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/hotlinehq/hotline/pkg/provider/vad"
)

const (
	defaultSpeechThreshold  = 0.015
	defaultSilenceThreshold = 0.008

	// ~60ms to confirm speech, ~200ms to confirm silence at 20ms frames.
	defaultSpeechStartFrames = 3
	defaultSpeechEndFrames   = 10
)

// Engine implements vad.Engine with RMS energy detection.
type Engine struct{}

// Compile-time assertion that Engine satisfies the vad.Engine interface.
var _ vad.Engine = (*Engine)(nil)

// New creates a new RMS energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession creates a new detection session for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: SampleRate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: FrameSizeMs must be positive, got %d", cfg.FrameSizeMs)
	}

	speechThr := cfg.SpeechThreshold
	if speechThr == 0 {
		speechThr = defaultSpeechThreshold
	}
	silenceThr := cfg.SilenceThreshold
	if silenceThr == 0 {
		silenceThr = defaultSilenceThreshold
	}
	if silenceThr > speechThr {
		return nil, fmt.Errorf("energy: SilenceThreshold %v must not exceed SpeechThreshold %v", silenceThr, speechThr)
	}

	startFrames := cfg.SpeechStartFrames
	if startFrames == 0 {
		startFrames = defaultSpeechStartFrames
	}
	endFrames := cfg.SpeechEndFrames
	if endFrames == 0 {
		endFrames = defaultSpeechEndFrames
	}

	// 16-bit mono samples.
	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2

	return &session{
		frameBytes:       frameBytes,
		speechThreshold:  speechThr,
		silenceThreshold: silenceThr,
		startFrames:      startFrames,
		endFrames:        endFrames,
	}, nil
}

// session holds the hysteresis state for one audio stream.
type session struct {
	frameBytes       int
	speechThreshold  float64
	silenceThreshold float64
	startFrames      int
	endFrames        int

	inSpeech     bool
	speechCount  int
	silenceCount int
	closed       bool
}

var _ vad.SessionHandle = (*session)(nil)

var errClosed = errors.New("energy: session is closed")

// ProcessFrame classifies one PCM16 frame.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy: frame size %d bytes, want %d", len(frame), s.frameBytes)
	}

	level := rmsLevel(frame)

	if s.inSpeech {
		if level < s.silenceThreshold {
			s.silenceCount++
			s.speechCount = 0
			if s.silenceCount >= s.endFrames {
				s.inSpeech = false
				s.silenceCount = 0
				return vad.Event{Type: vad.SpeechEnd, Level: level}, nil
			}
		} else {
			s.silenceCount = 0
		}
		return vad.Event{Type: vad.SpeechContinue, Level: level}, nil
	}

	if level >= s.speechThreshold {
		s.speechCount++
		s.silenceCount = 0
		if s.speechCount >= s.startFrames {
			s.inSpeech = true
			s.speechCount = 0
			return vad.Event{Type: vad.SpeechStart, Level: level}, nil
		}
	} else {
		s.speechCount = 0
	}
	return vad.Event{Type: vad.Silence, Level: level}, nil
}

// Reset clears the hysteresis state without closing the session.
func (s *session) Reset() {
	if s.closed {
		return
	}
	s.inSpeech = false
	s.speechCount = 0
	s.silenceCount = 0
}

// Close marks the session closed. Subsequent ProcessFrame calls error.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// rmsLevel computes the normalised RMS of a little-endian PCM16 frame.
// The result is in [0.0, 1.0] where 1.0 is a full-scale square wave.
func rmsLevel(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
