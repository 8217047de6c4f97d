// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to inject Event responses and inspect the frames that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{
//	    Script: []vad.Event{
//	        {Type: vad.SpeechStart, Level: 0.4},
//	        {Type: vad.SpeechEnd, Level: 0.01},
//	    },
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/hotlinehq/hotline/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// Sessions, when non-empty, is consumed one handle per NewSession call.
	// Takes precedence over Session. When exhausted, NewSession falls back to
	// Session or a default.
	Sessions []vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns the next configured handle.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if len(e.Sessions) > 0 {
		s := e.Sessions[0]
		e.Sessions = e.Sessions[1:]
		return s, nil
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// ProcessFrameCall records a single invocation of Session.ProcessFrame.
type ProcessFrameCall struct {
	// Frame is a copy of the bytes passed to ProcessFrame.
	Frame []byte
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script, when non-empty, is consumed one Event per ProcessFrame call.
	// When the script runs out, ProcessFrame returns EventResult.
	Script []vad.Event

	// EventResult is returned by ProcessFrame once Script is exhausted (or if
	// Script is empty).
	EventResult vad.Event

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ProcessFrameCalls records every call to ProcessFrame in order.
	ProcessFrameCalls []ProcessFrameCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessFrame records the call and returns the next scripted Event.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.ProcessFrameCalls = append(s.ProcessFrameCalls, ProcessFrameCall{Frame: cp})
	if s.ProcessFrameErr != nil {
		return vad.Event{}, s.ProcessFrameErr
	}
	if len(s.Script) > 0 {
		ev := s.Script[0]
		s.Script = s.Script[1:]
		return ev, nil
	}
	return s.EventResult, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ProcessFrameCallCount returns the number of ProcessFrame calls. Thread-safe.
func (s *Session) ProcessFrameCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ProcessFrameCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessFrameCalls = nil
	s.ResetCallCount = 0
	s.CloseCallCount = 0
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
