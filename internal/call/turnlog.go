package call

import (
	"sync"
	"time"
)

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	// SpeakerHuman is the caller.
	SpeakerHuman Speaker = "human"

	// SpeakerAI is the character.
	SpeakerAI Speaker = "ai"
)

// ConversationTurn is one utterance in a call, either the caller's transcript
// or the character's response text.
type ConversationTurn struct {
	// Speaker is who produced the turn.
	Speaker Speaker

	// Text is the transcript or response text. It may grow while the turn is
	// open and streaming.
	Text string

	// StartedAt is when the turn opened.
	StartedAt time.Time

	// EndedAt is when the turn closed. Zero while the turn is open.
	EndedAt time.Time

	// Interrupted marks a turn whose playback was cut short by a barge-in.
	Interrupted bool

	// Failed marks a turn ended by a collaborator error.
	Failed bool
}

// Open reports whether the turn has not been closed yet.
func (t ConversationTurn) Open() bool { return t.EndedAt.IsZero() }

// TurnLog is the append-only record of a call's conversation turns.
//
// Turns are totally ordered by start time, and at most one turn is open at
// any moment: beginning a new turn while another is open closes the open one
// as interrupted, which is exactly the barge-in semantics the engine needs.
type TurnLog struct {
	mu    sync.Mutex
	turns []ConversationTurn
}

// NewTurnLog creates an empty log.
func NewTurnLog() *TurnLog {
	return &TurnLog{}
}

// Begin opens a new turn for the given speaker. An already-open turn is
// closed first and marked interrupted.
func (l *TurnLog) Begin(speaker Speaker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.closeOpenLocked(now, true, false)
	l.turns = append(l.turns, ConversationTurn{Speaker: speaker, StartedAt: now})
}

// AppendText appends streamed text to the open turn. A no-op when no turn is
// open.
func (l *TurnLog) AppendText(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.openIndexLocked(); i >= 0 {
		l.turns[i].Text += text
	}
}

// End closes the open turn normally. A no-op when no turn is open.
func (l *TurnLog) End() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeOpenLocked(time.Now(), false, false)
}

// EndInterrupted closes the open turn and marks it interrupted.
func (l *TurnLog) EndInterrupted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeOpenLocked(time.Now(), true, false)
}

// EndFailed closes the open turn and marks it failed.
func (l *TurnLog) EndFailed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeOpenLocked(time.Now(), false, true)
}

// Turns returns a copy of all recorded turns in start order.
func (l *TurnLog) Turns() []ConversationTurn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ConversationTurn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of recorded turns, open or closed.
func (l *TurnLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// OpenTurn returns a copy of the currently open turn, if any.
func (l *TurnLog) OpenTurn() (ConversationTurn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.openIndexLocked(); i >= 0 {
		return l.turns[i], true
	}
	return ConversationTurn{}, false
}

// openIndexLocked returns the index of the open turn, or -1. Only the last
// turn can be open.
func (l *TurnLog) openIndexLocked() int {
	if n := len(l.turns); n > 0 && l.turns[n-1].Open() {
		return n - 1
	}
	return -1
}

func (l *TurnLog) closeOpenLocked(at time.Time, interrupted, failed bool) {
	i := l.openIndexLocked()
	if i < 0 {
		return
	}
	l.turns[i].EndedAt = at
	l.turns[i].Interrupted = l.turns[i].Interrupted || interrupted
	l.turns[i].Failed = l.turns[i].Failed || failed
}
