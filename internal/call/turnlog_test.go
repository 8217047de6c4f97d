package call

import "testing"

func TestTurnLog_BeginAndEnd(t *testing.T) {
	t.Parallel()

	l := NewTurnLog()
	l.Begin(SpeakerHuman)
	l.AppendText("hello ")
	l.AppendText("einstein")
	l.End()

	turns := l.Turns()
	if len(turns) != 1 {
		t.Fatalf("len = %d, want 1", len(turns))
	}
	tr := turns[0]
	if tr.Speaker != SpeakerHuman {
		t.Errorf("speaker = %q, want %q", tr.Speaker, SpeakerHuman)
	}
	if tr.Text != "hello einstein" {
		t.Errorf("text = %q", tr.Text)
	}
	if tr.Open() {
		t.Error("turn still open after End")
	}
	if tr.Interrupted || tr.Failed {
		t.Error("clean turn marked interrupted or failed")
	}
}

func TestTurnLog_BeginInterruptsOpenTurn(t *testing.T) {
	t.Parallel()

	l := NewTurnLog()
	l.Begin(SpeakerAI)
	l.AppendText("well, relativity is")
	l.Begin(SpeakerHuman)

	turns := l.Turns()
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if !turns[0].Interrupted {
		t.Error("preempted turn not marked interrupted")
	}
	if turns[0].Open() {
		t.Error("preempted turn still open")
	}
	if turns[1].Speaker != SpeakerHuman || !turns[1].Open() {
		t.Error("new turn not open for the human")
	}
}

func TestTurnLog_AtMostOneOpen(t *testing.T) {
	t.Parallel()

	l := NewTurnLog()
	l.Begin(SpeakerHuman)
	l.Begin(SpeakerAI)
	l.Begin(SpeakerHuman)

	open := 0
	for _, tr := range l.Turns() {
		if tr.Open() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open turns = %d, want 1", open)
	}
}

func TestTurnLog_EndFailed(t *testing.T) {
	t.Parallel()

	l := NewTurnLog()
	l.Begin(SpeakerAI)
	l.EndFailed()

	turns := l.Turns()
	if !turns[0].Failed {
		t.Error("turn not marked failed")
	}
	if turns[0].Interrupted {
		t.Error("failed turn also marked interrupted")
	}
}

func TestTurnLog_OrderedByStart(t *testing.T) {
	t.Parallel()

	l := NewTurnLog()
	for i := 0; i < 5; i++ {
		l.Begin(SpeakerHuman)
		l.End()
	}

	turns := l.Turns()
	for i := 1; i < len(turns); i++ {
		if turns[i].StartedAt.Before(turns[i-1].StartedAt) {
			t.Fatalf("turn %d starts before turn %d", i, i-1)
		}
	}
}

func TestTurnLog_EndWithoutOpenIsNoop(t *testing.T) {
	t.Parallel()

	l := NewTurnLog()
	l.End()
	l.EndFailed()
	l.AppendText("ignored")
	if l.Len() != 0 {
		t.Errorf("len = %d, want 0", l.Len())
	}
	if _, ok := l.OpenTurn(); ok {
		t.Error("OpenTurn reported an open turn on an empty log")
	}
}

func TestParseTurnMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    TurnMode
		wantErr bool
	}{
		{"turn", ModeTurnBased, false},
		{"barge", ModeBargeIn, false},
		{"", ModeTurnBased, true},
		{"duplex", ModeTurnBased, true},
	}
	for _, tc := range tests {
		got, err := ParseTurnMode(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseTurnMode(%q) err = %v, wantErr = %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseTurnMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTurnMode_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, mode := range []TurnMode{ModeTurnBased, ModeBargeIn} {
		got, err := ParseTurnMode(mode.String())
		if err != nil {
			t.Fatalf("ParseTurnMode(%q): %v", mode.String(), err)
		}
		if got != mode {
			t.Errorf("round trip %v = %v", mode, got)
		}
	}
}
