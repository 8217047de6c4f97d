package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "stt"}, nil)
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenProbes != 3 {
		t.Errorf("halfOpenProbes = %d, want 3", b.halfOpenProbes)
	}
	if b.State() != BreakerClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedForwardsCalls(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "llm", MaxFailures: 3}, nil)
	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "tts",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return errTest })
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	err := b.Execute(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "llm", MaxFailures: 3}, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	_ = b.Execute(ctx, func(context.Context) error { return nil })

	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after success", b.State())
	}

	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	if b.State() != BreakerClosed {
		t.Fatal("opened after only 2 failures post-reset")
	}
}

func TestBreaker_CancellationIsNotFailure(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "tts",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	}, nil)
	ctx := context.Background()

	// A barge-in cancels requests over and over. The breaker must stay
	// closed no matter how many cancellations it sees.
	for i := 0; i < 10; i++ {
		err := b.Execute(ctx, func(context.Context) error {
			return context.Canceled
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after cancellations", b.State())
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:           "stt",
		MaxFailures:    2,
		ResetTimeout:   10 * time.Millisecond,
		HalfOpenProbes: 2,
	}, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	if b.State() != BreakerOpen {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", b.State())
	}
}

func TestBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:           "llm",
		MaxFailures:    2,
		ResetTimeout:   10 * time.Millisecond,
		HalfOpenProbes: 2,
	}, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after probes", b.State())
	}
}

func TestBreaker_ReopensOnProbeFailure(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:           "tts",
		MaxFailures:    2,
		ResetTimeout:   10 * time.Millisecond,
		HalfOpenProbes: 3,
	}, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	time.Sleep(15 * time.Millisecond)

	if err := b.Execute(ctx, func(context.Context) error { return errTest }); err == nil {
		t.Fatal("expected error from failing probe")
	}

	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	if s != BreakerOpen {
		t.Fatalf("state = %v, want open after probe failure", s)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "stt",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	}, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	_ = b.Execute(ctx, func(context.Context) error { return errTest })
	if b.State() != BreakerOpen {
		t.Fatal("expected open")
	}

	b.Reset()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("BreakerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
