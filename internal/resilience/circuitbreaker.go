// Package resilience guards the conversation's external collaborators.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open)
// wrapped around each STT/LLM/TTS call so a dead service is bypassed fast
// instead of stalling every turn. [Streak] counts consecutive collaborator
// failures within one call session and tells the turn engine when to give up
// and tear the call down.
//
// Cancellation is not failure: a request aborted by a barge-in or a hang-up
// leaves both the breaker and the streak untouched.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Execute] while the breaker is open
// and the reset timeout has not elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls immediately with [ErrBreakerOpen] until the
	// reset timeout elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe calls through to decide
	// whether the collaborator has recovered.
	BreakerHalfOpen
)

// String returns the state name for logging.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the tuning knobs for a [Breaker]. Zero values select
// the defaults.
type BreakerConfig struct {
	// Name labels the guarded collaborator in log messages ("stt", "llm",
	// "tts").
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is how many successful probe calls close the breaker
	// again. Default: 3.
	HalfOpenProbes int
}

// Breaker is a circuit breaker for one external collaborator.
type Breaker struct {
	name           string
	maxFailures    int
	resetTimeout   time.Duration
	halfOpenProbes int
	log            *slog.Logger

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	probeCalls    int
	probeFailures int
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		name:           cfg.Name,
		maxFailures:    cfg.MaxFailures,
		resetTimeout:   cfg.ResetTimeout,
		halfOpenProbes: cfg.HalfOpenProbes,
		log:            log.With("breaker", cfg.Name),
	}
}

// Execute runs fn if the breaker allows it. In the open state fn is not
// called and [ErrBreakerOpen] is returned. An error from fn that wraps
// [context.Canceled] is passed through without counting as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.resetTimeout {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probeCalls = 0
		b.probeFailures = 0
		b.log.Info("breaker half-open, probing")

	case BreakerHalfOpen:
		if b.probeCalls >= b.halfOpenProbes {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	probing := b.state == BreakerHalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn(ctx)

	if errors.Is(err, context.Canceled) {
		// Barge-in or hang-up aborted the call. Not the collaborator's fault.
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure updates state after a failed call. Caller holds b.mu.
func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.probeFailures++
		b.state = BreakerOpen
		b.failures = b.maxFailures
		b.log.Warn("breaker re-opened, probe failed")
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.state = BreakerOpen
		b.log.Warn("breaker opened", "consecutive_failures", b.failures)
	}
}

// onSuccess updates state after a successful call. Caller holds b.mu.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probeCalls-b.probeFailures >= b.halfOpenProbes {
			b.state = BreakerClosed
			b.failures = 0
			b.probeCalls = 0
			b.probeFailures = 0
			b.log.Info("breaker closed, collaborator recovered")
		}
		return
	}
	b.failures = 0
}

// State returns the breaker's current state. An open breaker whose reset
// timeout has elapsed reports half-open; the transition itself happens on the
// next Execute.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters. Called when a new
// call session starts so one bad call cannot poison the next.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probeCalls = 0
	b.probeFailures = 0
}
