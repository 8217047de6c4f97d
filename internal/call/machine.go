package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hotlinehq/hotline/internal/dial"
	"github.com/hotlinehq/hotline/internal/hardware"
	"github.com/hotlinehq/hotline/internal/observe"
	"github.com/hotlinehq/hotline/internal/registry"
)

// Machine timing defaults.
const (
	// DefaultRingNoAnswerWindow is how long a ringing phone waits for an
	// off-hook before giving up and returning to idle.
	DefaultRingNoAnswerWindow = 8 * time.Second

	// DefaultResolveTimeout bounds the registry lookup for a dialed number.
	DefaultResolveTimeout = 5 * time.Second
)

// Conversation runs the connected phase of a call. The Machine starts it when
// a character answers and cancels its context on hang-up; Run returning for
// any other reason (including the engine's own failure escalation) tears the
// call down.
type Conversation interface {
	Run(ctx context.Context, character *registry.Character) error
}

// Bell is the slice of the bell controller the Machine drives: it consumes
// ring triggers and silences the bell the moment the handset lifts.
type Bell interface {
	Triggers() <-chan time.Time
	Stop()
}

// Prompter surfaces dial-outcome feedback to the caller, spoken in voice mode
// or printed in text mode. Implementations must not block; the Machine calls
// them from its event loop.
type Prompter interface {
	// CharacterNotFound reports that the dialed number matched no character.
	CharacterNotFound(ctx context.Context, number string)

	// NoSelection reports that the inter-digit window expired with no digits.
	NoSelection(ctx context.Context)
}

// Config holds the Machine's tunable parameters. Zero values select the
// defaults above.
type Config struct {
	// TurnMode is the turn-taking policy stamped on every session.
	TurnMode TurnMode

	// InterDigitWindow is the dial collector's completion window.
	InterDigitWindow time.Duration

	// RingNoAnswerWindow is how long RINGING persists without an off-hook.
	RingNoAnswerWindow time.Duration

	// ResolveTimeout bounds the character registry lookup.
	ResolveTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RingNoAnswerWindow == 0 {
		c.RingNoAnswerWindow = DefaultRingNoAnswerWindow
	}
	if c.ResolveTimeout == 0 {
		c.ResolveTimeout = DefaultResolveTimeout
	}
}

// Deps are the collaborators the Machine consumes. Hooks, Digits, and
// Registry are required; the rest may be nil (a nil channel never fires).
type Deps struct {
	// Hooks delivers debounced hook transitions. Highest-priority input.
	Hooks <-chan hardware.HookEvent

	// Digits delivers decoded rotary digits.
	Digits <-chan hardware.Digit

	// DecodeErrors delivers invalid pulse train reports. Counted and logged,
	// never escalated.
	DecodeErrors <-chan error

	// Bell is the proximity bell controller, nil in text mode.
	Bell Bell

	// Registry resolves dialed numbers to characters.
	Registry registry.Registry

	// Conversation runs the connected phase.
	Conversation Conversation

	// Prompter surfaces dial feedback, nil to drop prompts.
	Prompter Prompter

	// Metrics records machine activity. Nil selects the default instance.
	Metrics *observe.Metrics
}

// lookupResult carries an async registry lookup back into the event loop.
type lookupResult struct {
	number    string
	character *registry.Character
	err       error
}

// Machine is the call session state machine.
//
// Run drives a single-goroutine event loop; every transition happens inside
// it, so no session field is ever written from two goroutines. Long-running
// work (registry lookups, the conversation itself) runs in child goroutines
// that report back over channels and hold a context the loop can cancel, so
// an on-hook event is never blocked behind in-flight work.
type Machine struct {
	cfg       Config
	deps      Deps
	collector *dial.Collector
	metrics   *observe.Metrics
	log       *slog.Logger

	mu      sync.RWMutex
	session Session

	// Event-loop state. Touched only by Run's goroutine.
	resolveCancel context.CancelFunc
	lookupCh      chan lookupResult
	convCancel    context.CancelFunc
	convDone      chan error
	ringTimer     *time.Timer
	ringArmed     bool
}

// NewMachine creates a machine in StateIdle.
func NewMachine(cfg Config, deps Deps, log *slog.Logger) *Machine {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Machine{
		cfg:       cfg,
		deps:      deps,
		collector: dial.NewCollector(cfg.InterDigitWindow),
		metrics:   metrics,
		log:       log.With("component", "call_machine"),
		session:   Session{State: StateIdle, TurnMode: cfg.TurnMode},
	}
}

// Snapshot returns a copy of the current session. The Character pointer is
// shared and must be treated as read-only.
func (m *Machine) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// State returns the current session state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.State
}

// BellGate reports whether the bell may ring: only while the session is idle,
// which implies the handset is on the cradle. Safe to call from the bell
// controller's poll goroutine.
func (m *Machine) BellGate() bool {
	return m.State() == StateIdle
}

// Run drives the event loop until ctx is done or the hook channel closes.
// Any live call is torn down before Run returns.
func (m *Machine) Run(ctx context.Context) error {
	defer m.teardown(ctx)

	var bellTriggers <-chan time.Time
	if m.deps.Bell != nil {
		bellTriggers = m.deps.Bell.Triggers()
	}

	for {
		// Hook transitions pre-empt every other pending event.
		select {
		case ev, ok := <-m.deps.Hooks:
			if !ok {
				return nil
			}
			m.handleHook(ctx, ev)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-m.deps.Hooks:
			if !ok {
				return nil
			}
			m.handleHook(ctx, ev)

		case d, ok := <-m.deps.Digits:
			if !ok {
				m.deps.Digits = nil
				continue
			}
			m.handleDigit(ctx, d)

		case err, ok := <-m.deps.DecodeErrors:
			if !ok {
				m.deps.DecodeErrors = nil
				continue
			}
			m.metrics.DecodeErrors.Add(ctx, 1)
			m.log.Warn("dial pulse train discarded", "error", err)

		case _, ok := <-bellTriggers:
			if !ok {
				bellTriggers = nil
				continue
			}
			m.handleBellTrigger(ctx)

		case <-m.collector.Expired():
			m.handleDialExpiry(ctx)

		case <-m.ringExpired():
			m.handleRingExpiry()

		case res := <-m.lookupCh:
			m.handleLookup(ctx, res)

		case err := <-m.convDone:
			m.handleConversationEnd(ctx, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Event handlers. All run on the loop goroutine.
// ---------------------------------------------------------------------------

func (m *Machine) handleHook(ctx context.Context, ev hardware.HookEvent) {
	state := m.State()

	if ev.State == hardware.OffHook {
		// Lifting the handset silences the bell unconditionally.
		if m.deps.Bell != nil {
			m.deps.Bell.Stop()
		}
		m.disarmRingTimer()

		switch state {
		case StateIdle, StateRinging:
			m.toDialing("")
		default:
			m.log.Debug("off-hook ignored", "state", state.String())
		}
		return
	}

	// On-hook. Idempotent while idle; from every other state it tears the
	// call down within this one loop iteration.
	if state == StateIdle {
		return
	}
	m.log.Info("handset replaced, ending call", "state", state.String())
	m.teardown(ctx)
}

func (m *Machine) handleDigit(ctx context.Context, d hardware.Digit) {
	if m.State() != StateDialing {
		m.log.Debug("digit outside dialing ignored", "digit", d.Value)
		return
	}
	m.metrics.RecordDigit(ctx, d.Value)
	m.collector.Append(d.Value)
	m.log.Info("digit dialed", "digit", d.Value, "pending", m.collector.Pending())
}

func (m *Machine) handleBellTrigger(ctx context.Context) {
	if m.State() != StateIdle {
		return
	}
	m.metrics.BellRings.Add(ctx, 1)
	m.setState(func(s *Session) { s.State = StateRinging })
	m.armRingTimer()
	m.log.Info("phone ringing")
}

func (m *Machine) handleRingExpiry() {
	m.ringArmed = false
	if m.State() != StateRinging {
		return
	}
	m.log.Info("ring unanswered, back to idle")
	m.setState(func(s *Session) { s.State = StateIdle })
}

func (m *Machine) handleDialExpiry(ctx context.Context) {
	if m.State() != StateDialing {
		m.collector.Finalize()
		return
	}
	num := m.collector.Finalize()
	if num.Empty() {
		// No selection. Stay in DIALING; the next digit re-arms the window.
		m.log.Info("dial window expired with no digits")
		if m.deps.Prompter != nil {
			m.deps.Prompter.NoSelection(ctx)
		}
		return
	}

	number := num.String()
	m.log.Info("number dialed", "number", number)
	m.setState(func(s *Session) {
		s.State = StateResolving
		s.DialedNumber = number
	})
	m.startLookup(ctx, number)
}

func (m *Machine) startLookup(ctx context.Context, number string) {
	lctx, cancel := context.WithTimeout(ctx, m.cfg.ResolveTimeout)
	m.resolveCancel = cancel
	ch := make(chan lookupResult, 1)
	m.lookupCh = ch

	go func() {
		defer cancel()
		c, err := m.deps.Registry.ByNumber(lctx, number)
		ch <- lookupResult{number: number, character: c, err: err}
	}()
}

func (m *Machine) handleLookup(ctx context.Context, res lookupResult) {
	m.lookupCh = nil
	m.resolveCancel = nil

	if m.State() != StateResolving {
		// The caller hung up while the lookup was in flight.
		return
	}

	if res.err != nil {
		if errors.Is(res.err, registry.ErrNotFound) {
			m.log.Info("no character at number", "number", res.number)
		} else {
			m.log.Warn("character lookup failed", "number", res.number, "error", res.err)
		}
		if m.deps.Prompter != nil {
			m.deps.Prompter.CharacterNotFound(ctx, res.number)
		}
		m.toDialing("")
		return
	}

	m.connect(ctx, res.character)
}

func (m *Machine) connect(ctx context.Context, character *registry.Character) {
	m.log.Info("call connected", "character", character.ID, "name", character.Name)
	m.metrics.RecordCallConnected(ctx, character.ID)
	m.metrics.ActiveCalls.Add(ctx, 1)

	m.setState(func(s *Session) {
		s.State = StateConnected
		s.Character = character
		s.StartedAt = time.Now()
	})

	cctx, cancel := context.WithCancel(ctx)
	m.convCancel = cancel
	done := make(chan error, 1)
	m.convDone = done

	go func() {
		done <- m.deps.Conversation.Run(cctx, character)
	}()
}

func (m *Machine) handleConversationEnd(ctx context.Context, err error) {
	m.convDone = nil
	if m.convCancel != nil {
		m.convCancel()
		m.convCancel = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		m.log.Warn("conversation ended with error", "error", err)
	}
	m.teardown(ctx)
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// toDialing enters DIALING with a fresh dial window.
func (m *Machine) toDialing(number string) {
	m.setState(func(s *Session) {
		s.State = StateDialing
		s.DialedNumber = number
		s.Character = nil
	})
	m.collector.Arm()
	m.log.Info("ready to dial")
}

// teardown dismantles whatever is in flight and returns the session to IDLE.
// Safe to call from any state; a no-op when already idle with nothing
// outstanding.
func (m *Machine) teardown(ctx context.Context) {
	wasConnected := m.State() == StateConnected
	if m.State() == StateIdle && m.convDone == nil && m.lookupCh == nil {
		return
	}

	m.setState(func(s *Session) { s.State = StateTeardown })

	if m.resolveCancel != nil {
		m.resolveCancel()
		m.resolveCancel = nil
	}
	m.lookupCh = nil

	if m.convCancel != nil {
		m.convCancel()
		m.convCancel = nil
	}
	if m.convDone != nil {
		// Wait for the conversation to acknowledge cancellation so the next
		// call never races a dying engine for the audio device.
		select {
		case <-m.convDone:
		case <-ctx.Done():
		}
		m.convDone = nil
	}

	m.collector.Clear()
	m.disarmRingTimer()

	if wasConnected {
		m.metrics.ActiveCalls.Add(context.Background(), -1)
	}

	m.setState(func(s *Session) {
		*s = Session{State: StateIdle, TurnMode: m.cfg.TurnMode}
	})
	m.log.Info("session reset")
}

func (m *Machine) setState(mutate func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.session)
}

// ---------------------------------------------------------------------------
// Ring no-answer timer
// ---------------------------------------------------------------------------

func (m *Machine) armRingTimer() {
	if m.ringTimer == nil {
		m.ringTimer = time.NewTimer(m.cfg.RingNoAnswerWindow)
		m.ringArmed = true
		return
	}
	m.disarmRingTimer()
	m.ringTimer.Reset(m.cfg.RingNoAnswerWindow)
	m.ringArmed = true
}

func (m *Machine) disarmRingTimer() {
	if m.ringArmed && m.ringTimer != nil && !m.ringTimer.Stop() {
		select {
		case <-m.ringTimer.C:
		default:
		}
	}
	m.ringArmed = false
}

// ringExpired returns the no-answer timer channel, nil while disarmed.
func (m *Machine) ringExpired() <-chan time.Time {
	if !m.ringArmed || m.ringTimer == nil {
		return nil
	}
	return m.ringTimer.C
}
