package hardware

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSettleInterval is how long the hook line must hold a level before
// the transition is trusted. Cradle bumps shorter than this are suppressed.
const DefaultSettleInterval = 50 * time.Millisecond

// HookMonitorConfig holds the debounce parameters for a HookMonitor.
type HookMonitorConfig struct {
	// SettleInterval is the minimum stable time before a transition is
	// emitted. Zero selects DefaultSettleInterval.
	SettleInterval time.Duration

	// Initial is the assumed hook state before the first sample arrives.
	Initial HookState
}

// HookMonitor debounces raw hook line samples into stable transitions.
//
// A raw level change starts (or restarts) a settle timer. When the timer
// fires, the last observed level is compared against the last emitted state;
// only a genuine change produces a HookEvent. An off-hook bump that returns
// on-hook within the settle window therefore emits nothing at all.
type HookMonitor struct {
	cfg     HookMonitorConfig
	samples <-chan HookSample
	events  chan HookEvent
	log     *slog.Logger
}

// NewHookMonitor creates a monitor reading raw samples from the given channel.
func NewHookMonitor(samples <-chan HookSample, cfg HookMonitorConfig, log *slog.Logger) *HookMonitor {
	if cfg.SettleInterval == 0 {
		cfg.SettleInterval = DefaultSettleInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &HookMonitor{
		cfg:     cfg,
		samples: samples,
		events:  make(chan HookEvent, 4),
		log:     log.With("component", "hook_monitor"),
	}
}

// Events returns the channel of debounced hook transitions. Closed when Run
// returns.
func (m *HookMonitor) Events() <-chan HookEvent { return m.events }

// Run consumes samples until the sample channel closes or ctx is done.
func (m *HookMonitor) Run(ctx context.Context) {
	defer close(m.events)

	stable := m.cfg.Initial
	lastRaw := stable

	settle := time.NewTimer(m.cfg.SettleInterval)
	if !settle.Stop() {
		<-settle.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-m.samples:
			if !ok {
				return
			}
			raw := OnHook
			if s.OffHook {
				raw = OffHook
			}
			if raw == lastRaw {
				continue
			}
			lastRaw = raw
			if armed && !settle.Stop() {
				<-settle.C
			}
			settle.Reset(m.cfg.SettleInterval)
			armed = true
		case <-settle.C:
			armed = false
			if lastRaw == stable {
				// The line bounced back to its old level inside the settle
				// window; suppress the whole pair.
				continue
			}
			stable = lastRaw
			m.log.Info("hook transition", "state", stable.String())
			m.events <- HookEvent{State: stable, At: time.Now()}
		}
	}
}
