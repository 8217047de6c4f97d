package hardware

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Bell controller defaults, tuned for an idle storefront installation.
const (
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultProximityThreshold = 60.0 // centimetres
	DefaultRingCooldown       = 30 * time.Second
)

// DefaultRingPattern is two one-second bursts separated by a half-second gap.
var DefaultRingPattern = RingPattern{On: time.Second, Off: 500 * time.Millisecond, Count: 2}

// BellConfig holds the parameters for a BellController.
type BellConfig struct {
	// PollInterval is the sensor sampling cadence. Zero selects the default.
	PollInterval time.Duration

	// Threshold is the distance in centimetres below which a passer-by
	// triggers the bell. Zero selects the default.
	Threshold float64

	// Cooldown suppresses re-triggering after a ring so a loitering presence
	// does not keep the bell going. Zero selects the default.
	Cooldown time.Duration

	// Pattern is the actuation cadence. A zero pattern selects the default.
	Pattern RingPattern
}

func (c *BellConfig) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultProximityThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultRingCooldown
	}
	if c.Pattern.Count == 0 {
		c.Pattern = DefaultRingPattern
	}
}

// BellController polls the proximity sensor and rings the bell when someone
// approaches an idle phone.
//
// The controller itself has no knowledge of call state; the gate callback
// supplied at construction decides whether a below-threshold reading may ring
// (the session machine answers true only while IDLE and on-hook). Triggers
// are reported on the Triggers channel so the machine can enter RINGING.
// Stop cancels an in-progress pattern unconditionally and is called by the
// machine the moment the handset lifts.
type BellController struct {
	cfg      BellConfig
	sensor   DistanceSensor
	actuator Actuator
	gate     func() bool
	triggers chan time.Time
	log      *slog.Logger

	mu         sync.Mutex
	ringCancel context.CancelFunc
	lastRing   time.Time
	ringing    bool
}

// NewBellController creates a controller. gate must be non-nil and safe to
// call from the poll goroutine.
func NewBellController(sensor DistanceSensor, actuator Actuator, gate func() bool, cfg BellConfig, log *slog.Logger) *BellController {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &BellController{
		cfg:      cfg,
		sensor:   sensor,
		actuator: actuator,
		gate:     gate,
		triggers: make(chan time.Time, 1),
		log:      log.With("component", "bell_controller"),
	}
}

// Triggers returns the channel on which ring triggers are announced.
// Closed when Run returns.
func (b *BellController) Triggers() <-chan time.Time { return b.triggers }

// Ringing reports whether a ring pattern is currently playing.
func (b *BellController) Ringing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ringing
}

// Run polls the sensor until ctx is done.
func (b *BellController) Run(ctx context.Context) {
	defer close(b.triggers)
	defer b.Stop()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

func (b *BellController) poll(ctx context.Context) {
	dist, err := b.sensor.Read()
	if err != nil {
		// Sensor glitches never escalate into call state.
		b.log.Warn("proximity read failed", "error", err)
		return
	}
	if dist >= b.cfg.Threshold {
		return
	}
	if !b.gate() {
		return
	}

	b.mu.Lock()
	if b.ringing || (!b.lastRing.IsZero() && time.Since(b.lastRing) < b.cfg.Cooldown) {
		b.mu.Unlock()
		return
	}
	b.lastRing = time.Now()
	b.ringing = true
	ringCtx, cancel := context.WithCancel(ctx)
	b.ringCancel = cancel
	b.mu.Unlock()

	b.log.Info("bell triggered", "distance_cm", dist)

	select {
	case b.triggers <- b.lastRing:
	default:
	}

	go b.ring(ringCtx)
}

// ring plays the configured pattern, leaving the relay released afterwards.
func (b *BellController) ring(ctx context.Context) {
	defer func() {
		if err := b.actuator.Set(false); err != nil {
			b.log.Warn("bell release failed", "error", err)
		}
		b.mu.Lock()
		b.ringing = false
		b.ringCancel = nil
		b.mu.Unlock()
	}()

	for i := 0; i < b.cfg.Pattern.Count; i++ {
		if i > 0 {
			if !sleepCtx(ctx, b.cfg.Pattern.Off) {
				return
			}
		}
		if err := b.actuator.Set(true); err != nil {
			b.log.Warn("bell actuation failed", "error", err)
			return
		}
		if !sleepCtx(ctx, b.cfg.Pattern.On) {
			return
		}
		if err := b.actuator.Set(false); err != nil {
			b.log.Warn("bell release failed", "error", err)
			return
		}
	}
}

// Stop cancels any in-progress ring pattern and releases the relay.
func (b *BellController) Stop() {
	b.mu.Lock()
	cancel := b.ringCancel
	b.ringCancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// sleepCtx waits for d or until ctx is done. Reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
