package hardware

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultBounceGuard coalesces contact bounce on the dial pulse line.
	DefaultBounceGuard = 10 * time.Millisecond

	// DefaultInterPulseTimeout separates pulses within one digit from the gap
	// between digits. A rotary dial produces pulses roughly every 100 ms, so
	// a train that goes quiet for this long has finished its digit.
	DefaultInterPulseTimeout = 300 * time.Millisecond

	// maxPulsesPerDigit is the longest valid train; ten pulses dial a 0.
	maxPulsesPerDigit = 10
)

// PulseDecoderConfig holds the timing parameters for a PulseDecoder.
// Zero values select the defaults above.
type PulseDecoderConfig struct {
	// BounceGuard is the minimum spacing between edges; closer edges are
	// coalesced into one.
	BounceGuard time.Duration

	// InterPulseTimeout is how long the line must stay quiet before the
	// accumulated pulse count is emitted as a digit.
	InterPulseTimeout time.Duration
}

func (c *PulseDecoderConfig) applyDefaults() {
	if c.BounceGuard == 0 {
		c.BounceGuard = DefaultBounceGuard
	}
	if c.InterPulseTimeout == 0 {
		c.InterPulseTimeout = DefaultInterPulseTimeout
	}
}

// PulseDecoder converts the rotary dial's pulse train into digits.
//
// It counts falling edges (contact breaks on the pulled-up line) while edges
// keep arriving within the inter-pulse timeout. When the train quiesces, the
// count becomes a digit: N pulses dial digit N, with ten pulses dialing 0.
// A quiesced train with no falling edges, or with more than ten, is a decode
// error and never produces a digit.
//
// Run the decoder with Run in its own goroutine; digits and decode errors are
// delivered on separate channels so that callers can route errors to logging
// without touching the dial path.
type PulseDecoder struct {
	cfg    PulseDecoderConfig
	edges  <-chan EdgeEvent
	digits chan Digit
	errs   chan error
	log    *slog.Logger
}

// NewPulseDecoder creates a decoder reading raw edges from the given channel.
func NewPulseDecoder(edges <-chan EdgeEvent, cfg PulseDecoderConfig, log *slog.Logger) *PulseDecoder {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &PulseDecoder{
		cfg:    cfg,
		edges:  edges,
		digits: make(chan Digit, 8),
		errs:   make(chan error, 8),
		log:    log.With("component", "pulse_decoder"),
	}
}

// Digits returns the channel of completed digits. Closed when Run returns.
func (d *PulseDecoder) Digits() <-chan Digit { return d.digits }

// DecodeErrors returns the channel of decode errors. Closed when Run returns.
// Decode errors are informational; the bad train is discarded and the decoder
// keeps running.
func (d *PulseDecoder) DecodeErrors() <-chan error { return d.errs }

// Run consumes edges until the edge channel closes or ctx is done.
// It is the only goroutine touching decoder state.
func (d *PulseDecoder) Run(ctx context.Context) {
	defer close(d.digits)
	defer close(d.errs)

	var (
		lastEdge time.Time
		falling  int
		rising   int
	)

	quiesce := time.NewTimer(d.cfg.InterPulseTimeout)
	if !quiesce.Stop() {
		<-quiesce.C
	}
	armed := false

	finish := func() {
		armed = false
		total := falling + rising
		switch {
		case total == 0:
			// Spurious timer fire; nothing accumulated.
		case falling == 0 || falling > maxPulsesPerDigit:
			d.log.Warn("invalid pulse train", "falling_edges", falling, "rising_edges", rising)
			select {
			case d.errs <- &DecodeError{FallingEdges: falling}:
			default:
			}
		default:
			digit := falling % maxPulsesPerDigit
			d.log.Debug("digit decoded", "digit", digit, "pulses", falling)
			d.digits <- Digit{Value: digit, CompletedAt: time.Now()}
		}
		falling, rising = 0, 0
		lastEdge = time.Time{}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.edges:
			if !ok {
				if armed {
					finish()
				}
				return
			}
			if !lastEdge.IsZero() && ev.Time.Sub(lastEdge) < d.cfg.BounceGuard {
				// Contact bounce; fold into the previous edge.
				continue
			}
			lastEdge = ev.Time
			if ev.Rising {
				rising++
			} else {
				falling++
			}
			if armed && !quiesce.Stop() {
				<-quiesce.C
			}
			quiesce.Reset(d.cfg.InterPulseTimeout)
			armed = true
		case <-quiesce.C:
			finish()
		}
	}
}

// DecodeError reports a pulse train that could not be turned into a digit.
type DecodeError struct {
	// FallingEdges is the number of falling edges counted before quiescence.
	FallingEdges int
}

func (e *DecodeError) Error() string {
	if e.FallingEdges == 0 {
		return "hardware: pulse train had no falling edges"
	}
	return "hardware: pulse train exceeded ten pulses"
}
