// Package dial accumulates decoded rotary digits into a complete dialed
// number.
//
// The Collector is a passive helper owned by the call state machine's event
// loop: the machine arms it on entering DIALING, appends digits as the pulse
// decoder emits them, and selects on Expired to learn when the inter-digit
// window has lapsed. It is deliberately not goroutine-safe; exactly one
// goroutine (the machine loop) drives it.
package dial

import "time"

// DefaultInterDigitWindow is how long the collector waits for another digit
// before finalizing the number. Rotary dialing is slow, so the window is
// generous.
const DefaultInterDigitWindow = 3 * time.Second

// Number is a finalized dialed number. An empty Digits slice means the
// window expired without any digit: "no selection".
type Number struct {
	// Digits is the ordered digit sequence.
	Digits []int

	// FinalizedAt is when the inter-digit window expired.
	FinalizedAt time.Time
}

// Empty reports whether no digit was dialed.
func (n Number) Empty() bool { return len(n.Digits) == 0 }

// String renders the number the way it would appear on a phone display.
func (n Number) String() string {
	if len(n.Digits) == 0 {
		return ""
	}
	buf := make([]byte, len(n.Digits))
	for i, d := range n.Digits {
		buf[i] = byte('0' + d)
	}
	return string(buf)
}

// Collector gathers digits inside an inter-digit completion window.
type Collector struct {
	window time.Duration
	timer  *time.Timer
	digits []int
	armed  bool
}

// NewCollector creates a collector. A zero window selects the default.
func NewCollector(window time.Duration) *Collector {
	if window == 0 {
		window = DefaultInterDigitWindow
	}
	return &Collector{window: window}
}

// Arm clears any previous digits and starts the completion window. Called by
// the machine when the session enters DIALING.
func (c *Collector) Arm() {
	c.digits = c.digits[:0]
	c.restart()
}

// Append records a digit and restarts the completion window. Digits arriving
// while the collector is disarmed implicitly re-arm it, so a caller can start
// dialing again after a "no selection" expiry.
func (c *Collector) Append(digit int) {
	c.digits = append(c.digits, digit)
	c.restart()
}

// Expired returns the completion timer's channel. While the collector is
// disarmed the channel is nil, which blocks forever in a select.
func (c *Collector) Expired() <-chan time.Time {
	if !c.armed || c.timer == nil {
		return nil
	}
	return c.timer.C
}

// Finalize disarms the collector and returns the collected number, clearing
// internal state for the next dial. Call it exactly once per Expired fire.
func (c *Collector) Finalize() Number {
	c.armed = false
	digits := make([]int, len(c.digits))
	copy(digits, c.digits)
	c.digits = c.digits[:0]
	return Number{Digits: digits, FinalizedAt: time.Now()}
}

// Clear disarms the collector and drops any collected digits. Called on
// hang-up and after a successful character match.
func (c *Collector) Clear() {
	c.digits = c.digits[:0]
	c.disarm()
}

// Pending returns the number of digits collected so far.
func (c *Collector) Pending() int { return len(c.digits) }

func (c *Collector) restart() {
	if c.timer == nil {
		c.timer = time.NewTimer(c.window)
		c.armed = true
		return
	}
	c.disarm()
	c.timer.Reset(c.window)
	c.armed = true
}

func (c *Collector) disarm() {
	if c.armed && c.timer != nil && !c.timer.Stop() {
		select {
		case <-c.timer.C:
		default:
		}
	}
	c.armed = false
}
