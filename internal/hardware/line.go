// Package hardware decodes raw electrical events from the payphone chassis
// into semantic call events: rotary dial pulse trains into digits, hook
// switch bounces into stable on/off-hook transitions, and proximity readings
// into bell ring triggers.
//
// The package is hardware-agnostic. Physical GPIO access lives in the gpio
// subpackage; tests use the mock subpackage. All components communicate over
// channels so that a hardware interrupt can never re-enter call state.
package hardware

import "time"

// EdgeEvent is a single electrical transition on an input line.
type EdgeEvent struct {
	// Time is when the edge was observed. Decoders compare successive event
	// times for bounce filtering, so synthetic timestamps work in tests.
	Time time.Time

	// Rising reports the transition direction. With the dial and hook lines
	// pulled up, a falling edge means the contact closed.
	Rising bool
}

// HookState is the debounced position of the handset hook switch.
type HookState int

const (
	// OnHook means the handset is resting on the cradle.
	OnHook HookState = iota

	// OffHook means the handset has been lifted.
	OffHook
)

// String returns the state name for logging.
func (s HookState) String() string {
	switch s {
	case OnHook:
		return "on_hook"
	case OffHook:
		return "off_hook"
	default:
		return "unknown"
	}
}

// HookSample is a raw, undebounced reading of the hook line.
type HookSample struct {
	// Time is when the level change was observed.
	Time time.Time

	// OffHook is true when the raw line level indicates a lifted handset.
	OffHook bool
}

// HookEvent is a debounced hook transition emitted by the HookMonitor.
type HookEvent struct {
	// State is the new stable hook state.
	State HookState

	// At is when the line settled into the new state.
	At time.Time
}

// Digit is a completed rotary dial digit.
type Digit struct {
	// Value is the dialed digit, 0 through 9. Ten pulses dial a 0.
	Value int

	// CompletedAt is when the pulse train quiesced.
	CompletedAt time.Time
}

// DistanceSensor reads the proximity sensor in front of the phone.
// Implementations must be safe to call from the bell controller's poll loop.
type DistanceSensor interface {
	// Read returns the current distance in centimetres. Read errors are
	// reported to the caller, which logs and treats them as "no trigger".
	Read() (float64, error)
}

// Actuator switches a binary output such as the bell relay.
type Actuator interface {
	// Set energises (true) or releases (false) the output.
	Set(on bool) error
}

// RingPattern describes the bell actuation cadence: Count bursts of On
// energised time separated by Off gaps.
type RingPattern struct {
	On    time.Duration
	Off   time.Duration
	Count int
}

// Total returns the wall-clock duration of one full pattern.
func (p RingPattern) Total() time.Duration {
	if p.Count <= 0 {
		return 0
	}
	return time.Duration(p.Count)*p.On + time.Duration(p.Count-1)*p.Off
}
