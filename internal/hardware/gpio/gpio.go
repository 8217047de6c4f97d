// Package gpio adapts Linux character-device GPIO lines to the hardware
// package's channel and interface contracts using go-gpiocdev.
//
// The payphone wiring (BCM numbering, all inputs pulled up, active low):
//
//	pin 17  rotary dial pulse contact
//	pin 27  hook switch
//	pin 22  proximity sensor digital output
//	pin 23  bell relay
//
// Pin assignment is configuration; these numbers are only the shipped
// defaults in internal/config.
package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/hotlinehq/hotline/internal/hardware"
)

// DefaultChip is the Raspberry Pi's primary GPIO character device.
const DefaultChip = "gpiochip0"

// EdgeLine streams electrical transitions from one input line into a channel
// of hardware.EdgeEvent. Used for the dial pulse contact.
type EdgeLine struct {
	line   *gpiocdev.Line
	events chan hardware.EdgeEvent
}

// RequestEdgeLine claims the given pin for edge monitoring. The line is
// pulled up, so a falling edge means the contact closed. Events arriving
// faster than the consumer drains them are dropped; the pulse decoder's
// bounce guard makes the loss harmless.
func RequestEdgeLine(chip string, pin int) (*EdgeLine, error) {
	e := &EdgeLine{events: make(chan hardware.EdgeEvent, 64)}
	line, err := gpiocdev.RequestLine(chip, pin,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(e.handle))
	if err != nil {
		return nil, fmt.Errorf("gpio: request edge line %s:%d: %w", chip, pin, err)
	}
	e.line = line
	return e, nil
}

func (e *EdgeLine) handle(evt gpiocdev.LineEvent) {
	ev := hardware.EdgeEvent{
		Time:   time.Now(),
		Rising: evt.Type == gpiocdev.LineEventRisingEdge,
	}
	select {
	case e.events <- ev:
	default:
	}
}

// Events returns the edge event channel.
func (e *EdgeLine) Events() <-chan hardware.EdgeEvent { return e.events }

// Close releases the line.
func (e *EdgeLine) Close() error {
	return e.line.Close()
}

// HookLine streams hook switch level changes as hardware.HookSample values.
// The switch is wired active low: a low level means the handset is lifted.
type HookLine struct {
	line    *gpiocdev.Line
	samples chan hardware.HookSample
}

// RequestHookLine claims the hook switch pin and reports its current level
// as the first sample so the monitor starts from the true state.
func RequestHookLine(chip string, pin int) (*HookLine, error) {
	h := &HookLine{samples: make(chan hardware.HookSample, 16)}
	line, err := gpiocdev.RequestLine(chip, pin,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(h.handle))
	if err != nil {
		return nil, fmt.Errorf("gpio: request hook line %s:%d: %w", chip, pin, err)
	}
	h.line = line

	v, err := line.Value()
	if err != nil {
		line.Close()
		return nil, fmt.Errorf("gpio: read hook line %s:%d: %w", chip, pin, err)
	}
	h.samples <- hardware.HookSample{Time: time.Now(), OffHook: v == 0}
	return h, nil
}

func (h *HookLine) handle(evt gpiocdev.LineEvent) {
	s := hardware.HookSample{
		Time:    time.Now(),
		OffHook: evt.Type == gpiocdev.LineEventFallingEdge,
	}
	select {
	case h.samples <- s:
	default:
	}
}

// Samples returns the raw hook sample channel.
func (h *HookLine) Samples() <-chan hardware.HookSample { return h.samples }

// Close releases the line.
func (h *HookLine) Close() error {
	return h.line.Close()
}

// Proximity distances reported by the digital sensor adapter.
const (
	nearDistanceCm = 0.0
	farDistanceCm  = 1000.0
)

// ProximitySensor adapts a digital IR proximity module (active low) to the
// hardware.DistanceSensor contract. A detected presence reads as 0 cm, an
// empty field of view as 1000 cm; the bell threshold sits between the two.
type ProximitySensor struct {
	line *gpiocdev.Line
}

// RequestProximitySensor claims the sensor's digital output pin.
func RequestProximitySensor(chip string, pin int) (*ProximitySensor, error) {
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.WithPullUp, gpiocdev.AsInput)
	if err != nil {
		return nil, fmt.Errorf("gpio: request proximity line %s:%d: %w", chip, pin, err)
	}
	return &ProximitySensor{line: line}, nil
}

// Read implements hardware.DistanceSensor.
func (p *ProximitySensor) Read() (float64, error) {
	v, err := p.line.Value()
	if err != nil {
		return 0, fmt.Errorf("gpio: read proximity: %w", err)
	}
	if v == 0 {
		return nearDistanceCm, nil
	}
	return farDistanceCm, nil
}

// Close releases the line.
func (p *ProximitySensor) Close() error {
	return p.line.Close()
}

// Ensure ProximitySensor implements hardware.DistanceSensor at compile time.
var _ hardware.DistanceSensor = (*ProximitySensor)(nil)

// Relay drives the bell relay output pin.
type Relay struct {
	line *gpiocdev.Line
}

// RequestRelay claims the relay pin as an output, initially released.
func RequestRelay(chip string, pin int) (*Relay, error) {
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("gpio: request relay line %s:%d: %w", chip, pin, err)
	}
	return &Relay{line: line}, nil
}

// Set implements hardware.Actuator.
func (r *Relay) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("gpio: set relay: %w", err)
	}
	return nil
}

// Close releases the relay, leaving it de-energised.
func (r *Relay) Close() error {
	_ = r.line.SetValue(0)
	return r.line.Close()
}

// Ensure Relay implements hardware.Actuator at compile time.
var _ hardware.Actuator = (*Relay)(nil)
