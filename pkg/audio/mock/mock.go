// Package mock provides an in-memory mock implementation of [audio.Device]
// for use in unit tests.
//
// The mock is safe for concurrent use. Frames written to the output channel
// are moved into an internal playback queue (recording them as "played"), so
// tests can assert on everything the engine attempted to play, simulate an
// active speaker via [Device.Playing], and observe barge-in flushes.
//
// Typical usage:
//
//	dev := mock.NewDevice(64)
//	dev.PushInput(frame)          // script captured audio
//	// ... run the engine ...
//	got := dev.Played()           // inspect playback
package mock

import (
	"sync"

	"github.com/hotlinehq/hotline/pkg/audio"
)

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	in  chan audio.AudioFrame
	out chan audio.AudioFrame

	queue   []audio.AudioFrame // queued but not yet flushed/consumed
	played  []audio.AudioFrame // every frame ever written to Output
	flushed []audio.AudioFrame // frames discarded by FlushOutput
	flushes int
	closed  bool

	pumpWG sync.WaitGroup
}

// Compile-time assertion that Device satisfies the audio.Device interface.
var _ audio.Device = (*Device)(nil)

// NewDevice creates a mock device whose input and output channels are
// buffered to buf frames. A background goroutine moves output frames into the
// internal playback queue so that engine writes never block.
func NewDevice(buf int) *Device {
	d := &Device{
		in:  make(chan audio.AudioFrame, buf),
		out: make(chan audio.AudioFrame, buf),
	}
	d.pumpWG.Add(1)
	go d.pump()
	return d
}

func (d *Device) pump() {
	defer d.pumpWG.Done()
	for f := range d.out {
		d.mu.Lock()
		d.queue = append(d.queue, f)
		d.played = append(d.played, f)
		d.mu.Unlock()
	}
}

// Input implements [audio.Device].
func (d *Device) Input() <-chan audio.AudioFrame { return d.in }

// Output implements [audio.Device].
func (d *Device) Output() chan<- audio.AudioFrame { return d.out }

// FlushOutput implements [audio.Device]. The playback queue is discarded and
// recorded; frames already consumed via ConsumeQueued are unaffected.
func (d *Device) FlushOutput() {
	// Drain frames still sitting on the channel so the flush is complete even
	// if the pump goroutine has not picked them up yet.
drain:
	for {
		select {
		case f, ok := <-d.out:
			if !ok {
				break drain
			}
			d.mu.Lock()
			d.played = append(d.played, f)
			d.queue = append(d.queue, f)
			d.mu.Unlock()
		default:
			break drain
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushed = append(d.flushed, d.queue...)
	d.queue = nil
	d.flushes++
}

// Playing implements [audio.Device].
func (d *Device) Playing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue) > 0 || len(d.out) > 0
}

// Close implements [audio.Device]. It closes the input channel.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	close(d.in)
	close(d.out)
	d.pumpWG.Wait()
	return nil
}

// PushInput scripts a captured frame. It blocks when the input buffer is full.
func (d *Device) PushInput(f audio.AudioFrame) { d.in <- f }

// CloseInput closes the input channel without marking further writes invalid,
// simulating end of capture.
func (d *Device) CloseInput() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.in)
		close(d.out)
	}
}

// ConsumeQueued simulates the speaker playing n queued frames (all of them
// when n < 0). It returns the consumed frames.
func (d *Device) ConsumeQueued(n int) []audio.AudioFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < 0 || n > len(d.queue) {
		n = len(d.queue)
	}
	out := make([]audio.AudioFrame, n)
	copy(out, d.queue[:n])
	d.queue = d.queue[n:]
	return out
}

// Played returns a copy of every frame written to the output channel so far.
func (d *Device) Played() []audio.AudioFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]audio.AudioFrame, len(d.played))
	copy(out, d.played)
	return out
}

// Flushed returns a copy of every frame discarded by FlushOutput.
func (d *Device) Flushed() []audio.AudioFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]audio.AudioFrame, len(d.flushed))
	copy(out, d.flushed)
	return out
}

// FlushCount returns how many times FlushOutput was called.
func (d *Device) FlushCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes
}
