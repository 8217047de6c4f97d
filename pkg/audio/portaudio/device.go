// Package portaudio implements [audio.Device] on top of PortAudio, driving
// the payphone handset's microphone and speaker through the default host
// audio device.
//
// The device runs a single full-duplex blocking stream: each iteration reads
// one capture frame and writes one playback frame (silence when the playback
// queue is empty). Capture frames are buffered through a bounded
// [audio.FrameRing] so that a slow consumer drops stale audio instead of
// stalling the hardware loop.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/hotlinehq/hotline/pkg/audio"
)

// Config holds the stream parameters for the handset device.
type Config struct {
	// SampleRate in Hz. Default: 16000.
	SampleRate int

	// FrameMs is the frame duration in milliseconds. Default: 20.
	FrameMs int

	// InputBuffer is the capture ring capacity in frames. Default: 50 (~1 s).
	InputBuffer int

	// OutputBuffer is the playback channel capacity in frames. Default: 256.
	OutputBuffer int
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameMs <= 0 {
		c.FrameMs = 20
	}
	if c.InputBuffer <= 0 {
		c.InputBuffer = 50
	}
	if c.OutputBuffer <= 0 {
		c.OutputBuffer = 256
	}
}

// Device is a PortAudio-backed [audio.Device].
type Device struct {
	cfg    Config
	stream *portaudio.Stream

	in  chan audio.AudioFrame
	out chan audio.AudioFrame

	ring *audio.FrameRing

	flushMu  sync.Mutex
	flushReq chan chan struct{}

	playMu  sync.Mutex
	playing int // queued playback frames not yet written to hardware

	done   chan struct{}
	once   sync.Once
	loopWG sync.WaitGroup
}

// Compile-time assertion that Device satisfies the audio.Device interface.
var _ audio.Device = (*Device)(nil)

// Open initialises PortAudio, opens the default full-duplex stream, and
// starts the capture/playback loop.
//
// An unusable audio device is a fatal configuration error for voice mode;
// callers should surface the returned error at startup and fall back to text
// mode rather than retrying.
func Open(cfg Config) (*Device, error) {
	cfg.applyDefaults()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	samples := cfg.SampleRate * cfg.FrameMs / 1000
	d := &Device{
		cfg:      cfg,
		in:       make(chan audio.AudioFrame, cfg.InputBuffer),
		out:      make(chan audio.AudioFrame, cfg.OutputBuffer),
		ring:     audio.NewFrameRing(cfg.InputBuffer),
		flushReq: make(chan chan struct{}, 1),
		done:     make(chan struct{}),
	}

	inBuf := make([]int16, samples)
	outBuf := make([]int16, samples)
	stream, err := portaudio.OpenDefaultStream(1, 1, float64(cfg.SampleRate), samples, inBuf, outBuf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	d.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	d.loopWG.Add(2)
	go d.duplexLoop(inBuf, outBuf, samples)
	go d.forwardLoop()

	return d, nil
}

// Input implements [audio.Device].
func (d *Device) Input() <-chan audio.AudioFrame { return d.in }

// Output implements [audio.Device].
func (d *Device) Output() chan<- audio.AudioFrame { return d.out }

// FlushOutput implements [audio.Device]. It discards queued playback frames
// and waits until the duplex loop acknowledges the flush, so the speaker is
// silent (bar the frame already in the hardware buffer) when it returns.
func (d *Device) FlushOutput() {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	ack := make(chan struct{})
	select {
	case d.flushReq <- ack:
	case <-d.done:
		return
	}
	select {
	case <-ack:
	case <-d.done:
	}
}

// Playing implements [audio.Device].
func (d *Device) Playing() bool {
	d.playMu.Lock()
	defer d.playMu.Unlock()
	return d.playing > 0 || len(d.out) > 0
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		d.loopWG.Wait()
		close(d.in)
		err = errors.Join(d.stream.Stop(), d.stream.Close(), portaudio.Terminate())
	})
	return err
}

// forwardLoop moves frames from the capture ring to the input channel,
// preferring the freshest audio the ring still holds.
func (d *Device) forwardLoop() {
	defer d.loopWG.Done()
	tick := time.NewTicker(time.Duration(d.cfg.FrameMs) * time.Millisecond / 2)
	defer tick.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-tick.C:
			for {
				f, ok := d.ring.Pop()
				if !ok {
					break
				}
				select {
				case d.in <- f:
				case <-d.done:
					return
				}
			}
		}
	}
}

// duplexLoop is the hardware loop: one blocking read and one blocking write
// per frame period. Playback writes silence when no frame is queued.
func (d *Device) duplexLoop(inBuf, outBuf []int16, samples int) {
	defer d.loopWG.Done()

	var elapsed time.Duration
	frameDur := time.Duration(d.cfg.FrameMs) * time.Millisecond
	silence := make([]int16, samples)

	for {
		select {
		case <-d.done:
			return
		case ack := <-d.flushReq:
			d.drainOutput()
			close(ack)
			continue
		default:
		}

		if err := d.stream.Read(); err != nil {
			// Overflows are routine when the CPU stalls briefly; anything
			// else ends the loop.
			if !errors.Is(err, portaudio.InputOverflowed) {
				slog.Error("portaudio read failed", "err", err)
				return
			}
		}

		data := make([]byte, samples*2)
		for i, s := range inBuf {
			data[2*i] = byte(s)
			data[2*i+1] = byte(s >> 8)
		}
		d.ring.Push(audio.AudioFrame{
			Data:       data,
			SampleRate: d.cfg.SampleRate,
			Channels:   1,
			Timestamp:  elapsed,
		})
		elapsed += frameDur

		select {
		case f := <-d.out:
			d.setPlaying(len(d.out))
			n := copy(outBuf, f.Samples())
			copy(outBuf[n:], silence)
		default:
			d.setPlaying(0)
			copy(outBuf, silence)
		}

		if err := d.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			slog.Error("portaudio write failed", "err", err)
			return
		}
	}
}

func (d *Device) drainOutput() {
	for {
		select {
		case <-d.out:
		default:
			d.setPlaying(0)
			return
		}
	}
}

func (d *Device) setPlaying(n int) {
	d.playMu.Lock()
	d.playing = n
	d.playMu.Unlock()
}
