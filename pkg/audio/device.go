// Package audio defines the frame types and device abstraction for the
// payphone handset audio path.
//
// The central abstraction is [Device]: a full-duplex handset with one
// continuous capture stream and one playback stream. Capture never blocks on
// downstream consumers, so the conversation engine is expected to drain
// [Device.Input] continuously. Playback must support an immediate flush so
// that barge-in can silence the speaker without waiting for queued frames.
//
// Implementations are provided by adapter packages (audio/portaudio for real
// hardware, audio/mock for tests). The interface is intentionally narrow to
// keep the conversation engine decoupled from device details.
package audio

// Device represents the full-duplex handset audio path.
//
// Implementations must be safe for concurrent use: capture and playback run
// on independent goroutines.
type Device interface {
	// Input returns the read-only channel of captured microphone frames.
	// The channel is closed when the device is closed. Frames are emitted at
	// a fixed cadence; consumers that fall behind cause the device to drop
	// the oldest buffered frames rather than block the capture path.
	Input() <-chan AudioFrame

	// Output returns the write-only playback channel. Frames written here are
	// queued and played in order. The channel is buffered; when the buffer is
	// full, writes block until playback drains it.
	//
	// Ownership: the caller owns the returned channel and must stop writing
	// once Close has been called. The device never closes this channel.
	Output() chan<- AudioFrame

	// FlushOutput discards all queued playback frames immediately. Audio that
	// is already in the hardware buffer (at most one frame) still plays out.
	// FlushOutput returns only after the queue is empty, so a caller can rely
	// on the speaker being silent when it returns.
	FlushOutput()

	// Playing reports whether any playback frames are queued or in flight.
	Playing() bool

	// Close stops capture and playback and releases the underlying device.
	// It closes the Input channel. Close is safe to call more than once;
	// subsequent calls return nil.
	Close() error
}
