// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or a
// local Whisper server) and exposes a uniform streaming interface. The central
// abstraction is SessionHandle: once opened, a session accepts raw PCM audio
// frames from the handset microphone and emits two streams of Transcript
// values, low-latency partials for responsiveness and authoritative finals for
// the turn log.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The handset pipeline runs at
	// 16000 Hz mono.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most STT
	// providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as character names spoken into the
	// handset.
	Keywords []KeywordBoost
}

// KeywordBoost represents a keyword to boost in STT recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Cleopatra").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk should match the SampleRate, Channels, and
	// bit-depth agreed in StreamConfig. Calling SendAudio after Close returns
	// an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values as the provider makes preliminary guesses. These are
	// suitable for barge-in confirmation but must not be written to the
	// authoritative turn log. The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result. These
	// are the values that are stored in the turn log and passed to the LLM.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Partials and Finals
	// channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. The phone opens one session
// per caller utterance; sessions may also overlap briefly around a barge-in.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close when
	// done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
