// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify that
// the correct VoiceProfile and text fragments are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/hotlinehq/hotline/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Text is the text input channel passed to SynthesizeStream.
	Text <-chan string
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks is the sequence of audio byte slices emitted on the
	// channel returned by SynthesizeStream.
	SynthesizeChunks [][]byte

	// EchoText, when true, makes SynthesizeStream emit one audio chunk per
	// received text fragment (the fragment's bytes) instead of
	// SynthesizeChunks. Useful for asserting which sentences reached the
	// synthesiser and in which order.
	EchoText bool

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a channel.
	SynthesizeErr error

	// SynthesizeErrAfter, when > 0, makes SynthesizeStream succeed that many
	// times and then start returning SynthesizeErr.
	SynthesizeErrAfter int

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall

	// ReceivedText accumulates every text fragment drained from the input
	// channels across all SynthesizeStream calls, in order.
	ReceivedText []string
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits audio then closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Text: text, Voice: voice})
	calls := len(p.SynthesizeStreamCalls)
	if p.SynthesizeErr != nil && calls > p.SynthesizeErrAfter {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	echo := p.EchoText
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	p.mu.Unlock()

	ch := make(chan []byte, 64)
	go func() {
		defer close(ch)
		// Drain the incoming text channel to simulate real behaviour and avoid
		// leaving the caller's goroutine blocked writing to it.
		for frag := range text {
			p.mu.Lock()
			p.ReceivedText = append(p.ReceivedText, frag)
			p.mu.Unlock()
			if echo {
				select {
				case <-ctx.Done():
					return
				case ch <- []byte(frag):
				}
			}
		}
		if echo {
			return
		}
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// ReceivedTextCopy returns a snapshot of the drained text fragments. Thread-safe.
func (p *Provider) ReceivedTextCopy() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ReceivedText))
	copy(out, p.ReceivedText)
	return out
}

// StreamCallsCopy returns a snapshot of the recorded SynthesizeStream calls.
// Thread-safe.
func (p *Provider) StreamCallsCopy() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.SynthesizeStreamCalls))
	copy(out, p.SynthesizeStreamCalls)
	return out
}

// SynthesizeCallCount returns the number of SynthesizeStream calls. Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeStreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = nil
	p.ReceivedText = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
