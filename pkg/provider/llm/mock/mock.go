// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the conversation engine sends
// correct CompletionRequests and to feed controlled responses without a live
// LLM backend. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamChunks: []llm.Chunk{{Text: "Zis is relativity.", FinishReason: "stop"}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/hotlinehq/hotline/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is the sequence of Chunk values emitted on the channel
	// returned by StreamCompletion. All chunks are sent before the channel is
	// closed, unless the caller's context is cancelled first.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion
	// instead of starting a channel.
	StreamErr error

	// StreamErrAfter, when > 0, makes StreamCompletion succeed that many
	// times and then start returning StreamErr. Useful for testing
	// consecutive-failure escalation.
	StreamErrAfter int

	// CompleteResponse is returned by Complete. May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// StreamCalls records every invocation of StreamCompletion in order.
	StreamCalls []StreamCall

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Compile-time assertion that Provider satisfies the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call and returns a channel that emits
// StreamChunks. If StreamErr is set (and StreamErrAfter has been exhausted),
// it returns nil, StreamErr without opening a channel.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	calls := len(p.StreamCalls)
	errNow := p.StreamErr != nil && calls > p.StreamErrAfter
	err := p.StreamErr
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	if errNow {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse / CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// StreamCallCount returns the number of StreamCompletion invocations so far.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}
