// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic,
// or a local Ollama instance) and exposes a uniform interface for the
// conversation engine to generate character replies without coupling to any
// specific SDK.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled. Cancellation is how a barge-in
// or a hang-up aborts an in-flight request without waiting for the network.
package llm

import "context"

// CompletionRequest carries everything the LLM needs to produce a character
// reply. Callers should treat a zero-value request as invalid; at minimum
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is the character persona injected before the conversation
	// history.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero requests the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Chunk is a single token or fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty when
	// the chunk carries only a FinishReason.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop" (natural end), "length" (MaxTokens
	// reached), and "error" (mid-stream failure; Text carries the message).
	// Non-final chunks carry "".
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must return (or close its channel) as quickly as
// possible.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason "error"; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response. It is
	// a convenience wrapper around StreamCompletion for callers that do not
	// need incremental output, such as the text-only console mode.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
