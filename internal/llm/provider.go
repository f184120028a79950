// ABOUTME: Provider abstraction for streaming chat model backends.
// ABOUTME: Defines requests, responses, and the streaming callback contract.

package llm

import "context"

// Message is one turn of a conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// ChatRequest carries one model invocation.
type ChatRequest struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Usage reports token consumption for a completed request.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// ChatResponse is the final accumulated result of a streamed request.
type ChatResponse struct {
	Content    string
	StopReason string
	Usage      Usage
}

// StreamFunc receives incremental text as the model produces it.
type StreamFunc func(delta string)

// Provider is a streaming chat model backend. ChatStream invokes the model,
// calls onDelta for each text fragment in order, and returns the accumulated
// response once the model stops.
type Provider interface {
	Name() string
	ChatStream(ctx context.Context, req ChatRequest, onDelta StreamFunc) (*ChatResponse, error)
}
