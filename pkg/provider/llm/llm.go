// Package llm defines the Provider interface for large language model
// backends. Both analysis lanes use it: intelligence extraction asks for a
// strict JSON object, coaching for a short free-text suggestion.
//
// Implementations must be safe for concurrent use; each call is independent
// and must propagate ctx cancellation promptly.
package llm

import "context"

// Message is a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request carries everything the model needs to produce a response.
// Messages must be non-empty.
type Request struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message drives
	// the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int

	// ForceJSON asks for a syntactically valid JSON object response.
	// Providers without a native JSON mode may ignore it; callers must still
	// validate the output.
	ForceJSON bool
}

// Response is the model's complete reply.
type Response struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Name returns a short identifier for logs and metrics ("openai").
	Name() string

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req Request) (Response, error)
}
