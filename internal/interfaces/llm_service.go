package interfaces

import "context"

// Message represents a single conversational message sent to an LLM provider
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// CompletionRequest is a provider-agnostic content generation request
type CompletionRequest struct {
	Messages          []Message
	Model             string
	Temperature       float32
	MaxTokens         int
	SystemInstruction string
}

// CompletionResponse is a provider-agnostic content generation response
type CompletionResponse struct {
	Text     string
	Provider string
	Model    string
}

// CompletionService is the external LLM call surface: request text in,
// completion text out. Implementations may fail with transport or
// rate-limit errors; callers treat those as terminal for the chunk.
type CompletionService interface {
	Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error)
	Close() error
}
