// Package llm defines the Provider interface for chat-completion backends.
//
// The voice pipeline asks for one short answer per turn, so the interface is
// a single blocking call. Implementations must be safe for concurrent use.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest is the input to Complete.
type CompletionRequest struct {
	// SystemPrompt is sent as the first message when non-empty.
	SystemPrompt string

	// Messages is the conversation, oldest first.
	Messages []Message

	// Temperature is always forwarded to the backend, including zero.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves it to the backend.
	MaxTokens int
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the result of Complete.
type CompletionResponse struct {
	// Content is the assistant's reply.
	Content string

	// Usage is zero when the backend does not report it.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete returns the assistant's reply to req.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
