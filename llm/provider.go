// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for chat backends.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - How the backend exposes reasoning (separate field, thinking blocks, thought parts)
// - Provider-specific message-order constraints

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for chat completions.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Chat sends a non-streaming chat completion request.
	Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error)

	// StreamChat streams a chat completion, sending (reasoning, content)
	// fragments to the provided channel. It returns when the stream is
	// exhausted or ctx is cancelled. The caller owns the channel.
	// Returns token usage when the provider reports it.
	StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- StreamChunk) (*TokenUsage, error)
}
