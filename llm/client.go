// LLMClient - Simple wrapper around providers.

package llm

import (
	"context"
	"sync"
)

// Client wraps a Provider with a simple interface.
type Client struct {
	provider Provider
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// Chat sends a chat completion request and returns just the content.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	response, err := c.provider.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// Stream starts a streaming completion in the background.
// Read chunks from Chunks until it is closed, then call Wait.
func (c *Client) Stream(ctx context.Context, messages []ChatMessage) *Stream {
	s := &Stream{
		chunks: make(chan StreamChunk, 100),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.chunks)
		s.usage, s.err = c.provider.StreamChat(ctx, messages, s.chunks)
	}()
	return s
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// Stream is an in-flight streaming completion.
type Stream struct {
	chunks chan StreamChunk
	done   chan struct{}
	once   sync.Once
	usage  *TokenUsage
	err    error
}

// Chunks returns the channel of fragments. It is closed when the provider
// returns.
func (s *Stream) Chunks() <-chan StreamChunk {
	return s.chunks
}

// Wait drains any unread chunks and returns the provider result.
func (s *Stream) Wait() (*TokenUsage, error) {
	s.once.Do(func() {
		for range s.chunks {
		}
	})
	<-s.done
	return s.usage, s.err
}
