package llm

import (
	"context"
	"strings"
	"sync"
)

// MockProvider replays canned replies in order, one per request. Content is
// streamed in small pieces so marker detection sees several chunks. Once the
// script is exhausted it keeps answering "<end>".
type MockProvider struct {
	mu       sync.Mutex
	replies  []string
	requests [][]ChatMessage
	// ChunkSize is the number of runes per streamed chunk. Zero means 4.
	ChunkSize int
}

// NewMockProvider creates a provider that answers with replies in order.
func NewMockProvider(replies ...string) *MockProvider {
	return &MockProvider{replies: replies}
}

func (m *MockProvider) Name() string  { return "mock" }
func (m *MockProvider) Model() string { return "mock" }

// Requests returns a copy of every message list received so far.
func (m *MockProvider) Requests() [][]ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]ChatMessage, len(m.requests))
	for i, r := range m.requests {
		out[i] = append([]ChatMessage(nil), r...)
	}
	return out
}

func (m *MockProvider) next(messages []ChatMessage) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, append([]ChatMessage(nil), messages...))
	if len(m.replies) == 0 {
		return "<end>"
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply
}

// Chat returns the next reply.
func (m *MockProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return LLMResponse{}, err
	}
	return LLMResponse{Content: m.next(messages)}, nil
}

// StreamChat streams the next reply in ChunkSize pieces.
func (m *MockProvider) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- StreamChunk) (*TokenUsage, error) {
	reply := []rune(m.next(messages))
	size := m.ChunkSize
	if size <= 0 {
		size = 4
	}
	for start := 0; start < len(reply); start += size {
		end := min(start+size, len(reply))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunks <- StreamChunk{Content: string(reply[start:end])}:
		}
	}
	words := uint32(len(strings.Fields(string(reply))))
	return &TokenUsage{CompletionTokens: words, TotalTokens: words}, nil
}

// Verify MockProvider implements Provider
var _ Provider = (*MockProvider)(nil)
