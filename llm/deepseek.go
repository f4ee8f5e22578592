// DeepSeek Provider implementation using go-openai library.
//
// Information Hiding:
// - Uses OpenAI-compatible API with different base URL
// - deepseek-reasoner streams reasoning_content ahead of the answer
// - The API rejects two consecutive user turns; EnsureAlternation repairs the list

package llm

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekProvider implements the Provider interface for DeepSeek.
type DeepSeekProvider struct {
	*OpenAIProvider
}

// NewDeepSeekProvider creates a new DeepSeek provider.
func NewDeepSeekProvider(apiKey, model string, maxTokens uint32, temperature float32) *DeepSeekProvider {
	return newDeepSeekProvider(deepseekBaseURL, apiKey, model, maxTokens, temperature)
}

func newDeepSeekProvider(baseURL, apiKey, model string, maxTokens uint32, temperature float32) *DeepSeekProvider {
	p := NewOpenAICompatibleProvider("deepseek", baseURL, apiKey, model, maxTokens, temperature)
	p.prepare = EnsureAlternation
	return &DeepSeekProvider{OpenAIProvider: p}
}

// EnsureAlternation inserts an empty assistant message between consecutive
// user messages. Leading system messages are left untouched.
func EnsureAlternation(messages []ChatMessage) []ChatMessage {
	result := make([]ChatMessage, 0, len(messages))
	for i, msg := range messages {
		if i > 0 && msg.Role == "user" && messages[i-1].Role == "user" {
			result = append(result, AssistantMessage(""))
		}
		result = append(result, msg)
	}
	return result
}

// Verify DeepSeekProvider implements Provider
var _ Provider = (*DeepSeekProvider)(nil)
