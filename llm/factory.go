// LLM Provider Factory - builder-first API for creating chat sources.
//
// Quick Start:
//
//	// Defaults, API key from environment
//	ds, err := llm.ProviderDeepSeek.FromEnv()
//
//	// Local Ollama, no key required
//	local, err := llm.ProviderOllama.Model("qwen2.5-coder:7b").APIKey("")
//
//	// Full configuration
//	custom, err := llm.ProviderSiliconFlow.
//	    Model("deepseek-ai/DeepSeek-R1").
//	    MaxTokens(8192).
//	    Temperature(0.3).
//	    BaseURL("https://api.siliconflow.cn/v1").
//	    FromEnv()

package llm

import (
	"fmt"
	"os"
	"strings"
)

// ProviderType represents supported chat sources.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI API.
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic provider (Claude models).
	ProviderAnthropic
	// ProviderDeepSeek is the DeepSeek API.
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini provider.
	ProviderGemini
	// ProviderSiliconFlow is the SiliconFlow OpenAI-compatible gateway.
	ProviderSiliconFlow
	// ProviderOllama is a local Ollama server through its OpenAI-compatible endpoint.
	ProviderOllama
)

// AllProviders lists every source in display order.
var AllProviders = []ProviderType{
	ProviderDeepSeek,
	ProviderOllama,
	ProviderSiliconFlow,
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGemini,
}

// String returns the configuration key of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGemini:
		return "gemini"
	case ProviderSiliconFlow:
		return "siliconflow"
	case ProviderOllama:
		return "ollama"
	default:
		return "unknown"
	}
}

// DisplayName returns the user-facing source name.
func (p ProviderType) DisplayName() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI_API"
	case ProviderAnthropic:
		return "Anthropic"
	case ProviderDeepSeek:
		return "DeepSeek"
	case ProviderGemini:
		return "Gemini"
	case ProviderSiliconFlow:
		return "SiliconFlow"
	case ProviderOllama:
		return "Ollama"
	default:
		return "Unknown"
	}
}

// EnvVar returns the environment variable name for this provider's API key.
// Ollama needs no key and returns "".
func (p ProviderType) EnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderSiliconFlow:
		return "SILICONFLOW_API_KEY"
	default:
		return ""
	}
}

// RequiresKey reports whether the source refuses requests without an API key.
func (p ProviderType) RequiresKey() bool {
	return p != ProviderOllama
}

// DefaultModel returns the default model for this provider.
func (p ProviderType) DefaultModel() string {
	switch p {
	case ProviderOpenAI:
		return ModelOpenAIGPT4o
	case ProviderAnthropic:
		return ModelAnthropicClaudeSonnet4
	case ProviderDeepSeek:
		return ModelDeepSeekChat
	case ProviderGemini:
		return ModelGeminiFlash25
	case ProviderSiliconFlow:
		return ModelSiliconFlowDeepSeekV3
	case ProviderOllama:
		return ModelOllamaQwenCoder
	default:
		return ""
	}
}

// DefaultBaseURL returns the API root used when none is configured.
// Empty means the SDK default.
func (p ProviderType) DefaultBaseURL() string {
	switch p {
	case ProviderDeepSeek:
		return deepseekBaseURL
	case ProviderSiliconFlow:
		return siliconFlowBaseURL
	case ProviderOllama:
		return ollamaBaseURL
	default:
		return ""
	}
}

// ParseProviderType parses a provider from string (case-insensitive).
// Both configuration keys and display names are accepted.
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "openai_api", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	case "siliconflow", "silicon":
		return ProviderSiliconFlow, nil
	case "ollama":
		return ProviderOllama, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// FromEnv creates a provider with defaults, reading API key from environment.
func (p ProviderType) FromEnv() (Provider, error) {
	return NewProviderBuilder(p).FromEnv()
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// APIKey creates a provider with an explicit API key (uses defaults for everything else).
func (p ProviderType) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(p).APIKey(key)
}

// ProviderBuilder is a builder for configuring LLM providers.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	baseURL      string
	maxTokens    uint32
	temperature  *float32
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// BaseURL overrides the API root for OpenAI-compatible sources.
func (b *ProviderBuilder) BaseURL(url string) *ProviderBuilder {
	b.baseURL = url
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets temperature (0.0 = deterministic, 1.0 = creative).
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// FromEnv builds the provider, reading API key from environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	envVar := b.providerType.EnvVar()
	apiKey := ""
	if envVar != "" {
		apiKey = os.Getenv(envVar)
	}
	return b.APIKey(apiKey)
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	if key == "" && b.providerType.RequiresKey() {
		return nil, fmt.Errorf("%s: API key not configured (set %s or use /api)", b.providerType, b.providerType.EnvVar())
	}
	return b.build(key)
}

func (b *ProviderBuilder) build(apiKey string) (Provider, error) {
	model := b.model
	if model == "" {
		model = b.providerType.DefaultModel()
	}

	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	temperature := float32(0.7) // default
	if b.temperature != nil {
		temperature = *b.temperature
	}

	baseURL := b.baseURL
	if baseURL == "" {
		baseURL = b.providerType.DefaultBaseURL()
	}

	switch b.providerType {
	case ProviderOpenAI:
		p := NewOpenAIProvider(apiKey, model, maxTokens, temperature)
		if baseURL != "" {
			p = NewOpenAICompatibleProvider("openai", baseURL, apiKey, model, maxTokens, temperature)
		}
		return p, nil
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey, model, maxTokens, temperature), nil
	case ProviderDeepSeek:
		return newDeepSeekProvider(baseURL, apiKey, model, maxTokens, temperature), nil
	case ProviderGemini:
		return NewGeminiProvider(apiKey, model, maxTokens, temperature), nil
	case ProviderSiliconFlow:
		return NewOpenAICompatibleProvider("siliconflow", baseURL, apiKey, model, maxTokens, temperature), nil
	case ProviderOllama:
		if apiKey == "" {
			apiKey = "ollama"
		}
		return NewOpenAICompatibleProvider("ollama", baseURL, apiKey, model, maxTokens, temperature), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
}

// Model identifier constants for the supported sources.

// OpenAI model identifiers
const (
	ModelOpenAIGPT4o     = "gpt-4o"
	ModelOpenAIGPT4oMini = "gpt-4o-mini"
	ModelOpenAIO3Mini    = "o3-mini"
)

// Anthropic model identifiers
const (
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
)

// DeepSeek model identifiers
const (
	// ModelDeepSeekChat is the general chat model.
	ModelDeepSeekChat = "deepseek-chat"
	// ModelDeepSeekReasoner streams reasoning_content before the answer.
	ModelDeepSeekReasoner = "deepseek-reasoner"
)

// Gemini model identifiers
const (
	ModelGeminiFlash25 = "gemini-2.5-flash"
)

// OpenAI-compatible gateway defaults
const (
	ModelSiliconFlowDeepSeekV3 = "deepseek-ai/DeepSeek-V3"
	ModelOllamaQwenCoder       = "qwen2.5-coder:7b"
)
