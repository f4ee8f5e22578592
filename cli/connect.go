package cli

import (
	"fmt"

	"github.com/richinex/tagloop/config"
	"github.com/richinex/tagloop/llm"
)

// Connect builds a client for the active source of settings.
func Connect(settings *config.Settings) (*llm.Client, error) {
	provider, err := createProvider(settings, settings.Source())
	if err != nil {
		return nil, err
	}
	return llm.NewClient(provider), nil
}

func createProvider(settings *config.Settings, source string) (llm.Provider, error) {
	if source == "" {
		return nil, llm.ErrNoClient
	}

	providerType, err := llm.ParseProviderType(source)
	if err != nil {
		return nil, err
	}

	apiKey, err := settings.APIKeyFor(source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve API key for %s: %w", source, err)
	}

	return providerType.
		Model(settings.ModelFor(source)).
		BaseURL(settings.BaseURLFor(source)).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
}
