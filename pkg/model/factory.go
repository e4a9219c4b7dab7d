package model

import (
	"fmt"

	"approver/pkg/config"
)

// New constructs the configured backend wrapped with retry. The mock backend
// is returned unwrapped so tests see every scripted outcome exactly once.
func New(cfg *config.Config) (Client, error) {
	mc := cfg.Model

	var inner Client
	switch mc.Provider {
	case config.ProviderAnthropic:
		inner = NewAnthropicClient(mc.APIKey, mc.Name)
	case config.ProviderOpenAI:
		inner = NewOpenAIClient(mc.APIKey, mc.Name)
	case config.ProviderOllama:
		client, err := NewOllamaClient(mc.Host, mc.Name)
		if err != nil {
			return nil, err
		}
		inner = client
	case config.ProviderGemini:
		inner = NewGeminiClient(mc.APIKey, mc.Name)
	case config.ProviderMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", mc.Provider)
	}

	return NewRetryableClient(inner, mc.MaxAttempts), nil
}
