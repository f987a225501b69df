package llm

import (
	"fmt"
	"time"
)

// Supported completion dialects.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ClientConfig selects and configures one completion dialect. Provider must
// already be resolved; the factory never guesses it from BaseURL.
type ClientConfig struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewCompletionClient creates the client for cfg.Provider.
// It returns ErrNotConfigured when no API key is set; callers treat that as
// "no completion service" and use the deterministic paths only.
func NewCompletionClient(cfg ClientConfig) (CompletionClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			MaxTokens:         cfg.MaxTokens,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	case ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			MaxTokens:         cfg.MaxTokens,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %q", cfg.Provider)
	}
}
