// Package llm streams completions from the supported model providers.
package llm

import (
	"context"
	"errors"
	"fmt"

	"dbtforge/internal/config"
)

// Client streams one completion. Deltas arrive on the first channel; at most
// one error arrives on the second. Both channels are closed when the stream
// ends.
type Client interface {
	Stream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error)
	Name() string
}

// ErrNoAPIKey is returned when the provider has no credentials.
var ErrNoAPIKey = errors.New("API key not configured")

// NewClient returns the client for cfg.Provider.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	case "openai", "openrouter", "xai", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: %w", providerOrDefault(cfg.Provider), ErrNoAPIKey)
		}
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func providerOrDefault(p string) string {
	if p == "" {
		return "openai"
	}
	return p
}
