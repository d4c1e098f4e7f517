package config

import "time"

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=openai openrouter xai gemini"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model" validate:"required"`
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	MaxRetries  int     `yaml:"max_retries" validate:"gte=0,lte=10"`
}

// DefaultBaseURL returns the API base for providers that speak the
// OpenAI-compatible chat completions protocol.
func (c LLMConfig) DefaultBaseURL() string {
	switch c.Provider {
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "xai":
		return "https://api.x.ai/v1"
	case "openai":
		return "https://api.openai.com/v1"
	default:
		return ""
	}
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case "openrouter":
		return "openai/gpt-4o-mini"
	case "xai":
		return "grok-3-mini"
	case "gemini":
		return "gemini-2.5-flash"
	default:
		return "gpt-4o-mini"
	}
}

// setProvider switches provider. A model still at the old provider's default
// follows the switch; an explicitly chosen model is kept.
func (c *LLMConfig) setProvider(provider string) {
	if c.Model == "" || c.Model == DefaultModel(c.Provider) {
		c.Model = DefaultModel(provider)
	}
	c.Provider = provider
}

// GetTimeout returns the request timeout, defaulting to three minutes.
func (c LLMConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 180 * time.Second
	}
	return d
}
