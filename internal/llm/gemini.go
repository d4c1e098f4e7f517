package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"dbtforge/internal/config"
	"dbtforge/internal/logging"
)

// GeminiClient streams from the Gemini API through the genai SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiClient creates a client. cfg.BaseURL overrides the API endpoint.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNoAPIKey)
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// Name returns gemini/model.
func (c *GeminiClient) Name() string { return "gemini/" + c.model }

// Stream runs GenerateContentStream and forwards each response's text.
func (c *GeminiClient) Stream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		timer := logging.StartTimer(logging.CategoryLLM, "gemini stream")
		defer timer.Stop()

		gc := &genai.GenerateContentConfig{
			Temperature: genai.Ptr(c.temperature),
		}
		if systemPrompt != "" {
			gc.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
		}
		if c.maxTokens > 0 {
			gc.MaxOutputTokens = c.maxTokens
		}

		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, genai.Text(userPrompt), gc) {
			if err != nil {
				if ctx.Err() != nil {
					errorChan <- ctx.Err()
					return
				}
				logging.LLMError("[gemini] stream: %v", err)
				errorChan <- fmt.Errorf("gemini stream: %w", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case contentChan <- text:
			case <-ctx.Done():
				errorChan <- ctx.Err()
				return
			}
		}
	}()

	return contentChan, errorChan
}
