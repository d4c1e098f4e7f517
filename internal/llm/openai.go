package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dbtforge/internal/config"
	"dbtforge/internal/logging"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta *struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, OpenRouter, xAI).
type OpenAIClient struct {
	provider    string
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	backoff     time.Duration
	httpClient  *http.Client
}

// NewOpenAIClient creates a client from cfg. An empty BaseURL falls back to
// the provider's public endpoint.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = cfg.DefaultBaseURL()
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		provider:    providerOrDefault(cfg.Provider),
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		backoff:     time.Second,
		httpClient:  &http.Client{Timeout: cfg.GetTimeout()},
	}
}

// Name returns provider/model.
func (c *OpenAIClient) Name() string { return c.provider + "/" + c.model }

// Stream posts a streaming chat completion and forwards content deltas.
// Rate limits (429) and transport failures are retried before the stream
// starts; errors after the first byte of the stream are not.
func (c *OpenAIClient) Stream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	logging.LLMDebug("[%s] stream: starting model=%s", c.provider, c.model)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.httpClient.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
			defer cancel()
		}

		if c.apiKey == "" {
			errorChan <- ErrNoAPIKey
			return
		}

		timer := logging.StartTimer(logging.CategoryLLM, c.provider+" stream")
		defer timer.Stop()

		body, err := json.Marshal(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			Stream:      true,
		})
		if err != nil {
			errorChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		var lastErr error
		for attempt := 0; attempt <= c.maxRetries; attempt++ {
			if attempt > 0 {
				wait := time.Duration(1<<uint(attempt-1)) * c.backoff
				logging.LLMDebug("[%s] stream: retry %d in %v: %v", c.provider, attempt, wait, lastErr)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					errorChan <- ctx.Err()
					return
				}
			}

			resp, err := c.post(ctx, body)
			if err != nil {
				if ctx.Err() != nil {
					errorChan <- ctx.Err()
					return
				}
				lastErr = fmt.Errorf("request failed: %w", err)
				continue
			}

			if resp.StatusCode == http.StatusTooManyRequests {
				msg, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				lastErr = fmt.Errorf("rate limit exceeded (429): %s", strings.TrimSpace(string(msg)))
				continue
			}
			if resp.StatusCode != http.StatusOK {
				msg, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				logging.LLMError("[%s] stream: status %d", c.provider, resp.StatusCode)
				errorChan <- fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
				return
			}

			err = c.readEvents(ctx, resp.Body, contentChan)
			resp.Body.Close()
			if err != nil {
				logging.LLMError("[%s] stream: %v", c.provider, err)
				errorChan <- err
			}
			return
		}

		logging.LLMError("[%s] stream: max retries exceeded: %v", c.provider, lastErr)
		errorChan <- fmt.Errorf("max retries exceeded: %w", lastErr)
	}()

	return contentChan, errorChan
}

func (c *OpenAIClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")
	if c.provider == "openrouter" {
		req.Header.Set("X-Title", "dbtforge")
	}
	return c.httpClient.Do(req)
}

// readEvents scans SSE "data:" lines until [DONE] or EOF.
func (c *OpenAIClient) readEvents(ctx context.Context, r io.Reader, out chan<- string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logging.LLMDebug("[%s] stream: skipping malformed event: %v", c.provider, err)
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		select {
		case out <- chunk.Choices[0].Delta.Content:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("stream error: %w", err)
	}
	return nil
}
