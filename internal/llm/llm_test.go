package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dbtforge/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func collect(content <-chan string, errs <-chan error) (string, error) {
	var sb strings.Builder
	for d := range content {
		sb.WriteString(d)
	}
	return sb.String(), <-errs
}

func sse(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, d := range deltas {
		payload, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"delta": map[string]any{"content": d}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func testClient(url string) *OpenAIClient {
	c := NewOpenAIClient(config.LLMConfig{
		Provider:   "openai",
		APIKey:     "sk-test",
		Model:      "gpt-test",
		BaseURL:    url,
		Timeout:    "5s",
		MaxRetries: 2,
		MaxTokens:  100,
	})
	c.backoff = time.Millisecond
	return c
}

func TestOpenAIClient_Streams(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(": keep-alive\n\n"))
		sse(w, `{"dbtRules":`, `[]}`)
	}))
	defer srv.Close()

	text, err := collect(testClient(srv.URL).Stream(context.Background(), "system", "user"))
	require.NoError(t, err)
	assert.Equal(t, `{"dbtRules":[]}`, text)

	assert.Equal(t, "gpt-test", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "system"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "user"}, got.Messages[1])
}

func TestOpenAIClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		sse(w, "ok")
	}))
	defer srv.Close()

	text, err := collect(testClient(srv.URL).Stream(context.Background(), "s", "u"))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := collect(testClient(srv.URL).Stream(context.Background(), "s", "u"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := collect(testClient(srv.URL).Stream(context.Background(), "s", "u"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "bad model")
}

func TestOpenAIClient_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"overloaded\"}}\n\n")
	}))
	defer srv.Close()

	text, err := collect(testClient(srv.URL).Stream(context.Background(), "s", "u"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
	assert.Equal(t, "par", text)
}

func TestOpenAIClient_SkipsMalformedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "event: ping\n\n")
		sse(w, "a", "", "b")
	}))
	defer srv.Close()

	text, err := collect(testClient(srv.URL).Stream(context.Background(), "s", "u"))
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	c := NewOpenAIClient(config.LLMConfig{Provider: "xai", Model: "grok"})
	_, err := collect(c.Stream(context.Background(), "s", "u"))
	assert.ErrorIs(t, err, ErrNoAPIKey)
	assert.Equal(t, "xai/grok", c.Name())
	assert.Equal(t, "https://api.x.ai/v1", c.baseURL)
}

func TestOpenAIClient_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	content, errs := testClient(srv.URL).Stream(ctx, "s", "u")
	assert.Equal(t, "x", <-content)
	cancel()

	for range content {
	}
	assert.ErrorIs(t, <-errs, context.Canceled)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(context.Background(), config.LLMConfig{Provider: "openai", Model: "m"})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewClient(context.Background(), config.LLMConfig{Provider: "gemini", Model: "m"})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewClient(context.Background(), config.LLMConfig{Provider: "llama", APIKey: "k", Model: "m"})
	assert.Error(t, err)

	c, err := NewClient(context.Background(), config.LLMConfig{Provider: "openrouter", APIKey: "k", Model: "anthropic/claude"})
	require.NoError(t, err)
	assert.Equal(t, "openrouter/anthropic/claude", c.Name())

	g, err := NewClient(context.Background(), config.LLMConfig{Provider: "gemini", APIKey: "k", Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	assert.Equal(t, "gemini/gemini-2.5-flash", g.Name())
}
