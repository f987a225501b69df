package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClient_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"[{\"name\":\"Fed\",\"type\":\"organization\"}]"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", Model: "m1", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"Fed","type":"organization"}]`, out)

	assert.Equal(t, "m1", got["model"])
	assert.EqualValues(t, defaultMaxTokens, got["max_tokens"])
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]interface{})
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "hello", msg["content"])
	assert.Equal(t, ProviderAnthropic, c.Provider())
	assert.Equal(t, "m1", c.GetModel())
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"title\":\"T\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", Model: "gpt", BaseURL: srv.URL, MaxTokens: 300})
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"title":"T"}`, out)
	assert.Equal(t, "gpt", got["model"])
	assert.EqualValues(t, 300, got["max_tokens"])
	assert.Equal(t, ProviderOpenAI, c.Provider())
}

func TestClient_NonSuccessStatusIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clients := []CompletionClient{
		NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL}),
		NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}),
	}
	for _, c := range clients {
		_, err := c.Complete(context.Background(), "x")
		var svcErr *ServiceError
		require.True(t, errors.As(err, &svcErr), c.Provider())
		assert.Equal(t, http.StatusServiceUnavailable, svcErr.Status)
		assert.Equal(t, c.Provider(), svcErr.Provider)
	}
}

func TestClient_EmptyContentIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"choices":[]}`))
	}))
	defer srv.Close()

	clients := []CompletionClient{
		NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL}),
		NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}),
	}
	for _, c := range clients {
		_, err := c.Complete(context.Background(), "x")
		assert.ErrorIs(t, err, ErrEmptyResponse, c.Provider())
	}
}

func TestClient_UnparseableBodyIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "x")
	var svcErr *ServiceError
	assert.True(t, errors.As(err, &svcErr))
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1/messages", endpointURL("https://api.example.com", "/v1/messages"))
	assert.Equal(t, "https://api.example.com/v1/messages", endpointURL("https://api.example.com/", "/v1/messages"))
	assert.Equal(t, "https://proxy/v1/chat/completions", endpointURL("https://proxy/v1/chat/completions", "/v1/chat/completions"))
}

func TestNewCompletionClient(t *testing.T) {
	_, err := NewCompletionClient(ClientConfig{Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrNotConfigured)

	c, err := NewCompletionClient(ClientConfig{Provider: ProviderAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	c, err = NewCompletionClient(ClientConfig{Provider: ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	_, err = NewCompletionClient(ClientConfig{Provider: "ollama", APIKey: "k"})
	assert.Error(t, err)

	_, err = NewCompletionClient(ClientConfig{APIKey: "k"})
	assert.Error(t, err, "provider must be resolved before the factory")
}
