package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// AnthropicConfig holds configuration for the Anthropic Messages dialect.
type AnthropicConfig struct {
	APIKey            string
	Model             string        // default: claude-haiku-4-5-20251001
	BaseURL           string        // default: https://api.anthropic.com
	MaxTokens         int           // default: 1024
	Timeout           time.Duration // default: 60s
	RequestsPerSecond float64       // 0 disables pacing
}

// AnthropicClient implements CompletionClient using the Anthropic Messages API.
// Requests carry the key in x-api-key; the reply text is content[0].text.
type AnthropicClient struct {
	cfg            AnthropicConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
	limiter        *rate.Limiter
}

// NewAnthropicClient creates a new Anthropic client with the given configuration.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &AnthropicClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: NewCircuitBreaker(ProviderAnthropic, DefaultBreakerConfig()),
		limiter:        newLimiter(cfg.RequestsPerSecond),
	}
}

// anthropicMessagesRequest is the request body for POST /v1/messages.
type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicMessagesResponse is the response body from POST /v1/messages.
type anthropicMessagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends a single-turn completion to Anthropic and returns the response text.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	text, err := c.circuitBreaker.Complete(ctx, func(ctx context.Context) (string, error) {
		return c.complete(ctx, prompt)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	return text, err
}

func (c *AnthropicClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody := anthropicMessagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(c.cfg.BaseURL, "/v1/messages"), bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &ServiceError{Provider: ProviderAnthropic, Status: resp.StatusCode, Err: errors.New(string(body))}
	}

	var respData anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", &ServiceError{Provider: ProviderAnthropic, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if len(respData.Content) == 0 || respData.Content[0].Text == "" {
		return "", &ServiceError{Provider: ProviderAnthropic, Err: ErrEmptyResponse}
	}

	return respData.Content[0].Text, nil
}

// Provider returns the dialect name.
func (c *AnthropicClient) Provider() string {
	return ProviderAnthropic
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertion.
var _ CompletionClient = (*AnthropicClient)(nil)
