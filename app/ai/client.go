package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/lysyi3m/rss-digest/app/metrics"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	defaultOllamaHost = "http://localhost:11434"
	defaultOpenAIHost = "https://api.openai.com"
	systemPrompt      = "You are a professional news analysis and editing assistant."
)

// ErrUnavailable marks an AI call that failed after its retry budget.
var ErrUnavailable = errors.New("ai service unavailable")

// Client is a text completion backend.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Ping(ctx context.Context) error
	Name() string
}

type Config struct {
	Provider   string
	Host       string
	Model      string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient builds the configured provider. It returns nil, nil when no
// provider is configured. Both providers are reached through the OpenAI chat
// API; Ollama serves it under /v1.
func NewClient(cfg Config, httpClient *http.Client) (Client, error) {
	base := httpClientWithTimeout(httpClient, cfg.Timeout)

	var inner *chatClient
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case ProviderOllama:
		if cfg.Model == "" {
			return nil, fmt.Errorf("ollama model is required")
		}
		inner = newChatClient(ProviderOllama, apiBase(cfg.Host, defaultOllamaHost), "ollama", cfg.Model, base)
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key is required")
		}
		model := cfg.Model
		if model == "" {
			model = openai.GPT3Dot5Turbo
		}
		inner = newChatClient(ProviderOpenAI, apiBase(cfg.Host, defaultOpenAIHost), cfg.APIKey, model, base)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}

	return &retrying{
		inner:      inner,
		maxRetries: cfg.MaxRetries,
		delay:      cfg.RetryDelay,
	}, nil
}

func httpClientWithTimeout(c *http.Client, timeout time.Duration) *http.Client {
	if c == nil {
		c = &http.Client{}
	}
	if timeout <= 0 {
		return c
	}
	clone := *c
	clone.Timeout = timeout
	return &clone
}

// apiBase turns a configured host into the OpenAI-style API base URL.
func apiBase(host, fallback string) string {
	if host == "" {
		host = fallback
	}
	host = strings.TrimRight(host, "/")
	if !strings.HasSuffix(host, "/v1") {
		host += "/v1"
	}
	return host
}

// retrying wraps a client with bounded retries. The delay doubles per
// attempt and is capped at 30s.
type retrying struct {
	inner      Client
	maxRetries int
	delay      time.Duration
}

func (r *retrying) Name() string { return r.inner.Name() }

func (r *retrying) Ping(ctx context.Context) error { return r.inner.Ping(ctx) }

func (r *retrying) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay * time.Duration(1<<uint(attempt-1))
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			slog.Warn("AI call retry scheduled", "provider", r.inner.Name(), "attempt", attempt, "max_retries", r.maxRetries, "delay", delay.String())
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		start := time.Now()
		out, err := r.inner.Complete(ctx, prompt)
		metrics.AICallDuration.WithLabelValues(r.inner.Name()).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.AICallsTotal.WithLabelValues(r.inner.Name(), "success").Inc()
			return out, nil
		}

		metrics.AICallsTotal.WithLabelValues(r.inner.Name(), "error").Inc()
		slog.Error("AI call failed", "provider", r.inner.Name(), "attempt", attempt+1, "error", err)
		lastErr = err
	}

	return "", fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

type chatClient struct {
	name  string
	api   *openai.Client
	model string
}

func newChatClient(name, baseURL, apiKey, model string, httpClient *http.Client) *chatClient {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	config.HTTPClient = httpClient

	return &chatClient{
		name:  name,
		api:   openai.NewClientWithConfig(config),
		model: model,
	}
}

func (c *chatClient) Name() string { return c.name }

func (c *chatClient) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.name, err)
	}
	return nil
}

func (c *chatClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion failed: %w", c.name, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s returned an empty response", c.name)
	}
	return resp.Choices[0].Message.Content, nil
}
