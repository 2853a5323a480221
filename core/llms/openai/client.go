// Package openai talks to OpenAI compatible chat completion endpoints. The
// same client serves OpenAI itself, a local Ollama server and Groq.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/ema-dictation/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
	ProviderGroq   Provider = "groq"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTimeout     = 10 * time.Second
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 500
)

// DefaultAPIBase returns the base URL a provider serves chat completions
// under.
func DefaultAPIBase(provider Provider) string {
	switch provider {
	case ProviderOllama:
		return "http://localhost:11434/v1"
	case ProviderGroq:
		return "https://api.groq.com/openai/v1"
	}
	return "https://api.openai.com/v1"
}

type Config struct {
	Provider    Provider
	APIBase     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(config Config) *Client {
	if config.APIBase == "" {
		config.APIBase = DefaultAPIBase(config.Provider)
	}
	config.APIBase = strings.TrimRight(config.APIBase, "/")
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.APIKey == "" && config.Provider == ProviderOllama {
		// Ollama ignores the key but its OpenAI shim requires one.
		config.APIKey = "ollama"
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}

	return &Client{
		config: config,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
}

func (c *Client) Config() Config { return c.config }

// Timeout is the per-call budget callers should apply.
func (c *Client) Timeout() time.Duration { return c.config.Timeout }

func (c *Client) Complete(ctx context.Context, messages []llms.Message, opts ...llms.CompletionOption) (string, error) {
	ctx, span := tracer.Start(ctx, "complete chat")
	defer span.End()

	options := llms.NewCompletionOptions(opts...)
	temperature := c.config.Temperature
	if options.Temperature != nil {
		temperature = *options.Temperature
	}
	maxTokens := c.config.MaxTokens
	if options.MaxTokens > 0 {
		maxTokens = options.MaxTokens
	}

	span.SetAttributes(
		attribute.String("request.model", c.config.Model),
		attribute.String("request.provider", string(c.config.Provider)),
		attribute.Int("request.messages", len(messages)),
	)

	content, err := c.complete(ctx, requestBody{
		Model:       c.config.Model,
		Messages:    toMessages(messages),
		Temperature: &temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return content, nil
}

func (c *Client) complete(ctx context.Context, reqBody requestBody) (string, error) {
	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIBase+"/chat/completions", bytes.NewReader(requestBodyBytes))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorBody
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, apiErr.Error.Message)
		}
		return "", fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}

	var responseBody responseBody
	if err := json.Unmarshal(bodyBytes, &responseBody); err != nil {
		return "", fmt.Errorf("error unmarshalling response body: %w", err)
	}
	if len(responseBody.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}

	return strings.TrimSpace(responseBody.Choices[0].Message.Content), nil
}
