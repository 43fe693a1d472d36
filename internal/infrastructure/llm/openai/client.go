// Package openai talks to OpenAI-compatible chat completion endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
	"github.com/kirillkom/doc-curator/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Options struct {
	BaseURL            string
	APIKey             string
	Model              string
	Timeout            time.Duration
	RequestsPerMinute  int
	Burst              int
	ResilienceExecutor *resilience.Executor
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai model is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      opts.Model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newLimiter(opts.RequestsPerMinute, opts.Burst),
		executor:   opts.ResilienceExecutor,
	}, nil
}

// newLimiter returns nil (unlimited) when rpm is not positive.
func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst)
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []ports.Message `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	if len(req.Messages) == 0 {
		return ports.Completion{}, domain.WrapError(domain.ErrInvalidInput, "openai complete", errors.New("messages are required"))
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ports.Completion{}, fmt.Errorf("openai rate limit wait: %w", err)
		}
	}

	payload := chatRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	completion, err := resilience.ExecuteValue(ctx, c.executor, "openai.chat", func(callCtx context.Context) (ports.Completion, error) {
		return c.chat(callCtx, payload)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return ports.Completion{}, resilience.WrapTemporaryIfNeeded("openai chat", err, resilience.ClassifyHTTPError)
	}
	return completion, nil
}

func (c *Client) chat(ctx context.Context, payload chatRequest) (ports.Completion, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("openai chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.Completion{}, resilience.NewHTTPStatusError("openai", "chat", resp)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ports.Completion{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return ports.Completion{}, errors.New("openai chat response has no choices")
	}
	model := decoded.Model
	if model == "" {
		model = payload.Model
	}
	return ports.Completion{
		Text:  strings.TrimSpace(decoded.Choices[0].Message.Content),
		Model: model,
	}, nil
}
