// Package ollama talks to a local Ollama server through its chat API.
package ollama

import (
	"context"
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

type Options struct {
	Timeout            time.Duration
	RequestsPerMinute  int
	Burst              int
	ResilienceExecutor *resilience.Executor
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

func New(baseURL, model string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		executor:   opts.ResilienceExecutor,
	}
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []ports.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  chatOptions     `json:"options"`
}

type chatResponse struct {
	Model   string        `json:"model"`
	Message ports.Message `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	if len(req.Messages) == 0 {
		return ports.Completion{}, domain.WrapError(domain.ErrInvalidInput, "ollama complete", errors.New("messages are required"))
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ports.Completion{}, fmt.Errorf("ollama rate limit wait: %w", err)
		}
	}

	payload := chatRequest{
		Model:    c.model,
		Messages: req.Messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	if req.JSONMode {
		payload.Format = "json"
	}

	response, err := resilience.ExecuteValue(ctx, c.executor, "chat", func(callCtx context.Context) (chatResponse, error) {
		return c.chat(callCtx, payload)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return ports.Completion{}, resilience.WrapTemporaryIfNeeded("ollama chat", err, resilience.ClassifyHTTPError)
	}

	model := response.Model
	if model == "" {
		model = c.model
	}
	return ports.Completion{
		Text:  strings.TrimSpace(response.Message.Content),
		Model: model,
	}, nil
}
