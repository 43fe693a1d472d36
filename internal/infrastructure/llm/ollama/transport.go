package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/infrastructure/resilience"
)

// chat posts one non-streaming request to /api/chat. Ollama reports model
// and load failures as {"error": "..."}, sometimes with a 200 status.
func (c *Client) chat(ctx context.Context, payload chatRequest) (chatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return chatResponse{}, domain.WrapError(domain.ErrInvalidInput, "ollama chat", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, fmt.Errorf("build ollama chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chatResponse{}, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return chatResponse{}, resilience.NewHTTPStatusError("ollama", "chat", resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chatResponse{}, fmt.Errorf("decode ollama chat response: %w", err)
	}
	if msg := strings.TrimSpace(out.Error); msg != "" {
		return chatResponse{}, fmt.Errorf("ollama chat: %w", errors.New(msg))
	}
	if !out.Done {
		return chatResponse{}, fmt.Errorf("ollama chat: response for model %q is incomplete", payload.Model)
	}
	return out, nil
}
