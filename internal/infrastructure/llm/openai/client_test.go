package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

func TestCompleteSendsJSONModeAndBearer(t *testing.T) {
	var (
		auth    string
		payload map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini-2024","choices":[{"message":{"content":" {\"suitable_for_kb\":true} "}}]}`))
	}))
	defer server.Close()

	client, err := New(Options{BaseURL: server.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := client.Complete(context.Background(), ports.CompletionRequest{
		Messages:    []ports.Message{{Role: "system", Content: "judge"}, {Role: "user", Content: "doc"}},
		JSONMode:    true,
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Text != `{"suitable_for_kb":true}` || got.Model != "gpt-4o-mini-2024" {
		t.Fatalf("unexpected completion %+v", got)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	format, _ := payload["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", payload["response_format"])
	}
	if msgs, _ := payload["messages"].([]any); len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", payload["messages"])
	}
}

func TestCompleteMarksServerErrorsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := New(Options{BaseURL: server.URL, Model: "m"})
	_, err := client.Complete(context.Background(), ports.CompletionRequest{Messages: []ports.Message{{Role: "user", Content: "x"}}})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestCompleteKeepsClientErrorsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client, _ := New(Options{BaseURL: server.URL, Model: "m"})
	_, err := client.Complete(context.Background(), ports.CompletionRequest{Messages: []ports.Message{{Role: "user", Content: "x"}}})
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without model")
	}
}
