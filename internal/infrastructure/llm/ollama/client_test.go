package ollama

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

func TestCompleteUsesChatEndpointWithJSONFormat(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"qwen2.5","message":{"role":"assistant","content":"{\"latest_title\":\"a\"}"},"done":true}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", "qwen2.5", Options{})
	got, err := client.Complete(context.Background(), ports.CompletionRequest{
		Messages: []ports.Message{{Role: "user", Content: "rank"}},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Text != `{"latest_title":"a"}` || got.Model != "qwen2.5" {
		t.Fatalf("unexpected completion %+v", got)
	}
	if payload["format"] != "json" || payload["stream"] != false {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestCompleteIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "gen", Options{})
	_, err := client.Complete(context.Background(), ports.CompletionRequest{Messages: []ports.Message{{Role: "user", Content: "hello"}}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestCompleteSurfacesOllamaErrorField(t *testing.T) {
	cases := map[string]string{
		"error field":  `{"error":"model \"qwen2.5\" not found, try pulling it first"}`,
		"not finished": `{"model":"qwen2.5","message":{"role":"assistant","content":"{"},"done":false}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			client := New(server.URL, "qwen2.5", Options{})
			_, err := client.Complete(context.Background(), ports.CompletionRequest{Messages: []ports.Message{{Role: "user", Content: "judge"}}})
			if err == nil {
				t.Fatalf("expected error for %s", name)
			}
			if domain.IsKind(err, domain.ErrTemporary) {
				t.Fatalf("a model error is not temporary: %v", err)
			}
		})
	}
}

func TestCompleteRejectsEmptyConversation(t *testing.T) {
	client := New("http://127.0.0.1:1", "qwen2.5", Options{})
	if _, err := client.Complete(context.Background(), ports.CompletionRequest{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
