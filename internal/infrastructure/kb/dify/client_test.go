package dify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/infrastructure/resilience"
)

func TestCreateByTextSendsHierarchicalRules(t *testing.T) {
	var (
		path    string
		auth    string
		payload map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"document":{"id":"dify-doc-1"},"batch":"b1"}`))
	}))
	defer server.Close()

	client := New(server.URL, "dataset-key", Options{})
	id, err := client.CreateByText(context.Background(), "ds-1", "信贷管理办法.docx", "第一条\n\n第二条")
	if err != nil {
		t.Fatalf("CreateByText() error = %v", err)
	}
	if id != "dify-doc-1" {
		t.Fatalf("unexpected id %q", id)
	}
	if path != "/v1/datasets/ds-1/document/create-by-text" || auth != "Bearer dataset-key" {
		t.Fatalf("unexpected request path=%q auth=%q", path, auth)
	}
	if payload["doc_form"] != "hierarchical_model" || payload["indexing_technique"] != "high_quality" {
		t.Fatalf("unexpected payload %v", payload)
	}
	rule := payload["process_rule"].(map[string]any)
	rules := rule["rules"].(map[string]any)
	if rule["mode"] != "hierarchical" || rules["parent_mode"] != "paragraph" {
		t.Fatalf("unexpected process rule %v", rule)
	}
	child := rules["subchunk_segmentation"].(map[string]any)
	if child["max_tokens"].(float64) != 256 || child["chunk_overlap"].(float64) != 50 {
		t.Fatalf("unexpected child segmentation %v", child)
	}
}

func TestCreateByTextFailureIsPublishFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"dataset_not_initialized"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, "k", Options{})
	_, err := client.CreateByText(context.Background(), "ds-1", "a", "b")
	if !domain.IsKind(err, domain.ErrPublishFailed) {
		t.Fatalf("expected publish failed, got %v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		switch r.URL.Path {
		case "/v1/datasets/ds-1/documents/present":
			w.WriteHeader(http.StatusNoContent)
		case "/v1/datasets/ds-1/documents/gone":
			http.Error(w, "not found", http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusForbidden)
		}
	}))
	defer server.Close()

	client := New(server.URL, "k", Options{})
	ctx := context.Background()

	deleted, err := client.DeleteDocument(ctx, "ds-1", "present")
	if err != nil || !deleted {
		t.Fatalf("expected deletion, got %v %v", deleted, err)
	}
	deleted, err = client.DeleteDocument(ctx, "ds-1", "gone")
	if err != nil || deleted {
		t.Fatalf("expected missing document to report false, got %v %v", deleted, err)
	}
	if _, err := client.DeleteDocument(ctx, "ds-1", "other"); !domain.IsKind(err, domain.ErrDeleteFailed) {
		t.Fatalf("expected delete failed, got %v", err)
	}
}

func TestDeleteRetriesUnavailableDifyButCreateDoesNot(t *testing.T) {
	var deletes, creates atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			if deletes.Add(1) < 3 {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		creates.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	policy := resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
	}
	client := New(server.URL, "k", Options{
		ResilienceExecutor: resilience.NewExecutor("dify", resilience.NoRetry(policy)),
		DeleteExecutor:     resilience.NewExecutor("dify", policy),
	})
	ctx := context.Background()

	deleted, err := client.DeleteDocument(ctx, "ds-1", "doc-1")
	if err != nil || !deleted {
		t.Fatalf("expected deletion after retries, got %v %v", deleted, err)
	}
	if deletes.Load() != 3 {
		t.Fatalf("expected 3 delete attempts, got %d", deletes.Load())
	}

	if _, err := client.CreateByText(ctx, "ds-1", "a", "b"); !domain.IsKind(err, domain.ErrPublishFailed) {
		t.Fatalf("expected publish failed, got %v", err)
	}
	if creates.Load() != 1 {
		t.Fatalf("create must be attempted once, got %d", creates.Load())
	}
}
