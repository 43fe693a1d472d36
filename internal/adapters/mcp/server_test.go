package mcpadapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

type pipelineFake struct {
	doc      *domain.Document
	err      error
	enqueued []string
	comment  string
}

func (f *pipelineFake) Register(context.Context, ports.RegisterRequest) (*domain.Document, error) {
	return f.doc, f.err
}

func (f *pipelineFake) Enqueue(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, id)
	return nil
}

func (f *pipelineFake) EnqueuePending(context.Context, int) (int, error) { return 0, f.err }

func (f *pipelineFake) GetStatus(context.Context, string) (*domain.DocumentStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	status := f.doc.Status()
	return &status, nil
}

func (f *pipelineFake) ListRecords(context.Context, string) ([]domain.ProcessingRecord, error) {
	return []domain.ProcessingRecord{{DocumentID: f.doc.ID, Stage: domain.StageExtracting, Outcome: domain.OutcomeSuccess}}, f.err
}

func (f *pipelineFake) Advance(context.Context, string) (*domain.Document, error) {
	return f.doc, f.err
}

func (f *pipelineFake) Run(context.Context, string) (*domain.Document, error) { return f.doc, f.err }

func (f *pipelineFake) Approve(_ context.Context, _ string, approved bool, comment string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.comment = comment
	doc := *f.doc
	doc.Stage = domain.StageCompleted
	if approved {
		doc.Resolution = domain.ResolutionPublished
	} else {
		doc.Resolution = domain.ResolutionRejected
	}
	return &doc, nil
}

func (f *pipelineFake) Reprocess(context.Context, string) error { return f.err }

type reconcilerFake struct {
	err   error
	limit int
}

func (f *reconcilerFake) RunVersionReconciliation(_ context.Context, limit int) (domain.VersionStats, error) {
	f.limit = limit
	return domain.VersionStats{Processed: 7, DuplicatesFound: 1, Deleted: 2}, f.err
}

func (f *reconcilerFake) RunExpirationReconciliation(_ context.Context, limit int) (domain.ExpirationStats, error) {
	f.limit = limit
	return domain.ExpirationStats{Processed: 3, ExpiredByMetadata: 1, Deleted: 1}, f.err
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return text.Text
}

func testDocument() *domain.Document {
	return &domain.Document{ID: "doc-1", Filename: "a.docx", Category: domain.CategoryBranchIssue, Stage: domain.StageAwaitingApproval}
}

func TestGetDocumentStatusTool(t *testing.T) {
	s := NewServer(&pipelineFake{doc: testDocument()}, &reconcilerFake{})

	result, err := s.handleGetDocumentStatus(context.Background(), callRequest("get_document_status", map[string]any{"document_id": "doc-1"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if result.IsError || !strings.Contains(resultText(t, result), `"stage": "awaiting_approval"`) {
		t.Fatalf("unexpected result %q", resultText(t, result))
	}

	result, _ = s.handleGetDocumentStatus(context.Background(), callRequest("get_document_status", map[string]any{}))
	if !result.IsError {
		t.Fatalf("expected tool error without document_id")
	}
}

func TestApproveDocumentTool(t *testing.T) {
	pipeline := &pipelineFake{doc: testDocument()}
	s := NewServer(pipeline, &reconcilerFake{})

	result, _ := s.handleApproveDocument(context.Background(), callRequest("approve_document", map[string]any{
		"document_id": "doc-1",
		"approved":    true,
		"comment":     "looks current",
	}))
	if result.IsError || !strings.Contains(resultText(t, result), `"resolution": "published"`) {
		t.Fatalf("unexpected result %q", resultText(t, result))
	}
	if pipeline.comment != "looks current" {
		t.Fatalf("comment not forwarded: %q", pipeline.comment)
	}

	result, _ = s.handleApproveDocument(context.Background(), callRequest("approve_document", map[string]any{"document_id": "doc-1"}))
	if !result.IsError {
		t.Fatalf("expected tool error without approved flag")
	}
}

func TestEnqueueDocumentToolReportsErrors(t *testing.T) {
	pipeline := &pipelineFake{doc: testDocument(), err: domain.WrapError(domain.ErrInvalidInput, "enqueue", errors.New("document doc-1 is completed"))}
	s := NewServer(pipeline, &reconcilerFake{})

	result, err := s.handleEnqueueDocument(context.Background(), callRequest("enqueue_document", map[string]any{"document_id": "doc-1"}))
	if err != nil {
		t.Fatalf("tool failures must be results, got %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "completed") {
		t.Fatalf("unexpected result %q", resultText(t, result))
	}
}

func TestReconciliationToolsPassLimit(t *testing.T) {
	reconciler := &reconcilerFake{}
	s := NewServer(&pipelineFake{doc: testDocument()}, reconciler)

	result, _ := s.handleVersionReconciliation(context.Background(), callRequest("run_version_reconciliation", map[string]any{"limit": float64(25)}))
	if result.IsError || reconciler.limit != 25 || !strings.Contains(resultText(t, result), `"duplicates_found": 1`) {
		t.Fatalf("unexpected result %q limit=%d", resultText(t, result), reconciler.limit)
	}

	reconciler.err = domain.WrapError(domain.ErrReconciliationBusy, "acquire lock", errors.New("key=expirations"))
	result, _ = s.handleExpirationReconciliation(context.Background(), callRequest("run_expiration_reconciliation", nil))
	if !result.IsError || reconciler.limit != 0 {
		t.Fatalf("expected busy error with default limit, got %q limit=%d", resultText(t, result), reconciler.limit)
	}
}
