// Package mcpadapter exposes pipeline and reconciliation operations as MCP
// tools for assistant clients.
package mcpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/doc-curator/internal/core/ports"
)

const (
	serverName    = "doc-curator"
	serverVersion = "1.0.0"
)

type Server struct {
	pipeline   ports.DocumentPipeline
	reconciler ports.ReconciliationRunner
	mcp        *server.MCPServer
}

func NewServer(pipeline ports.DocumentPipeline, reconciler ports.ReconciliationRunner) *Server {
	s := &Server{
		pipeline:   pipeline,
		reconciler: reconciler,
		mcp:        server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("get_document_status",
		mcp.WithDescription("Show the lifecycle stage, verdict and publication state of a document."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Ledger document id")),
	), s.handleGetDocumentStatus)

	s.mcp.AddTool(mcp.NewTool("list_processing_records",
		mcp.WithDescription("List the processing history of a document in chronological order."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Ledger document id")),
	), s.handleListRecords)

	s.mcp.AddTool(mcp.NewTool("enqueue_document",
		mcp.WithDescription("Queue a document for pipeline processing."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Ledger document id")),
	), s.handleEnqueueDocument)

	s.mcp.AddTool(mcp.NewTool("approve_document",
		mcp.WithDescription("Approve or reject a document waiting for manual review."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Ledger document id")),
		mcp.WithBoolean("approved", mcp.Required(), mcp.Description("true publishes the document, false rejects it")),
		mcp.WithString("comment", mcp.Description("Reviewer comment")),
	), s.handleApproveDocument)

	s.mcp.AddTool(mcp.NewTool("run_version_reconciliation",
		mcp.WithDescription("Remove superseded revisions of published documents from the knowledge base."),
		mcp.WithNumber("limit", mcp.Description("Maximum documents to inspect (default 50, max 200)")),
	), s.handleVersionReconciliation)

	s.mcp.AddTool(mcp.NewTool("run_expiration_reconciliation",
		mcp.WithDescription("Remove published documents whose validity period has ended."),
		mcp.WithNumber("limit", mcp.Description("Maximum documents to inspect (default 50, max 200)")),
	), s.handleExpirationReconciliation)
}

func (s *Server) handleGetDocumentStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireDocumentID(request)
	if errResult != nil {
		return errResult, nil
	}
	status, err := s.pipeline.GetStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(status)
}

func (s *Server) handleListRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireDocumentID(request)
	if errResult != nil {
		return errResult, nil
	}
	records, err := s.pipeline.ListRecords(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(records)
}

func (s *Server) handleEnqueueDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireDocumentID(request)
	if errResult != nil {
		return errResult, nil
	}
	if err := s.pipeline.Enqueue(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("document " + id + " queued"), nil
}

func (s *Server) handleApproveDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireDocumentID(request)
	if errResult != nil {
		return errResult, nil
	}
	args := arguments(request)
	approved, ok := args["approved"].(bool)
	if !ok {
		return mcp.NewToolResultError("approved parameter is required"), nil
	}
	comment, _ := args["comment"].(string)

	doc, err := s.pipeline.Approve(ctx, id, approved, comment)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(doc.Status())
}

func (s *Server) handleVersionReconciliation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.reconciler.RunVersionReconciliation(ctx, limitArgument(request))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func (s *Server) handleExpirationReconciliation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.reconciler.RunExpirationReconciliation(ctx, limitArgument(request))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func arguments(request mcp.CallToolRequest) map[string]any {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return args
}

func requireDocumentID(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id, _ := arguments(request)["document_id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return "", mcp.NewToolResultError("document_id parameter is required")
	}
	return id, nil
}

// limitArgument returns 0 (use-case default) when absent or not a number.
func limitArgument(request mcp.CallToolRequest) int {
	switch v := arguments(request)["limit"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("encode result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
