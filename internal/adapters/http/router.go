package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/doc-curator/internal/config"
	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
	"github.com/kirillkom/doc-curator/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

type Router struct {
	cfg        config.Config
	pipeline   ports.DocumentPipeline
	reconciler ports.ReconciliationRunner
	metrics    *metrics.HTTPServerMetrics
	mcp        http.Handler
	logger     *slog.Logger
}

func NewRouter(cfg config.Config, pipeline ports.DocumentPipeline, reconciler ports.ReconciliationRunner) *Router {
	return &Router{
		cfg:        cfg,
		pipeline:   pipeline,
		reconciler: reconciler,
		logger:     slog.Default(),
	}
}

func (rt *Router) WithLogger(logger *slog.Logger) *Router {
	if logger != nil {
		rt.logger = logger
	}
	return rt
}

// WithMetrics records request metrics and serves them on /metrics.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

// WithMCP mounts a Model Context Protocol endpoint on /mcp.
func (rt *Router) WithMCP(h http.Handler) *Router {
	rt.mcp = h
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)

	mux.HandleFunc("POST /v1/documents", rt.registerDocument)
	mux.HandleFunc("POST /v1/documents/enqueue-pending", rt.enqueuePending)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocumentStatus)
	mux.HandleFunc("GET /v1/documents/{id}/records", rt.listRecords)
	mux.HandleFunc("POST /v1/documents/{id}/enqueue", rt.enqueueDocument)
	mux.HandleFunc("POST /v1/documents/{id}/approve", rt.approveDocument)
	mux.HandleFunc("POST /v1/documents/{id}/reprocess", rt.reprocessDocument)

	mux.HandleFunc("POST /v1/reconcile/versions", rt.reconcileVersions)
	mux.HandleFunc("POST /v1/reconcile/expirations", rt.reconcileExpirations)

	if rt.mcp != nil {
		mux.Handle("/mcp", rt.mcp)
	}

	var handler http.Handler = mux
	if rt.cfg.APIMaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueWait)
	}
	if rt.cfg.APIRateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	}
	if rt.metrics != nil {
		instrumented := rt.metrics.Middleware(handler)
		root := http.NewServeMux()
		root.Handle("GET /metrics", rt.metrics.Handler())
		root.Handle("/", instrumented)
		handler = root
	}
	return requestIDMiddleware(accessLogMiddleware(rt.logger, recoverMiddleware(rt.logger, handler)))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) registerDocument(w http.ResponseWriter, r *http.Request) {
	var req ports.RegisterRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	doc, err := rt.pipeline.Register(r.Context(), req)
	if err != nil && doc == nil {
		writeError(w, r, err)
		return
	}
	status := doc.Status()
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"document": status, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (rt *Router) getDocumentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.pipeline.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := rt.pipeline.ListRecords(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.ProcessingRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (rt *Router) enqueueDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := rt.pipeline.Enqueue(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": id, "status": "queued"})
}

func (rt *Router) enqueuePending(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	published, err := rt.pipeline.EnqueuePending(r.Context(), limit)
	if err != nil && published == 0 {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"published": published}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (rt *Router) approveDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approved *bool  `json:"approved"`
		Comment  string `json:"comment"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Approved == nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_input", "field 'approved' is required")
		return
	}
	doc, err := rt.pipeline.Approve(r.Context(), r.PathValue("id"), *req.Approved, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Status())
}

func (rt *Router) reprocessDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := rt.pipeline.Reprocess(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.pipeline.Enqueue(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": id, "status": "requeued"})
}

func (rt *Router) reconcileVersions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	stats, err := rt.reconciler.RunVersionReconciliation(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) reconcileExpirations(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	stats, err := rt.reconciler.RunExpirationReconciliation(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// queryLimit reads ?limit=; absent means 0 (the use case default).
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeProblem(w, r, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
