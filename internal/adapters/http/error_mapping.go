package httpadapter

import (
	"net/http"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

// errorBody is the JSON shape of every non-2xx answer.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorMapping struct {
	kind   error
	status int
	code   string
}

// errorMappings is checked in order; the first kind found in the chain wins,
// so the more specific kinds come first.
var errorMappings = []errorMapping{
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrDocumentNotFound, http.StatusNotFound, "document_not_found"},
	{domain.ErrRoutingNotFound, http.StatusNotFound, "routing_not_found"},
	{domain.ErrReconciliationBusy, http.StatusConflict, "reconciliation_busy"},
	{domain.ErrStageConflict, http.StatusConflict, "stage_conflict"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrPublishFailed, http.StatusBadGateway, "publish_failed"},
	{domain.ErrDeleteFailed, http.StatusBadGateway, "delete_failed"},
	{domain.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	{domain.ErrTemporary, http.StatusServiceUnavailable, "temporarily_unavailable"},
}

func mapError(err error) (int, string) {
	for _, m := range errorMappings {
		if domain.IsKind(err, m.kind) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeProblem(w, r, status, code, message)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: message, RequestID: requestIDFromContext(r.Context())},
	})
}
