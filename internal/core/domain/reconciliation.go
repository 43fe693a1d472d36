package domain

// ReconcileDetail describes what happened to one document in a batch.
type ReconcileDetail struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Title      string `json:"title,omitempty"`
	Action     string `json:"action"`
	Method     string `json:"method,omitempty"`
	LatestID   string `json:"latest_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

const (
	ActionDeleted = "deleted"
	ActionKept    = "kept"
	ActionSkipped = "skipped"
	ActionError   = "error"
)

type VersionStats struct {
	Processed       int               `json:"processed"`
	DuplicatesFound int               `json:"duplicates_found"`
	Deleted         int               `json:"deleted"`
	Errors          int               `json:"errors"`
	Details         []ReconcileDetail `json:"details"`
}

type ExpirationStats struct {
	Processed         int               `json:"processed"`
	ExpiredByMetadata int               `json:"expired_by_metadata"`
	ExpiredByAI       int               `json:"expired_by_ai"`
	Deleted           int               `json:"deleted"`
	Errors            int               `json:"errors"`
	Details           []ReconcileDetail `json:"details"`
}

// VersionRanking is the tie-break answer naming the latest document of a group.
type VersionRanking struct {
	LatestID      string   `json:"latest_document_id"`
	SupersededIDs []string `json:"old_document_ids"`
	Reasoning     string   `json:"reasoning"`
}

// ExpirationJudgment is the AI answer for a single document.
type ExpirationJudgment struct {
	Expired        bool   `json:"is_expired"`
	Reasoning      string `json:"reasoning"`
	ExpirationDate string `json:"expiration_date"`
	Validity       string `json:"validity"`
	Confidence     int    `json:"confidence"`
}

// Preview is a short leading excerpt of a document used for tie-breaks.
type Preview struct {
	Document *Document
	Text     string
}
