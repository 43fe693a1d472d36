package domain

import "time"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeReset   Outcome = "reset"
)

// ProcessingRecord is an append-only audit entry for one stage attempt.
type ProcessingRecord struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	Stage      Stage         `json:"stage"`
	Outcome    Outcome       `json:"outcome"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
	Note       string        `json:"note,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// StageTransition is applied by the ledger in a single transaction: the record
// is inserted and the stage moves only if the document is still at From.
type StageTransition struct {
	DocumentID string
	From       Stage
	To         Stage
	Record     ProcessingRecord
	Message    string
	Error      string
	Extraction *ExtractedText
	Resolution Resolution
}

// Removal marks a completed document as superseded or expired.
type Removal struct {
	DocumentID string
	Stage      Stage
	Method     RemovalMethod
	Reason     string
}
