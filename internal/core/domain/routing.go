package domain

import (
	"encoding/json"
	"time"
)

// CategoryRouting maps a category to its store, prompt, output schema and thresholds.
// At most one active routing exists per category.
type CategoryRouting struct {
	ID               string          `json:"id"`
	Category         Category        `json:"category"`
	KnowledgeStoreID string          `json:"knowledge_store_id"`
	PromptTemplate   string          `json:"prompt_template"`
	OutputSchema     json.RawMessage `json:"output_schema,omitempty"`
	MinConfidence    int             `json:"min_confidence"`
	AutoApprove      int             `json:"auto_approve_confidence"`
	Active           bool            `json:"active"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// KnowledgeStore is an external topic-specific dataset. DocumentCount is a
// best-effort counter and never authoritative.
type KnowledgeStore struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	DatasetID     string    `json:"dataset_id"`
	Active        bool      `json:"active"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
}
