package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Category is the business category assigned at ingestion. It is never inferred.
type Category string

const (
	CategoryHeadquartersIssue     Category = "headquarters_issue"
	CategoryRetailAnnouncement    Category = "retail_announcement"
	CategoryPublicationRelease    Category = "publication_release"
	CategoryBranchIssue           Category = "branch_issue"
	CategoryBranchReceive         Category = "branch_receive"
	CategoryPublicStandard        Category = "public_standard"
	CategoryHeadquartersReceive   Category = "headquarters_receive"
	CategoryCorporateAnnouncement Category = "corporate_announcement"
)

var knownCategories = map[Category]struct{}{
	CategoryHeadquartersIssue:     {},
	CategoryRetailAnnouncement:    {},
	CategoryPublicationRelease:    {},
	CategoryBranchIssue:           {},
	CategoryBranchReceive:         {},
	CategoryPublicStandard:        {},
	CategoryHeadquartersReceive:   {},
	CategoryCorporateAnnouncement: {},
}

func ParseCategory(raw string) (Category, error) {
	c := Category(strings.TrimSpace(raw))
	if _, ok := knownCategories[c]; !ok {
		return "", WrapError(ErrInvalidInput, "parse category", fmt.Errorf("unknown category %q", raw))
	}
	return c, nil
}

// Categories returns the closed category set in declaration order.
func Categories() []Category {
	return []Category{
		CategoryHeadquartersIssue,
		CategoryRetailAnnouncement,
		CategoryPublicationRelease,
		CategoryBranchIssue,
		CategoryBranchReceive,
		CategoryPublicStandard,
		CategoryHeadquartersReceive,
		CategoryCorporateAnnouncement,
	}
}

type Resolution string

const (
	ResolutionNone      Resolution = ""
	ResolutionPublished Resolution = "published"
	ResolutionRejected  Resolution = "rejected"
)

type RemovalMethod string

const (
	RemovalVersion  RemovalMethod = "version"
	RemovalMetadata RemovalMethod = "metadata"
	RemovalAI       RemovalMethod = "ai"
)

type Document struct {
	ID             string   `json:"id"`
	Filename       string   `json:"filename"`
	FileType       string   `json:"file_type"`
	Category       Category `json:"category"`
	Stage          Stage    `json:"stage"`
	StorageLocator string   `json:"storage_locator"`
	DecryptionCode string   `json:"-"`
	IsArchive      bool     `json:"is_archive"`

	ExtractedText   string `json:"-"`
	FragmentCount   int    `json:"fragment_count"`
	ExtractedLength int    `json:"extracted_length"`

	Verdict          *Verdict   `json:"verdict,omitempty"`
	KnowledgeStoreID string     `json:"knowledge_store_id,omitempty"`
	PublishedDocID   string     `json:"published_doc_id,omitempty"`
	Resolution       Resolution `json:"resolution,omitempty"`

	StageMessage   string              `json:"stage_message,omitempty"`
	Error          string              `json:"error,omitempty"`
	ErrorCount     int                 `json:"error_count"`
	RemovalReason  string              `json:"removal_reason,omitempty"`
	RemovalMethod  RemovalMethod       `json:"removal_method,omitempty"`
	StageEnteredAt map[Stage]time.Time `json:"stage_entered_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Title returns the filename without its extension.
func (d *Document) Title() string {
	return strings.TrimSuffix(d.Filename, filepath.Ext(d.Filename))
}

// ResolvedFileType prefers the declared type and falls back to the filename extension.
func (d *Document) ResolvedFileType() string {
	ft := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d.FileType), "."))
	if ft != "" {
		return ft
	}
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(d.Filename), "."))
}

// Verdict is the validated AI judgment about a document.
type Verdict struct {
	SuitableForKB   bool           `json:"suitable_for_kb"`
	ConfidenceScore int            `json:"confidence_score"`
	Reasons         []string       `json:"reasons"`
	Summary         string         `json:"summary"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	Mode            string         `json:"mode,omitempty"`
	Model           string         `json:"model,omitempty"`
	AnalyzedAt      time.Time      `json:"analyzed_at"`
}

// Decision is the decision engine output: the verdict plus the store it routes to.
type Decision struct {
	Verdict          Verdict
	KnowledgeStoreID string
	MinConfidence    int
	AutoApprove      int
}

// Outcome returns the stage and resolution implied by the thresholds.
func (d Decision) Outcome() (Stage, Resolution) {
	v := d.Verdict
	switch {
	case !v.SuitableForKB || v.ConfidenceScore < d.MinConfidence:
		return StageCompleted, ResolutionRejected
	case v.ConfidenceScore >= d.AutoApprove:
		return StageCompleted, ResolutionPublished
	default:
		return StageAwaitingApproval, ResolutionNone
	}
}

// ExtractedText is the joined, capped body produced by the extraction stage.
type ExtractedText struct {
	Body          string
	FragmentCount int
	TotalLength   int
	Truncated     bool
}

type Fragment struct {
	Content   string `json:"content"`
	Source    string `json:"source"`
	SheetName string `json:"sheet_name,omitempty"`
	FileType  string `json:"file_type"`
	Length    int    `json:"length"`
}

// ChunkPolicy is the fixed segmentation sent to the extraction service.
type ChunkPolicy struct {
	Separators     []string
	SeparatorRules []string
	MaxChunkSize   int
	Overlap        int
	Regex          bool
	KeepSeparator  bool
}

func DefaultChunkPolicy() ChunkPolicy {
	return ChunkPolicy{
		Separators:     []string{"\n\n", "\n", ".", ""},
		SeparatorRules: []string{"after", "after", "after", "after"},
		MaxChunkSize:   1000,
		Overlap:        200,
		Regex:          false,
		KeepSeparator:  true,
	}
}

// DocumentStatus is the read model returned to collaborators.
type DocumentStatus struct {
	ID               string              `json:"id"`
	Filename         string              `json:"filename"`
	Category         Category            `json:"category"`
	Stage            Stage               `json:"stage"`
	Resolution       Resolution          `json:"resolution,omitempty"`
	Verdict          *Verdict            `json:"verdict,omitempty"`
	KnowledgeStoreID string              `json:"knowledge_store_id,omitempty"`
	PublishedDocID   string              `json:"published_doc_id,omitempty"`
	StageMessage     string              `json:"stage_message,omitempty"`
	Error            string              `json:"error,omitempty"`
	ErrorCount       int                 `json:"error_count"`
	RemovalReason    string              `json:"removal_reason,omitempty"`
	StageEnteredAt   map[Stage]time.Time `json:"stage_entered_at,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (d *Document) Status() DocumentStatus {
	return DocumentStatus{
		ID:               d.ID,
		Filename:         d.Filename,
		Category:         d.Category,
		Stage:            d.Stage,
		Resolution:       d.Resolution,
		Verdict:          d.Verdict,
		KnowledgeStoreID: d.KnowledgeStoreID,
		PublishedDocID:   d.PublishedDocID,
		StageMessage:     d.StageMessage,
		Error:            d.Error,
		ErrorCount:       d.ErrorCount,
		RemovalReason:    d.RemovalReason,
		StageEnteredAt:   d.StageEnteredAt,
		UpdatedAt:        d.UpdatedAt,
	}
}
