package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

// CompletedFilter selects completed documents for reconciliation batches.
type CompletedFilter struct {
	Category        domain.Category
	ExcludeCategory domain.Category
	Limit           int
}

// DocumentRepository is the ledger. It is the only writer of lifecycle-stage fields.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	// ClaimStage leases the document's current stage to one run. It fails
	// with ErrStageConflict when the stage moved or another lease is live.
	// Transition and Reset release the lease.
	ClaimStage(ctx context.Context, id string, stage domain.Stage, lease time.Duration) error
	Transition(ctx context.Context, tr domain.StageTransition) error
	SaveVerdict(ctx context.Context, id string, verdict domain.Verdict, knowledgeStoreID string) error
	// RecordPublication fails with ErrStageConflict when another publication
	// is already recorded.
	RecordPublication(ctx context.Context, id, publishedDocID string) error
	Reset(ctx context.Context, id string, from []domain.Stage, record domain.ProcessingRecord) error
	ListByStage(ctx context.Context, stage domain.Stage, limit int) ([]domain.Document, error)
	ListRecords(ctx context.Context, documentID string) ([]domain.ProcessingRecord, error)
	ListCompleted(ctx context.Context, filter CompletedFilter) ([]domain.Document, error)
	FindCompletedByTitle(ctx context.Context, category domain.Category, title string) ([]domain.Document, error)
	MarkRemoved(ctx context.Context, removals []domain.Removal) error
}

// RoutingRepository stores category routings and knowledge stores.
type RoutingRepository interface {
	GetActiveRouting(ctx context.Context, category domain.Category) (*domain.CategoryRouting, error)
	UpsertRouting(ctx context.Context, routing domain.CategoryRouting) error
	GetKnowledgeStore(ctx context.Context, id string) (*domain.KnowledgeStore, error)
	UpsertKnowledgeStore(ctx context.Context, store domain.KnowledgeStore) error
	AdjustDocumentCount(ctx context.Context, storeID string, delta int) error
}

// SourceStorage reads raw encrypted documents by locator.
type SourceStorage interface {
	Get(ctx context.Context, locator string) ([]byte, error)
}

// ArtifactStore keeps intermediate stage outputs so stages can resume.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Decrypter reverses the storage provider's encryption scheme.
type Decrypter interface {
	Decrypt(ciphertext []byte, code string) ([]byte, error)
}

type ExtractionRequest struct {
	Filename string
	FileType string
	Data     []byte
	MaxChars int
}

// ContentExtractor turns document bytes into one ordered, capped text body.
type ContentExtractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (domain.ExtractedText, error)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages    []Message
	JSONMode    bool
	Temperature float64
	MaxTokens   int
}

type Completion struct {
	Text  string
	Model string
}

// InferenceClient is a chat-style inference service.
type InferenceClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// KnowledgeBase is the external dataset service.
type KnowledgeBase interface {
	CreateByText(ctx context.Context, datasetID, name, text string) (string, error)
	DeleteDocument(ctx context.Context, datasetID, documentID string) (bool, error)
}

// KnowledgePublisher publishes and removes ledger documents in knowledge stores.
type KnowledgePublisher interface {
	Publish(ctx context.Context, doc *domain.Document, text, storeID string) (string, error)
	Delete(ctx context.Context, externalID, storeID string) (bool, error)
}

// MessageQueue publishes/consumes pipeline work units.
type MessageQueue interface {
	PublishDocument(ctx context.Context, documentID string) error
	SubscribeDocuments(ctx context.Context, handler func(context.Context, string) error) error
}

// Locker single-flights reconciliation runs. Acquire fails with
// ErrReconciliationBusy when the key is held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// StageObserver receives per-stage timings.
type StageObserver interface {
	ObserveStage(stage domain.Stage, outcome domain.Outcome, duration time.Duration)
}
