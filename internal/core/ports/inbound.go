package ports

import (
	"context"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

// RegisterRequest describes a stored source document entering the ledger.
type RegisterRequest struct {
	Filename       string `json:"filename"`
	FileType       string `json:"file_type"`
	Category       string `json:"category"`
	StorageLocator string `json:"storage_locator"`
	DecryptionCode string `json:"decryption_code"`
	IsArchive      bool   `json:"is_archive"`
	Enqueue        bool   `json:"enqueue"`
}

// DocumentPipeline is the inbound contract for driving documents through the lifecycle.
type DocumentPipeline interface {
	Register(ctx context.Context, req RegisterRequest) (*domain.Document, error)
	Enqueue(ctx context.Context, documentID string) error
	EnqueuePending(ctx context.Context, limit int) (int, error)
	GetStatus(ctx context.Context, documentID string) (*domain.DocumentStatus, error)
	ListRecords(ctx context.Context, documentID string) ([]domain.ProcessingRecord, error)
	Advance(ctx context.Context, documentID string) (*domain.Document, error)
	Run(ctx context.Context, documentID string) (*domain.Document, error)
	Approve(ctx context.Context, documentID string, approved bool, comment string) (*domain.Document, error)
	Reprocess(ctx context.Context, documentID string) error
}

// ReconciliationRunner is the inbound contract for the batch cleanup jobs.
type ReconciliationRunner interface {
	RunVersionReconciliation(ctx context.Context, limit int) (domain.VersionStats, error)
	RunExpirationReconciliation(ctx context.Context, limit int) (domain.ExpirationStats, error)
}
