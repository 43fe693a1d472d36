package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

// PublicationStore records the knowledge-base id of a published document.
type PublicationStore interface {
	RecordPublication(ctx context.Context, id, publishedDocID string) error
}

// Publisher resolves the dataset behind a knowledge store and is the only
// writer of a document's published id.
type Publisher struct {
	kb             ports.KnowledgeBase
	routes         ports.RoutingRepository
	publications   PublicationStore
	defaultStoreID string
	logger         *slog.Logger
}

func NewPublisher(
	kb ports.KnowledgeBase,
	routes ports.RoutingRepository,
	publications PublicationStore,
	defaultStoreID string,
	logger *slog.Logger,
) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		kb:             kb,
		routes:         routes,
		publications:   publications,
		defaultStoreID: defaultStoreID,
		logger:         logger,
	}
}

// Publish creates the knowledge-base entry. When a concurrent run recorded
// its own entry first, the new one is deleted and ErrStageConflict returned.
func (p *Publisher) Publish(ctx context.Context, doc *domain.Document, text, storeID string) (string, error) {
	store, err := p.store(ctx, storeID)
	if err != nil {
		return "", domain.WrapError(domain.ErrPublishFailed, "resolve knowledge store", err)
	}
	if !store.Active {
		return "", domain.WrapError(domain.ErrPublishFailed, "resolve knowledge store", fmt.Errorf("knowledge store %s is inactive", store.ID))
	}

	externalID, err := p.kb.CreateByText(ctx, store.DatasetID, doc.Filename, text)
	if err != nil {
		if domain.IsKind(err, domain.ErrPublishFailed) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrPublishFailed, "create knowledge document", err)
	}
	if externalID == "" {
		return "", domain.WrapError(domain.ErrPublishFailed, "create knowledge document", errors.New("empty document id in response"))
	}

	if err := p.publications.RecordPublication(ctx, doc.ID, externalID); err != nil {
		if domain.IsKind(err, domain.ErrStageConflict) {
			p.discard(ctx, doc.ID, store.DatasetID, externalID)
			return "", fmt.Errorf("record publication: %w", err)
		}
		return "", domain.WrapError(domain.ErrPublishFailed, "record publication", err)
	}
	if err := p.routes.AdjustDocumentCount(ctx, store.ID, 1); err != nil {
		p.logger.Warn("store_count_adjust_failed", "knowledge_store_id", store.ID, "error", err)
	}
	p.logger.Info("document_published", "document_id", doc.ID, "knowledge_store_id", store.ID, "external_id", externalID)
	return externalID, nil
}

// Delete removes an entry. It returns false when the entry is already gone.
func (p *Publisher) Delete(ctx context.Context, externalID, storeID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	store, err := p.store(ctx, storeID)
	if err != nil {
		return false, domain.WrapError(domain.ErrDeleteFailed, "resolve knowledge store", err)
	}

	deleted, err := p.kb.DeleteDocument(ctx, store.DatasetID, externalID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDeleteFailed) {
			return false, err
		}
		return false, domain.WrapError(domain.ErrDeleteFailed, "delete knowledge document", err)
	}
	if deleted {
		if err := p.routes.AdjustDocumentCount(ctx, store.ID, -1); err != nil {
			p.logger.Warn("store_count_adjust_failed", "knowledge_store_id", store.ID, "error", err)
		}
	}
	return deleted, nil
}

// discard removes an entry that lost the race to be recorded.
func (p *Publisher) discard(ctx context.Context, documentID, datasetID, externalID string) {
	if _, err := p.kb.DeleteDocument(ctx, datasetID, externalID); err != nil {
		p.logger.Error("duplicate_publication_orphaned", "document_id", documentID, "external_id", externalID, "error", err)
		return
	}
	p.logger.Warn("duplicate_publication_discarded", "document_id", documentID, "external_id", externalID)
}

func (p *Publisher) store(ctx context.Context, storeID string) (*domain.KnowledgeStore, error) {
	if storeID == "" {
		storeID = p.defaultStoreID
	}
	if storeID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "resolve knowledge store", errors.New("no knowledge store configured"))
	}
	store, err := p.routes.GetKnowledgeStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("load knowledge store %s: %w", storeID, err)
	}
	return store, nil
}
