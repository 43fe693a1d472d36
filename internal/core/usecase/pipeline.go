package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

const (
	defaultAnalysisMaxChars = 50000
	defaultStageLease       = 10 * time.Minute
	maxEnqueuePending       = 50
)

// DocumentDecider turns extracted text into a routed verdict and persists it.
type DocumentDecider interface {
	Decide(ctx context.Context, doc *domain.Document, text string) (domain.Decision, error)
}

type PipelineOptions struct {
	AnalysisMaxChars int
	// StageLease bounds how long one run owns a work stage. It should outlast
	// the slowest stage handler.
	StageLease time.Duration
	Observer   ports.StageObserver
	Logger     *slog.Logger
	Now        func() time.Time
}

// PipelineUseCase drives one document at a time through the lifecycle state machine.
type PipelineUseCase struct {
	repo      ports.DocumentRepository
	source    ports.SourceStorage
	artifacts ports.ArtifactStore
	decrypter ports.Decrypter
	extractor ports.ContentExtractor
	decider   DocumentDecider
	publisher ports.KnowledgePublisher
	queue     ports.MessageQueue

	maxChars int
	lease    time.Duration
	observer ports.StageObserver
	logger   *slog.Logger
	now      func() time.Time
}

func NewPipelineUseCase(
	repo ports.DocumentRepository,
	source ports.SourceStorage,
	artifacts ports.ArtifactStore,
	decrypter ports.Decrypter,
	extractor ports.ContentExtractor,
	decider DocumentDecider,
	publisher ports.KnowledgePublisher,
	queue ports.MessageQueue,
	opts PipelineOptions,
) *PipelineUseCase {
	uc := &PipelineUseCase{
		repo:      repo,
		source:    source,
		artifacts: artifacts,
		decrypter: decrypter,
		extractor: extractor,
		decider:   decider,
		publisher: publisher,
		queue:     queue,
		maxChars:  opts.AnalysisMaxChars,
		lease:     opts.StageLease,
		observer:  opts.Observer,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if uc.maxChars <= 0 {
		uc.maxChars = defaultAnalysisMaxChars
	}
	if uc.lease <= 0 {
		uc.lease = defaultStageLease
	}
	if uc.logger == nil {
		uc.logger = slog.Default()
	}
	if uc.now == nil {
		uc.now = func() time.Time { return time.Now().UTC() }
	}
	return uc
}

// stageResult is what a successful handler hands back for the ledger commit.
type stageResult struct {
	next       domain.Stage
	message    string
	extraction *domain.ExtractedText
	resolution domain.Resolution
}

// Register records a new pending document and optionally queues it.
func (uc *PipelineUseCase) Register(ctx context.Context, req ports.RegisterRequest) (*domain.Document, error) {
	filename := strings.TrimSpace(req.Filename)
	locator := strings.TrimSpace(req.StorageLocator)
	if filename == "" || locator == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register", errors.New("filename and storage_locator are required"))
	}
	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	doc := &domain.Document{
		ID:             uuid.NewString(),
		Filename:       filename,
		FileType:       strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.FileType), ".")),
		Category:       category,
		Stage:          domain.StagePending,
		StorageLocator: locator,
		DecryptionCode: req.DecryptionCode,
		IsArchive:      req.IsArchive,
		StageEnteredAt: map[domain.Stage]time.Time{domain.StagePending: now},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	uc.logger.Info("document_registered", "document_id", doc.ID, "category", doc.Category, "filename", doc.Filename)

	if req.Enqueue {
		if err := uc.queue.PublishDocument(ctx, doc.ID); err != nil {
			return doc, fmt.Errorf("publish document %s: %w", doc.ID, err)
		}
	}
	return doc, nil
}

func (uc *PipelineUseCase) Enqueue(ctx context.Context, documentID string) error {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !doc.Stage.IsRunnable() {
		return domain.WrapError(domain.ErrInvalidInput, "enqueue", fmt.Errorf("document %s is %s", doc.ID, doc.Stage))
	}
	if err := uc.queue.PublishDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("publish document %s: %w", doc.ID, err)
	}
	return nil
}

// EnqueuePending publishes up to limit of the oldest pending documents.
func (uc *PipelineUseCase) EnqueuePending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 || limit > maxEnqueuePending {
		limit = maxEnqueuePending
	}
	docs, err := uc.repo.ListByStage(ctx, domain.StagePending, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending documents: %w", err)
	}

	published := 0
	var errs []error
	for _, doc := range docs {
		if err := uc.queue.PublishDocument(ctx, doc.ID); err != nil {
			errs = append(errs, fmt.Errorf("publish document %s: %w", doc.ID, err))
			continue
		}
		published++
	}
	return published, errors.Join(errs...)
}

func (uc *PipelineUseCase) GetStatus(ctx context.Context, documentID string) (*domain.DocumentStatus, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	status := doc.Status()
	return &status, nil
}

func (uc *PipelineUseCase) ListRecords(ctx context.Context, documentID string) ([]domain.ProcessingRecord, error) {
	if _, err := uc.loadDocument(ctx, documentID); err != nil {
		return nil, err
	}
	records, err := uc.repo.ListRecords(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list processing records: %w", err)
	}
	return records, nil
}

// Run advances the document until it reaches a stage that needs an external trigger.
func (uc *PipelineUseCase) Run(ctx context.Context, documentID string) (*domain.Document, error) {
	for {
		doc, err := uc.Advance(ctx, documentID)
		if err != nil {
			if domain.IsKind(err, domain.ErrStageConflict) {
				uc.logger.Info("stage_skipped", "document_id", documentID, "reason", err.Error())
				return doc, nil
			}
			return doc, err
		}
		if !doc.Stage.IsRunnable() {
			return doc, nil
		}
	}
}

// Advance performs exactly one stage step. Documents outside the runnable
// stages are returned unchanged. A work stage runs only under the stage
// lease; losing the lease to another run yields ErrStageConflict.
func (uc *PipelineUseCase) Advance(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Stage.IsRunnable() {
		return doc, nil
	}

	stage := doc.Stage
	// The pending step is itself a guarded transition.
	if stage != domain.StagePending {
		if err := uc.repo.ClaimStage(ctx, doc.ID, stage, uc.lease); err != nil {
			return doc, fmt.Errorf("claim %s: %w", stage, err)
		}
	}

	start := uc.now()
	result, runErr := uc.runStage(ctx, doc)
	duration := uc.now().Sub(start)

	if domain.IsKind(runErr, domain.ErrStageConflict) {
		// Another run got there first; its outcome stands.
		return uc.reload(ctx, doc), runErr
	}
	if runErr != nil {
		uc.observe(stage, domain.OutcomeFailure, duration)
		uc.logger.Warn("stage_failed",
			"document_id", doc.ID,
			"stage", stage,
			"error_kind", domain.ErrorKind(runErr),
			"duration_ms", float64(duration.Microseconds())/1000.0,
			"error", runErr,
		)
		if failErr := uc.markFailed(ctx, doc, stage, runErr, duration); failErr != nil {
			return doc, fmt.Errorf("%w; mark failed: %v", runErr, failErr)
		}
		return uc.reload(ctx, doc), runErr
	}

	tr := domain.StageTransition{
		DocumentID: doc.ID,
		From:       stage,
		To:         result.next,
		Record:     uc.newRecord(doc.ID, stage, domain.OutcomeSuccess, duration, "", result.message),
		Message:    result.message,
		Extraction: result.extraction,
		Resolution: result.resolution,
	}
	if err := uc.commit(ctx, tr); err != nil {
		return doc, err
	}
	uc.observe(stage, domain.OutcomeSuccess, duration)
	uc.logger.Info("stage_completed",
		"document_id", doc.ID,
		"stage", stage,
		"next_stage", result.next,
		"duration_ms", float64(duration.Microseconds())/1000.0,
	)

	if stage == domain.StageExtracting {
		uc.dropArtifacts(ctx, doc.ID)
	}
	return uc.reload(ctx, doc), nil
}

func (uc *PipelineUseCase) runStage(ctx context.Context, doc *domain.Document) (stageResult, error) {
	switch doc.Stage {
	case domain.StagePending:
		return stageResult{next: domain.StageDownloading, message: "claimed"}, nil
	case domain.StageDownloading:
		return uc.download(ctx, doc)
	case domain.StageDecrypting:
		return uc.decrypt(ctx, doc)
	case domain.StageExtracting:
		return uc.extract(ctx, doc)
	case domain.StageAnalyzing:
		return uc.analyze(ctx, doc)
	default:
		return stageResult{}, domain.WrapError(domain.ErrInvalidTransition, "run stage", fmt.Errorf("no handler for stage %s", doc.Stage))
	}
}

func (uc *PipelineUseCase) download(ctx context.Context, doc *domain.Document) (stageResult, error) {
	data, err := uc.source.Get(ctx, doc.StorageLocator)
	if err != nil {
		if !domain.IsKind(err, domain.ErrNotFound) && !domain.IsKind(err, domain.ErrStorageUnavailable) {
			err = domain.WrapError(domain.ErrStorageUnavailable, "download source", err)
		}
		return stageResult{}, err
	}
	if err := uc.saveArtifact(ctx, rawArtifactKey(doc.ID), data); err != nil {
		return stageResult{}, err
	}
	return stageResult{
		next:    domain.StageDecrypting,
		message: fmt.Sprintf("downloaded %d bytes", len(data)),
	}, nil
}

func (uc *PipelineUseCase) decrypt(ctx context.Context, doc *domain.Document) (stageResult, error) {
	raw, err := uc.readArtifact(ctx, rawArtifactKey(doc.ID))
	if err != nil {
		return stageResult{}, err
	}
	plain, err := uc.decrypter.Decrypt(raw, doc.DecryptionCode)
	if err != nil {
		if !domain.IsKind(err, domain.ErrDecryptionFailed) {
			err = domain.WrapError(domain.ErrDecryptionFailed, "decrypt", err)
		}
		return stageResult{}, err
	}
	if err := uc.saveArtifact(ctx, plainArtifactKey(doc.ID), plain); err != nil {
		return stageResult{}, err
	}
	return stageResult{
		next:    domain.StageExtracting,
		message: fmt.Sprintf("decrypted %d bytes", len(plain)),
	}, nil
}

func (uc *PipelineUseCase) extract(ctx context.Context, doc *domain.Document) (stageResult, error) {
	plain, err := uc.readArtifact(ctx, plainArtifactKey(doc.ID))
	if err != nil {
		return stageResult{}, err
	}
	name, fileType, data, err := payloadFor(doc, plain)
	if err != nil {
		return stageResult{}, err
	}
	text, err := uc.extractor.Extract(ctx, ports.ExtractionRequest{
		Filename: name,
		FileType: fileType,
		Data:     data,
		MaxChars: uc.maxChars,
	})
	if err != nil {
		if !domain.IsKind(err, domain.ErrExtractionFailed) && !domain.IsKind(err, domain.ErrUnsupportedFormat) {
			err = domain.WrapError(domain.ErrExtractionFailed, "extract", err)
		}
		return stageResult{}, err
	}
	if text.Body == "" {
		return stageResult{}, domain.WrapError(domain.ErrExtractionFailed, "extract", errors.New("empty extracted text"))
	}

	message := fmt.Sprintf("extracted %d fragments, %d chars", text.FragmentCount, text.TotalLength)
	if text.Truncated {
		message += fmt.Sprintf(", truncated to %d", uc.maxChars)
	}
	return stageResult{
		next:       domain.StageAnalyzing,
		message:    message,
		extraction: &text,
	}, nil
}

func (uc *PipelineUseCase) analyze(ctx context.Context, doc *domain.Document) (stageResult, error) {
	// A publication id without a completed stage means a previous attempt
	// published and crashed before committing.
	if doc.PublishedDocID != "" {
		return stageResult{
			next:       domain.StageCompleted,
			message:    "already published as " + doc.PublishedDocID,
			resolution: domain.ResolutionPublished,
		}, nil
	}

	decision, err := uc.decider.Decide(ctx, doc, doc.ExtractedText)
	if err != nil {
		if !domain.IsKind(err, domain.ErrAnalysisFailed) {
			err = domain.WrapError(domain.ErrAnalysisFailed, "decide", err)
		}
		return stageResult{}, err
	}

	next, resolution := decision.Outcome()
	v := decision.Verdict
	message := fmt.Sprintf("suitable=%t confidence=%d", v.SuitableForKB, v.ConfidenceScore)

	switch {
	case resolution == domain.ResolutionPublished:
		externalID, err := uc.publisher.Publish(ctx, doc, doc.ExtractedText, decision.KnowledgeStoreID)
		if err != nil {
			if !domain.IsKind(err, domain.ErrPublishFailed) && !domain.IsKind(err, domain.ErrStageConflict) {
				err = domain.WrapError(domain.ErrPublishFailed, "publish", err)
			}
			return stageResult{}, err
		}
		message += " published as " + externalID
	case resolution == domain.ResolutionRejected:
		message += " rejected"
	default:
		message += " awaiting approval"
	}
	return stageResult{next: next, message: message, resolution: resolution}, nil
}

// Approve resolves a document waiting for manual review.
func (uc *PipelineUseCase) Approve(ctx context.Context, documentID string, approved bool, comment string) (*domain.Document, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Stage != domain.StageAwaitingApproval {
		return doc, domain.WrapError(domain.ErrInvalidTransition, "approve", fmt.Errorf("document %s is %s", doc.ID, doc.Stage))
	}

	start := uc.now()
	resolution := domain.ResolutionRejected
	note := "manually rejected"
	if approved {
		resolution = domain.ResolutionPublished
		note = "manually approved"
		if doc.PublishedDocID == "" {
			externalID, err := uc.publisher.Publish(ctx, doc, doc.ExtractedText, doc.KnowledgeStoreID)
			if err != nil {
				if domain.IsKind(err, domain.ErrStageConflict) {
					return uc.reload(ctx, doc), err
				}
				if !domain.IsKind(err, domain.ErrPublishFailed) {
					err = domain.WrapError(domain.ErrPublishFailed, "publish approved", err)
				}
				if failErr := uc.markFailed(ctx, doc, doc.Stage, err, uc.now().Sub(start)); failErr != nil {
					return doc, fmt.Errorf("%w; mark failed: %v", err, failErr)
				}
				return uc.reload(ctx, doc), err
			}
			note += ", published as " + externalID
		}
	}
	if comment != "" {
		note += ": " + comment
	}

	tr := domain.StageTransition{
		DocumentID: doc.ID,
		From:       domain.StageAwaitingApproval,
		To:         domain.StageCompleted,
		Record:     uc.newRecord(doc.ID, domain.StageAwaitingApproval, domain.OutcomeSuccess, uc.now().Sub(start), "", note),
		Message:    note,
		Resolution: resolution,
	}
	if err := uc.commit(ctx, tr); err != nil {
		return doc, err
	}
	uc.logger.Info("document_reviewed", "document_id", doc.ID, "approved", approved)
	return uc.reload(ctx, doc), nil
}

// Reprocess resets a failed or waiting document to pending. Callers enqueue it.
func (uc *PipelineUseCase) Reprocess(ctx context.Context, documentID string) error {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Stage != domain.StageFailed && doc.Stage != domain.StageAwaitingApproval {
		return domain.WrapError(domain.ErrInvalidTransition, "reprocess", fmt.Errorf("document %s is %s", doc.ID, doc.Stage))
	}

	record := uc.newRecord(doc.ID, domain.StagePending, domain.OutcomeReset, 0, "", "reprocess from "+string(doc.Stage))
	if err := uc.repo.Reset(ctx, doc.ID, []domain.Stage{domain.StageFailed, domain.StageAwaitingApproval}, record); err != nil {
		return fmt.Errorf("reset document %s: %w", doc.ID, err)
	}
	uc.logger.Info("document_reset", "document_id", doc.ID, "from_stage", doc.Stage)
	return nil
}

func (uc *PipelineUseCase) commit(ctx context.Context, tr domain.StageTransition) error {
	if err := domain.ValidateTransition(tr.From, tr.To); err != nil {
		return err
	}
	if err := uc.repo.Transition(ctx, tr); err != nil {
		return fmt.Errorf("commit %s -> %s: %w", tr.From, tr.To, err)
	}
	return nil
}

func (uc *PipelineUseCase) markFailed(ctx context.Context, doc *domain.Document, stage domain.Stage, cause error, duration time.Duration) error {
	return uc.commit(ctx, domain.StageTransition{
		DocumentID: doc.ID,
		From:       stage,
		To:         domain.StageFailed,
		Record:     uc.newRecord(doc.ID, stage, domain.OutcomeFailure, duration, cause.Error(), domain.ErrorKind(cause)),
		Message:    domain.ErrorKind(cause),
		Error:      cause.Error(),
	})
}

func (uc *PipelineUseCase) newRecord(documentID string, stage domain.Stage, outcome domain.Outcome, duration time.Duration, errMessage, note string) domain.ProcessingRecord {
	return domain.ProcessingRecord{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Stage:      stage,
		Outcome:    outcome,
		Duration:   duration,
		Error:      errMessage,
		Note:       note,
		CreatedAt:  uc.now(),
	}
}

func (uc *PipelineUseCase) loadDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load document", errors.New("document id is required"))
	}
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

// reload returns the committed state, falling back to the pre-step copy.
func (uc *PipelineUseCase) reload(ctx context.Context, doc *domain.Document) *domain.Document {
	fresh, err := uc.repo.GetByID(ctx, doc.ID)
	if err != nil {
		uc.logger.Warn("document_reload_failed", "document_id", doc.ID, "error", err)
		return doc
	}
	return fresh
}

func (uc *PipelineUseCase) saveArtifact(ctx context.Context, key string, data []byte) error {
	if err := uc.artifacts.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return domain.WrapError(domain.ErrStorageUnavailable, "save artifact "+key, err)
	}
	return nil
}

func (uc *PipelineUseCase) readArtifact(ctx context.Context, key string) ([]byte, error) {
	rc, err := uc.artifacts.Open(ctx, key)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrStorageUnavailable, "open artifact "+key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorageUnavailable, "read artifact "+key, err)
	}
	return data, nil
}

func (uc *PipelineUseCase) dropArtifacts(ctx context.Context, documentID string) {
	for _, key := range []string{rawArtifactKey(documentID), plainArtifactKey(documentID)} {
		if err := uc.artifacts.Delete(ctx, key); err != nil {
			uc.logger.Warn("artifact_delete_failed", "document_id", documentID, "key", key, "error", err)
		}
	}
}

func (uc *PipelineUseCase) observe(stage domain.Stage, outcome domain.Outcome, duration time.Duration) {
	if uc.observer != nil {
		uc.observer.ObserveStage(stage, outcome, duration)
	}
}

func rawArtifactKey(documentID string) string   { return documentID + "/raw" }
func plainArtifactKey(documentID string) string { return documentID + "/plain" }
