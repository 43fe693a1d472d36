package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

type documentRunner interface {
	Run(ctx context.Context, documentID string) (*domain.Document, error)
	Reprocess(ctx context.Context, documentID string) error
	Enqueue(ctx context.Context, documentID string) error
}

// RunObserver receives whole-run timings from the worker.
type RunObserver interface {
	StartDocument()
	FinishDocument(duration time.Duration, err error)
}

type WorkerOptions struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Observer    RunObserver
	Logger      *slog.Logger
}

// WorkerHandler consumes queue messages. Retrying is its job: a document that
// failed with a non-fatal error is reset and re-enqueued until MaxAttempts.
type WorkerHandler struct {
	runner      documentRunner
	maxAttempts int
	retryDelay  time.Duration
	observer    RunObserver
	logger      *slog.Logger
}

func NewWorkerHandler(runner documentRunner, opts WorkerOptions) *WorkerHandler {
	h := &WorkerHandler{
		runner:      runner,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		observer:    opts.Observer,
		logger:      opts.Logger,
	}
	if h.maxAttempts <= 0 {
		h.maxAttempts = 3
	}
	if h.retryDelay < 0 {
		h.retryDelay = 0
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

func (h *WorkerHandler) Handle(ctx context.Context, documentID string) error {
	start := time.Now()
	if h.observer != nil {
		h.observer.StartDocument()
	}

	doc, err := h.runner.Run(ctx, documentID)
	if h.observer != nil {
		h.observer.FinishDocument(time.Since(start), err)
	}
	if err == nil {
		return nil
	}
	if domain.IsFatal(err) || doc == nil || doc.Stage != domain.StageFailed {
		return err
	}
	if doc.ErrorCount >= h.maxAttempts {
		h.logger.Warn("retry_exhausted", "document_id", documentID, "attempts", doc.ErrorCount, "error", err)
		return err
	}

	wait := h.retryDelay * time.Duration(doc.ErrorCount)
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	if rerr := h.runner.Reprocess(ctx, documentID); rerr != nil {
		return errors.Join(err, rerr)
	}
	if qerr := h.runner.Enqueue(ctx, documentID); qerr != nil {
		return errors.Join(err, qerr)
	}
	h.logger.Info("retry_scheduled", "document_id", documentID, "attempt", doc.ErrorCount+1, "max_attempts", h.maxAttempts)
	return err
}
