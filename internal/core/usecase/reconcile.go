package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

const (
	versionLockKey    = "reconcile:versions"
	expirationLockKey = "reconcile:expirations"
	defaultLockTTL    = 30 * time.Minute
)

// ReconcileObserver receives batch statistics.
type ReconcileObserver interface {
	ObserveReconciliation(kind string, processed, deleted, errors int, duration time.Duration)
}

// ReconciliationService single-flights each reconciliation type through a lock.
type ReconciliationService struct {
	versions    *VersionReconciler
	expirations *ExpirationReconciler
	locker      ports.Locker
	lockTTL     time.Duration
	observer    ReconcileObserver
	logger      *slog.Logger
}

func NewReconciliationService(
	versions *VersionReconciler,
	expirations *ExpirationReconciler,
	locker ports.Locker,
	lockTTL time.Duration,
	observer ReconcileObserver,
	logger *slog.Logger,
) *ReconciliationService {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationService{
		versions:    versions,
		expirations: expirations,
		locker:      locker,
		lockTTL:     lockTTL,
		observer:    observer,
		logger:      logger,
	}
}

func (s *ReconciliationService) RunVersionReconciliation(ctx context.Context, limit int) (domain.VersionStats, error) {
	var stats domain.VersionStats
	err := s.withLock(ctx, versionLockKey, func(ctx context.Context) error {
		start := time.Now()
		var err error
		stats, err = s.versions.Run(ctx, limit)
		if s.observer != nil {
			s.observer.ObserveReconciliation("versions", stats.Processed, stats.Deleted, stats.Errors, time.Since(start))
		}
		return err
	})
	return stats, err
}

func (s *ReconciliationService) RunExpirationReconciliation(ctx context.Context, limit int) (domain.ExpirationStats, error) {
	var stats domain.ExpirationStats
	err := s.withLock(ctx, expirationLockKey, func(ctx context.Context) error {
		start := time.Now()
		var err error
		stats, err = s.expirations.Run(ctx, limit)
		if s.observer != nil {
			s.observer.ObserveReconciliation("expirations", stats.Processed, stats.Deleted, stats.Errors, time.Since(start))
		}
		return err
	})
	return stats, err
}

func (s *ReconciliationService) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	release, err := s.locker.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		if domain.IsKind(err, domain.ErrReconciliationBusy) {
			return err
		}
		return fmt.Errorf("acquire %s lock: %w", key, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.Warn("lock_release_failed", "key", key, "error", err)
		}
	}()
	return fn(ctx)
}
