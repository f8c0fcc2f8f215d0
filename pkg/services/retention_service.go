package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
	"github.com/facilityhub/maintenance-engine/pkg/audit"
	"github.com/facilityhub/maintenance-engine/pkg/models"
	"github.com/facilityhub/maintenance-engine/pkg/repositories"
)

// DefaultRetentionDays is the default retention period for soft-deleted records.
const DefaultRetentionDays = 90

// RetentionService permanently removes records whose soft-delete is older
// than the retention window. Purge bypasses the versioned write path and is
// irreversible; it runs under an elevated, cross-tenant scope and is never
// exposed through the normal delete/restore surface.
type RetentionService interface {
	// Purge removes soft-deleted entities older than olderThanDays, along
	// with their history, returning the number of entity rows removed.
	Purge(ctx context.Context, olderThanDays int) (int64, error)

	// RunScheduler starts a background goroutine that purges on the given
	// interval. It runs immediately on startup, then repeats every interval.
	// Cancel the context to stop the scheduler.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type retentionService struct {
	db            Database
	entities      repositories.EntityRepository
	history       repositories.HistoryRepository
	auditor       *audit.MutationAuditor
	retentionDays int
	logger        *zap.Logger
	now           func() time.Time
}

// NewRetentionService creates the retention service. retentionDays <= 0
// falls back to DefaultRetentionDays.
func NewRetentionService(
	db Database,
	entities repositories.EntityRepository,
	history repositories.HistoryRepository,
	auditor *audit.MutationAuditor,
	retentionDays int,
	logger *zap.Logger,
) RetentionService {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &retentionService{
		db:            db,
		entities:      entities,
		history:       history,
		auditor:       auditor,
		retentionDays: retentionDays,
		logger:        logger.Named("retention-service"),
		now:           time.Now,
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) Purge(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = s.retentionDays
	}
	if olderThanDays < 1 {
		return 0, fmt.Errorf("%w: retention window must be at least one day", apperrors.ErrValidationFailed)
	}

	cutoff := s.now().AddDate(0, 0, -olderThanDays)
	var (
		purged         int64
		historyRemoved int64
	)

	err := withElevatedTx(ctx, s.db, func(ctx context.Context) error {
		ids, err := s.entities.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to purge entities: %w", err)
		}
		purged = int64(len(ids))

		historyRemoved, err = s.history.DeleteForEntities(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to purge history: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if purged > 0 {
		s.logger.Info("Purge completed",
			zap.Time("cutoff", cutoff),
			zap.Int("retention_days", olderThanDays),
			zap.Int64("entities_purged", purged),
			zap.Int64("history_purged", historyRemoved))
	}

	return purged, nil
}

// RunScheduler starts a background loop that purges purge-eligible records.
func (s *retentionService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Purge scheduler started",
			zap.Duration("interval", interval),
			zap.Int("retention_days", s.retentionDays))

		// Run immediately on startup, then at each interval
		s.purgeOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Purge scheduler stopped")
				return
			case <-ticker.C:
				s.purgeOnce(ctx)
			}
		}
	}()
}

func (s *retentionService) purgeOnce(ctx context.Context) {
	count, err := s.Purge(ctx, s.retentionDays)
	if err != nil {
		s.logger.Error("Scheduled purge failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.auditor.Record(audit.MutationEvent{
			Timestamp: s.now(),
			Operation: models.OperationPurge,
			Purged:    count,
		})
	}
}
