package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
	"github.com/facilityhub/maintenance-engine/pkg/audit"
	"github.com/facilityhub/maintenance-engine/pkg/models"
	"github.com/facilityhub/maintenance-engine/pkg/repositories"
)

// WorkOrderService drives the work-order lifecycle: status transitions with
// their derived-field side effects, and the explicit reopen action.
type WorkOrderService interface {
	Transition(ctx context.Context, tenantID, actorID, entityID uuid.UUID, expectedVersion int64, target models.WorkOrderStatus) (int64, error)
	// Reopen moves a COMPLETED order back to IN_PROGRESS. Distinct from
	// Transition on purpose: the transition table has no COMPLETED ->
	// IN_PROGRESS edge.
	Reopen(ctx context.Context, tenantID, actorID, entityID uuid.UUID, expectedVersion int64) (int64, error)
}

type workOrderService struct {
	db       Database
	entities repositories.EntityRepository
	history  repositories.HistoryRepository
	auditor  *audit.MutationAuditor
	logger   *zap.Logger
	now      func() time.Time
}

// NewWorkOrderService creates the work order service.
func NewWorkOrderService(
	db Database,
	entities repositories.EntityRepository,
	history repositories.HistoryRepository,
	auditor *audit.MutationAuditor,
	logger *zap.Logger,
) WorkOrderService {
	return &workOrderService{
		db:       db,
		entities: entities,
		history:  history,
		auditor:  auditor,
		logger:   logger.Named("workorder-service"),
		now:      time.Now,
	}
}

var _ WorkOrderService = (*workOrderService)(nil)

func (s *workOrderService) Transition(ctx context.Context, tenantID, actorID, entityID uuid.UUID, expectedVersion int64, target models.WorkOrderStatus) (int64, error) {
	return s.mutate(ctx, tenantID, actorID, entityID, expectedVersion, models.OperationTransition,
		func(order *models.WorkOrder, now time.Time) error {
			return order.ApplyTransition(target, now)
		})
}

func (s *workOrderService) Reopen(ctx context.Context, tenantID, actorID, entityID uuid.UUID, expectedVersion int64) (int64, error) {
	return s.mutate(ctx, tenantID, actorID, entityID, expectedVersion, models.OperationReopen,
		func(order *models.WorkOrder, _ time.Time) error {
			return order.Reopen()
		})
}

// mutate runs one state-machine mutation as a single transaction: load,
// version-check, apply, validate, versioned write, history append.
func (s *workOrderService) mutate(ctx context.Context, tenantID, actorID, entityID uuid.UUID, expectedVersion int64, operation string, apply func(*models.WorkOrder, time.Time) error) (int64, error) {
	now := s.now()
	var newVersion int64

	err := withTenantTx(ctx, s.db, tenantID, func(ctx context.Context) error {
		entity, err := s.entities.Get(ctx, entityID)
		if err != nil {
			return err
		}
		if entity.Type != models.EntityTypeWorkOrder {
			return fmt.Errorf("%w: entity %s is a %s, not a work order",
				apperrors.ErrValidationFailed, entityID, entity.Type)
		}
		if entity.IsDeleted() {
			return fmt.Errorf("entity %s: %w", entityID, apperrors.ErrAlreadyDeleted)
		}
		if entity.Version != expectedVersion {
			return fmt.Errorf("entity %s: expected version %d, stored %d: %w",
				entityID, expectedVersion, entity.Version, apperrors.ErrConcurrencyConflict)
		}

		order, err := models.WorkOrderFromPayload(entity.Payload)
		if err != nil {
			return err
		}

		if err := apply(order, now); err != nil {
			return err
		}
		if err := order.Validate(); err != nil {
			return err
		}

		prior := entity.Snapshot()
		order.ApplyToPayload(entity.Payload)
		entity.UpdatedAt = now

		if err := s.entities.Update(ctx, entity, expectedVersion); err != nil {
			return err
		}
		newVersion = entity.Version

		return s.history.Append(ctx, newHistoryRecord(prior, operation, actorID, now))
	})
	if err != nil {
		return 0, err
	}

	s.auditor.Record(audit.MutationEvent{
		Timestamp:  now,
		Operation:  operation,
		EntityType: string(models.EntityTypeWorkOrder),
		EntityID:   entityID,
		TenantID:   tenantID,
		ActorID:    actorID,
		Version:    newVersion,
	})

	return newVersion, nil
}
