package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
	"github.com/facilityhub/maintenance-engine/pkg/audit"
	"github.com/facilityhub/maintenance-engine/pkg/database"
	"github.com/facilityhub/maintenance-engine/pkg/logging"
	"github.com/facilityhub/maintenance-engine/pkg/models"
	"github.com/facilityhub/maintenance-engine/pkg/repositories"
)

// EntityService is the caller-facing mutation surface of the core. Every
// operation runs as one atomic transaction: versioned write, history append
// and cascade either all commit or all roll back.
type EntityService interface {
	Create(ctx context.Context, tenantID, actorID uuid.UUID, entityType models.EntityType, payload models.Payload) (uuid.UUID, int64, error)
	Update(ctx context.Context, tenantID, actorID, entityID uuid.UUID, expectedVersion int64, patch models.Payload) (int64, error)
	SoftDelete(ctx context.Context, tenantID, actorID, entityID uuid.UUID, reason *string) error
	Restore(ctx context.Context, tenantID, actorID, entityID uuid.UUID) error
	IsDeleted(ctx context.Context, tenantID, entityID uuid.UUID) (bool, error)
}

type entityService struct {
	db         Database
	entities   repositories.EntityRepository
	history    repositories.HistoryRepository
	cascade    *CascadePropagator
	authorizer Authorizer
	auditor    *audit.MutationAuditor
	logger     *zap.Logger
	now        func() time.Time
}

// NewEntityService creates the entity service with its collaborators.
func NewEntityService(
	db Database,
	entities repositories.EntityRepository,
	history repositories.HistoryRepository,
	cascade *CascadePropagator,
	authorizer Authorizer,
	auditor *audit.MutationAuditor,
	logger *zap.Logger,
) EntityService {
	return &entityService{
		db:         db,
		entities:   entities,
		history:    history,
		cascade:    cascade,
		authorizer: authorizer,
		auditor:    auditor,
		logger:     logger.Named("entity-service"),
		now:        time.Now,
	}
}

var _ EntityService = (*entityService)(nil)

func (s *entityService) Create(ctx context.Context, tenantID, actorID uuid.UUID, entityType models.EntityType, payload models.Payload) (uuid.UUID, int64, error) {
	if !models.IsValidEntityType(entityType) {
		return uuid.Nil, 0, fmt.Errorf("%w: unknown entity type %q", apperrors.ErrValidationFailed, entityType)
	}
	if payload == nil {
		payload = models.Payload{}
	}

	now := s.now()
	entity := &models.Entity{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Type:      entityType,
		OwnerID:   actorID,
		Payload:   payload.Clone(),
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if entityType == models.EntityTypeWorkOrder {
		order, err := models.WorkOrderFromPayload(entity.Payload)
		if err != nil {
			return uuid.Nil, 0, err
		}
		order.Recompute()
		if err := order.Validate(); err != nil {
			return uuid.Nil, 0, err
		}
		order.ApplyToPayload(entity.Payload)
	}

	err := withTenantTx(ctx, s.db, tenantID, func(ctx context.Context) error {
		if entityType == models.EntityTypeWorkOrder {
			if parentID := entity.Payload.UUID(models.FieldParentWorkOrderID); parentID != nil {
				if err := s.validateWorkOrderParent(ctx, entity.ID, *parentID); err != nil {
					return err
				}
			}
		}
		return s.entities.Insert(ctx, entity)
	})
	if err != nil {
		return uuid.Nil, 0, err
	}

	s.auditor.Record(audit.MutationEvent{
		Timestamp:  now,
		Operation:  models.OperationCreate,
		EntityType: string(entityType),
		EntityID:   entity.ID,
		TenantID:   tenantID,
		ActorID:    actorID,
		Version:    entity.Version,
	})

	return entity.ID, entity.Version, nil
}

func (s *entityService) Update(ctx context.Context, tenantID, actorID, entityID uuid.UUID, expectedVersion int64, patch models.Payload) (int64, error) {
	if _, ok := patch[models.FieldStatus]; ok {
		return 0, fmt.Errorf("%w: status changes must go through Transition", apperrors.ErrValidationFailed)
	}

	now := s.now()
	var (
		entityType models.EntityType
		newVersion int64
	)

	err := withTenantTx(ctx, s.db, tenantID, func(ctx context.Context) error {
		entity, err := s.entities.Get(ctx, entityID)
		if err != nil {
			return err
		}
		if entity.IsDeleted() {
			return fmt.Errorf("entity %s: %w", entityID, apperrors.ErrAlreadyDeleted)
		}
		if entity.Version != expectedVersion {
			return fmt.Errorf("entity %s: expected version %d, stored %d: %w",
				entityID, expectedVersion, entity.Version, apperrors.ErrConcurrencyConflict)
		}

		prior := entity.Snapshot()
		entityType = entity.Type

		merged := entity.Payload.Clone()
		for key, value := range patch {
			if value == nil {
				delete(merged, key)
				continue
			}
			merged[key] = value
		}

		if entity.Type == models.EntityTypeWorkOrder {
			order, err := models.WorkOrderFromPayload(merged)
			if err != nil {
				return err
			}
			order.Recompute()
			if err := order.Validate(); err != nil {
				return err
			}
			order.ApplyToPayload(merged)

			if order.ParentWorkOrderID != nil {
				if err := s.validateWorkOrderParent(ctx, entityID, *order.ParentWorkOrderID); err != nil {
					return err
				}
			}
		}

		entity.Payload = merged
		entity.UpdatedAt = now

		if err := s.entities.Update(ctx, entity, expectedVersion); err != nil {
			return err
		}
		newVersion = entity.Version

		return s.history.Append(ctx, newHistoryRecord(prior, models.OperationUpdate, actorID, now))
	})
	if err != nil {
		return 0, err
	}

	s.auditor.Record(audit.MutationEvent{
		Timestamp:  now,
		Operation:  models.OperationUpdate,
		EntityType: string(entityType),
		EntityID:   entityID,
		TenantID:   tenantID,
		ActorID:    actorID,
		Version:    newVersion,
	})

	return newVersion, nil
}

func (s *entityService) SoftDelete(ctx context.Context, tenantID, actorID, entityID uuid.UUID, reason *string) error {
	now := s.now()
	var (
		entityType models.EntityType
		newVersion int64
		cascaded   int
	)

	err := withTenantTx(ctx, s.db, tenantID, func(ctx context.Context) error {
		entity, err := s.entities.Get(ctx, entityID)
		if err != nil {
			return err
		}
		if entity.IsDeleted() {
			return fmt.Errorf("entity %s: %w", entityID, apperrors.ErrAlreadyDeleted)
		}

		if err := s.checkDeleteAuthority(ctx, tenantID, actorID, entity); err != nil {
			return err
		}

		prior := entity.Snapshot()
		entityType = entity.Type

		deletedAt := now
		entity.DeletedAt = &deletedAt
		entity.DeletedBy = &actorID
		entity.DeletionReason = reason
		entity.UpdatedAt = now

		if err := s.entities.Update(ctx, entity, prior.Version); err != nil {
			return err
		}
		newVersion = entity.Version

		if err := s.history.Append(ctx, newHistoryRecord(prior, models.OperationSoftDelete, actorID, now)); err != nil {
			return err
		}

		cascaded, err = s.cascade.OnParentDeleted(ctx, entity, actorID, now)
		return err
	})
	if err != nil {
		return err
	}

	event := audit.MutationEvent{
		Timestamp:  now,
		Operation:  models.OperationSoftDelete,
		EntityType: string(entityType),
		EntityID:   entityID,
		TenantID:   tenantID,
		ActorID:    actorID,
		Version:    newVersion,
		Cascaded:   cascaded,
	}
	if reason != nil {
		event.Reason = logging.SanitizeReason(*reason)
	}
	s.auditor.Record(event)

	return nil
}

func (s *entityService) Restore(ctx context.Context, tenantID, actorID, entityID uuid.UUID) error {
	now := s.now()
	var (
		entityType models.EntityType
		newVersion int64
	)

	err := withTenantTx(ctx, s.db, tenantID, func(ctx context.Context) error {
		entity, err := s.entities.Get(ctx, entityID)
		if err != nil {
			return err
		}
		if !entity.IsDeleted() {
			return fmt.Errorf("entity %s: %w", entityID, apperrors.ErrNotDeleted)
		}

		if err := s.checkDeleteAuthority(ctx, tenantID, actorID, entity); err != nil {
			return err
		}

		prior := entity.Snapshot()
		entityType = entity.Type

		entity.DeletedAt = nil
		entity.DeletedBy = nil
		entity.DeletionReason = nil
		entity.UpdatedAt = now

		if err := s.entities.Update(ctx, entity, prior.Version); err != nil {
			return err
		}
		newVersion = entity.Version

		// Children deleted alongside this entity stay deleted; restoring
		// them is a separate, explicit operation per child.
		return s.history.Append(ctx, newHistoryRecord(prior, models.OperationRestore, actorID, now))
	})
	if err != nil {
		return err
	}

	s.auditor.Record(audit.MutationEvent{
		Timestamp:  now,
		Operation:  models.OperationRestore,
		EntityType: string(entityType),
		EntityID:   entityID,
		TenantID:   tenantID,
		ActorID:    actorID,
		Version:    newVersion,
	})

	return nil
}

func (s *entityService) IsDeleted(ctx context.Context, tenantID, entityID uuid.UUID) (bool, error) {
	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()

	entity, err := s.entities.Get(database.SetTenantScope(ctx, scope), entityID)
	if err != nil {
		return false, err
	}
	return entity.IsDeleted(), nil
}

// checkDeleteAuthority enforces the delete/restore policy: administrator-class
// actors may touch any in-tenant record, everyone else only records they own.
func (s *entityService) checkDeleteAuthority(ctx context.Context, tenantID, actorID uuid.UUID, entity *models.Entity) error {
	elevated, err := s.authorizer.IsElevated(ctx, tenantID, actorID)
	if err != nil {
		return fmt.Errorf("failed to check actor authority: %w", err)
	}
	if !elevated && entity.OwnerID != actorID {
		return fmt.Errorf("actor %s may not delete %s %s: %w",
			actorID, entity.Type, entity.ID, apperrors.ErrForbidden)
	}
	return nil
}

// validateWorkOrderParent verifies the proposed parent exists, is a work
// order, and that following the parent chain never returns to entityID.
func (s *entityService) validateWorkOrderParent(ctx context.Context, entityID, parentID uuid.UUID) error {
	visited := map[uuid.UUID]bool{entityID: true}
	current := parentID

	for {
		if visited[current] {
			return fmt.Errorf("%w: work order parent chain contains a cycle", apperrors.ErrValidationFailed)
		}
		visited[current] = true

		parent, err := s.entities.Get(ctx, current)
		if err != nil {
			return fmt.Errorf("%w: parent work order %s is not addressable", apperrors.ErrValidationFailed, current)
		}
		if parent.Type != models.EntityTypeWorkOrder {
			return fmt.Errorf("%w: parent %s is not a work order", apperrors.ErrValidationFailed, current)
		}

		next := parent.Payload.UUID(models.FieldParentWorkOrderID)
		if next == nil {
			return nil
		}
		current = *next
	}
}
