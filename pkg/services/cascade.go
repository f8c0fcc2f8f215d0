package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facilityhub/maintenance-engine/pkg/models"
	"github.com/facilityhub/maintenance-engine/pkg/repositories"
)

// CascadeRule declares that soft-deleting a parent also soft-deletes live
// children of Child whose ForeignKeyField payload field references the parent.
type CascadeRule struct {
	Child           models.EntityType
	ForeignKeyField string
}

// CascadeRegistry is the static, centrally registered dependency list the
// propagator walks. Cascades never recurse beyond what is declared here; a
// grandchild cascades only if its own parent type has an entry.
type CascadeRegistry map[models.EntityType][]CascadeRule

// DefaultCascadeRegistry returns the platform's dependency graph.
func DefaultCascadeRegistry() CascadeRegistry {
	return CascadeRegistry{
		models.EntityTypeWorkOrder: {
			{Child: models.EntityTypeReport, ForeignKeyField: models.FieldWorkOrderID},
			{Child: models.EntityTypeAttachment, ForeignKeyField: models.FieldWorkOrderID},
			{Child: models.EntityTypeComment, ForeignKeyField: models.FieldWorkOrderID},
		},
		models.EntityTypeSchool: {
			{Child: models.EntityTypeSupervisorAssignment, ForeignKeyField: models.FieldSchoolID},
		},
	}
}

// CascadePropagator applies a parent's soft-delete to its registered
// dependents inside the caller's transaction. Restoration is deliberately
// not propagated: a parent restore never resurrects children.
type CascadePropagator struct {
	entities repositories.EntityRepository
	history  repositories.HistoryRepository
	registry CascadeRegistry
	logger   *zap.Logger
}

// NewCascadePropagator creates a propagator over the given registry.
func NewCascadePropagator(
	entities repositories.EntityRepository,
	history repositories.HistoryRepository,
	registry CascadeRegistry,
	logger *zap.Logger,
) *CascadePropagator {
	return &CascadePropagator{
		entities: entities,
		history:  history,
		registry: registry,
		logger:   logger.Named("cascade"),
	}
}

// OnParentDeleted soft-deletes every live registered child of parent,
// stamping the parent's deleted_at/deleted_by/reason onto each. Already
// deleted children are skipped, never an error, so re-application is a no-op.
// Must run inside the same transaction as the parent's own marker write; the
// caller's context bounds the walk.
func (p *CascadePropagator) OnParentDeleted(ctx context.Context, parent *models.Entity, actorID uuid.UUID, now time.Time) (int, error) {
	rules := p.registry[parent.Type]
	if len(rules) == 0 {
		return 0, nil
	}

	cascaded := 0
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return cascaded, err
		}

		children, err := p.entities.ListLiveChildren(ctx, rule.Child, rule.ForeignKeyField, parent.ID)
		if err != nil {
			return cascaded, fmt.Errorf("failed to list %s children of %s: %w", rule.Child, parent.ID, err)
		}

		for _, child := range children {
			if child.IsDeleted() {
				continue
			}

			prior := child.Snapshot()

			child.DeletedAt = parent.DeletedAt
			child.DeletedBy = parent.DeletedBy
			child.DeletionReason = parent.DeletionReason
			child.UpdatedAt = now

			if err := p.entities.Update(ctx, child, prior.Version); err != nil {
				return cascaded, fmt.Errorf("failed to cascade delete to %s %s: %w", child.Type, child.ID, err)
			}

			record := newHistoryRecord(prior, models.OperationCascade, actorID, now)
			if err := p.history.Append(ctx, record); err != nil {
				return cascaded, fmt.Errorf("failed to record cascade history for %s: %w", child.ID, err)
			}

			cascaded++
		}
	}

	if cascaded > 0 {
		p.logger.Debug("cascade applied",
			zap.String("parent_type", string(parent.Type)),
			zap.String("parent_id", parent.ID.String()),
			zap.Int("children", cascaded))
	}

	return cascaded, nil
}

// newHistoryRecord builds the immutable revision row for a pre-write
// snapshot: authoritative from the snapshot's updated_at until now.
func newHistoryRecord(prior *models.Entity, operation string, actorID uuid.UUID, now time.Time) *models.HistoryRecord {
	return &models.HistoryRecord{
		EntityID:   prior.ID,
		Version:    prior.Version,
		TenantID:   prior.TenantID,
		EntityType: prior.Type,
		Snapshot:   prior,
		Operation:  operation,
		ActorID:    actorID,
		ValidFrom:  prior.UpdatedAt,
		ValidTo:    now,
		RecordedAt: now,
	}
}
