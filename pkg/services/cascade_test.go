package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/facilityhub/maintenance-engine/pkg/database"
	"github.com/facilityhub/maintenance-engine/pkg/models"
)

func TestDefaultCascadeRegistry(t *testing.T) {
	registry := DefaultCascadeRegistry()

	require.Len(t, registry[models.EntityTypeWorkOrder], 3)
	for _, rule := range registry[models.EntityTypeWorkOrder] {
		assert.Equal(t, models.FieldWorkOrderID, rule.ForeignKeyField)
	}

	require.Len(t, registry[models.EntityTypeSchool], 1)
	assert.Equal(t, models.EntityTypeSupervisorAssignment, registry[models.EntityTypeSchool][0].Child)
	assert.Equal(t, models.FieldSchoolID, registry[models.EntityTypeSchool][0].ForeignKeyField)

	// Leaf types never cascade.
	assert.Empty(t, registry[models.EntityTypeReport])
	assert.Empty(t, registry[models.EntityTypeComment])
}

func newCascadeFixture() (*CascadePropagator, *mockEntityRepository, *mockHistoryRepository) {
	entities := newMockEntityRepository()
	history := &mockHistoryRepository{}
	return NewCascadePropagator(entities, history, DefaultCascadeRegistry(), zap.NewNop()), entities, history
}

func deletedParent(tenantID uuid.UUID, typ models.EntityType, actorID uuid.UUID, now time.Time) *models.Entity {
	reason := "cascade test"
	return &models.Entity{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Type:           typ,
		OwnerID:        actorID,
		Payload:        models.Payload{},
		Version:        1,
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now,
		DeletedAt:      &now,
		DeletedBy:      &actorID,
		DeletionReason: &reason,
	}
}

func TestCascadePropagator_Idempotent(t *testing.T) {
	propagator, entities, history := newCascadeFixture()
	tenantID, actorID := uuid.New(), uuid.New()
	now := time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)
	ctx := scopedContext(tenantID)

	parent := deletedParent(tenantID, models.EntityTypeWorkOrder, actorID, now)
	child := &models.Entity{
		ID:       uuid.New(),
		TenantID: tenantID,
		Type:     models.EntityTypeReport,
		Payload:  models.Payload{models.FieldWorkOrderID: parent.ID.String()},
	}
	entities.seed(child)

	count, err := propagator.OnParentDeleted(ctx, parent, actorID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, entities.stored(child.ID).IsDeleted())
	assert.Len(t, history.forEntity(child.ID), 1)

	// Second application finds no live children and records nothing.
	count, err = propagator.OnParentDeleted(ctx, parent, actorID, now)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Len(t, history.forEntity(child.ID), 1)
}

func TestCascadePropagator_UnregisteredParent(t *testing.T) {
	propagator, _, _ := newCascadeFixture()
	tenantID, actorID := uuid.New(), uuid.New()
	now := time.Now()

	parent := deletedParent(tenantID, models.EntityTypeComment, actorID, now)
	count, err := propagator.OnParentDeleted(scopedContext(tenantID), parent, actorID, now)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCascadePropagator_SchoolAssignments(t *testing.T) {
	propagator, entities, _ := newCascadeFixture()
	tenantID, actorID := uuid.New(), uuid.New()
	now := time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)

	school := deletedParent(tenantID, models.EntityTypeSchool, actorID, now)
	assignment := &models.Entity{
		ID:       uuid.New(),
		TenantID: tenantID,
		Type:     models.EntityTypeSupervisorAssignment,
		Payload:  models.Payload{models.FieldSchoolID: school.ID.String()},
	}
	entities.seed(assignment)

	count, err := propagator.OnParentDeleted(scopedContext(tenantID), school, actorID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored := entities.stored(assignment.ID)
	require.True(t, stored.IsDeleted())
	assert.True(t, stored.DeletedAt.Equal(now), "child carries the parent's deletion timestamp")
}

func TestCascadePropagator_StopsOnCancelledContext(t *testing.T) {
	propagator, entities, _ := newCascadeFixture()
	tenantID, actorID := uuid.New(), uuid.New()
	now := time.Now()

	parent := deletedParent(tenantID, models.EntityTypeWorkOrder, actorID, now)
	child := &models.Entity{
		ID:       uuid.New(),
		TenantID: tenantID,
		Type:     models.EntityTypeReport,
		Payload:  models.Payload{models.FieldWorkOrderID: parent.ID.String()},
	}
	entities.seed(child)

	scope := &database.TenantScope{Conn: fakeConn{}, TenantID: tenantID}
	ctx, cancel := context.WithCancel(database.SetTenantScope(context.Background(), scope))
	cancel()

	_, err := propagator.OnParentDeleted(ctx, parent, actorID, now)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, entities.stored(child.ID).IsDeleted())
}
