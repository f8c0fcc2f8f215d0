package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/facilityhub/maintenance-engine/pkg/audit"
	"github.com/facilityhub/maintenance-engine/pkg/models"
)

type retentionFixture struct {
	entities *mockEntityRepository
	history  *mockHistoryRepository
	svc      *retentionService
}

func newRetentionFixture(retentionDays int) *retentionFixture {
	logger := zap.NewNop()
	f := &retentionFixture{
		entities: newMockEntityRepository(),
		history:  &mockHistoryRepository{},
	}
	f.svc = NewRetentionService(fakeDatabase{}, f.entities, f.history,
		audit.NewMutationAuditor(logger), retentionDays, logger).(*retentionService)
	return f
}

// seedDeleted stores an entity soft-deleted at deletedAt with one history row.
func (f *retentionFixture) seedDeleted(tenantID uuid.UUID, deletedAt time.Time) uuid.UUID {
	actorID := uuid.New()
	e := &models.Entity{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Type:      models.EntityTypeWorkOrder,
		OwnerID:   actorID,
		Payload:   models.Payload{},
		Version:   1,
		CreatedAt: deletedAt.Add(-time.Hour),
		UpdatedAt: deletedAt,
		DeletedAt: &deletedAt,
		DeletedBy: &actorID,
	}
	f.entities.seed(e)
	f.history.records = append(f.history.records, &models.HistoryRecord{
		EntityID:   e.ID,
		Version:    0,
		TenantID:   tenantID,
		EntityType: e.Type,
		Snapshot:   e.Snapshot(),
		Operation:  models.OperationSoftDelete,
		ActorID:    actorID,
		ValidFrom:  e.CreatedAt,
		ValidTo:    deletedAt,
		RecordedAt: deletedAt,
	})
	return e.ID
}

func TestRetentionService_Purge(t *testing.T) {
	f := newRetentionFixture(90)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	tenantA, tenantB := uuid.New(), uuid.New()
	expiredA := f.seedDeleted(tenantA, now.AddDate(0, 0, -120))
	expiredB := f.seedDeleted(tenantB, now.AddDate(0, 0, -91))
	recent := f.seedDeleted(tenantA, now.AddDate(0, 0, -30))

	live := &models.Entity{
		ID: uuid.New(), TenantID: tenantA, Type: models.EntityTypeWorkOrder,
		Payload: models.Payload{}, CreatedAt: now.AddDate(-1, 0, 0), UpdatedAt: now.AddDate(-1, 0, 0),
	}
	f.entities.seed(live)

	purged, err := f.svc.Purge(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged, "purge spans tenants under the elevated scope")

	assert.Nil(t, f.entities.stored(expiredA))
	assert.Nil(t, f.entities.stored(expiredB))
	assert.NotNil(t, f.entities.stored(recent), "recently deleted rows stay restorable")
	assert.NotNil(t, f.entities.stored(live.ID))

	assert.Empty(t, f.history.forEntity(expiredA), "purge removes the entity's history with it")
	assert.Empty(t, f.history.forEntity(expiredB))
	assert.Len(t, f.history.forEntity(recent), 1)
}

func TestRetentionService_Purge_DefaultWindow(t *testing.T) {
	f := newRetentionFixture(30)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	expired := f.seedDeleted(uuid.New(), now.AddDate(0, 0, -45))

	// olderThanDays <= 0 falls back to the configured retention.
	purged, err := f.svc.Purge(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Nil(t, f.entities.stored(expired))
}

func TestRetentionService_Purge_NothingEligible(t *testing.T) {
	f := newRetentionFixture(90)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	f.seedDeleted(uuid.New(), now.AddDate(0, 0, -10))

	purged, err := f.svc.Purge(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)
}

func TestNewRetentionService_DefaultDays(t *testing.T) {
	f := newRetentionFixture(0)
	assert.Equal(t, DefaultRetentionDays, f.svc.retentionDays)
}
