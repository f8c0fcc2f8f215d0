package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
	"github.com/facilityhub/maintenance-engine/pkg/audit"
	"github.com/facilityhub/maintenance-engine/pkg/database"
	"github.com/facilityhub/maintenance-engine/pkg/models"
)

// fakeDatabase hands out tenant scopes over an inert connection so services
// run their full transaction choreography against in-memory repositories.
type fakeDatabase struct{}

func (fakeDatabase) WithTenant(_ context.Context, tenantID uuid.UUID) (*database.TenantScope, error) {
	return &database.TenantScope{Conn: fakeConn{}, TenantID: tenantID}, nil
}

func (fakeDatabase) Elevated(context.Context) (*database.TenantScope, error) {
	return &database.TenantScope{Conn: fakeConn{}, Elevated: true}, nil
}

type fakeConn struct{}

func (fakeConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (fakeConn) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (fakeConn) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

// fakeTx satisfies pgx.Tx through the embedded interface; only the commit
// and rollback paths the transaction helpers exercise are implemented.
type fakeTx struct {
	pgx.Tx
}

func (*fakeTx) Commit(context.Context) error   { return nil }
func (*fakeTx) Rollback(context.Context) error { return nil }

// mockEntityRepository is an in-memory EntityRepository that enforces the
// same tenant-scope and version rules as the real store.
type mockEntityRepository struct {
	entities map[uuid.UUID]*models.Entity
}

func newMockEntityRepository() *mockEntityRepository {
	return &mockEntityRepository{entities: make(map[uuid.UUID]*models.Entity)}
}

// seed stores an entity directly, bypassing scope checks, for test setup.
func (m *mockEntityRepository) seed(e *models.Entity) {
	m.entities[e.ID] = e.Snapshot()
}

// stored returns the persisted state of id, or nil.
func (m *mockEntityRepository) stored(id uuid.UUID) *models.Entity {
	e, ok := m.entities[id]
	if !ok {
		return nil
	}
	return e.Snapshot()
}

func (m *mockEntityRepository) Insert(ctx context.Context, entity *models.Entity) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}
	if !scope.Allows(entity.TenantID) {
		return fmt.Errorf("insert for tenant %s: %w", entity.TenantID, apperrors.ErrTenantMismatch)
	}
	m.entities[entity.ID] = entity.Snapshot()
	return nil
}

func (m *mockEntityRepository) Get(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	entity, ok := m.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, apperrors.ErrNotFound)
	}
	if !scope.Allows(entity.TenantID) {
		return nil, fmt.Errorf("entity %s: %w", id, apperrors.ErrTenantMismatch)
	}
	return entity.Snapshot(), nil
}

func (m *mockEntityRepository) Update(ctx context.Context, entity *models.Entity, expectedVersion int64) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}
	if !scope.Allows(entity.TenantID) {
		return fmt.Errorf("entity %s: %w", entity.ID, apperrors.ErrTenantMismatch)
	}
	stored, ok := m.entities[entity.ID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entity.ID, apperrors.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("entity %s: expected version %d, stored %d: %w",
			entity.ID, expectedVersion, stored.Version, apperrors.ErrConcurrencyConflict)
	}
	entity.Version = expectedVersion + 1
	m.entities[entity.ID] = entity.Snapshot()
	return nil
}

func (m *mockEntityRepository) ListLiveChildren(ctx context.Context, childType models.EntityType, fkField string, parentID uuid.UUID) ([]*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	var children []*models.Entity
	for _, e := range m.entities {
		if e.Type != childType || e.IsDeleted() || !scope.Allows(e.TenantID) {
			continue
		}
		ref := e.Payload.UUID(fkField)
		if ref == nil || *ref != parentID {
			continue
		}
		children = append(children, e.Snapshot())
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].CreatedAt.Before(children[j].CreatedAt)
	})
	return children, nil
}

func (m *mockEntityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	if !scope.Elevated {
		return nil, fmt.Errorf("purge requires elevated scope: %w", apperrors.ErrForbidden)
	}
	var ids []uuid.UUID
	for id, e := range m.entities {
		if e.DeletedAt != nil && e.DeletedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(m.entities, id)
	}
	return ids, nil
}

// mockHistoryRepository is an in-memory append-only HistoryRepository.
type mockHistoryRepository struct {
	records []*models.HistoryRecord
}

func (m *mockHistoryRepository) Append(_ context.Context, record *models.HistoryRecord) error {
	m.records = append(m.records, record)
	return nil
}

func (m *mockHistoryRepository) AsOf(_ context.Context, entityID uuid.UUID, at time.Time) (*models.HistoryRecord, error) {
	var best *models.HistoryRecord
	for _, r := range m.records {
		if r.EntityID != entityID || !r.Covers(at) {
			continue
		}
		if best == nil || r.Version > best.Version {
			best = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no revision of %s covers %s: %w", entityID, at, apperrors.ErrNotFound)
	}
	return best, nil
}

func (m *mockHistoryRepository) ListByEntity(_ context.Context, entityID uuid.UUID) ([]*models.HistoryRecord, error) {
	var records []*models.HistoryRecord
	for _, r := range m.records {
		if r.EntityID == entityID {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Version < records[j].Version })
	return records, nil
}

func (m *mockHistoryRepository) DeleteForEntities(ctx context.Context, entityIDs []uuid.UUID) (int64, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}
	if !scope.Elevated {
		return 0, fmt.Errorf("history purge requires elevated scope: %w", apperrors.ErrForbidden)
	}
	purged := make(map[uuid.UUID]bool, len(entityIDs))
	for _, id := range entityIDs {
		purged[id] = true
	}
	var kept []*models.HistoryRecord
	var removed int64
	for _, r := range m.records {
		if purged[r.EntityID] {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed, nil
}

// forEntity returns the appended records for one entity, oldest first.
func (m *mockHistoryRepository) forEntity(entityID uuid.UUID) []*models.HistoryRecord {
	records, _ := m.ListByEntity(context.Background(), entityID)
	return records
}

// mockAuthorizer grants elevated authority to listed actors.
type mockAuthorizer struct {
	elevated map[uuid.UUID]bool
	err      error
}

func (m *mockAuthorizer) IsElevated(_ context.Context, _ uuid.UUID, actorID uuid.UUID) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.elevated[actorID], nil
}

// scopedContext returns a context carrying a tenant scope, for tests that
// call repositories or the cascade propagator directly.
func scopedContext(tenantID uuid.UUID) context.Context {
	scope := &database.TenantScope{Conn: fakeConn{}, TenantID: tenantID}
	return database.SetTenantScope(context.Background(), scope)
}

// serviceFixture wires every service over one shared pair of in-memory
// repositories so multi-service flows see consistent state.
type serviceFixture struct {
	entities *mockEntityRepository
	history  *mockHistoryRepository
	auth     *mockAuthorizer

	entitySvc  *entityService
	workSvc    *workOrderService
	historySvc HistoryService
}

func newServiceFixture() *serviceFixture {
	logger := zap.NewNop()
	auditor := audit.NewMutationAuditor(logger)

	f := &serviceFixture{
		entities: newMockEntityRepository(),
		history:  &mockHistoryRepository{},
		auth:     &mockAuthorizer{elevated: make(map[uuid.UUID]bool)},
	}
	cascade := NewCascadePropagator(f.entities, f.history, DefaultCascadeRegistry(), logger)

	f.entitySvc = NewEntityService(fakeDatabase{}, f.entities, f.history, cascade, f.auth, auditor, logger).(*entityService)
	f.workSvc = NewWorkOrderService(fakeDatabase{}, f.entities, f.history, auditor, logger).(*workOrderService)
	f.historySvc = NewHistoryService(fakeDatabase{}, f.entities, f.history, logger)
	return f
}

// pinClock freezes the mutation timestamp both services stamp.
func (f *serviceFixture) pinClock(t time.Time) {
	f.entitySvc.now = func() time.Time { return t }
	f.workSvc.now = func() time.Time { return t }
}
