package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
	"github.com/facilityhub/maintenance-engine/pkg/database"
	"github.com/facilityhub/maintenance-engine/pkg/models"
)

// EntityRepository is the versioned entity store. Every mutating write is
// optimistic-concurrency checked: the caller supplies the version it read and
// the write fails with ErrConcurrencyConflict if the stored version moved.
// Tenant isolation is enforced here, at the storage boundary, not trusted
// from caller input.
type EntityRepository interface {
	Insert(ctx context.Context, entity *models.Entity) error
	// Get returns the row regardless of soft-delete state; deleted rows
	// stay addressable by id until purged.
	Get(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	// Update persists payload, markers and updated_at, bumping the version
	// from expectedVersion to expectedVersion+1 in one guarded statement.
	Update(ctx context.Context, entity *models.Entity, expectedVersion int64) error
	// ListLiveChildren returns non-deleted entities of childType whose
	// payload field fkField references parentID.
	ListLiveChildren(ctx context.Context, childType models.EntityType, fkField string, parentID uuid.UUID) ([]*models.Entity, error)
	// DeleteOlderThan physically removes soft-deleted rows whose deleted_at
	// precedes cutoff, returning the removed ids. Bypasses the versioned
	// write path; irreversible.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

type entityRepository struct{}

// NewEntityRepository creates a new entity repository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `id, tenant_id, entity_type, owner_id, payload, version,
	created_at, updated_at, deleted_at, deleted_by, deletion_reason`

func (r *entityRepository) Insert(ctx context.Context, entity *models.Entity) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}
	if !scope.Allows(entity.TenantID) {
		return fmt.Errorf("insert for tenant %s: %w", entity.TenantID, apperrors.ErrTenantMismatch)
	}

	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}

	payload, err := json.Marshal(entity.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO engine_entities (
			id, tenant_id, entity_type, owner_id, payload, version,
			created_at, updated_at, deleted_at, deleted_by, deletion_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = scope.Conn.Exec(ctx, query,
		entity.ID,
		entity.TenantID,
		entity.Type,
		entity.OwnerID,
		payload,
		entity.Version,
		entity.CreatedAt,
		entity.UpdatedAt,
		entity.DeletedAt,
		entity.DeletedBy,
		entity.DeletionReason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}

	return nil
}

func (r *entityRepository) Get(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + entityColumns + ` FROM engine_entities WHERE id = $1`

	entity, err := scanEntity(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("entity %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	if !scope.Allows(entity.TenantID) {
		return nil, fmt.Errorf("entity %s: %w", id, apperrors.ErrTenantMismatch)
	}

	return entity, nil
}

func (r *entityRepository) Update(ctx context.Context, entity *models.Entity, expectedVersion int64) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}
	if !scope.Allows(entity.TenantID) {
		return fmt.Errorf("entity %s: %w", entity.ID, apperrors.ErrTenantMismatch)
	}

	payload, err := json.Marshal(entity.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		UPDATE engine_entities
		SET payload = $3,
		    version = $2 + 1,
		    updated_at = $4,
		    deleted_at = $5,
		    deleted_by = $6,
		    deletion_reason = $7
		WHERE id = $1 AND version = $2 AND tenant_id = $8`

	tag, err := scope.Conn.Exec(ctx, query,
		entity.ID,
		expectedVersion,
		payload,
		entity.UpdatedAt,
		entity.DeletedAt,
		entity.DeletedBy,
		entity.DeletionReason,
		entity.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return r.classifyMissedWrite(ctx, scope, entity.ID, expectedVersion)
	}

	entity.Version = expectedVersion + 1
	return nil
}

// classifyMissedWrite distinguishes why a guarded UPDATE touched no rows.
func (r *entityRepository) classifyMissedWrite(ctx context.Context, scope *database.TenantScope, id uuid.UUID, expectedVersion int64) error {
	var (
		storedVersion int64
		storedTenant  uuid.UUID
	)
	err := scope.Conn.QueryRow(ctx,
		`SELECT version, tenant_id FROM engine_entities WHERE id = $1`, id).
		Scan(&storedVersion, &storedTenant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("entity %s: %w", id, apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to re-read entity: %w", err)
	}
	if !scope.Allows(storedTenant) {
		return fmt.Errorf("entity %s: %w", id, apperrors.ErrTenantMismatch)
	}
	return fmt.Errorf("entity %s: expected version %d, stored %d: %w",
		id, expectedVersion, storedVersion, apperrors.ErrConcurrencyConflict)
}

func (r *entityRepository) ListLiveChildren(ctx context.Context, childType models.EntityType, fkField string, parentID uuid.UUID) ([]*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + entityColumns + `
		FROM engine_entities
		WHERE entity_type = $1
		  AND payload->>$2 = $3
		  AND deleted_at IS NULL
		  AND ($4 OR tenant_id = $5)
		ORDER BY created_at`

	rows, err := scope.Conn.Query(ctx, query,
		childType, fkField, parentID.String(), scope.Elevated, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var children []*models.Entity
	for rows.Next() {
		child, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child entity: %w", err)
		}
		children = append(children, child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read children: %w", err)
	}

	return children, nil
}

func (r *entityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	if !scope.Elevated {
		return nil, fmt.Errorf("purge requires elevated scope: %w", apperrors.ErrForbidden)
	}

	rows, err := scope.Conn.Query(ctx,
		`DELETE FROM engine_entities WHERE deleted_at IS NOT NULL AND deleted_at < $1 RETURNING id`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge entities: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan purged id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read purged ids: %w", err)
	}

	return ids, nil
}

// scanEntity reads one entity row from a pgx.Row or pgx.Rows.
func scanEntity(row pgx.Row) (*models.Entity, error) {
	var (
		entity  models.Entity
		payload []byte
	)
	err := row.Scan(
		&entity.ID,
		&entity.TenantID,
		&entity.Type,
		&entity.OwnerID,
		&payload,
		&entity.Version,
		&entity.CreatedAt,
		&entity.UpdatedAt,
		&entity.DeletedAt,
		&entity.DeletedBy,
		&entity.DeletionReason,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &entity.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &entity, nil
}
