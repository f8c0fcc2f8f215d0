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

// HistoryRepository is the append-only temporal history store. Rows are never
// updated: each append captures a pre-write snapshot already closed over its
// validity interval. Keyed by (entity_id, version), so replaying a concurrent
// writer's lost race is impossible — the version guard upstream serializes
// appends per entity.
type HistoryRepository interface {
	Append(ctx context.Context, record *models.HistoryRecord) error
	// AsOf returns the record whose [valid_from, valid_to) contains at, or
	// ErrNotFound if no archived revision covers it (the live row may).
	AsOf(ctx context.Context, entityID uuid.UUID, at time.Time) (*models.HistoryRecord, error)
	// ListByEntity returns all revisions ordered by version.
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.HistoryRecord, error)
	// DeleteForEntities removes history of purged entities. Privileged.
	DeleteForEntities(ctx context.Context, entityIDs []uuid.UUID) (int64, error)
}

type historyRepository struct{}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository() HistoryRepository {
	return &historyRepository{}
}

var _ HistoryRepository = (*historyRepository)(nil)

const historyColumns = `entity_id, version, tenant_id, entity_type, snapshot,
	operation, actor_id, valid_from, valid_to, recorded_at`

func (r *historyRepository) Append(ctx context.Context, record *models.HistoryRecord) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}
	if !scope.Allows(record.TenantID) {
		return fmt.Errorf("history for tenant %s: %w", record.TenantID, apperrors.ErrTenantMismatch)
	}

	snapshot, err := json.Marshal(record.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO engine_entity_history (
			entity_id, version, tenant_id, entity_type, snapshot,
			operation, actor_id, valid_from, valid_to, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = scope.Conn.Exec(ctx, query,
		record.EntityID,
		record.Version,
		record.TenantID,
		record.EntityType,
		snapshot,
		record.Operation,
		record.ActorID,
		record.ValidFrom,
		record.ValidTo,
		record.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}

	return nil
}

func (r *historyRepository) AsOf(ctx context.Context, entityID uuid.UUID, at time.Time) (*models.HistoryRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + historyColumns + `
		FROM engine_entity_history
		WHERE entity_id = $1 AND valid_from <= $2 AND valid_to > $2
		ORDER BY version DESC
		LIMIT 1`

	record, err := scanHistoryRecord(scope.Conn.QueryRow(ctx, query, entityID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no revision of %s covers %s: %w", entityID, at, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	if !scope.Allows(record.TenantID) {
		return nil, fmt.Errorf("entity %s: %w", entityID, apperrors.ErrTenantMismatch)
	}

	return record, nil
}

func (r *historyRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.HistoryRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + historyColumns + `
		FROM engine_entity_history
		WHERE entity_id = $1
		ORDER BY version`

	rows, err := scope.Conn.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var records []*models.HistoryRecord
	for rows.Next() {
		record, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		if !scope.Allows(record.TenantID) {
			return nil, fmt.Errorf("entity %s: %w", entityID, apperrors.ErrTenantMismatch)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	return records, nil
}

func (r *historyRepository) DeleteForEntities(ctx context.Context, entityIDs []uuid.UUID) (int64, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}
	if !scope.Elevated {
		return 0, fmt.Errorf("history purge requires elevated scope: %w", apperrors.ErrForbidden)
	}
	if len(entityIDs) == 0 {
		return 0, nil
	}

	tag, err := scope.Conn.Exec(ctx,
		`DELETE FROM engine_entity_history WHERE entity_id = ANY($1)`, entityIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanHistoryRecord(row pgx.Row) (*models.HistoryRecord, error) {
	var (
		record   models.HistoryRecord
		snapshot []byte
	)
	err := row.Scan(
		&record.EntityID,
		&record.Version,
		&record.TenantID,
		&record.EntityType,
		&snapshot,
		&record.Operation,
		&record.ActorID,
		&record.ValidFrom,
		&record.ValidTo,
		&record.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &record.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &record, nil
}
