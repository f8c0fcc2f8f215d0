package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
	"github.com/facilityhub/maintenance-engine/pkg/database"
	"github.com/facilityhub/maintenance-engine/pkg/models"
)

// PrincipalRepository resolves actor roles within a tenant. The identity
// layer owns the table; the core only reads it to answer authority checks.
type PrincipalRepository interface {
	Get(ctx context.Context, tenantID, actorID uuid.UUID) (*models.Principal, error)
}

type principalRepository struct{}

// NewPrincipalRepository creates a new principal repository.
func NewPrincipalRepository() PrincipalRepository {
	return &principalRepository{}
}

var _ PrincipalRepository = (*principalRepository)(nil)

func (r *principalRepository) Get(ctx context.Context, tenantID, actorID uuid.UUID) (*models.Principal, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	if !scope.Allows(tenantID) {
		return nil, fmt.Errorf("principal lookup for tenant %s: %w", tenantID, apperrors.ErrTenantMismatch)
	}

	query := `
		SELECT tenant_id, actor_id, role, created_at
		FROM engine_principals
		WHERE tenant_id = $1 AND actor_id = $2`

	var principal models.Principal
	err := scope.Conn.QueryRow(ctx, query, tenantID, actorID).Scan(
		&principal.TenantID,
		&principal.ActorID,
		&principal.Role,
		&principal.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("principal %s: %w", actorID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	return &principal, nil
}
