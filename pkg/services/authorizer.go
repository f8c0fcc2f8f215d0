package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
	"github.com/facilityhub/maintenance-engine/pkg/models"
	"github.com/facilityhub/maintenance-engine/pkg/repositories"
)

// Authorizer answers whether an actor holds administrator-class authority
// within a tenant. The identity layer supplies the implementation; the core
// ships a role-table-backed one.
type Authorizer interface {
	IsElevated(ctx context.Context, tenantID, actorID uuid.UUID) (bool, error)
}

type principalAuthorizer struct {
	principals repositories.PrincipalRepository
}

// NewPrincipalAuthorizer creates an Authorizer backed by the tenant role
// table. Unknown actors simply hold no elevated authority.
func NewPrincipalAuthorizer(principals repositories.PrincipalRepository) Authorizer {
	return &principalAuthorizer{principals: principals}
}

var _ Authorizer = (*principalAuthorizer)(nil)

func (a *principalAuthorizer) IsElevated(ctx context.Context, tenantID, actorID uuid.UUID) (bool, error) {
	principal, err := a.principals.Get(ctx, tenantID, actorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return models.IsElevatedRole(principal.Role), nil
}
