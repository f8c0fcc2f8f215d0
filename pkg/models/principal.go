package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles an actor can hold within a tenant. Admin-class roles carry delete and
// restore authority over any in-tenant record; everyone else is limited to
// records they own.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleTechnician = "technician"
	RoleViewer     = "viewer"
)

// IsValidRole reports whether role is one of the known roles.
func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleSupervisor, RoleTechnician, RoleViewer:
		return true
	}
	return false
}

// IsElevatedRole reports whether role belongs to the administrator class.
func IsElevatedRole(role string) bool {
	return role == RoleAdmin || role == RoleSupervisor
}

// Principal is an actor's membership record within a tenant, supplied by the
// identity layer and consulted for delete/restore authority.
type Principal struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
