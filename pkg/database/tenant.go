package database

import (
	"context"

	"github.com/google/uuid"
)

// TenantScope wraps a connection pinned to one tenant. The connection has
// app.current_tenant_id set for RLS policy evaluation, and repositories
// additionally compare stored tenant ids against TenantID so cross-tenant
// access surfaces as a typed error rather than an empty result.
type TenantScope struct {
	Conn     Conn
	TenantID uuid.UUID
	// Elevated marks a cross-tenant administrative scope. Granted only to
	// privileged maintenance paths (purge, schedulers), never to request
	// handling.
	Elevated bool

	release func()
}

// Close resets the tenant setting and releases the connection to the pool.
// This MUST be called to prevent tenant context from leaking to the next
// acquirer of the same connection.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_tenant_id")
	if s.release != nil {
		s.release()
	}
	s.Conn = nil
}

// Allows reports whether the scope may touch a row owned by tenantID.
func (s *TenantScope) Allows(tenantID uuid.UUID) bool {
	return s.Elevated || s.TenantID == tenantID
}

// WithTenant acquires a connection and pins it to tenantID.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithTenant(ctx context.Context, tenantID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_tenant_id', $1, false)", tenantID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{Conn: conn, TenantID: tenantID, release: conn.Release}, nil
}

// Elevated acquires a connection without a tenant pin, visible across all
// tenants. Use only for privileged operations such as retention purges.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) Elevated(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &TenantScope{Conn: conn, Elevated: true, release: conn.Release}, nil
}
