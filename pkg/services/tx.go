package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/facilityhub/maintenance-engine/pkg/database"
)

// Database hands out tenant-pinned connections. Satisfied by *database.DB;
// tests substitute fakes.
type Database interface {
	WithTenant(ctx context.Context, tenantID uuid.UUID) (*database.TenantScope, error)
	Elevated(ctx context.Context) (*database.TenantScope, error)
}

// withTenantTx runs fn inside one transaction on a connection pinned to
// tenantID. Either every sub-step of a logical mutation (versioned write,
// history append, cascade) commits, or none do; a fn error or context
// cancellation rolls the whole transaction back.
func withTenantTx(ctx context.Context, db Database, tenantID uuid.UUID, fn func(ctx context.Context) error) error {
	scope, err := db.WithTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()

	return runInTx(database.SetTenantScope(ctx, scope), scope, fn)
}

// withElevatedTx is withTenantTx for privileged cross-tenant operations.
func withElevatedTx(ctx context.Context, db Database, fn func(ctx context.Context) error) error {
	scope, err := db.Elevated(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire elevated scope: %w", err)
	}
	defer scope.Close()

	return runInTx(database.SetTenantScope(ctx, scope), scope, fn)
}

func runInTx(ctx context.Context, scope *database.TenantScope, fn func(ctx context.Context) error) error {
	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
