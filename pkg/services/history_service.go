package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
	"github.com/facilityhub/maintenance-engine/pkg/database"
	"github.com/facilityhub/maintenance-engine/pkg/models"
	"github.com/facilityhub/maintenance-engine/pkg/repositories"
)

// HistoryService answers temporal queries over the append-only history store.
type HistoryService interface {
	// AsOf returns the entity state that was authoritative at the given
	// instant: an archived revision if one covers it, the live row if the
	// instant follows the last recorded mutation, ErrNotFound if it
	// precedes the entity's creation.
	AsOf(ctx context.Context, tenantID, entityID uuid.UUID, at time.Time) (*models.Entity, error)
	// History returns every archived revision of the entity, oldest first.
	History(ctx context.Context, tenantID, entityID uuid.UUID) ([]*models.HistoryRecord, error)
}

type historyService struct {
	db       Database
	entities repositories.EntityRepository
	history  repositories.HistoryRepository
	logger   *zap.Logger
}

// NewHistoryService creates the history service.
func NewHistoryService(
	db Database,
	entities repositories.EntityRepository,
	history repositories.HistoryRepository,
	logger *zap.Logger,
) HistoryService {
	return &historyService{
		db:       db,
		entities: entities,
		history:  history,
		logger:   logger.Named("history-service"),
	}
}

var _ HistoryService = (*historyService)(nil)

func (s *historyService) AsOf(ctx context.Context, tenantID, entityID uuid.UUID, at time.Time) (*models.Entity, error) {
	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	record, err := s.history.AsOf(ctx, entityID, at)
	if err == nil {
		return record.Snapshot, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	// No archived revision covers the instant: it is either after the last
	// mutation (live row answers) or before the entity existed.
	entity, err := s.entities.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if at.Before(entity.CreatedAt) {
		return nil, fmt.Errorf("entity %s did not exist at %s: %w", entityID, at, apperrors.ErrNotFound)
	}
	return entity, nil
}

func (s *historyService) History(ctx context.Context, tenantID, entityID uuid.UUID) ([]*models.HistoryRecord, error) {
	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()

	return s.history.ListByEntity(database.SetTenantScope(ctx, scope), entityID)
}
