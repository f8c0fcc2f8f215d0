// Package audit provides mutation audit logging for SIEM consumption.
// Every successful mutating operation on the entity store emits one
// structured JSON event so security tooling can reconstruct who changed
// what, when, in which tenant.
package audit

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MutationEvent is one auditable mutation with the context SIEM pipelines
// key on.
type MutationEvent struct {
	Timestamp  time.Time  `json:"timestamp"`
	Operation  string     `json:"operation"` // create, update, transition, reopen, soft_delete, restore, purge
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	ActorID    uuid.UUID  `json:"actor_id"`
	Version    int64      `json:"version"`            // version after the write
	Cascaded   int        `json:"cascaded,omitempty"` // children touched by cascade
	Purged     int64      `json:"purged,omitempty"`   // rows removed by a purge sweep
	Reason     string     `json:"reason,omitempty"`   // sanitized deletion reason
}

// MutationAuditor logs mutation events under a dedicated logger namespace so
// they are filterable downstream without parsing application logs.
type MutationAuditor struct {
	logger *zap.Logger
}

// NewMutationAuditor creates an auditor writing under the "mutation_audit"
// namespace.
func NewMutationAuditor(logger *zap.Logger) *MutationAuditor {
	return &MutationAuditor{logger: logger.Named("mutation_audit")}
}

// Record emits one audit event at INFO level. Events are advisory: a logging
// failure never fails the mutation that produced it.
func (a *MutationAuditor) Record(event MutationEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	fields := []zap.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("operation", event.Operation),
		zap.String("entity_type", event.EntityType),
		zap.String("entity_id", event.EntityID.String()),
		zap.String("tenant_id", event.TenantID.String()),
		zap.String("actor_id", event.ActorID.String()),
		zap.Int64("version", event.Version),
	}
	if event.Cascaded > 0 {
		fields = append(fields, zap.Int("cascaded", event.Cascaded))
	}
	if event.Purged > 0 {
		fields = append(fields, zap.Int64("purged", event.Purged))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}

	a.logger.Info("entity mutation", fields...)
}
