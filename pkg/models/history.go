package models

import (
	"time"

	"github.com/google/uuid"
)

// Operation labels what kind of mutation produced a history record.
const (
	OperationCreate     = "create"
	OperationUpdate     = "update"
	OperationTransition = "transition"
	OperationReopen     = "reopen"
	OperationSoftDelete = "soft_delete"
	OperationRestore    = "restore"
	OperationCascade    = "cascade_delete"
	OperationPurge      = "purge"
)

// HistoryRecord is one immutable revision of an entity: the complete state as
// it existed immediately before a mutating write, authoritative over
// [ValidFrom, ValidTo). Rows are appended already closed — ValidFrom is the
// instant the captured state became authoritative and ValidTo is the mutation
// that superseded it. The live entity row covers everything after the newest
// ValidTo. Keyed by (entity_id, version).
type HistoryRecord struct {
	EntityID   uuid.UUID  `json:"entity_id"`
	Version    int64      `json:"version"` // version of the captured state
	TenantID   uuid.UUID  `json:"tenant_id"`
	EntityType EntityType `json:"entity_type"`
	Snapshot   *Entity    `json:"snapshot"`
	Operation  string     `json:"operation"` // the mutation that superseded this state
	ActorID    uuid.UUID  `json:"actor_id"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidTo    time.Time  `json:"valid_to"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Covers reports whether the record was the authoritative state at t.
func (h *HistoryRecord) Covers(t time.Time) bool {
	return !t.Before(h.ValidFrom) && t.Before(h.ValidTo)
}
