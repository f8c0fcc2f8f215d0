package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies which domain table family an entity row belongs to.
type EntityType string

const (
	EntityTypeWorkOrder            EntityType = "work_order"
	EntityTypeReport               EntityType = "report"
	EntityTypeAttachment           EntityType = "attachment"
	EntityTypeComment              EntityType = "comment"
	EntityTypeSchool               EntityType = "school"
	EntityTypeUser                 EntityType = "user"
	EntityTypeSupervisorAssignment EntityType = "supervisor_assignment"
)

// IsValidEntityType reports whether t is one of the known entity types.
func IsValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypeWorkOrder, EntityTypeReport, EntityTypeAttachment,
		EntityTypeComment, EntityTypeSchool, EntityTypeUser,
		EntityTypeSupervisorAssignment:
		return true
	}
	return false
}

// Foreign-key payload fields used by dependent entity types.
const (
	// FieldWorkOrderID links reports, attachments and comments to their
	// work order.
	FieldWorkOrderID = "work_order_id"
)

// Payload holds the mutable domain fields of an entity. Stored as JSONB.
type Payload map[string]any

// Clone returns a deep copy of the payload via a JSON round trip, so history
// snapshots never alias live state.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		// Payloads originate from JSONB or JSON request bodies; a
		// marshal failure here means a programming error upstream.
		panic(fmt.Sprintf("payload not JSON-serializable: %v", err))
	}
	var out Payload
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("payload round trip failed: %v", err))
	}
	return out
}

// Entity is the generic versioned envelope shared by every domain record.
// Domain fields live in Payload; the envelope carries identity, tenancy,
// the optimistic-concurrency version counter and the soft-delete markers.
type Entity struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	Type           EntityType `json:"entity_type"`
	OwnerID        uuid.UUID  `json:"owner_id"` // creator; grants delete authority to non-admins
	Payload        Payload    `json:"payload"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      *uuid.UUID `json:"deleted_by,omitempty"`
	DeletionReason *string    `json:"deletion_reason,omitempty"`
}

// IsDeleted reports whether the soft-delete marker is set.
func (e *Entity) IsDeleted() bool {
	return e.DeletedAt != nil
}

// Snapshot returns a deep copy of the entity for history recording.
func (e *Entity) Snapshot() *Entity {
	cp := *e
	cp.Payload = e.Payload.Clone()
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		cp.DeletedAt = &t
	}
	if e.DeletedBy != nil {
		id := *e.DeletedBy
		cp.DeletedBy = &id
	}
	if e.DeletionReason != nil {
		r := *e.DeletionReason
		cp.DeletionReason = &r
	}
	return &cp
}

// Payload field accessors. JSONB round trips hand back map[string]any with
// float64 numbers and RFC 3339 strings, so typed reads go through here.

// String returns the string value at key, or "" if absent.
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Float returns the numeric value at key, or 0 if absent.
func (p Payload) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// Time returns the RFC 3339 timestamp at key, or nil if absent or malformed.
func (p Payload) Time(key string) *time.Time {
	switch v := p[key].(type) {
	case time.Time:
		return &v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil
		}
		return &t
	}
	return nil
}

// UUID returns the UUID at key, or nil if absent or malformed.
func (p Payload) UUID(key string) *uuid.UUID {
	s, ok := p[key].(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

// SetTime stores t at key as an RFC 3339 string, or removes the key when nil.
func (p Payload) SetTime(key string, t *time.Time) {
	if t == nil {
		delete(p, key)
		return
	}
	p[key] = t.Format(time.RFC3339Nano)
}

// SetUUID stores id at key, or removes the key when nil.
func (p Payload) SetUUID(key string, id *uuid.UUID) {
	if id == nil {
		delete(p, key)
		return
	}
	p[key] = id.String()
}
