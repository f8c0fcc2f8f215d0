package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
)

// WorkOrderStatus is a state in the work-order lifecycle.
type WorkOrderStatus string

const (
	StatusPending    WorkOrderStatus = "PENDING"
	StatusInProgress WorkOrderStatus = "IN_PROGRESS"
	StatusOnHold     WorkOrderStatus = "ON_HOLD"
	StatusCompleted  WorkOrderStatus = "COMPLETED"
	StatusCancelled  WorkOrderStatus = "CANCELLED"
	StatusVerified   WorkOrderStatus = "VERIFIED"
)

// workOrderTransitions is the full transition table. Reopening a COMPLETED
// order back to IN_PROGRESS is deliberately absent: it is a distinct action
// (WorkOrder.Reopen), not a normal transition.
var workOrderTransitions = map[WorkOrderStatus][]WorkOrderStatus{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusOnHold, StatusCompleted, StatusCancelled},
	StatusOnHold:     {StatusInProgress, StatusCancelled},
	StatusCompleted:  {StatusVerified},
	StatusCancelled:  {},
	StatusVerified:   {},
}

// IsValidWorkOrderStatus reports whether s is a known status.
func IsValidWorkOrderStatus(s WorkOrderStatus) bool {
	_, ok := workOrderTransitions[s]
	return ok
}

// IsTerminal reports whether no transition leads out of s.
func (s WorkOrderStatus) IsTerminal() bool {
	return len(workOrderTransitions[s]) == 0 && IsValidWorkOrderStatus(s)
}

// CanTransitionTo reports whether target appears in s's transition row.
func (s WorkOrderStatus) CanTransitionTo(target WorkOrderStatus) bool {
	for _, t := range workOrderTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Payload keys for work-order domain fields.
const (
	FieldStatus               = "status"
	FieldTitle                = "title"
	FieldPriority             = "priority"
	FieldSchoolID             = "school_id"
	FieldAssigneeID           = "assignee_id"
	FieldParentWorkOrderID    = "parent_work_order_id"
	FieldApprovedBy           = "approved_by"
	FieldActualStartDate      = "actual_start_date"
	FieldActualEndDate        = "actual_end_date"
	FieldLaborCost            = "labor_cost"
	FieldMaterialCost         = "material_cost"
	FieldOverheadCost         = "overhead_cost"
	FieldActualCost           = "actual_cost"
	FieldActualDurationHours  = "actual_duration_hours"
	FieldCompletionPercentage = "completion_percentage"
)

// WorkOrder is the typed view over a work-order entity payload. Transition
// rules and derived-field recomputation run on this struct as pure functions,
// then flush back to the payload before the versioned write.
type WorkOrder struct {
	Status               WorkOrderStatus
	Title                string
	Priority             string
	SchoolID             *uuid.UUID
	AssigneeID           *uuid.UUID
	ParentWorkOrderID    *uuid.UUID
	ApprovedBy           *uuid.UUID
	ActualStartDate      *time.Time
	ActualEndDate        *time.Time
	LaborCost            float64
	MaterialCost         float64
	OverheadCost         float64
	ActualCost           float64
	ActualDurationHours  float64
	CompletionPercentage float64
}

// WorkOrderFromPayload decodes the work-order fields out of an entity payload.
func WorkOrderFromPayload(p Payload) (*WorkOrder, error) {
	status := WorkOrderStatus(p.String(FieldStatus))
	if status == "" {
		status = StatusPending
	}
	if !IsValidWorkOrderStatus(status) {
		return nil, fmt.Errorf("%w: unknown work order status %q", apperrors.ErrValidationFailed, status)
	}
	return &WorkOrder{
		Status:               status,
		Title:                p.String(FieldTitle),
		Priority:             p.String(FieldPriority),
		SchoolID:             p.UUID(FieldSchoolID),
		AssigneeID:           p.UUID(FieldAssigneeID),
		ParentWorkOrderID:    p.UUID(FieldParentWorkOrderID),
		ApprovedBy:           p.UUID(FieldApprovedBy),
		ActualStartDate:      p.Time(FieldActualStartDate),
		ActualEndDate:        p.Time(FieldActualEndDate),
		LaborCost:            p.Float(FieldLaborCost),
		MaterialCost:         p.Float(FieldMaterialCost),
		OverheadCost:         p.Float(FieldOverheadCost),
		ActualCost:           p.Float(FieldActualCost),
		ActualDurationHours:  p.Float(FieldActualDurationHours),
		CompletionPercentage: p.Float(FieldCompletionPercentage),
	}, nil
}

// ApplyToPayload writes the work-order fields back into p.
func (w *WorkOrder) ApplyToPayload(p Payload) {
	p[FieldStatus] = string(w.Status)
	if w.Title != "" {
		p[FieldTitle] = w.Title
	}
	if w.Priority != "" {
		p[FieldPriority] = w.Priority
	}
	p.SetUUID(FieldSchoolID, w.SchoolID)
	p.SetUUID(FieldAssigneeID, w.AssigneeID)
	p.SetUUID(FieldParentWorkOrderID, w.ParentWorkOrderID)
	p.SetUUID(FieldApprovedBy, w.ApprovedBy)
	p.SetTime(FieldActualStartDate, w.ActualStartDate)
	p.SetTime(FieldActualEndDate, w.ActualEndDate)
	p[FieldLaborCost] = w.LaborCost
	p[FieldMaterialCost] = w.MaterialCost
	p[FieldOverheadCost] = w.OverheadCost
	p[FieldActualCost] = w.ActualCost
	p[FieldActualDurationHours] = w.ActualDurationHours
	p[FieldCompletionPercentage] = w.CompletionPercentage
}

// ApplyTransition moves the work order to target, applying the side effects
// the lifecycle defines:
//   - first entry into IN_PROGRESS stamps actual_start_date
//   - entry into COMPLETED stamps actual_end_date (if unset) and forces
//     completion_percentage to 100
//   - entry into VERIFIED requires approved_by to be set
//
// Returns ErrInvalidTransition if the transition table has no such edge.
func (w *WorkOrder) ApplyTransition(target WorkOrderStatus, now time.Time) error {
	if !IsValidWorkOrderStatus(target) {
		return fmt.Errorf("%w: unknown target status %q", apperrors.ErrInvalidTransition, target)
	}
	if !w.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, w.Status, target)
	}
	if target == StatusVerified && w.ApprovedBy == nil {
		return fmt.Errorf("%w: verification requires approval", apperrors.ErrValidationFailed)
	}

	switch target {
	case StatusInProgress:
		if w.ActualStartDate == nil {
			t := now
			w.ActualStartDate = &t
		}
	case StatusCompleted:
		if w.ActualEndDate == nil {
			t := now
			w.ActualEndDate = &t
		}
		w.CompletionPercentage = 100
	}

	w.Status = target
	w.Recompute()
	return nil
}

// Reopen moves a COMPLETED work order back to IN_PROGRESS. The end date is
// cleared so the duration reflects the still-open interval; the completion
// percentage is left where the field crew last reported it.
func (w *WorkOrder) Reopen() error {
	if w.Status != StatusCompleted {
		return fmt.Errorf("%w: reopen requires COMPLETED, have %s", apperrors.ErrInvalidTransition, w.Status)
	}
	w.Status = StatusInProgress
	w.ActualEndDate = nil
	w.Recompute()
	return nil
}

// Recompute refreshes the derived fields. actual_cost is the sum of the three
// cost components on every write; actual_duration_hours is derived whenever
// both actual dates are present, zero otherwise.
func (w *WorkOrder) Recompute() {
	w.ActualCost = w.LaborCost + w.MaterialCost + w.OverheadCost
	if w.ActualStartDate != nil && w.ActualEndDate != nil {
		w.ActualDurationHours = w.ActualEndDate.Sub(*w.ActualStartDate).Hours()
	} else {
		w.ActualDurationHours = 0
	}
}

// Validate rejects payloads a write must never persist.
func (w *WorkOrder) Validate() error {
	if w.LaborCost < 0 || w.MaterialCost < 0 || w.OverheadCost < 0 {
		return fmt.Errorf("%w: cost fields must be non-negative", apperrors.ErrValidationFailed)
	}
	if w.CompletionPercentage < 0 || w.CompletionPercentage > 100 {
		return fmt.Errorf("%w: completion_percentage must be 0-100", apperrors.ErrValidationFailed)
	}
	if w.ActualStartDate != nil && w.ActualEndDate != nil && w.ActualEndDate.Before(*w.ActualStartDate) {
		return fmt.Errorf("%w: actual_end_date precedes actual_start_date", apperrors.ErrValidationFailed)
	}
	return nil
}
