package apperrors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrTenantMismatch      = errors.New("tenant mismatch")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrAlreadyDeleted      = errors.New("already deleted")
	ErrNotDeleted          = errors.New("not deleted")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrForbidden           = errors.New("forbidden")
	ErrValidationFailed    = errors.New("validation failed")
)
