/*
errors.go - Centralized error kinds for the commission engine

PURPOSE:
  Every failure the engine reports to a caller belongs to one of a small set
  of kinds. Structured errors carry the amounts, counts and identifiers a
  caller needs to render an actionable message, and unwrap to the sentinel
  so callers can branch with errors.Is.

ERROR KINDS:
  InvalidInput   - malformed or out-of-range request data
  NotFound       - referenced project/department/allocation/stage missing
  Conflict       - mutation of a payment stage already used by distributions
  LimitExceeded  - a department or stage cap would be breached
  MissingData    - allocation requested without a usable area-mix table
  InvalidConfig  - coefficient document failed validation (coefficients.ErrInvalidDocument)

All kinds are terminal for the request; nothing here is retried internally.

SEE ALSO:
  - api/handlers.go: maps kinds to HTTP status codes
*/
package commission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrMissingData   = errors.New("missing data")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.ID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// UsedStage describes one payment stage that blocked a mutation.
type UsedStage struct {
	ID         StageID `json:"id"`
	Name       string  `json:"name"`
	Date       string  `json:"date"`
	UsageCount int     `json:"usage_count"`
	Reason     string  `json:"reason"`
}

// ConflictError lists every used stage a mutation would have altered.
type ConflictError struct {
	Stages []UsedStage `json:"stages"`
}

// UsageCount is the total number of distributions referencing the stages.
func (e *ConflictError) UsageCount() int {
	n := 0
	for _, s := range e.Stages {
		n += s.UsageCount
	}
	return n
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Stages))
	for i, s := range e.Stages {
		parts[i] = fmt.Sprintf("%s (%s, %d distributions): %s", s.Name, s.Date, s.UsageCount, s.Reason)
	}
	return "payment stage in use: " + strings.Join(parts, "; ")
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// LimitScope says which cap was breached.
type LimitScope string

const (
	ScopeDepartment LimitScope = "department"
	ScopeStage      LimitScope = "stage"
)

// LimitExceededError reports the cap, what is already committed, what was
// requested and how far over the request goes.
type LimitExceededError struct {
	Scope        LimitScope      `json:"scope"`
	ProjectID    ProjectID       `json:"project_id"`
	DepartmentID DepartmentID    `json:"department_id"`
	Department   string          `json:"department,omitempty"`
	StageID      StageID         `json:"stage_id,omitempty"`
	Cap          decimal.Decimal `json:"cap"`
	Existing     decimal.Decimal `json:"existing"`
	Requested    decimal.Decimal `json:"requested"`
	Headroom     decimal.Decimal `json:"headroom"`
	Excess       decimal.Decimal `json:"excess"`
}

// NewLimitExceeded fills Headroom and Excess from cap, existing and requested.
func NewLimitExceeded(scope LimitScope, projectID ProjectID, dept DepartmentID, cap, existing, requested decimal.Decimal) *LimitExceededError {
	headroom := MaxZero(cap.Sub(existing))
	return &LimitExceededError{
		Scope:        scope,
		ProjectID:    projectID,
		DepartmentID: dept,
		Cap:          cap,
		Existing:     existing,
		Requested:    requested,
		Headroom:     headroom,
		Excess:       existing.Add(requested).Sub(cap),
	}
}

func (e *LimitExceededError) Error() string {
	where := string(e.DepartmentID)
	if e.Department != "" {
		where = fmt.Sprintf("%s (%s)", e.Department, e.DepartmentID)
	}
	if e.Scope == ScopeStage {
		where = fmt.Sprintf("%s stage %s", where, e.StageID)
	}
	return fmt.Sprintf("%s cap exceeded for %s: cap %s, already distributed %s, requested %s, available %s, over by %s",
		e.Scope, where, e.Cap, e.Existing, e.Requested, e.Headroom, e.Excess)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// MissingDataError explains which input the caller must supply.
type MissingDataError struct {
	ProjectID ProjectID `json:"project_id,omitempty"`
	Reason    string    `json:"reason"`
}

func (e *MissingDataError) Error() string {
	return "missing data: " + e.Reason
}

func (e *MissingDataError) Unwrap() error { return ErrMissingData }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Kind returns the short name of err's kind, or "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrMissingData):
		return "missing_data"
	case errors.Is(err, coefficients.ErrInvalidDocument):
		return "invalid_config"
	}
	return "internal"
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return Kind(err) != "internal"
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a used-stage conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
