/*
store.go - Persistence interface for commission records

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never issues SQL; it reads and writes records through Store and wraps
  every multi-row mutation in TxStore.WithTx.

KEY INTERFACES:
  Store:   Record reads and writes by primary and composite keys
  TxStore: Store plus WithTx for atomic multi-row operations

ATOMIC REPLACES:
  ReplaceAllocations, ReplaceAreaMix and ReplaceDistributions swap a whole
  set of rows. Inside WithTx they are all-or-nothing together with any
  other writes the callback performs.

NOT FOUND:
  Single-record getters return (nil, nil) when the record does not exist.
  Callers turn that into a NotFoundError with the context they have.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite and PostgreSQL
  - commission/store/memory.go: In-memory for tests and demos

SEE ALSO:
  - payment/ledger.go, distribution/reconciler.go: main consumers
*/
package commission

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// DistributionFilter selects distributions. Zero fields match everything.
type DistributionFilter struct {
	ProjectID    ProjectID
	DepartmentID DepartmentID
	EmployeeID   EmployeeID
	StageID      StageID
}

// Matches reports whether d passes the filter.
func (f DistributionFilter) Matches(d Distribution) bool {
	return (f.ProjectID == "" || d.ProjectID == f.ProjectID) &&
		(f.DepartmentID == "" || d.DepartmentID == f.DepartmentID) &&
		(f.EmployeeID == "" || d.EmployeeID == f.EmployeeID) &&
		(f.StageID == "" || d.StageID == f.StageID)
}

// PaymentFilter selects payment records. Zero fields match everything.
type PaymentFilter struct {
	ProjectID  ProjectID
	EmployeeID EmployeeID
	Batch      string
	From       *time.Time
	To         *time.Time
}

// Matches reports whether r passes the filter.
func (f PaymentFilter) Matches(r PaymentRecord) bool {
	return (f.ProjectID == "" || r.ProjectID == f.ProjectID) &&
		(f.EmployeeID == "" || r.EmployeeID == f.EmployeeID) &&
		(f.Batch == "" || r.Batch == f.Batch) &&
		(f.From == nil || !r.Date.Before(*f.From)) &&
		(f.To == nil || !r.Date.After(*f.To))
}

// =============================================================================
// STORE
// =============================================================================

// Store persists every commission record.
type Store interface {
	// Projects
	GetProject(ctx context.Context, id ProjectID) (*Project, error)
	GetProjectByCode(ctx context.Context, code string) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	SaveProject(ctx context.Context, p Project) error
	DeleteProject(ctx context.Context, id ProjectID) error

	// Employees
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
	SaveEmployee(ctx context.Context, e Employee) error

	// Area-mix table
	ListAreaMix(ctx context.Context, projectID ProjectID) ([]AreaMixEntry, error)
	ReplaceAreaMix(ctx context.Context, projectID ProjectID, entries []AreaMixEntry) error

	// Department allocations
	ListAllocations(ctx context.Context, projectID ProjectID) ([]DepartmentAllocation, error)
	GetAllocation(ctx context.Context, projectID ProjectID, dept DepartmentID) (*DepartmentAllocation, error)
	ReplaceAllocations(ctx context.Context, projectID ProjectID, allocs []DepartmentAllocation) error

	// Payment stages, ordered by date then Seq
	ListStages(ctx context.Context, projectID ProjectID) ([]PaymentStage, error)
	GetStage(ctx context.Context, id StageID) (*PaymentStage, error)
	SaveStage(ctx context.Context, s PaymentStage) error
	DeleteStage(ctx context.Context, id StageID) error
	MarkStageUsed(ctx context.Context, id StageID) error

	// Employee distributions, unique per (project, department, employee)
	ListDistributions(ctx context.Context, f DistributionFilter) ([]Distribution, error)
	SaveDistribution(ctx context.Context, d Distribution) error
	DeleteDistribution(ctx context.Context, projectID ProjectID, dept DepartmentID, employeeID EmployeeID) (bool, error)
	ReplaceDistributions(ctx context.Context, projectID ProjectID, dept DepartmentID, ds []Distribution) error

	// Payment records, insert/delete only
	AppendPayment(ctx context.Context, r PaymentRecord) error
	ListPayments(ctx context.Context, f PaymentFilter) ([]PaymentRecord, error)
	DeletePayment(ctx context.Context, id PaymentID) (bool, error)

	// Project additions, append-only
	ListAdditions(ctx context.Context, projectID ProjectID) ([]Addition, error)
	AppendAddition(ctx context.Context, a Addition) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
