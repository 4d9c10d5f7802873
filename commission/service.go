/*
service.go - Project-level orchestration

PURPOSE:
  Connects the pure calculator and allocator to the store. Every operation
  that writes more than one row runs inside TxStore.WithTx, and the
  configuration snapshot is fetched once per operation so a concurrent
  configuration update never mixes two versions in one result.

OPERATIONS:
  Projects:    CreateProject, GetProject, ListProjects, DeleteProject
  Pricing:     Calculate, RecalculateProject, CommissionDetail
  Area mix:    AreaMix, ReplaceAreaMix
  Allocation:  PreviewAllocation, AllocateProject, Allocations
  Additions:   PreviewAddition, RecordAddition, Additions

SEE ALSO:
  - payments.go: Employees and payment records
  - payment/ledger.go: Payment stages
  - distribution/reconciler.go: Employee distributions
  - locks.go: (project, department) locks shared with the reconciler
*/
package commission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/niuyj2008/performance-commission-system/logger"
	"github.com/shopspring/decimal"
)

// Service is the project-level entry point of the engine.
type Service struct {
	Store  TxStore
	Config *coefficients.Service
	Locks  *KeyedLocks

	Now   func() time.Time
	NewID func() string
}

func NewService(store TxStore, config *coefficients.Service) *Service {
	return &Service{
		Store:  store,
		Config: config,
		Locks:  NewKeyedLocks(),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

func (s *Service) calculator(ctx context.Context) (*Calculator, error) {
	snap, err := s.Config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return NewCalculator(snap), nil
}

// =============================================================================
// PROJECTS
// =============================================================================

// CreateProject validates p, prices it and stores it.
func (s *Service) CreateProject(ctx context.Context, p Project) (*Project, error) {
	p.Code = strings.TrimSpace(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	if p.Code == "" {
		return nil, &InvalidInputError{Field: "code", Reason: "is required"}
	}
	if p.Name == "" {
		return nil, &InvalidInputError{Field: "name", Reason: "is required"}
	}
	if !p.Stage.Valid() {
		return nil, &InvalidInputError{Field: "stage", Reason: fmt.Sprintf("unknown design stage %q", p.Stage)}
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if !p.Status.Valid() {
		return nil, &InvalidInputError{Field: "status", Reason: fmt.Sprintf("unknown status %q", p.Status)}
	}
	attrs := p.Attributes()
	p.Floors, p.Form, p.BuildingType = attrs.Floors, attrs.Form, attrs.Type

	calc, err := s.calculator(ctx)
	if err != nil {
		return nil, err
	}
	res, err := calc.Calculate(attrs)
	if err != nil {
		return nil, err
	}

	if p.ID == "" {
		p.ID = ProjectID(s.NewID())
	}
	p.TotalCommission = res.TotalCommission
	p.CreatedAt = s.Now()
	p.UpdatedAt = p.CreatedAt

	err = s.Store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetProjectByCode(ctx, p.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			return &InvalidInputError{Field: "code", Reason: fmt.Sprintf("%q is already used by project %s", p.Code, existing.ID)}
		}
		return tx.SaveProject(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "project created", "project_id", p.ID, "code", p.Code, "total_commission", p.TotalCommission)
	return &p, nil
}

// GetProject returns the project or a NotFoundError.
func (s *Service) GetProject(ctx context.Context, id ProjectID) (*Project, error) {
	return mustProject(ctx, s.Store, id)
}

func (s *Service) ListProjects(ctx context.Context) ([]Project, error) {
	return s.Store.ListProjects(ctx)
}

// DeleteProject removes the project and everything it owns.
func (s *Service) DeleteProject(ctx context.Context, id ProjectID) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := mustProject(ctx, tx, id); err != nil {
			return err
		}
		return tx.DeleteProject(ctx, id)
	})
}

func mustProject(ctx context.Context, st Store, id ProjectID) (*Project, error) {
	p, err := st.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Kind: "project", ID: string(id)}
	}
	return p, nil
}

// =============================================================================
// PRICING
// =============================================================================

// Calculate prices attrs against the current configuration.
func (s *Service) Calculate(ctx context.Context, attrs Attributes) (Result, error) {
	calc, err := s.calculator(ctx)
	if err != nil {
		return Result{}, err
	}
	return calc.Calculate(attrs)
}

// RecalculateProject reprices the project and refreshes its cached total.
func (s *Service) RecalculateProject(ctx context.Context, id ProjectID) (Result, error) {
	calc, err := s.calculator(ctx)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = s.Store.WithTx(ctx, func(tx Store) error {
		p, err := mustProject(ctx, tx, id)
		if err != nil {
			return err
		}
		res, err = calc.Calculate(p.Attributes())
		if err != nil {
			return err
		}
		p.TotalCommission = res.TotalCommission
		p.UpdatedAt = s.Now()
		return tx.SaveProject(ctx, *p)
	})
	return res, err
}

// CommissionDetail is a project's total against what has been paid.
type CommissionDetail struct {
	Project   Project
	Total     decimal.Decimal
	Paid      decimal.Decimal
	Remaining decimal.Decimal
}

// CommissionDetail reports total, paid and remaining = max(0, total − paid).
func (s *Service) CommissionDetail(ctx context.Context, id ProjectID) (*CommissionDetail, error) {
	p, err := mustProject(ctx, s.Store, id)
	if err != nil {
		return nil, err
	}
	paid, err := paidForProject(ctx, s.Store, id)
	if err != nil {
		return nil, err
	}
	return &CommissionDetail{
		Project:   *p,
		Total:     p.TotalCommission,
		Paid:      paid,
		Remaining: MaxZero(p.TotalCommission.Sub(paid)),
	}, nil
}

func paidForProject(ctx context.Context, st Store, id ProjectID) (decimal.Decimal, error) {
	records, err := st.ListPayments(ctx, PaymentFilter{ProjectID: id})
	if err != nil {
		return decimal.Zero, err
	}
	paid := decimal.Zero
	for _, r := range records {
		paid = paid.Add(r.Amount)
	}
	return paid, nil
}

// =============================================================================
// AREA MIX
// =============================================================================

func (s *Service) AreaMix(ctx context.Context, id ProjectID) ([]AreaMixEntry, error) {
	if _, err := mustProject(ctx, s.Store, id); err != nil {
		return nil, err
	}
	return s.Store.ListAreaMix(ctx, id)
}

// ReplaceAreaMix swaps the project's whole area-mix table.
func (s *Service) ReplaceAreaMix(ctx context.Context, id ProjectID, entries []AreaMixEntry) ([]AreaMixEntry, error) {
	out := make([]AreaMixEntry, len(entries))
	for i, e := range entries {
		e.AreaType = strings.TrimSpace(e.AreaType)
		if e.AreaType == "" {
			return nil, &InvalidInputError{Field: fmt.Sprintf("entries[%d].area_type", i), Reason: "is required"}
		}
		if e.Area.IsNegative() {
			return nil, &InvalidInputError{Field: fmt.Sprintf("entries[%d].area", i), Reason: "must not be negative"}
		}
		e.ProjectID = id
		if e.ID == "" {
			e.ID = s.NewID()
		}
		out[i] = e
	}

	err := s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := mustProject(ctx, tx, id); err != nil {
			return err
		}
		return tx.ReplaceAreaMix(ctx, id, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// ALLOCATION
// =============================================================================

// PreviewAllocation runs the allocator without touching the store.
func (s *Service) PreviewAllocation(ctx context.Context, total decimal.Decimal, stage DesignStage, mix []AreaMixEntry) (Allocation, error) {
	snap, err := s.Config.Snapshot(ctx)
	if err != nil {
		return Allocation{}, err
	}
	return Allocate(snap, total, stage, mix)
}

// AllocateProject reprices the project, allocates its total for the
// project's stage and replaces every department allocation row at once.
// A department whose existing distributions exceed its new amount blocks
// the whole run.
//
// The run holds the (project, department) lock of every configured and
// previously allocated department, so no distribution write can slip in
// between the cap check and the new allocation rows.
func (s *Service) AllocateProject(ctx context.Context, id ProjectID) (Allocation, error) {
	snap, err := s.Config.Snapshot(ctx)
	if err != nil {
		return Allocation{}, err
	}
	calc := NewCalculator(snap)

	keys, err := s.allocationKeys(ctx, snap, id)
	if err != nil {
		return Allocation{}, err
	}
	unlock := s.Locks.Lock(keys...)
	defer unlock()

	var alloc Allocation
	err = s.Store.WithTx(ctx, func(tx Store) error {
		p, err := mustProject(ctx, tx, id)
		if err != nil {
			return err
		}
		res, err := calc.Calculate(p.Attributes())
		if err != nil {
			return err
		}
		mix, err := tx.ListAreaMix(ctx, id)
		if err != nil {
			return err
		}
		alloc, err = Allocate(snap, res.TotalCommission, p.Stage, mix)
		if err != nil {
			if md, ok := err.(*MissingDataError); ok {
				md.ProjectID = id
			}
			return err
		}

		existing, err := tx.ListDistributions(ctx, DistributionFilter{ProjectID: id})
		if err != nil {
			return err
		}
		distributed := map[DepartmentID]decimal.Decimal{}
		for _, d := range existing {
			distributed[d.DepartmentID] = distributed[d.DepartmentID].Add(d.Amount)
		}
		for dept, sum := range distributed {
			cap := alloc.Allocations[dept].Amount
			if sum.GreaterThan(cap) {
				return NewLimitExceeded(ScopeDepartment, id, dept, cap, sum, decimal.Zero)
			}
		}

		now := s.Now()
		if err := tx.ReplaceAllocations(ctx, id, alloc.Rows(id, now)); err != nil {
			return err
		}
		p.TotalCommission = res.TotalCommission
		p.UpdatedAt = now
		return tx.SaveProject(ctx, *p)
	})
	if err != nil {
		return Allocation{}, err
	}

	if len(alloc.Breakdown.UnknownAreaTypes) > 0 {
		logger.Warn(ctx, "area types without department weights were ignored",
			"project_id", id, "area_types", alloc.Breakdown.UnknownAreaTypes)
	}
	logger.Info(ctx, "project allocated", "project_id", id,
		"stage_amount", alloc.StageAmount, "chief_amount", alloc.ChiefAmount)
	return alloc, nil
}

// allocationKeys lists the lock keys AllocateProject must hold for id.
func (s *Service) allocationKeys(ctx context.Context, snap *coefficients.Snapshot, id ProjectID) ([]LockKey, error) {
	keys := []LockKey{{ProjectID: id, DepartmentID: DeptChief}}
	for _, d := range snap.Departments() {
		keys = append(keys, LockKey{ProjectID: id, DepartmentID: DepartmentID(d.ID)})
	}
	previous, err := s.Store.ListAllocations(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, a := range previous {
		keys = append(keys, LockKey{ProjectID: id, DepartmentID: a.DepartmentID})
	}
	return keys, nil
}

// Allocations returns the persisted department allocations of a project.
func (s *Service) Allocations(ctx context.Context, id ProjectID) ([]DepartmentAllocation, error) {
	if _, err := mustProject(ctx, s.Store, id); err != nil {
		return nil, err
	}
	return s.Store.ListAllocations(ctx, id)
}

// =============================================================================
// ADDITIONS
// =============================================================================

// PreviewAddition reprices the project at newArea against what was paid.
func (s *Service) PreviewAddition(ctx context.Context, id ProjectID, newArea decimal.Decimal) (AdditionResult, error) {
	calc, err := s.calculator(ctx)
	if err != nil {
		return AdditionResult{}, err
	}
	p, err := mustProject(ctx, s.Store, id)
	if err != nil {
		return AdditionResult{}, err
	}
	paid, err := paidForProject(ctx, s.Store, id)
	if err != nil {
		return AdditionResult{}, err
	}
	return calc.CalculateAddition(p.Attributes(), newArea, paid)
}

// RecordAddition appends an addition, moves the project to newArea and
// refreshes its cached total.
func (s *Service) RecordAddition(ctx context.Context, id ProjectID, newArea decimal.Decimal, notes string) (*Addition, error) {
	calc, err := s.calculator(ctx)
	if err != nil {
		return nil, err
	}

	var add Addition
	err = s.Store.WithTx(ctx, func(tx Store) error {
		p, err := mustProject(ctx, tx, id)
		if err != nil {
			return err
		}
		paid, err := paidForProject(ctx, tx, id)
		if err != nil {
			return err
		}
		res, err := calc.CalculateAddition(p.Attributes(), newArea, paid)
		if err != nil {
			return err
		}
		previous, err := tx.ListAdditions(ctx, id)
		if err != nil {
			return err
		}

		now := s.Now()
		add = Addition{
			ID:                    s.NewID(),
			ProjectID:             id,
			Seq:                   len(previous) + 1,
			PreviousArea:          p.BuildingArea,
			NewArea:               newArea,
			AreaChange:            newArea.Sub(p.BuildingArea),
			NewTotalCommission:    res.NewTotalCommission,
			AlreadyPaid:           res.AlreadyPaid,
			IncrementalCommission: res.IncrementalCommission,
			Notes:                 notes,
			CreatedAt:             now,
		}
		if err := tx.AppendAddition(ctx, add); err != nil {
			return err
		}

		p.BuildingArea = newArea
		p.TotalCommission = res.NewTotalCommission
		p.HasAddition = true
		p.UpdatedAt = now
		return tx.SaveProject(ctx, *p)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "project addition recorded", "project_id", id, "seq", add.Seq,
		"incremental_commission", add.IncrementalCommission)
	return &add, nil
}

func (s *Service) Additions(ctx context.Context, id ProjectID) ([]Addition, error) {
	if _, err := mustProject(ctx, s.Store, id); err != nil {
		return nil, err
	}
	return s.Store.ListAdditions(ctx, id)
}
