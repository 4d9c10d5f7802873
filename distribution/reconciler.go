/*
Package distribution assigns department allocations to employees.

PURPOSE:
  Maintains one distribution per (project, department, employee), optionally
  tagged to a payment stage, and guarantees that no committed state ever
  exceeds a cap:

    Σ distributions(project, dept)                 ≤ allocated(project, dept)
    Σ distributions(project, dept, tagged stage s) ≤ round2(allocated × s.current)

CONSISTENCY:
  Every operation validates fully, then writes fully, inside one store
  transaction while holding the in-process lock of each (project,
  department) it touches. Multi-department calls lock in sorted order.

OPERATIONS:
  Upsert           - one employee, department defaults to the home department
  BatchDistribute  - replace every row of one department
  AllocatePersonal - many employees across departments, upserted together
  Delete           - drop one row
  DepartmentBalance, ProjectBalances, List, PersonalAllocations,
  EmployeeSummary  - read models

SEE ALSO:
  - payment/ledger.go: Stages and their Used flag
  - commission/service.go: AllocateProject produces the caps
*/
package distribution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/logger"
	"github.com/shopspring/decimal"
)

// Reconciler enforces department and stage caps on distributions.
type Reconciler struct {
	Store  commission.TxStore
	Config *coefficients.Service
	Now    func() time.Time

	locks *commission.KeyedLocks
}

// NewReconciler checks caps under locks. Pass the commission service's
// Locks so re-allocation and distribution writes exclude each other; nil
// gives the reconciler locks of its own.
func NewReconciler(store commission.TxStore, config *coefficients.Service, locks *commission.KeyedLocks) *Reconciler {
	if locks == nil {
		locks = commission.NewKeyedLocks()
	}
	return &Reconciler{
		Store:  store,
		Config: config,
		Now:    func() time.Time { return time.Now().UTC() },
		locks:  locks,
	}
}

// =============================================================================
// INPUTS AND RESULTS
// =============================================================================

// UpsertInput is a single distribution request. DepartmentID may be empty.
type UpsertInput struct {
	ProjectID    commission.ProjectID
	DepartmentID commission.DepartmentID
	EmployeeID   commission.EmployeeID
	Amount       decimal.Decimal
	StageID      commission.StageID
	Notes        string
}

// UpsertResult reports the stored row and the headroom left after it.
type UpsertResult struct {
	Distribution        commission.Distribution
	DepartmentRemaining decimal.Decimal
	StageRemaining      *decimal.Decimal
}

// Entry is one row of a batch or personal allocation.
type Entry struct {
	EmployeeID commission.EmployeeID
	Amount     decimal.Decimal
	StageID    commission.StageID
	Notes      string
}

// =============================================================================
// VALIDATION - Shared cap checks
// =============================================================================

// capCheck validates incoming rows of one department against its caps.
// base is what stays in the department besides incoming.
type capCheck struct {
	projectID commission.ProjectID
	dept      commission.DepartmentID
	deptName  string
	base      []commission.Distribution
	incoming  []commission.Distribution
}

// run returns the allocation row and the stages referenced by incoming.
func (c capCheck) run(ctx context.Context, tx commission.Store) (*commission.DepartmentAllocation, map[commission.StageID]commission.PaymentStage, error) {
	alloc, err := tx.GetAllocation(ctx, c.projectID, c.dept)
	if err != nil {
		return nil, nil, err
	}
	if alloc == nil {
		return nil, nil, &commission.NotFoundError{
			Kind:   "department allocation",
			ID:     fmt.Sprintf("%s/%s", c.projectID, c.dept),
			Reason: "run allocation first",
		}
	}

	existing := sum(c.base, nil)
	requested := sum(c.incoming, nil)
	if existing.Add(requested).GreaterThan(alloc.AllocatedAmount) {
		e := commission.NewLimitExceeded(commission.ScopeDepartment, c.projectID, c.dept, alloc.AllocatedAmount, existing, requested)
		e.Department = c.deptName
		return nil, nil, e
	}

	stages := map[commission.StageID]commission.PaymentStage{}
	for _, d := range c.incoming {
		if d.StageID == "" {
			continue
		}
		if _, ok := stages[d.StageID]; ok {
			continue
		}
		st, err := tx.GetStage(ctx, d.StageID)
		if err != nil {
			return nil, nil, err
		}
		if st == nil || st.ProjectID != c.projectID {
			return nil, nil, &commission.NotFoundError{Kind: "payment stage", ID: string(d.StageID), Reason: fmt.Sprintf("not a stage of project %s", c.projectID)}
		}
		stages[d.StageID] = *st
	}

	for id, st := range stages {
		tagged := func(d commission.Distribution) bool { return d.StageID == id }
		cap := StageCap(alloc.AllocatedAmount, st)
		existing := sum(c.base, tagged)
		requested := sum(c.incoming, tagged)
		if existing.Add(requested).GreaterThan(cap) {
			e := commission.NewLimitExceeded(commission.ScopeStage, c.projectID, c.dept, cap, existing, requested)
			e.Department = c.deptName
			e.StageID = id
			return nil, nil, e
		}
	}
	return alloc, stages, nil
}

func excluding(rows []commission.Distribution, employees map[commission.EmployeeID]bool) []commission.Distribution {
	out := make([]commission.Distribution, 0, len(rows))
	for _, d := range rows {
		if !employees[d.EmployeeID] {
			out = append(out, d)
		}
	}
	return out
}

func (r *Reconciler) departmentName(ctx context.Context, dept commission.DepartmentID) string {
	snap, err := r.Config.Snapshot(ctx)
	if err != nil {
		return string(dept)
	}
	return snap.DepartmentName(string(dept))
}

func requireProject(ctx context.Context, st commission.Store, id commission.ProjectID) error {
	p, err := st.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return &commission.NotFoundError{Kind: "project", ID: string(id)}
	}
	return nil
}

func requireEmployee(ctx context.Context, st commission.Store, id commission.EmployeeID) (*commission.Employee, error) {
	e, err := st.GetEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &commission.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return e, nil
}

func checkAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return &commission.InvalidInputError{Field: field, Reason: "must not be negative"}
	}
	return nil
}

func markUsed(ctx context.Context, tx commission.Store, stages map[commission.StageID]commission.PaymentStage) error {
	for id, st := range stages {
		if st.Used {
			continue
		}
		if err := tx.MarkStageUsed(ctx, id); err != nil {
			return fmt.Errorf("mark stage %s used: %w", id, err)
		}
	}
	return nil
}

func logRejection(ctx context.Context, op string, err error) {
	if commission.IsClientError(err) {
		logger.Warn(ctx, op+" rejected", "error", err)
	}
}

// =============================================================================
// UPSERT
// =============================================================================

// Upsert stores one employee's distribution if every cap still holds.
func (r *Reconciler) Upsert(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	if err := checkAmount("amount", in.Amount); err != nil {
		return nil, err
	}
	emp, err := requireEmployee(ctx, r.Store, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	dept := in.DepartmentID
	if dept == "" {
		dept = emp.DepartmentID
	}
	if dept != emp.DepartmentID {
		return nil, &commission.InvalidInputError{
			Field:  "department_id",
			Reason: fmt.Sprintf("employee %s belongs to %s, not %s", emp.ID, emp.DepartmentID, dept),
		}
	}
	name := r.departmentName(ctx, dept)

	unlock := r.locks.Lock(commission.LockKey{ProjectID: in.ProjectID, DepartmentID: dept})
	defer unlock()

	row := commission.Distribution{
		ProjectID:    in.ProjectID,
		DepartmentID: dept,
		EmployeeID:   in.EmployeeID,
		Amount:       commission.RoundMoney(in.Amount),
		StageID:      in.StageID,
		Notes:        in.Notes,
		UpdatedAt:    r.Now(),
	}
	var result UpsertResult
	err = r.Store.WithTx(ctx, func(tx commission.Store) error {
		if err := requireProject(ctx, tx, in.ProjectID); err != nil {
			return err
		}
		current, err := tx.ListDistributions(ctx, commission.DistributionFilter{ProjectID: in.ProjectID, DepartmentID: dept})
		if err != nil {
			return err
		}
		check := capCheck{
			projectID: in.ProjectID,
			dept:      dept,
			deptName:  name,
			base:      excluding(current, map[commission.EmployeeID]bool{in.EmployeeID: true}),
			incoming:  []commission.Distribution{row},
		}
		alloc, stages, err := check.run(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.SaveDistribution(ctx, row); err != nil {
			return fmt.Errorf("save distribution: %w", err)
		}
		if err := markUsed(ctx, tx, stages); err != nil {
			return err
		}

		result.Distribution = row
		result.DepartmentRemaining = alloc.AllocatedAmount.Sub(sum(check.base, nil)).Sub(row.Amount)
		if st, ok := stages[row.StageID]; ok {
			tagged := func(d commission.Distribution) bool { return d.StageID == st.ID }
			left := StageCap(alloc.AllocatedAmount, st).Sub(sum(check.base, tagged)).Sub(row.Amount)
			result.StageRemaining = &left
		}
		return nil
	})
	if err != nil {
		logRejection(ctx, "distribution upsert", err)
		return nil, err
	}
	logger.Info(ctx, "distribution saved", "project_id", in.ProjectID, "department_id", dept,
		"employee_id", in.EmployeeID, "amount", row.Amount)
	return &result, nil
}

// =============================================================================
// BATCH DISTRIBUTE
// =============================================================================

// BatchDistribute replaces every distribution of one department with entries.
// Replaying the same entries yields the same rows.
func (r *Reconciler) BatchDistribute(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID, entries []Entry) ([]commission.Distribution, error) {
	now := r.Now()
	rows := make([]commission.Distribution, len(entries))
	seen := map[commission.EmployeeID]bool{}
	for i, e := range entries {
		if err := checkAmount(fmt.Sprintf("distributions[%d].amount", i), e.Amount); err != nil {
			return nil, err
		}
		if seen[e.EmployeeID] {
			return nil, &commission.InvalidInputError{Field: fmt.Sprintf("distributions[%d].employee_id", i), Reason: fmt.Sprintf("employee %s listed twice", e.EmployeeID)}
		}
		seen[e.EmployeeID] = true
		rows[i] = commission.Distribution{
			ProjectID:    projectID,
			DepartmentID: dept,
			EmployeeID:   e.EmployeeID,
			Amount:       commission.RoundMoney(e.Amount),
			StageID:      e.StageID,
			Notes:        e.Notes,
			UpdatedAt:    now,
		}
	}
	name := r.departmentName(ctx, dept)

	unlock := r.locks.Lock(commission.LockKey{ProjectID: projectID, DepartmentID: dept})
	defer unlock()

	err := r.Store.WithTx(ctx, func(tx commission.Store) error {
		if err := requireProject(ctx, tx, projectID); err != nil {
			return err
		}
		for i, row := range rows {
			emp, err := requireEmployee(ctx, tx, row.EmployeeID)
			if err != nil {
				return err
			}
			if emp.DepartmentID != dept {
				return &commission.InvalidInputError{
					Field:  fmt.Sprintf("distributions[%d].employee_id", i),
					Reason: fmt.Sprintf("employee %s belongs to %s, not %s", emp.ID, emp.DepartmentID, dept),
				}
			}
		}
		check := capCheck{projectID: projectID, dept: dept, deptName: name, incoming: rows}
		_, stages, err := check.run(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.ReplaceDistributions(ctx, projectID, dept, rows); err != nil {
			return fmt.Errorf("replace distributions: %w", err)
		}
		return markUsed(ctx, tx, stages)
	})
	if err != nil {
		logRejection(ctx, "batch distribution", err)
		return nil, err
	}
	logger.Info(ctx, "department distributions replaced", "project_id", projectID,
		"department_id", dept, "count", len(rows), "total", sum(rows, nil))
	return rows, nil
}

// =============================================================================
// PERSONAL ALLOCATION - Many employees across departments
// =============================================================================

// AllocatePersonal routes each entry to its employee's home department,
// checks every department and stage cap, then upserts all rows together.
func (r *Reconciler) AllocatePersonal(ctx context.Context, projectID commission.ProjectID, entries []Entry) ([]commission.Distribution, error) {
	if len(entries) == 0 {
		return nil, &commission.InvalidInputError{Field: "allocations", Reason: "must not be empty"}
	}
	now := r.Now()
	byDept := map[commission.DepartmentID][]commission.Distribution{}
	var keys []commission.LockKey
	seen := map[commission.EmployeeID]bool{}

	for i, e := range entries {
		if err := checkAmount(fmt.Sprintf("allocations[%d].amount", i), e.Amount); err != nil {
			return nil, err
		}
		if seen[e.EmployeeID] {
			return nil, &commission.InvalidInputError{Field: fmt.Sprintf("allocations[%d].employee_id", i), Reason: fmt.Sprintf("employee %s listed twice", e.EmployeeID)}
		}
		seen[e.EmployeeID] = true
		emp, err := requireEmployee(ctx, r.Store, e.EmployeeID)
		if err != nil {
			return nil, err
		}
		if _, ok := byDept[emp.DepartmentID]; !ok {
			keys = append(keys, commission.LockKey{ProjectID: projectID, DepartmentID: emp.DepartmentID})
		}
		byDept[emp.DepartmentID] = append(byDept[emp.DepartmentID], commission.Distribution{
			ProjectID:    projectID,
			DepartmentID: emp.DepartmentID,
			EmployeeID:   e.EmployeeID,
			Amount:       commission.RoundMoney(e.Amount),
			StageID:      e.StageID,
			Notes:        e.Notes,
			UpdatedAt:    now,
		})
	}

	unlock := r.locks.Lock(keys...)
	defer unlock()

	depts := make([]commission.DepartmentID, 0, len(byDept))
	for d := range byDept {
		depts = append(depts, d)
	}
	sort.Slice(depts, func(i, j int) bool { return depts[i] < depts[j] })
	names := make(map[commission.DepartmentID]string, len(depts))
	for _, d := range depts {
		names[d] = r.departmentName(ctx, d)
	}

	var saved []commission.Distribution
	err := r.Store.WithTx(ctx, func(tx commission.Store) error {
		if err := requireProject(ctx, tx, projectID); err != nil {
			return err
		}
		used := map[commission.StageID]commission.PaymentStage{}
		for _, dept := range depts {
			current, err := tx.ListDistributions(ctx, commission.DistributionFilter{ProjectID: projectID, DepartmentID: dept})
			if err != nil {
				return err
			}
			check := capCheck{
				projectID: projectID,
				dept:      dept,
				deptName:  names[dept],
				base:      excluding(current, seen),
				incoming:  byDept[dept],
			}
			_, stages, err := check.run(ctx, tx)
			if err != nil {
				return err
			}
			for id, st := range stages {
				used[id] = st
			}
		}

		for _, dept := range depts {
			for _, row := range byDept[dept] {
				if err := tx.SaveDistribution(ctx, row); err != nil {
					return fmt.Errorf("save distribution: %w", err)
				}
				saved = append(saved, row)
			}
		}
		return markUsed(ctx, tx, used)
	})
	if err != nil {
		logRejection(ctx, "personal allocation", err)
		return nil, err
	}
	logger.Info(ctx, "personal allocations saved", "project_id", projectID,
		"departments", len(depts), "count", len(saved))
	return saved, nil
}

// =============================================================================
// DELETE
// =============================================================================

func (r *Reconciler) Delete(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID, employeeID commission.EmployeeID) error {
	unlock := r.locks.Lock(commission.LockKey{ProjectID: projectID, DepartmentID: dept})
	defer unlock()

	ok, err := r.Store.DeleteDistribution(ctx, projectID, dept, employeeID)
	if err != nil {
		return err
	}
	if !ok {
		return &commission.NotFoundError{Kind: "distribution", ID: fmt.Sprintf("%s/%s/%s", projectID, dept, employeeID)}
	}
	return nil
}

// =============================================================================
// READ MODELS
// =============================================================================

// DepartmentBalance returns allocated, distributed and remaining for one
// department of a project.
func (r *Reconciler) DepartmentBalance(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID) (*Balance, error) {
	alloc, err := r.Store.GetAllocation(ctx, projectID, dept)
	if err != nil {
		return nil, err
	}
	if alloc == nil {
		return nil, &commission.NotFoundError{Kind: "department allocation", ID: fmt.Sprintf("%s/%s", projectID, dept), Reason: "run allocation first"}
	}
	rows, err := r.Store.ListDistributions(ctx, commission.DistributionFilter{ProjectID: projectID, DepartmentID: dept})
	if err != nil {
		return nil, err
	}
	b := newBalance(*alloc, r.departmentName(ctx, dept), rows)
	return &b, nil
}

// ProjectBalances returns the balance of every allocated department.
func (r *Reconciler) ProjectBalances(ctx context.Context, projectID commission.ProjectID) ([]Balance, error) {
	if err := requireProject(ctx, r.Store, projectID); err != nil {
		return nil, err
	}
	allocs, err := r.Store.ListAllocations(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rows, err := r.Store.ListDistributions(ctx, commission.DistributionFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	byDept := map[commission.DepartmentID][]commission.Distribution{}
	for _, d := range rows {
		byDept[d.DepartmentID] = append(byDept[d.DepartmentID], d)
	}
	out := make([]Balance, len(allocs))
	for i, a := range allocs {
		out[i] = newBalance(a, r.departmentName(ctx, a.DepartmentID), byDept[a.DepartmentID])
	}
	return out, nil
}

// DistributionView is a distribution with display names resolved.
type DistributionView struct {
	commission.Distribution
	EmployeeName   string
	DepartmentName string
	StageName      string
}

// List returns the distributions of a project, optionally of one department.
func (r *Reconciler) List(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID) ([]DistributionView, error) {
	if err := requireProject(ctx, r.Store, projectID); err != nil {
		return nil, err
	}
	rows, err := r.Store.ListDistributions(ctx, commission.DistributionFilter{ProjectID: projectID, DepartmentID: dept})
	if err != nil {
		return nil, err
	}
	employees, err := r.Store.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[commission.EmployeeID]string, len(employees))
	for _, e := range employees {
		names[e.ID] = e.Name
	}
	stages, err := r.Store.ListStages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stageNames := make(map[commission.StageID]string, len(stages))
	for _, s := range stages {
		stageNames[s.ID] = s.Name
	}

	out := make([]DistributionView, len(rows))
	for i, d := range rows {
		out[i] = DistributionView{
			Distribution:   d,
			EmployeeName:   names[d.EmployeeID],
			DepartmentName: r.departmentName(ctx, d.DepartmentID),
			StageName:      stageNames[d.StageID],
		}
	}
	return out, nil
}

// PersonalAllocations is the per-project view of every employee row plus
// the balance of each allocated department.
type PersonalAllocations struct {
	Allocations []DistributionView
	Summary     []Balance
}

// PersonalAllocations lists a project's distributions and balances. A
// non-empty dept restricts both to that department.
func (r *Reconciler) PersonalAllocations(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID) (*PersonalAllocations, error) {
	views, err := r.List(ctx, projectID, dept)
	if err != nil {
		return nil, err
	}
	balances, err := r.ProjectBalances(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if dept != "" {
		kept := balances[:0]
		for _, b := range balances {
			if b.DepartmentID == dept {
				kept = append(kept, b)
			}
		}
		balances = kept
	}
	return &PersonalAllocations{Allocations: views, Summary: balances}, nil
}

// SummaryItem is one project's distribution to an employee.
type SummaryItem struct {
	ProjectID    commission.ProjectID    `json:"project_id"`
	ProjectCode  string                  `json:"project_code"`
	ProjectName  string                  `json:"project_name"`
	Period       string                  `json:"period"`
	DepartmentID commission.DepartmentID `json:"department_id"`
	StageID      commission.StageID      `json:"stage_id,omitempty"`
	Amount       decimal.Decimal         `json:"amount"`
	Notes        string                  `json:"notes,omitempty"`
}

// EmployeeSummary lists everything distributed to one employee.
type EmployeeSummary struct {
	EmployeeID   commission.EmployeeID `json:"employee_id"`
	EmployeeName string                `json:"employee_name"`
	Period       string                `json:"period,omitempty"`
	Items        []SummaryItem         `json:"items"`
	Total        decimal.Decimal       `json:"total"`
	Count        int                   `json:"count"`
}

// EmployeeSummary returns an employee's distributions across projects,
// latest period first then largest amount, optionally limited to period.
func (r *Reconciler) EmployeeSummary(ctx context.Context, employeeID commission.EmployeeID, period string) (*EmployeeSummary, error) {
	emp, err := requireEmployee(ctx, r.Store, employeeID)
	if err != nil {
		return nil, err
	}
	rows, err := r.Store.ListDistributions(ctx, commission.DistributionFilter{EmployeeID: employeeID})
	if err != nil {
		return nil, err
	}

	out := &EmployeeSummary{EmployeeID: emp.ID, EmployeeName: emp.Name, Period: period, Items: []SummaryItem{}, Total: decimal.Zero}
	projects := map[commission.ProjectID]*commission.Project{}
	for _, d := range rows {
		p, ok := projects[d.ProjectID]
		if !ok {
			if p, err = r.Store.GetProject(ctx, d.ProjectID); err != nil {
				return nil, err
			}
			projects[d.ProjectID] = p
		}
		if p == nil || (period != "" && p.Period != period) {
			continue
		}
		out.Items = append(out.Items, SummaryItem{
			ProjectID:    p.ID,
			ProjectCode:  p.Code,
			ProjectName:  p.Name,
			Period:       p.Period,
			DepartmentID: d.DepartmentID,
			StageID:      d.StageID,
			Amount:       d.Amount,
			Notes:        d.Notes,
		})
		out.Total = out.Total.Add(d.Amount)
	}
	sort.SliceStable(out.Items, func(i, j int) bool {
		a, b := out.Items[i], out.Items[j]
		if a.Period != b.Period {
			return a.Period > b.Period
		}
		return a.Amount.GreaterThan(b.Amount)
	})
	out.Count = len(out.Items)
	return out, nil
}
