package commission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/niuyj2008/performance-commission-system/logger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// CreateEmployee stores e. The home department must be configured or chief.
func (s *Service) CreateEmployee(ctx context.Context, e Employee) (*Employee, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return nil, &InvalidInputError{Field: "name", Reason: "is required"}
	}
	snap, err := s.Config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !e.DepartmentID.IsChief() && !snap.HasDepartment(string(e.DepartmentID)) {
		return nil, &InvalidInputError{Field: "department_id", Reason: fmt.Sprintf("unknown department %q", e.DepartmentID)}
	}
	if e.Role == "" {
		e.Role = RoleEmployee
	}
	if e.ID == "" {
		e.ID = EmployeeID(s.NewID())
	}
	e.CreatedAt = s.Now()
	if err := s.Store.SaveEmployee(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Service) ListEmployees(ctx context.Context) ([]Employee, error) {
	return s.Store.ListEmployees(ctx)
}

// =============================================================================
// PAYMENT RECORDS
// =============================================================================

// PaymentInput is one payment to record.
type PaymentInput struct {
	ProjectID  ProjectID
	EmployeeID EmployeeID
	Amount     decimal.Decimal
	Date       time.Time
	Batch      string
	Notes      string
}

// RecordPayments validates every input, then appends all of them in one
// transaction.
func (s *Service) RecordPayments(ctx context.Context, createdBy string, inputs []PaymentInput) ([]PaymentRecord, error) {
	if len(inputs) == 0 {
		return nil, &InvalidInputError{Field: "payments", Reason: "must not be empty"}
	}
	now := s.Now()
	records := make([]PaymentRecord, len(inputs))
	for i, in := range inputs {
		if !in.Amount.IsPositive() {
			return nil, &InvalidInputError{Field: fmt.Sprintf("payments[%d].amount", i), Reason: "must be greater than zero"}
		}
		date := in.Date
		if date.IsZero() {
			date = now
		}
		records[i] = PaymentRecord{
			ID:         PaymentID(s.NewID()),
			ProjectID:  in.ProjectID,
			EmployeeID: in.EmployeeID,
			Amount:     RoundMoney(in.Amount),
			Date:       date,
			Batch:      in.Batch,
			Notes:      in.Notes,
			CreatedBy:  createdBy,
			CreatedAt:  now,
		}
	}

	err := s.Store.WithTx(ctx, func(tx Store) error {
		for i, r := range records {
			if _, err := mustProject(ctx, tx, r.ProjectID); err != nil {
				return err
			}
			emp, err := tx.GetEmployee(ctx, r.EmployeeID)
			if err != nil {
				return err
			}
			if emp == nil {
				return &NotFoundError{Kind: "employee", ID: string(r.EmployeeID), Reason: fmt.Sprintf("payments[%d]", i)}
			}
		}
		for _, r := range records {
			if err := tx.AppendPayment(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "payments recorded", "count", len(records), "batch", records[0].Batch)
	return records, nil
}

// PaymentQuery filters Payments. Period selects projects by their period label.
type PaymentQuery struct {
	PaymentFilter
	Period string
}

// Payments lists payment records matching q.
func (s *Service) Payments(ctx context.Context, q PaymentQuery) ([]PaymentRecord, error) {
	records, err := s.Store.ListPayments(ctx, q.PaymentFilter)
	if err != nil {
		return nil, err
	}
	if q.Period == "" {
		return records, nil
	}
	inPeriod, err := s.projectsInPeriod(ctx, q.Period)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, r := range records {
		if inPeriod[r.ProjectID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) projectsInPeriod(ctx context.Context, period string) (map[ProjectID]bool, error) {
	projects, err := s.Store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[ProjectID]bool)
	for _, p := range projects {
		if p.Period == period {
			set[p.ID] = true
		}
	}
	return set, nil
}

func (s *Service) DeletePayment(ctx context.Context, id PaymentID) error {
	ok, err := s.Store.DeletePayment(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Kind: "payment", ID: string(id)}
	}
	return nil
}

// =============================================================================
// PAYMENT SUMMARIES
// =============================================================================

// EmployeePaymentSummary totals what one employee has been paid.
type EmployeePaymentSummary struct {
	EmployeeID   EmployeeID      `json:"employee_id"`
	EmployeeName string          `json:"employee_name"`
	DepartmentID DepartmentID    `json:"department_id"`
	Projects     int             `json:"projects"`
	Payments     int             `json:"payments"`
	Total        decimal.Decimal `json:"total"`
}

// DepartmentPaymentSummary totals payments by the payees' home department.
type DepartmentPaymentSummary struct {
	DepartmentID   DepartmentID    `json:"department_id"`
	DepartmentName string          `json:"department_name"`
	Employees      int             `json:"employees"`
	Payments       int             `json:"payments"`
	Total          decimal.Decimal `json:"total"`
}

// PaymentSummaryByEmployee aggregates the payments matching q per employee,
// largest total first.
func (s *Service) PaymentSummaryByEmployee(ctx context.Context, q PaymentQuery) ([]EmployeePaymentSummary, error) {
	records, err := s.Payments(ctx, q)
	if err != nil {
		return nil, err
	}
	employees, err := s.employeeIndex(ctx)
	if err != nil {
		return nil, err
	}

	byEmp := map[EmployeeID]*EmployeePaymentSummary{}
	projects := map[EmployeeID]map[ProjectID]bool{}
	for _, r := range records {
		sum, ok := byEmp[r.EmployeeID]
		if !ok {
			e := employees[r.EmployeeID]
			sum = &EmployeePaymentSummary{EmployeeID: r.EmployeeID, EmployeeName: e.Name, DepartmentID: e.DepartmentID, Total: decimal.Zero}
			byEmp[r.EmployeeID] = sum
			projects[r.EmployeeID] = map[ProjectID]bool{}
		}
		sum.Payments++
		sum.Total = sum.Total.Add(r.Amount)
		projects[r.EmployeeID][r.ProjectID] = true
	}

	out := make([]EmployeePaymentSummary, 0, len(byEmp))
	for id, sum := range byEmp {
		sum.Projects = len(projects[id])
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

// PaymentSummaryByDepartment aggregates the payments matching q per home
// department of the payee.
func (s *Service) PaymentSummaryByDepartment(ctx context.Context, q PaymentQuery) ([]DepartmentPaymentSummary, error) {
	records, err := s.Payments(ctx, q)
	if err != nil {
		return nil, err
	}
	employees, err := s.employeeIndex(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.Config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	byDept := map[DepartmentID]*DepartmentPaymentSummary{}
	payees := map[DepartmentID]map[EmployeeID]bool{}
	for _, r := range records {
		dept := employees[r.EmployeeID].DepartmentID
		sum, ok := byDept[dept]
		if !ok {
			sum = &DepartmentPaymentSummary{DepartmentID: dept, DepartmentName: snap.DepartmentName(string(dept)), Total: decimal.Zero}
			byDept[dept] = sum
			payees[dept] = map[EmployeeID]bool{}
		}
		sum.Payments++
		sum.Total = sum.Total.Add(r.Amount)
		payees[dept][r.EmployeeID] = true
	}

	out := make([]DepartmentPaymentSummary, 0, len(byDept))
	for id, sum := range byDept {
		sum.Employees = len(payees[id])
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartmentID < out[j].DepartmentID })
	return out, nil
}

func (s *Service) employeeIndex(ctx context.Context) (map[EmployeeID]Employee, error) {
	list, err := s.Store.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[EmployeeID]Employee, len(list))
	for _, e := range list {
		idx[e.ID] = e
	}
	return idx, nil
}
