package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/niuyj2008/performance-commission-system/commission"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// PROJECTS
// =============================================================================

const projectColumns = `id, code, name, stage, building_area, building_type, floors, building_form,
	podium_ratio, basement_ratio, flags_json, total_commission, status, period, has_addition,
	created_at, updated_at`

func scanProject(row scanner) (*commission.Project, error) {
	var (
		p                    commission.Project
		flags                string
		hasAddition          int
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Stage, &p.BuildingArea, &p.BuildingType, &p.Floors, &p.Form,
		&p.PodiumRatio, &p.BasementRatio, &flags, &p.TotalCommission, &p.Status, &p.Period, &hasAddition,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(flags), &p.Flags); err != nil {
		return nil, fmt.Errorf("project %s flags: %w", p.ID, err)
	}
	p.HasAddition = hasAddition != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (s *Store) getProject(ctx context.Context, where string, arg any) (*commission.Project, error) {
	p, err := scanProject(s.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id commission.ProjectID) (*commission.Project, error) {
	return s.getProject(ctx, "id = ?", string(id))
}

func (s *Store) GetProjectByCode(ctx context.Context, code string) (*commission.Project, error) {
	return s.getProject(ctx, "code = ?", code)
}

func (s *Store) ListProjects(ctx context.Context) ([]commission.Project, error) {
	rows, err := s.query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, code`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []commission.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) SaveProject(ctx context.Context, p commission.Project) error {
	flags, err := json.Marshal(p.Flags)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			stage = excluded.stage,
			building_area = excluded.building_area,
			building_type = excluded.building_type,
			floors = excluded.floors,
			building_form = excluded.building_form,
			podium_ratio = excluded.podium_ratio,
			basement_ratio = excluded.basement_ratio,
			flags_json = excluded.flags_json,
			total_commission = excluded.total_commission,
			status = excluded.status,
			period = excluded.period,
			has_addition = excluded.has_addition,
			updated_at = excluded.updated_at`,
		string(p.ID), p.Code, p.Name, string(p.Stage), p.BuildingArea, string(p.BuildingType), p.Floors, string(p.Form),
		p.PodiumRatio, p.BasementRatio, string(flags), p.TotalCommission, string(p.Status), p.Period, boolInt(p.HasAddition),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProject removes the project; owned rows go with it by cascade.
func (s *Store) DeleteProject(ctx context.Context, id commission.ProjectID) error {
	if _, err := s.exec(ctx, `DELETE FROM projects WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func scanEmployee(row scanner) (*commission.Employee, error) {
	var (
		e         commission.Employee
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.Name, &e.DepartmentID, &e.Role, &createdAt); err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func (s *Store) GetEmployee(ctx context.Context, id commission.EmployeeID) (*commission.Employee, error) {
	e, err := scanEmployee(s.queryRow(ctx,
		`SELECT id, name, department_id, role, created_at FROM employees WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]commission.Employee, error) {
	rows, err := s.query(ctx, `SELECT id, name, department_id, role, created_at FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	out := []commission.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) SaveEmployee(ctx context.Context, e commission.Employee) error {
	_, err := s.exec(ctx, `
		INSERT INTO employees (id, name, department_id, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			department_id = excluded.department_id,
			role = excluded.role`,
		string(e.ID), e.Name, string(e.DepartmentID), string(e.Role), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("save employee %s: %w", e.ID, err)
	}
	return nil
}

// =============================================================================
// AREA MIX
// =============================================================================

func (s *Store) ListAreaMix(ctx context.Context, projectID commission.ProjectID) ([]commission.AreaMixEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, project_id, area_type, location, area, notes
		FROM area_mix_entries WHERE project_id = ? ORDER BY position`, string(projectID))
	if err != nil {
		return nil, fmt.Errorf("list area mix: %w", err)
	}
	defer rows.Close()

	out := []commission.AreaMixEntry{}
	for rows.Next() {
		var e commission.AreaMixEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.AreaType, &e.Location, &e.Area, &e.Notes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceAreaMix(ctx context.Context, projectID commission.ProjectID, entries []commission.AreaMixEntry) error {
	return s.WithTx(ctx, func(cs commission.Store) error {
		tx := cs.(*Store)
		if _, err := tx.exec(ctx, `DELETE FROM area_mix_entries WHERE project_id = ?`, string(projectID)); err != nil {
			return fmt.Errorf("clear area mix: %w", err)
		}
		for i, e := range entries {
			_, err := tx.exec(ctx, `
				INSERT INTO area_mix_entries (id, project_id, position, area_type, location, area, notes)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				e.ID, string(projectID), i, e.AreaType, e.Location, e.Area, e.Notes)
			if err != nil {
				return fmt.Errorf("insert area mix entry: %w", err)
			}
		}
		return nil
	})
}

// =============================================================================
// DEPARTMENT ALLOCATIONS
// =============================================================================

func scanAllocation(row scanner) (*commission.DepartmentAllocation, error) {
	var (
		a         commission.DepartmentAllocation
		updatedAt string
	)
	if err := row.Scan(&a.ProjectID, &a.DepartmentID, &a.AllocatedAmount, &a.Weight, &updatedAt); err != nil {
		return nil, err
	}
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func (s *Store) ListAllocations(ctx context.Context, projectID commission.ProjectID) ([]commission.DepartmentAllocation, error) {
	rows, err := s.query(ctx, `
		SELECT project_id, department_id, allocated_amount, weight, updated_at
		FROM department_allocations WHERE project_id = ?
		ORDER BY CASE WHEN department_id = 'chief' THEN 0 ELSE 1 END, department_id`, string(projectID))
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	out := []commission.DepartmentAllocation{}
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) GetAllocation(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID) (*commission.DepartmentAllocation, error) {
	a, err := scanAllocation(s.queryRow(ctx, `
		SELECT project_id, department_id, allocated_amount, weight, updated_at
		FROM department_allocations WHERE project_id = ? AND department_id = ?`, string(projectID), string(dept)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get allocation: %w", err)
	}
	return a, nil
}

// ReplaceAllocations deletes then inserts the whole set for a project.
func (s *Store) ReplaceAllocations(ctx context.Context, projectID commission.ProjectID, allocs []commission.DepartmentAllocation) error {
	return s.WithTx(ctx, func(cs commission.Store) error {
		tx := cs.(*Store)
		if _, err := tx.exec(ctx, `DELETE FROM department_allocations WHERE project_id = ?`, string(projectID)); err != nil {
			return fmt.Errorf("clear allocations: %w", err)
		}
		for _, a := range allocs {
			_, err := tx.exec(ctx, `
				INSERT INTO department_allocations (project_id, department_id, allocated_amount, weight, updated_at)
				VALUES (?, ?, ?, ?, ?)`,
				string(projectID), string(a.DepartmentID), a.AllocatedAmount, a.Weight, formatTime(a.UpdatedAt))
			if err != nil {
				return fmt.Errorf("insert allocation %s: %w", a.DepartmentID, err)
			}
		}
		return nil
	})
}

// =============================================================================
// PAYMENT STAGES
// =============================================================================

const stageColumns = `id, project_id, stage_date, stage_name, previous_ratio, current_ratio, total_ratio, notes, seq, used`

func scanStage(row scanner) (*commission.PaymentStage, error) {
	var (
		st   commission.PaymentStage
		date string
		used int
	)
	err := row.Scan(&st.ID, &st.ProjectID, &date, &st.Name, &st.PreviousRatio, &st.CurrentRatio, &st.TotalRatio,
		&st.Notes, &st.Seq, &used)
	if err != nil {
		return nil, err
	}
	st.Date = parseDate(date)
	st.Used = used != 0
	return &st, nil
}

func (s *Store) ListStages(ctx context.Context, projectID commission.ProjectID) ([]commission.PaymentStage, error) {
	rows, err := s.query(ctx, `SELECT `+stageColumns+` FROM payment_stages
		WHERE project_id = ? ORDER BY stage_date, seq`, string(projectID))
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	out := []commission.PaymentStage{}
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *Store) GetStage(ctx context.Context, id commission.StageID) (*commission.PaymentStage, error) {
	st, err := scanStage(s.queryRow(ctx, `SELECT `+stageColumns+` FROM payment_stages WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage: %w", err)
	}
	return st, nil
}

// SaveStage upserts a stage. An update never clears the used flag.
func (s *Store) SaveStage(ctx context.Context, st commission.PaymentStage) error {
	_, err := s.exec(ctx, `
		INSERT INTO payment_stages (`+stageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			stage_date = excluded.stage_date,
			stage_name = excluded.stage_name,
			previous_ratio = excluded.previous_ratio,
			current_ratio = excluded.current_ratio,
			total_ratio = excluded.total_ratio,
			notes = excluded.notes,
			seq = excluded.seq,
			used = CASE WHEN payment_stages.used = 1 THEN 1 ELSE excluded.used END`,
		string(st.ID), string(st.ProjectID), st.DateKey(), st.Name, st.PreviousRatio, st.CurrentRatio, st.TotalRatio,
		st.Notes, st.Seq, boolInt(st.Used))
	if err != nil {
		return fmt.Errorf("save stage %s: %w", st.ID, err)
	}
	return nil
}

func (s *Store) DeleteStage(ctx context.Context, id commission.StageID) error {
	if _, err := s.exec(ctx, `DELETE FROM payment_stages WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete stage %s: %w", id, err)
	}
	return nil
}

func (s *Store) MarkStageUsed(ctx context.Context, id commission.StageID) error {
	res, err := s.exec(ctx, `UPDATE payment_stages SET used = 1 WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("mark stage %s used: %w", id, err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return &commission.NotFoundError{Kind: "payment stage", ID: string(id)}
	}
	return nil
}

// =============================================================================
// EMPLOYEE DISTRIBUTIONS
// =============================================================================

func (s *Store) ListDistributions(ctx context.Context, f commission.DistributionFilter) ([]commission.Distribution, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause, value string) {
		if value != "" {
			where = append(where, clause)
			args = append(args, value)
		}
	}
	add("project_id = ?", string(f.ProjectID))
	add("department_id = ?", string(f.DepartmentID))
	add("employee_id = ?", string(f.EmployeeID))
	add("payment_stage_id = ?", string(f.StageID))

	query := `SELECT project_id, department_id, employee_id, amount, payment_stage_id, notes, updated_at
		FROM employee_distributions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY project_id, department_id, employee_id"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	defer rows.Close()

	out := []commission.Distribution{}
	for rows.Next() {
		var (
			d         commission.Distribution
			stageID   sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&d.ProjectID, &d.DepartmentID, &d.EmployeeID, &d.Amount, &stageID, &d.Notes, &updatedAt); err != nil {
			return nil, err
		}
		d.StageID = commission.StageID(stageID.String)
		d.UpdatedAt = parseTime(updatedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SaveDistribution(ctx context.Context, d commission.Distribution) error {
	_, err := s.exec(ctx, `
		INSERT INTO employee_distributions (project_id, department_id, employee_id, amount, payment_stage_id, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, department_id, employee_id) DO UPDATE SET
			amount = excluded.amount,
			payment_stage_id = excluded.payment_stage_id,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		string(d.ProjectID), string(d.DepartmentID), string(d.EmployeeID), d.Amount,
		nullString(string(d.StageID)), d.Notes, formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save distribution: %w", err)
	}
	return nil
}

func (s *Store) DeleteDistribution(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID, employeeID commission.EmployeeID) (bool, error) {
	res, err := s.exec(ctx, `
		DELETE FROM employee_distributions
		WHERE project_id = ? AND department_id = ? AND employee_id = ?`,
		string(projectID), string(dept), string(employeeID))
	if err != nil {
		return false, fmt.Errorf("delete distribution: %w", err)
	}
	return affected(res)
}

// ReplaceDistributions deletes then inserts every row of one department.
func (s *Store) ReplaceDistributions(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID, ds []commission.Distribution) error {
	return s.WithTx(ctx, func(cs commission.Store) error {
		tx := cs.(*Store)
		_, err := tx.exec(ctx, `DELETE FROM employee_distributions WHERE project_id = ? AND department_id = ?`,
			string(projectID), string(dept))
		if err != nil {
			return fmt.Errorf("clear distributions: %w", err)
		}
		for _, d := range ds {
			d.ProjectID, d.DepartmentID = projectID, dept
			if err := tx.SaveDistribution(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// PAYMENT RECORDS
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, r commission.PaymentRecord) error {
	_, err := s.exec(ctx, `
		INSERT INTO payment_records (id, project_id, employee_id, amount, paid_at, batch, notes, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.ProjectID), string(r.EmployeeID), r.Amount, formatTime(r.Date),
		r.Batch, r.Notes, r.CreatedBy, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("append payment: %w", err)
	}
	return nil
}

// ListPayments filters by key columns in SQL and by date range in Go.
func (s *Store) ListPayments(ctx context.Context, f commission.PaymentFilter) ([]commission.PaymentRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause, value string) {
		if value != "" {
			where = append(where, clause)
			args = append(args, value)
		}
	}
	add("project_id = ?", string(f.ProjectID))
	add("employee_id = ?", string(f.EmployeeID))
	add("batch = ?", f.Batch)

	query := `SELECT id, project_id, employee_id, amount, paid_at, batch, notes, created_by, created_at
		FROM payment_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	out := []commission.PaymentRecord{}
	for rows.Next() {
		var (
			r                 commission.PaymentRecord
			paidAt, createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.EmployeeID, &r.Amount, &paidAt, &r.Batch, &r.Notes, &r.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		r.Date = parseTime(paidAt)
		r.CreatedAt = parseTime(createdAt)
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortPayments(out)
	return out, nil
}

func sortPayments(rs []commission.PaymentRecord) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].Date.Before(rs[j-1].Date); j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}

func (s *Store) DeletePayment(ctx context.Context, id commission.PaymentID) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM payment_records WHERE id = ?`, string(id))
	if err != nil {
		return false, fmt.Errorf("delete payment: %w", err)
	}
	return affected(res)
}

// =============================================================================
// PROJECT ADDITIONS
// =============================================================================

func (s *Store) ListAdditions(ctx context.Context, projectID commission.ProjectID) ([]commission.Addition, error) {
	rows, err := s.query(ctx, `
		SELECT id, project_id, seq, previous_area, new_area, area_change, new_total_commission,
			already_paid, incremental_commission, notes, created_at
		FROM project_additions WHERE project_id = ? ORDER BY seq`, string(projectID))
	if err != nil {
		return nil, fmt.Errorf("list additions: %w", err)
	}
	defer rows.Close()

	out := []commission.Addition{}
	for rows.Next() {
		var (
			a         commission.Addition
			createdAt string
		)
		err := rows.Scan(&a.ID, &a.ProjectID, &a.Seq, &a.PreviousArea, &a.NewArea, &a.AreaChange, &a.NewTotalCommission,
			&a.AlreadyPaid, &a.IncrementalCommission, &a.Notes, &createdAt)
		if err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AppendAddition(ctx context.Context, a commission.Addition) error {
	_, err := s.exec(ctx, `
		INSERT INTO project_additions (id, project_id, seq, previous_area, new_area, area_change,
			new_total_commission, already_paid, incremental_commission, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.ProjectID), a.Seq, a.PreviousArea, a.NewArea, a.AreaChange,
		a.NewTotalCommission, a.AlreadyPaid, a.IncrementalCommission, a.Notes, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("append addition: %w", err)
	}
	return nil
}

// =============================================================================
// CONFIG DOCUMENTS - coefficients.BlobStore
// =============================================================================

func (s *Store) LoadDocument(ctx context.Context, name string) ([]byte, bool, error) {
	var data string
	err := s.queryRow(ctx, `SELECT data FROM config_documents WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load document %s: %w", name, err)
	}
	return []byte(data), true, nil
}

func (s *Store) SaveDocument(ctx context.Context, name string, data []byte) error {
	_, err := s.exec(ctx, `
		INSERT INTO config_documents (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save document %s: %w", name, err)
	}
	return nil
}
