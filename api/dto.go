/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND RATIOS:
  Amounts and ratios are decimals. Responses encode them as JSON strings
  ("1234.50"); requests accept strings or numbers.

DATES:
  Calendar dates are YYYY-MM-DD. Timestamps are RFC 3339.

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/distribution"
	"github.com/niuyj2008/performance-commission-system/payment"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// PROJECTS
// =============================================================================

// ProjectDTO represents a project in API responses.
type ProjectDTO struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Stage         string          `json:"stage"`
	BuildingArea  decimal.Decimal `json:"building_area"`
	BuildingType  string          `json:"building_type"`
	Floors        int             `json:"floors"`
	Form          string          `json:"building_form"`
	PodiumRatio   decimal.Decimal `json:"podium_ratio"`
	BasementRatio decimal.Decimal `json:"basement_ratio"`
	commission.AttributeFlags
	TotalCommission decimal.Decimal `json:"total_commission"`
	Status          string          `json:"status"`
	Period          string          `json:"period,omitempty"`
	HasAddition     bool            `json:"has_addition"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

func toProjectDTO(p commission.Project) ProjectDTO {
	return ProjectDTO{
		ID:              string(p.ID),
		Code:            p.Code,
		Name:            p.Name,
		Stage:           string(p.Stage),
		BuildingArea:    p.BuildingArea,
		BuildingType:    string(p.BuildingType),
		Floors:          p.Floors,
		Form:            string(p.Form),
		PodiumRatio:     p.PodiumRatio,
		BasementRatio:   p.BasementRatio,
		AttributeFlags:  p.Flags,
		TotalCommission: p.TotalCommission,
		Status:          string(p.Status),
		Period:          p.Period,
		HasAddition:     p.HasAddition,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
}

// AttributesRequest is the priced part of a project. Flags are flattened:
// {"building_area": 10000, "has_basement": true}.
type AttributesRequest struct {
	BuildingArea  decimal.Decimal `json:"building_area"`
	BuildingType  string          `json:"building_type"`
	Stage         string          `json:"stage"`
	Floors        int             `json:"floors"`
	Form          string          `json:"building_form"`
	PodiumRatio   decimal.Decimal `json:"podium_ratio"`
	BasementRatio decimal.Decimal `json:"basement_ratio"`
	commission.AttributeFlags
}

func (a AttributesRequest) toAttributes() commission.Attributes {
	return commission.Attributes{
		Area:          a.BuildingArea,
		Type:          commission.BuildingType(a.BuildingType),
		Stage:         commission.DesignStage(a.Stage),
		Floors:        a.Floors,
		Form:          commission.BuildingForm(a.Form),
		PodiumRatio:   a.PodiumRatio,
		BasementRatio: a.BasementRatio,
		Flags:         a.AttributeFlags,
	}
}

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Period string `json:"period"`
	AttributesRequest
}

func (r CreateProjectRequest) toProject() commission.Project {
	a := r.toAttributes()
	return commission.Project{
		Code:          r.Code,
		Name:          r.Name,
		Stage:         a.Stage,
		BuildingArea:  a.Area,
		BuildingType:  a.Type,
		Floors:        a.Floors,
		Form:          a.Form,
		PodiumRatio:   a.PodiumRatio,
		BasementRatio: a.BasementRatio,
		Flags:         a.Flags,
		Status:        commission.ProjectStatus(r.Status),
		Period:        r.Period,
	}
}

// CommissionDetailDTO is a project's total against what has been paid.
type CommissionDetailDTO struct {
	Project   ProjectDTO      `json:"project"`
	Total     decimal.Decimal `json:"total_commission"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
}

// =============================================================================
// AREA MIX AND ALLOCATION
// =============================================================================

// AreaMixDTO is one area-mix row, in requests and responses.
type AreaMixDTO struct {
	ID       string          `json:"id,omitempty"`
	AreaType string          `json:"area_type"`
	Location string          `json:"location,omitempty"`
	Area     decimal.Decimal `json:"area"`
	Notes    string          `json:"notes,omitempty"`
}

func toAreaMixDTOs(entries []commission.AreaMixEntry) []AreaMixDTO {
	out := make([]AreaMixDTO, len(entries))
	for i, e := range entries {
		out[i] = AreaMixDTO{ID: e.ID, AreaType: e.AreaType, Location: e.Location, Area: e.Area, Notes: e.Notes}
	}
	return out
}

func fromAreaMixDTOs(rows []AreaMixDTO) []commission.AreaMixEntry {
	out := make([]commission.AreaMixEntry, len(rows))
	for i, r := range rows {
		out[i] = commission.AreaMixEntry{ID: r.ID, AreaType: r.AreaType, Location: r.Location, Area: r.Area, Notes: r.Notes}
	}
	return out
}

// ReplaceAreaMixRequest is the body of PUT /api/projects/{id}/area-mix.
type ReplaceAreaMixRequest struct {
	Entries []AreaMixDTO `json:"entries"`
}

// AreaMixImportDTO reports an imported area-mix sheet.
type AreaMixImportDTO struct {
	Entries    []AreaMixDTO `json:"entries"`
	Unresolved []string     `json:"unresolved,omitempty"`
	Saved      bool         `json:"saved"`
}

// AllocateRequest is the body of POST /api/commission/allocate.
type AllocateRequest struct {
	TotalCommission decimal.Decimal `json:"total_commission"`
	Stage           string          `json:"stage"`
	AreaMix         []AreaMixDTO    `json:"area_mix"`
}

// DepartmentAllocationDTO is one stored department cap.
type DepartmentAllocationDTO struct {
	DepartmentID    string          `json:"department_id"`
	DepartmentName  string          `json:"department_name"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	Weight          decimal.Decimal `json:"weight"`
	UpdatedAt       string          `json:"updated_at"`
}

// AdditionRequest is the body of POST /api/projects/{id}/additions.
type AdditionRequest struct {
	NewArea decimal.Decimal `json:"new_area"`
	Notes   string          `json:"notes"`
}

// AdditionDTO represents a recorded area change.
type AdditionDTO struct {
	ID                    string          `json:"id"`
	Seq                   int             `json:"seq"`
	PreviousArea          decimal.Decimal `json:"previous_area"`
	NewArea               decimal.Decimal `json:"new_area"`
	AreaChange            decimal.Decimal `json:"area_change"`
	NewTotalCommission    decimal.Decimal `json:"new_total_commission"`
	AlreadyPaid           decimal.Decimal `json:"already_paid"`
	IncrementalCommission decimal.Decimal `json:"incremental_commission"`
	Notes                 string          `json:"notes,omitempty"`
	CreatedAt             string          `json:"created_at"`
}

func toAdditionDTO(a commission.Addition) AdditionDTO {
	return AdditionDTO{
		ID:                    a.ID,
		Seq:                   a.Seq,
		PreviousArea:          a.PreviousArea,
		NewArea:               a.NewArea,
		AreaChange:            a.AreaChange,
		NewTotalCommission:    a.NewTotalCommission,
		AlreadyPaid:           a.AlreadyPaid,
		IncrementalCommission: a.IncrementalCommission,
		Notes:                 a.Notes,
		CreatedAt:             a.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// PAYMENT STAGES
// =============================================================================

// StageRequest is one submitted payment stage. An empty ID creates a stage.
type StageRequest struct {
	ID           string          `json:"id,omitempty"`
	Date         string          `json:"date"`
	Name         string          `json:"name"`
	CurrentRatio decimal.Decimal `json:"current_ratio"`
	TotalRatio   decimal.Decimal `json:"total_ratio"`
	Notes        string          `json:"notes,omitempty"`
}

func (s StageRequest) toInput(index int) (payment.StageInput, error) {
	date, err := time.Parse(commission.DateLayout, s.Date)
	if err != nil {
		return payment.StageInput{}, &commission.InvalidInputError{
			Field:  fieldAt("stages", index, "date"),
			Reason: "must be a YYYY-MM-DD date",
		}
	}
	return payment.StageInput{
		ID:           commission.StageID(s.ID),
		Date:         date,
		Name:         s.Name,
		CurrentRatio: s.CurrentRatio,
		TotalRatio:   s.TotalRatio,
		Notes:        s.Notes,
	}, nil
}

// ReplaceStagesRequest is the body of PUT /api/projects/{id}/stages.
type ReplaceStagesRequest struct {
	Stages []StageRequest `json:"stages"`
}

// StageDTO represents a stored payment stage.
type StageDTO struct {
	ID            string          `json:"id"`
	Date          string          `json:"date"`
	Name          string          `json:"name"`
	PreviousRatio decimal.Decimal `json:"previous_ratio"`
	CurrentRatio  decimal.Decimal `json:"current_ratio"`
	TotalRatio    decimal.Decimal `json:"total_ratio"`
	Notes         string          `json:"notes,omitempty"`
	Used          bool            `json:"used"`
}

func toStageDTO(s commission.PaymentStage) StageDTO {
	return StageDTO{
		ID:            string(s.ID),
		Date:          s.DateKey(),
		Name:          s.Name,
		PreviousRatio: s.PreviousRatio,
		CurrentRatio:  s.CurrentRatio,
		TotalRatio:    s.TotalRatio,
		Notes:         s.Notes,
		Used:          s.Used,
	}
}

func toStageDTOs(stages []commission.PaymentStage) []StageDTO {
	out := make([]StageDTO, len(stages))
	for i, s := range stages {
		out[i] = toStageDTO(s)
	}
	return out
}

// StageViewDTO is a stage with its distribution annotations.
type StageViewDTO struct {
	StageDTO
	UsageCount       int                        `json:"usage_count"`
	PaidAmount       decimal.Decimal            `json:"paid_amount"`
	PaidByDepartment map[string]decimal.Decimal `json:"paid_by_department"`
}

// StageListDTO is the body of GET /api/projects/{id}/stages.
type StageListDTO struct {
	ProjectID             string                     `json:"project_id"`
	Stages                []StageViewDTO             `json:"stages"`
	TotalPaidAmount       decimal.Decimal            `json:"total_paid_amount"`
	TotalPaidByDepartment map[string]decimal.Decimal `json:"total_paid_by_department"`
}

func toStageListDTO(l *payment.StageList) StageListDTO {
	out := StageListDTO{
		ProjectID:             string(l.ProjectID),
		Stages:                make([]StageViewDTO, len(l.Stages)),
		TotalPaidAmount:       l.TotalPaidAmount,
		TotalPaidByDepartment: byDepartment(l.TotalPaidByDepartment),
	}
	for i, s := range l.Stages {
		out.Stages[i] = StageViewDTO{
			StageDTO:         toStageDTO(s.PaymentStage),
			UsageCount:       s.UsageCount,
			PaidAmount:       s.PaidAmount,
			PaidByDepartment: byDepartment(s.PaidByDepartment),
		}
	}
	return out
}

func byDepartment(m map[commission.DepartmentID]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

// =============================================================================
// DISTRIBUTIONS
// =============================================================================

// DistributionRequest is one employee's amount within a department.
type DistributionRequest struct {
	EmployeeID string          `json:"employee_id"`
	Amount     decimal.Decimal `json:"amount"`
	StageID    string          `json:"payment_stage_id,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

func (d DistributionRequest) toEntry() distribution.Entry {
	return distribution.Entry{
		EmployeeID: commission.EmployeeID(d.EmployeeID),
		Amount:     d.Amount,
		StageID:    commission.StageID(d.StageID),
		Notes:      d.Notes,
	}
}

func toEntries(rows []DistributionRequest) []distribution.Entry {
	out := make([]distribution.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.toEntry()
	}
	return out
}

// BatchDistributeRequest is the body of PUT .../distributions.
type BatchDistributeRequest struct {
	Distributions []DistributionRequest `json:"distributions"`
}

// PersonalAllocationRequest is the body of POST .../personal-allocations.
type PersonalAllocationRequest struct {
	Allocations []DistributionRequest `json:"allocations"`
}

// DistributionDTO represents a stored distribution.
type DistributionDTO struct {
	ProjectID      string          `json:"project_id"`
	DepartmentID   string          `json:"department_id"`
	DepartmentName string          `json:"department_name,omitempty"`
	EmployeeID     string          `json:"employee_id"`
	EmployeeName   string          `json:"employee_name,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	StageID        string          `json:"payment_stage_id,omitempty"`
	StageName      string          `json:"payment_stage_name,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	UpdatedAt      string          `json:"updated_at"`
}

func toDistributionDTO(d commission.Distribution) DistributionDTO {
	return DistributionDTO{
		ProjectID:    string(d.ProjectID),
		DepartmentID: string(d.DepartmentID),
		EmployeeID:   string(d.EmployeeID),
		Amount:       d.Amount,
		StageID:      string(d.StageID),
		Notes:        d.Notes,
		UpdatedAt:    d.UpdatedAt.Format(time.RFC3339),
	}
}

func toDistributionDTOs(rows []commission.Distribution) []DistributionDTO {
	out := make([]DistributionDTO, len(rows))
	for i, d := range rows {
		out[i] = toDistributionDTO(d)
	}
	return out
}

func toDistributionViewDTOs(views []distribution.DistributionView) []DistributionDTO {
	out := make([]DistributionDTO, len(views))
	for i, v := range views {
		dto := toDistributionDTO(v.Distribution)
		dto.EmployeeName = v.EmployeeName
		dto.DepartmentName = v.DepartmentName
		dto.StageName = v.StageName
		out[i] = dto
	}
	return out
}

// UpsertResultDTO reports a stored distribution and the headroom left.
type UpsertResultDTO struct {
	Distribution        DistributionDTO  `json:"distribution"`
	DepartmentRemaining decimal.Decimal  `json:"department_remaining"`
	StageRemaining      *decimal.Decimal `json:"stage_remaining,omitempty"`
}

// PersonalAllocationsDTO lists a project's employee rows and balances.
type PersonalAllocationsDTO struct {
	Allocations []DistributionDTO      `json:"allocations"`
	Summary     []distribution.Balance `json:"summary"`
}

// =============================================================================
// EMPLOYEES AND PAYMENTS
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DepartmentID string `json:"department_id"`
	Role         string `json:"role"`
	CreatedAt    string `json:"created_at"`
}

func toEmployeeDTO(e commission.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:           string(e.ID),
		Name:         e.Name,
		DepartmentID: string(e.DepartmentID),
		Role:         string(e.Role),
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
	}
}

// CreateEmployeeRequest is the body of POST /api/employees.
type CreateEmployeeRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	DepartmentID string `json:"department_id"`
	Role         string `json:"role,omitempty"`
}

// PaymentRequest is one payment to record.
type PaymentRequest struct {
	ProjectID  string          `json:"project_id"`
	EmployeeID string          `json:"employee_id"`
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"payment_date"`
	Batch      string          `json:"payment_batch,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

// An empty date means today.
func (p PaymentRequest) toInput(index int) (commission.PaymentInput, error) {
	var date time.Time
	if p.Date != "" {
		var err error
		if date, err = time.Parse(commission.DateLayout, p.Date); err != nil {
			return commission.PaymentInput{}, &commission.InvalidInputError{
				Field:  fieldAt("payments", index, "payment_date"),
				Reason: "must be a YYYY-MM-DD date",
			}
		}
	}
	return commission.PaymentInput{
		ProjectID:  commission.ProjectID(p.ProjectID),
		EmployeeID: commission.EmployeeID(p.EmployeeID),
		Amount:     p.Amount,
		Date:       date,
		Batch:      p.Batch,
		Notes:      p.Notes,
	}, nil
}

// RecordPaymentsRequest is the body of POST /api/payments. A body without
// "payments" is read as a single PaymentRequest.
type RecordPaymentsRequest struct {
	Payments []PaymentRequest `json:"payments"`
}

// PaymentDTO represents a payment record.
type PaymentDTO struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	EmployeeID string          `json:"employee_id"`
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"payment_date"`
	Batch      string          `json:"payment_batch,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

func toPaymentDTOs(records []commission.PaymentRecord) []PaymentDTO {
	out := make([]PaymentDTO, len(records))
	for i, r := range records {
		out[i] = PaymentDTO{
			ID:         string(r.ID),
			ProjectID:  string(r.ProjectID),
			EmployeeID: string(r.EmployeeID),
			Amount:     r.Amount,
			Date:       r.Date.Format(commission.DateLayout),
			Batch:      r.Batch,
			Notes:      r.Notes,
			CreatedBy:  r.CreatedBy,
			CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

// =============================================================================
// CONFIGURATION AND SCENARIOS
// =============================================================================

// ConfigUpdateDTO reports the document version after a write.
type ConfigUpdateDTO struct {
	Version int    `json:"version"`
	Section string `json:"section,omitempty"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioResultDTO lists what a loaded scenario created.
type ScenarioResultDTO struct {
	Scenario  ScenarioDTO   `json:"scenario"`
	Project   ProjectDTO    `json:"project"`
	Employees []EmployeeDTO `json:"employees"`
}
