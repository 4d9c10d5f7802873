/*
handlers.go - HTTP API handlers for the commission system

PURPOSE:
  Exposes the commission engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the project service, the payment
  stage ledger and the distribution reconciler.

ENDPOINTS:
  Commission:
    POST   /api/commission/calculate          Price attributes (no project)
    POST   /api/commission/allocate           Allocate a total (no project)

  Projects:
    GET    /api/projects                      List projects
    POST   /api/projects                      Create and price a project
    GET    /api/projects/{id}                 Get project
    DELETE /api/projects/{id}                 Delete project and its records
    POST   /api/projects/{id}/calculate       Reprice with current coefficients
    GET    /api/projects/{id}/commission      Total, paid, remaining
    GET    /api/projects/{id}/additions       Area additions
    POST   /api/projects/{id}/additions       Record (or ?preview=true) an addition

  Area mix and allocation:
    GET    /api/projects/{id}/area-mix
    PUT    /api/projects/{id}/area-mix
    POST   /api/projects/{id}/area-mix/import Upload an .xlsx area-mix sheet
    GET    /api/projects/{id}/allocation      Stored department caps
    POST   /api/projects/{id}/allocation      Run the allocator and store caps
    GET    /api/projects/{id}/balances        Every department's balance

  Payment stages:
    GET    /api/projects/{id}/stages
    PUT    /api/projects/{id}/stages          Replace the whole list
    PUT    /api/projects/{id}/stages/{stageID}
    DELETE /api/projects/{id}/stages/{stageID}

  Distributions:
    GET    /api/projects/{id}/departments/{dept}/balance
    GET    /api/projects/{id}/departments/{dept}/distributions
    POST   /api/projects/{id}/departments/{dept}/distributions   Upsert one
    PUT    /api/projects/{id}/departments/{dept}/distributions   Replace all
    DELETE /api/projects/{id}/departments/{dept}/distributions/{employeeID}
    GET    /api/projects/{id}/personal-allocations
    POST   /api/projects/{id}/personal-allocations  Cross-department entry

  Employees and payments:
    GET/POST /api/employees, GET /api/employees/{id}/summary
    GET/POST /api/payments, DELETE /api/payments/{id}
    GET    /api/payments/summary/employees
    GET    /api/payments/summary/departments

  Configuration:
    GET    /api/config
    PUT    /api/config/{section}
    POST   /api/config/reset

ERROR HANDLING:
  Engine errors are returned as JSON {"error", "code", "details"}:
  - 400: invalid_input, invalid_config
  - 404: not_found
  - 409: conflict (payment stage in use)
  - 422: limit_exceeded, missing_data
  - 500: everything else (message withheld, logged with the request ID)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Bearer tokens and role checks
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/distribution"
	"github.com/niuyj2008/performance-commission-system/logger"
	"github.com/niuyj2008/performance-commission-system/payment"
	"github.com/niuyj2008/performance-commission-system/workbook"
)

// maxUploadBytes bounds area-mix uploads and configuration bodies.
const maxUploadBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Commission *commission.Service
	Ledger     *payment.Ledger
	Reconciler *distribution.Reconciler
	Config     *coefficients.Service

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engine services over one store and configuration.
func NewHandler(store commission.TxStore, config *coefficients.Service) *Handler {
	svc := commission.NewService(store, config)
	return &Handler{
		Commission: svc,
		Ledger:     payment.NewLedger(store),
		Reconciler: distribution.NewReconciler(store, config, svc.Locks),
		Config:     config,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// COMMISSION
// =============================================================================

// Calculate prices a set of attributes without storing anything.
// POST /api/commission/calculate
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req AttributesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Commission.Calculate(r.Context(), req.toAttributes())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Allocate splits a total across departments without storing anything.
// POST /api/commission/allocate
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	alloc, err := h.Commission.PreviewAllocation(r.Context(), req.TotalCommission,
		commission.DesignStage(req.Stage), fromAreaMixDTOs(req.AreaMix))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

// =============================================================================
// PROJECTS
// =============================================================================

// ListProjects returns all projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Commission.ListProjects(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProject validates, prices and stores a project.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Commission.CreateProject(r.Context(), req.toProject())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(*p))
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.Commission.GetProject(r.Context(), projectID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(*p))
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.Commission.DeleteProject(r.Context(), projectID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecalculateProject reprices a stored project and refreshes its total.
// POST /api/projects/{id}/calculate
func (h *Handler) RecalculateProject(w http.ResponseWriter, r *http.Request) {
	res, err := h.Commission.RecalculateProject(r.Context(), projectID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetCommission returns total, paid and remaining.
// GET /api/projects/{id}/commission
func (h *Handler) GetCommission(w http.ResponseWriter, r *http.Request) {
	d, err := h.Commission.CommissionDetail(r.Context(), projectID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CommissionDetailDTO{
		Project:   toProjectDTO(d.Project),
		Total:     d.Total,
		Paid:      d.Paid,
		Remaining: d.Remaining,
	})
}

func (h *Handler) ListAdditions(w http.ResponseWriter, r *http.Request) {
	adds, err := h.Commission.Additions(r.Context(), projectID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]AdditionDTO, len(adds))
	for i, a := range adds {
		dtos[i] = toAdditionDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordAddition reprices the project at a new area. With ?preview=true
// nothing is stored and the calculation is returned instead.
// POST /api/projects/{id}/additions
func (h *Handler) RecordAddition(w http.ResponseWriter, r *http.Request) {
	var req AdditionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	id := projectID(r)

	if queryBool(r, "preview") {
		res, err := h.Commission.PreviewAddition(ctx, id, req.NewArea)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	add, err := h.Commission.RecordAddition(ctx, id, req.NewArea, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdditionDTO(*add))
}

// =============================================================================
// AREA MIX AND ALLOCATION
// =============================================================================

func (h *Handler) GetAreaMix(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Commission.AreaMix(r.Context(), projectID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAreaMixDTOs(entries))
}

func (h *Handler) ReplaceAreaMix(w http.ResponseWriter, r *http.Request) {
	var req ReplaceAreaMixRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entries, err := h.Commission.ReplaceAreaMix(r.Context(), projectID(r), fromAreaMixDTOs(req.Entries))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAreaMixDTOs(entries))
}

// ImportAreaMix reads an uploaded .xlsx sheet (multipart field "file" or
// the raw body) and replaces the project's area mix. With ?dry_run=true
// the parsed rows are returned without being stored.
// POST /api/projects/{id}/area-mix/import
func (h *Handler) ImportAreaMix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := projectID(r)

	body, err := uploadedFile(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	snap, err := h.Config.Snapshot(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	parsed, err := workbook.ImportAreaMix(body, snap.ResolveAreaType)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := AreaMixImportDTO{Entries: toAreaMixDTOs(parsed.Entries), Unresolved: parsed.Unresolved}
	if !queryBool(r, "dry_run") {
		saved, err := h.Commission.ReplaceAreaMix(ctx, id, parsed.Entries)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out.Entries = toAreaMixDTOs(saved)
		out.Saved = true
	}
	if len(parsed.Unresolved) > 0 {
		logger.Warn(ctx, "imported area types not in configuration", "project_id", id, "labels", parsed.Unresolved)
	}
	writeJSON(w, http.StatusOK, out)
}

func uploadedFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, &commission.InvalidInputError{Field: "file", Reason: "multipart field is required"}
		}
		return f, nil
	}
	return r.Body, nil
}

// GetAllocation returns the stored department caps, chief first.
func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.Commission.Allocations(ctx, projectID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.Config.Snapshot(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]DepartmentAllocationDTO, len(rows))
	for i, a := range rows {
		dtos[i] = DepartmentAllocationDTO{
			DepartmentID:    string(a.DepartmentID),
			DepartmentName:  snap.DepartmentName(string(a.DepartmentID)),
			AllocatedAmount: a.AllocatedAmount,
			Weight:          a.Weight,
			UpdatedAt:       a.UpdatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AllocateProject runs the allocator for the project and stores the caps.
// POST /api/projects/{id}/allocation
func (h *Handler) AllocateProject(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.Commission.AllocateProject(r.Context(), projectID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Reconciler.ProjectBalances(r.Context(), projectID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

// ExportProject streams the project workbook.
// GET /api/projects/{id}/export
func (h *Handler) ExportProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := projectID(r)

	detail, err := h.Commission.CommissionDetail(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report := workbook.ProjectReport{Detail: *detail}
	if report.AreaMix, err = h.Commission.AreaMix(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	if report.Balances, err = h.Reconciler.ProjectBalances(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	if report.Stages, err = h.Ledger.List(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	if report.Distributions, err = h.Reconciler.List(ctx, id, ""); err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", workbook.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", detail.Project.Code+".xlsx"))
	if err := workbook.ExportProject(w, report); err != nil {
		logger.Error(ctx, "workbook export failed", "project_id", id, "error", err)
	}
}

// =============================================================================
// PAYMENT STAGES
// =============================================================================

func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	list, err := h.Ledger.List(r.Context(), projectID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStageListDTO(list))
}

// ReplaceStages submits the full stage list. Used stages must be resent
// unchanged or the request fails with 409 and the blocking stages.
// PUT /api/projects/{id}/stages
func (h *Handler) ReplaceStages(w http.ResponseWriter, r *http.Request) {
	var req ReplaceStagesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inputs := make([]payment.StageInput, len(req.Stages))
	for i, s := range req.Stages {
		in, err := s.toInput(i)
		if err != nil {
			writeError(w, r, err)
			return
		}
		inputs[i] = in
	}
	stages, err := h.Ledger.Replace(r.Context(), projectID(r), inputs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStageDTOs(stages))
}

func (h *Handler) UpdateStage(w http.ResponseWriter, r *http.Request) {
	var req StageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput(0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stageID := commission.StageID(chi.URLParam(r, "stageID"))
	in.ID = stageID
	stages, err := h.Ledger.Update(r.Context(), projectID(r), stageID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStageDTOs(stages))
}

func (h *Handler) DeleteStage(w http.ResponseWriter, r *http.Request) {
	stageID := commission.StageID(chi.URLParam(r, "stageID"))
	if err := h.Ledger.Delete(r.Context(), projectID(r), stageID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DISTRIBUTIONS
// =============================================================================

func (h *Handler) DepartmentBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Reconciler.DepartmentBalance(r.Context(), projectID(r), departmentID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ListDistributions(w http.ResponseWriter, r *http.Request) {
	views, err := h.Reconciler.List(r.Context(), projectID(r), departmentID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionViewDTOs(views))
}

// UpsertDistribution sets one employee's amount within the department.
// POST /api/projects/{id}/departments/{dept}/distributions
func (h *Handler) UpsertDistribution(w http.ResponseWriter, r *http.Request) {
	dept := departmentID(r)
	if !canManageDepartment(r.Context(), dept) {
		writeStatus(w, http.StatusForbidden, "forbidden", "cannot distribute in department "+string(dept))
		return
	}
	var req DistributionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Reconciler.Upsert(r.Context(), distribution.UpsertInput{
		ProjectID:    projectID(r),
		DepartmentID: dept,
		EmployeeID:   commission.EmployeeID(req.EmployeeID),
		Amount:       req.Amount,
		StageID:      commission.StageID(req.StageID),
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpsertResultDTO{
		Distribution:        toDistributionDTO(res.Distribution),
		DepartmentRemaining: res.DepartmentRemaining,
		StageRemaining:      res.StageRemaining,
	})
}

// BatchDistribute replaces the department's whole distribution set.
// PUT /api/projects/{id}/departments/{dept}/distributions
func (h *Handler) BatchDistribute(w http.ResponseWriter, r *http.Request) {
	dept := departmentID(r)
	if !canManageDepartment(r.Context(), dept) {
		writeStatus(w, http.StatusForbidden, "forbidden", "cannot distribute in department "+string(dept))
		return
	}
	var req BatchDistributeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rows, err := h.Reconciler.BatchDistribute(r.Context(), projectID(r), dept, toEntries(req.Distributions))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionDTOs(rows))
}

func (h *Handler) DeleteDistribution(w http.ResponseWriter, r *http.Request) {
	dept := departmentID(r)
	if !canManageDepartment(r.Context(), dept) {
		writeStatus(w, http.StatusForbidden, "forbidden", "cannot distribute in department "+string(dept))
		return
	}
	employeeID := commission.EmployeeID(chi.URLParam(r, "employeeID"))
	if err := h.Reconciler.Delete(r.Context(), projectID(r), dept, employeeID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPersonalAllocations lists employee rows and department balances,
// optionally for ?department= only.
func (h *Handler) GetPersonalAllocations(w http.ResponseWriter, r *http.Request) {
	dept := commission.DepartmentID(r.URL.Query().Get("department"))
	pa, err := h.Reconciler.PersonalAllocations(r.Context(), projectID(r), dept)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PersonalAllocationsDTO{
		Allocations: toDistributionViewDTOs(pa.Allocations),
		Summary:     pa.Summary,
	})
}

// AllocatePersonal records amounts for employees of several departments,
// each routed to the employee's home department.
// POST /api/projects/{id}/personal-allocations
func (h *Handler) AllocatePersonal(w http.ResponseWriter, r *http.Request) {
	var req PersonalAllocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rows, err := h.Reconciler.AllocatePersonal(r.Context(), projectID(r), toEntries(req.Allocations))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionDTOs(rows))
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Commission.ListEmployees(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	emp, err := h.Commission.CreateEmployee(r.Context(), commission.Employee{
		ID:           commission.EmployeeID(req.ID),
		Name:         req.Name,
		DepartmentID: commission.DepartmentID(req.DepartmentID),
		Role:         commission.Role(req.Role),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*emp))
}

// EmployeeSummary lists an employee's distributions across projects.
// GET /api/employees/{id}/summary?period=
func (h *Handler) EmployeeSummary(w http.ResponseWriter, r *http.Request) {
	id := commission.EmployeeID(chi.URLParam(r, "id"))
	sum, err := h.Reconciler.EmployeeSummary(r.Context(), id, r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q, err := paymentQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := h.Commission.Payments(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(records))
}

// RecordPayments accepts {"payments": [...]} or a single payment object.
// POST /api/payments
func (h *Handler) RecordPayments(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, r, &commission.InvalidInputError{Field: "body", Reason: "could not be read"})
		return
	}
	var req RecordPaymentsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, r, &commission.InvalidInputError{Field: "body", Reason: "is not valid JSON"})
		return
	}
	if req.Payments == nil {
		var single PaymentRequest
		if err := json.Unmarshal(raw, &single); err != nil {
			writeError(w, r, &commission.InvalidInputError{Field: "body", Reason: "is not valid JSON"})
			return
		}
		req.Payments = []PaymentRequest{single}
	}

	inputs := make([]commission.PaymentInput, len(req.Payments))
	for i, p := range req.Payments {
		in, err := p.toInput(i)
		if err != nil {
			writeError(w, r, err)
			return
		}
		inputs[i] = in
	}

	principal, _ := PrincipalFrom(r.Context())
	records, err := h.Commission.RecordPayments(r.Context(), principal.UserID, inputs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTOs(records))
}

func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := commission.PaymentID(chi.URLParam(r, "id"))
	if err := h.Commission.DeletePayment(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PaymentSummaryByEmployee(w http.ResponseWriter, r *http.Request) {
	q, err := paymentQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := h.Commission.PaymentSummaryByEmployee(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) PaymentSummaryByDepartment(w http.ResponseWriter, r *http.Request) {
	q, err := paymentQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := h.Commission.PaymentSummaryByDepartment(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// paymentQuery reads project_id, employee_id, batch, period, from and to.
func paymentQuery(r *http.Request) (commission.PaymentQuery, error) {
	v := r.URL.Query()
	q := commission.PaymentQuery{
		PaymentFilter: commission.PaymentFilter{
			ProjectID:  commission.ProjectID(v.Get("project_id")),
			EmployeeID: commission.EmployeeID(v.Get("employee_id")),
			Batch:      v.Get("batch"),
		},
		Period: v.Get("period"),
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		s := v.Get(bound.name)
		if s == "" {
			continue
		}
		t, err := time.Parse(commission.DateLayout, s)
		if err != nil {
			return q, &commission.InvalidInputError{Field: bound.name, Reason: "must be a YYYY-MM-DD date"}
		}
		*bound.dst = &t
	}
	return q, nil
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// GetConfig returns the whole coefficient document.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Config.Document(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ReplaceConfigSection swaps one section; the body is the section's JSON.
// PUT /api/config/{section}
func (h *Handler) ReplaceConfigSection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	section := coefficients.Section(chi.URLParam(r, "section"))
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, r, &commission.InvalidInputError{Field: "body", Reason: "could not be read"})
		return
	}
	snap, err := h.Config.ReplaceSection(ctx, section, raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info(ctx, "coefficient section replaced", "section", section, "version", snap.Version())
	writeJSON(w, http.StatusOK, ConfigUpdateDTO{Version: snap.Version(), Section: string(section)})
}

// ResetConfig restores the built-in coefficient defaults.
func (h *Handler) ResetConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Config.Reset(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info(r.Context(), "coefficient configuration reset", "version", snap.Version())
	writeJSON(w, http.StatusOK, ConfigUpdateDTO{Version: snap.Version()})
}

// =============================================================================
// HELPERS
// =============================================================================

func projectID(r *http.Request) commission.ProjectID {
	return commission.ProjectID(chi.URLParam(r, "id"))
}

func departmentID(r *http.Request) commission.DepartmentID {
	return commission.DepartmentID(chi.URLParam(r, "dept"))
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func fieldAt(list string, index int, field string) string {
	return fmt.Sprintf("%s[%d].%s", list, index, field)
}

// decodeJSON reads the body into v, writing a 400 and returning false on
// malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, &commission.InvalidInputError{Field: "body", Reason: "is not valid JSON: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "invalid_input", "invalid_config":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "limit_exceeded", "missing_data":
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError renders an engine error. Internal errors are logged and their
// message is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := commission.Kind(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: kind})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: kind, Details: detailsOf(err)})
}

// detailsOf extracts the structured part of err, if any.
func detailsOf(err error) any {
	var (
		invalid  *commission.InvalidInputError
		missing  *commission.NotFoundError
		conflict *commission.ConflictError
		limit    *commission.LimitExceededError
		noData   *commission.MissingDataError
		config   *coefficients.ValidationError
	)
	switch {
	case errors.As(err, &limit):
		return limit
	case errors.As(err, &conflict):
		return map[string]any{"stages": conflict.Stages, "usage_count": conflict.UsageCount()}
	case errors.As(err, &invalid):
		return invalid
	case errors.As(err, &missing):
		return missing
	case errors.As(err, &noData):
		return noData
	case errors.As(err, &config):
		return config
	}
	return nil
}
