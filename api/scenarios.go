/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario creates a priced project, its area mix,
	a department allocation, a payment schedule and some distributions.

AVAILABLE SCENARIOS:

	office-tower:          Office project allocated and partly distributed
	residential-addition:  Residential project paid in part, then enlarged
	locked-stage:          Project whose first stage is already in use

HOW SCENARIOS WORK:
 1. Ensure the demo employees exist (one per configured department)
 2. Create a project with a fresh code
 3. Store an area mix and run the allocator
 4. Replace the payment schedule
 5. Distribute a share of each department's allocation

Scenarios only add records; nothing is reset. Loading the same scenario
twice creates a second project.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "office-tower"}

SEE ALSO:
  - handlers.go: Route handlers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/distribution"
	"github.com/niuyj2008/performance-commission-system/payment"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "office-tower",
		Name:        "Office Tower",
		Description: "20,000 m² office in construction drawings, allocated by area mix with three payment stages",
	},
	{
		ID:          "residential-addition",
		Name:        "Residential Addition",
		Description: "Residential project partly paid, then enlarged; the addition is priced against what was paid",
	},
	{
		ID:          "locked-stage",
		Name:        "Locked Payment Stage",
		Description: "First payment stage already carries distributions, so editing it is rejected",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, code string) (*commission.Project, error)

var scenarioLoaders = map[string]scenarioLoader{
	"office-tower":         (*Handler).loadOfficeTower,
	"residential-addition": (*Handler).loadResidentialAddition,
	"locked-stage":         (*Handler).loadLockedStage,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scenario, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, r, &commission.InvalidInputError{Field: "scenario_id", Reason: fmt.Sprintf("unknown scenario %q", req.ScenarioID)})
		return
	}

	ctx := r.Context()
	employees, err := h.ensureDemoEmployees(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := fmt.Sprintf("DEMO-%s-%s", strings.ToUpper(scenario.ID), uuid.NewString()[:8])
	project, err := scenarioLoaders[scenario.ID](h, ctx, code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = scenario.ID
	h.mu.Unlock()

	out := ScenarioResultDTO{Scenario: scenario, Project: toProjectDTO(*project)}
	for _, e := range employees {
		out.Employees = append(out.Employees, toEmployeeDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadOfficeTower(ctx context.Context, code string) (*commission.Project, error) {
	p, err := h.Commission.CreateProject(ctx, commission.Project{
		Code:         code,
		Name:         "Riverside Office Tower",
		Stage:        commission.StageConstruction,
		BuildingArea: decimal.NewFromInt(20000),
		BuildingType: commission.TypeOffice,
		Floors:       24,
		Period:       currentPeriod(),
	})
	if err != nil {
		return nil, err
	}
	if err := h.allocateDemo(ctx, p.ID, []commission.AreaMixEntry{
		{AreaType: "central_ac", Location: "Tower floors 3-24", Area: decimal.NewFromInt(16000)},
		{AreaType: "basement_ventilation", Location: "Basement", Area: decimal.NewFromInt(3000)},
		{AreaType: "smoke_only", Location: "Lobby", Area: decimal.NewFromInt(1000)},
	}); err != nil {
		return nil, err
	}
	stages, err := h.Ledger.Replace(ctx, p.ID, demoSchedule())
	if err != nil {
		return nil, err
	}
	if err := h.distributeDemo(ctx, p.ID, stages[0].ID, decimal.RequireFromString("0.3")); err != nil {
		return nil, err
	}
	return h.Commission.GetProject(ctx, p.ID)
}

func (h *Handler) loadResidentialAddition(ctx context.Context, code string) (*commission.Project, error) {
	p, err := h.Commission.CreateProject(ctx, commission.Project{
		Code:         code,
		Name:         "Garden Residences Phase 1",
		Stage:        commission.StageConstruction,
		BuildingArea: decimal.NewFromInt(12000),
		BuildingType: commission.TypeResidential,
		Floors:       11,
		Flags:        commission.AttributeFlags{HasBasement: true},
		Period:       currentPeriod(),
	})
	if err != nil {
		return nil, err
	}

	employees, err := h.Commission.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	if len(employees) > 0 {
		half := commission.RoundMoney(p.TotalCommission.Div(decimal.NewFromInt(2)))
		if _, err := h.Commission.RecordPayments(ctx, "demo", []commission.PaymentInput{{
			ProjectID:  p.ID,
			EmployeeID: employees[0].ID,
			Amount:     half,
			Date:       time.Now().UTC().Truncate(24 * time.Hour),
			Batch:      "demo-1",
			Notes:      "First instalment",
		}}); err != nil {
			return nil, err
		}
	}

	if _, err := h.Commission.RecordAddition(ctx, p.ID, decimal.NewFromInt(15000), "Added two floors"); err != nil {
		return nil, err
	}
	return h.Commission.GetProject(ctx, p.ID)
}

func (h *Handler) loadLockedStage(ctx context.Context, code string) (*commission.Project, error) {
	p, err := h.Commission.CreateProject(ctx, commission.Project{
		Code:         code,
		Name:         "Harbour Hotel",
		Stage:        commission.StageScheme,
		BuildingArea: decimal.NewFromInt(8000),
		BuildingType: commission.TypeHotel,
		Floors:       9,
		Form:         commission.FormComplex,
		Period:       currentPeriod(),
	})
	if err != nil {
		return nil, err
	}
	if err := h.allocateDemo(ctx, p.ID, []commission.AreaMixEntry{
		{AreaType: "vrv_with_pipe", Location: "Guest floors", Area: decimal.NewFromInt(6500)},
		{AreaType: "central_ac", Location: "Podium", Area: decimal.NewFromInt(1500)},
	}); err != nil {
		return nil, err
	}
	stages, err := h.Ledger.Replace(ctx, p.ID, demoSchedule())
	if err != nil {
		return nil, err
	}
	if err := h.distributeDemo(ctx, p.ID, stages[0].ID, decimal.RequireFromString("0.2")); err != nil {
		return nil, err
	}
	return h.Commission.GetProject(ctx, p.ID)
}

// =============================================================================
// HELPERS
// =============================================================================

// ensureDemoEmployees creates one employee per configured department plus
// a chief, reusing any that already exist.
func (h *Handler) ensureDemoEmployees(ctx context.Context) ([]commission.Employee, error) {
	existing, err := h.Commission.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[commission.EmployeeID]commission.Employee, len(existing))
	for _, e := range existing {
		have[e.ID] = e
	}

	snap, err := h.Config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	wanted := []commission.Employee{{
		ID: "demo-chief", Name: "Chief Engineer", DepartmentID: commission.DeptChief, Role: commission.RoleManager,
	}}
	for _, d := range snap.Departments() {
		wanted = append(wanted, commission.Employee{
			ID:           commission.EmployeeID("demo-" + d.ID),
			Name:         d.Name + " Lead",
			DepartmentID: commission.DepartmentID(d.ID),
			Role:         commission.RoleManager,
		})
	}

	out := make([]commission.Employee, 0, len(wanted))
	for _, e := range wanted {
		if got, ok := have[e.ID]; ok {
			out = append(out, got)
			continue
		}
		created, err := h.Commission.CreateEmployee(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, *created)
	}
	return out, nil
}

func (h *Handler) allocateDemo(ctx context.Context, id commission.ProjectID, mix []commission.AreaMixEntry) error {
	if _, err := h.Commission.ReplaceAreaMix(ctx, id, mix); err != nil {
		return err
	}
	_, err := h.Commission.AllocateProject(ctx, id)
	return err
}

// distributeDemo gives each department's lead share of its stage cap.
func (h *Handler) distributeDemo(ctx context.Context, id commission.ProjectID, stage commission.StageID, share decimal.Decimal) error {
	balances, err := h.Reconciler.ProjectBalances(ctx, id)
	if err != nil {
		return err
	}
	for _, b := range balances {
		amount := commission.RoundMoney(b.Allocated.Mul(share))
		if !amount.IsPositive() {
			continue
		}
		_, err := h.Reconciler.BatchDistribute(ctx, id, b.DepartmentID, []distribution.Entry{{
			EmployeeID: commission.EmployeeID("demo-" + string(b.DepartmentID)),
			Amount:     amount,
			StageID:    stage,
			Notes:      "Demo distribution",
		}})
		if err != nil {
			return err
		}
	}
	return nil
}

// demoSchedule is a three-stage 30/30/40 payment schedule starting today.
func demoSchedule() []payment.StageInput {
	start := time.Now().UTC().Truncate(24 * time.Hour)
	r := decimal.RequireFromString
	return []payment.StageInput{
		{Date: start, Name: "Scheme approval", CurrentRatio: r("0.3"), TotalRatio: r("0.3")},
		{Date: start.AddDate(0, 3, 0), Name: "Drawings issued", CurrentRatio: r("0.3"), TotalRatio: r("0.6")},
		{Date: start.AddDate(0, 9, 0), Name: "Completion", CurrentRatio: r("0.4"), TotalRatio: r("1.0")},
	}
}

func currentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}
