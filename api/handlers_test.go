/*
handlers_test.go - HTTP tests for the API

Tests for:
- Routing, JSON encoding and error-status mapping
- Bearer authentication and role checks
- Department scoping of managers
- Configuration writes and demo scenarios
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/commission/store"
	"github.com/niuyj2008/performance-commission-system/workbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testSecret = "test-secret"

type testServer struct {
	router *chi.Mux
	auth   *Authenticator
}

// newTestServer builds the router over an in-memory store. An empty secret
// disables authentication.
func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	h := NewHandler(store.NewTxMemory(), coefficients.NewStaticService(coefficients.Default()))
	auth := NewAuthenticator(secret)
	return &testServer{router: NewRouter(h, RouterOptions{Auth: auth}), auth: auth}
}

func (s *testServer) token(t *testing.T, p Principal) string {
	t.Helper()
	return signToken(t, s.auth.Secret, p, time.Hour)
}

// signToken issues an HS256 token for p the way the identity provider does.
func signToken(t *testing.T, secret []byte, p Principal, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := Claims{
		UserID:     p.UserID,
		Role:       string(p.Role),
		Department: string(p.Department),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

// do sends a JSON request. A non-empty token is sent as a bearer token.
func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func officeRequest(code string, area string) CreateProjectRequest {
	return CreateProjectRequest{
		Code: code,
		Name: "Office " + code,
		AttributesRequest: AttributesRequest{
			BuildingArea: dec(area),
			BuildingType: string(commission.TypeOffice),
			Stage:        string(commission.StageConstruction),
		},
	}
}

// allocatedProject creates a 10,000 m² office with a plain area mix and
// department caps, plus one architecture and one structure employee.
func (s *testServer) allocatedProject(t *testing.T, token string) ProjectDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/projects", officeRequest("P-1", "10000"), token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[ProjectDTO](t, rec)

	rec = s.do(t, http.MethodPut, "/api/projects/"+p.ID+"/area-mix", ReplaceAreaMixRequest{
		Entries: []AreaMixDTO{{AreaType: "none", Location: "Tower", Area: dec("10000")}},
	}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/projects/"+p.ID+"/allocation", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, e := range []CreateEmployeeRequest{
		{ID: "a1", Name: "Ann", DepartmentID: string(commission.DeptArch)},
		{ID: "s1", Name: "Sam", DepartmentID: string(commission.DeptStructure)},
	} {
		rec = s.do(t, http.MethodPost, "/api/employees", e, token)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	return p
}

// =============================================================================
// HEALTH AND AUTH
// =============================================================================

func TestHealth_IsPublic(t *testing.T) {
	s := newTestServer(t, testSecret)

	rec := s.do(t, http.MethodGet, "/api/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestID_IsEchoed(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestAuth_RejectsMissingOrBadTokens(t *testing.T) {
	s := newTestServer(t, testSecret)
	admin := Principal{UserID: "x", Role: commission.RoleAdmin}
	forged := signToken(t, []byte("another-secret"), admin, time.Hour)
	expired := signToken(t, []byte(testSecret), admin, -time.Minute)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"foreign signature", "Bearer " + forged},
		{"expired token", "Bearer " + expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			s.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAuth_WritesNeedWriterRole(t *testing.T) {
	s := newTestServer(t, testSecret)
	employee := s.token(t, Principal{UserID: "e1", Role: commission.RoleEmployee})
	finance := s.token(t, Principal{UserID: "f1", Role: commission.RoleFinance})

	// GIVEN: An employee may read
	rec := s.do(t, http.MethodGet, "/api/projects", nil, employee)
	assert.Equal(t, http.StatusOK, rec.Code)

	// WHEN: The employee tries to create a project
	rec = s.do(t, http.MethodPost, "/api/projects", officeRequest("P-1", "100"), employee)

	// THEN: Forbidden, while finance succeeds
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/projects", officeRequest("P-1", "100"), finance)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAuth_ManagerLimitedToOwnDepartment(t *testing.T) {
	s := newTestServer(t, testSecret)
	admin := s.token(t, Principal{UserID: "admin", Role: commission.RoleAdmin})
	manager := s.token(t, Principal{UserID: "m1", Role: commission.RoleManager, Department: commission.DeptArch})
	p := s.allocatedProject(t, admin)
	base := "/api/projects/" + p.ID + "/departments/"

	rec := s.do(t, http.MethodPost, base+"arch/distributions", DistributionRequest{EmployeeID: "a1", Amount: dec("100")}, manager)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, base+"structure/distributions", DistributionRequest{EmployeeID: "s1", Amount: dec("100")}, manager)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, base+"structure/distributions", BatchDistributeRequest{}, manager)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Managers cannot touch project-level writes
	rec = s.do(t, http.MethodPost, "/api/projects/"+p.ID+"/allocation", nil, manager)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuth_DisabledRunsAsAdmin(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/api/projects", officeRequest("P-1", "100"), "")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, s.auth.Enabled())
}

// =============================================================================
// COMMISSION AND PROJECTS
// =============================================================================

func TestCalculate(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/api/commission/calculate", AttributesRequest{
		BuildingArea: dec("10000"), BuildingType: "office", Stage: "construction",
	}, "")

	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[commission.Result](t, rec)
	assert.True(t, res.TotalCommission.Equal(dec("50000")), res.TotalCommission.String())
}

func TestCalculate_AcceptsNumbersAndStrings(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/commission/calculate",
		bytes.NewBufferString(`{"building_area": "10000", "building_type": "office", "stage": "scheme", "floors": 3}`))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[commission.Result](t, rec)
	assert.True(t, res.TotalCommission.Equal(dec("30000")))
}

func TestAllocatePreview(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/api/commission/allocate", AllocateRequest{
		TotalCommission: dec("50000"),
		Stage:           "construction",
		AreaMix:         []AreaMixDTO{{AreaType: "none", Area: dec("10000")}},
	}, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	alloc := decode[commission.Allocation](t, rec)
	assert.True(t, alloc.ChiefAmount.Equal(dec("2975")))
	assert.True(t, alloc.Allocations[commission.DeptArch].Amount.Equal(dec("15810")))
}

func TestProjectLifecycle(t *testing.T) {
	s := newTestServer(t, "")
	p := s.allocatedProject(t, "")
	assert.True(t, p.TotalCommission.Equal(dec("50000")))

	rec := s.do(t, http.MethodGet, "/api/projects/"+p.ID+"/allocation", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]DepartmentAllocationDTO](t, rec)
	require.NotEmpty(t, rows)
	assert.Equal(t, string(commission.DeptChief), rows[0].DepartmentID)

	rec = s.do(t, http.MethodGet, "/api/projects/"+p.ID+"/departments/arch/balance", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/projects/"+p.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/projects/"+p.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdditions_PreviewAndRecord(t *testing.T) {
	s := newTestServer(t, "")
	p := s.allocatedProject(t, "")
	path := "/api/projects/" + p.ID + "/additions"

	rec := s.do(t, http.MethodPost, path+"?preview=true", AdditionRequest{NewArea: dec("14000")}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[commission.AdditionResult](t, rec)
	assert.True(t, preview.NewTotalCommission.Equal(dec("70000")))

	rec = s.do(t, http.MethodGet, path, nil, "")
	assert.Empty(t, decode[[]AdditionDTO](t, rec))

	rec = s.do(t, http.MethodPost, path, AdditionRequest{NewArea: dec("14000"), Notes: "two floors"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	add := decode[AdditionDTO](t, rec)
	assert.Equal(t, 1, add.Seq)
	assert.True(t, add.IncrementalCommission.Equal(dec("70000")))
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t, "")
	p := s.allocatedProject(t, "")
	rec := s.do(t, http.MethodPost, "/api/projects", officeRequest("P-2", "500"), "")
	require.Equal(t, http.StatusCreated, rec.Code)
	bare := decode[ProjectDTO](t, rec)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown project", http.MethodGet, "/api/projects/nope", nil, http.StatusNotFound, "not_found"},
		{"negative area", http.MethodPost, "/api/commission/calculate", AttributesRequest{BuildingArea: dec("-1"), BuildingType: "office"}, http.StatusBadRequest, "invalid_input"},
		{"duplicate code", http.MethodPost, "/api/projects", officeRequest("P-1", "100"), http.StatusBadRequest, "invalid_input"},
		{"allocation without area mix", http.MethodPost, "/api/projects/" + bare.ID + "/allocation", nil, http.StatusUnprocessableEntity, "missing_data"},
		{"bad payment date", http.MethodPost, "/api/payments", PaymentRequest{ProjectID: p.ID, EmployeeID: "a1", Amount: dec("1"), Date: "15/03/2024"}, http.StatusBadRequest, "invalid_input"},
		{"unknown config section", http.MethodPut, "/api/config/nonsense", map[string]int{"x": 1}, http.StatusBadRequest, "invalid_config"},
		{"unknown scenario", http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body, "")

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/projects", bytes.NewBufferString(`{"code":`))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_input", resp.Code)
}

func TestLimitExceeded_ReportsHeadroom(t *testing.T) {
	s := newTestServer(t, "")
	p := s.allocatedProject(t, "")
	path := "/api/projects/" + p.ID + "/departments/arch/distributions"

	rec := s.do(t, http.MethodPost, path, DistributionRequest{EmployeeID: "a1", Amount: dec("15810.01")}, "")

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Code    string                        `json:"code"`
		Details commission.LimitExceededError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "limit_exceeded", body.Code)
	assert.True(t, body.Details.Headroom.Equal(dec("15810")))
	assert.True(t, body.Details.Excess.Equal(dec("0.01")))
	assert.Equal(t, commission.DeptArch, body.Details.DepartmentID)
}

// =============================================================================
// PAYMENT STAGES AND DISTRIBUTIONS
// =============================================================================

func TestStages_UsedStageConflict(t *testing.T) {
	s := newTestServer(t, "")
	p := s.allocatedProject(t, "")
	stagesPath := "/api/projects/" + p.ID + "/stages"

	// GIVEN: Two stages, the first carrying a distribution
	rec := s.do(t, http.MethodPut, stagesPath, ReplaceStagesRequest{Stages: []StageRequest{
		{Date: "2024-04-01", Name: "Scheme", CurrentRatio: dec("0.3"), TotalRatio: dec("0.3")},
		{Date: "2024-09-01", Name: "Completion", CurrentRatio: dec("0.7"), TotalRatio: dec("1")},
	}}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stages := decode[[]StageDTO](t, rec)
	require.Len(t, stages, 2)

	rec = s.do(t, http.MethodPost, "/api/projects/"+p.ID+"/departments/arch/distributions",
		DistributionRequest{EmployeeID: "a1", Amount: dec("1000"), StageID: stages[0].ID}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upsert := decode[UpsertResultDTO](t, rec)
	require.NotNil(t, upsert.StageRemaining)
	assert.True(t, upsert.StageRemaining.Equal(dec("3743")))

	// WHEN: The list is replaced without the used stage
	rec = s.do(t, http.MethodPut, stagesPath, ReplaceStagesRequest{Stages: []StageRequest{
		{Date: "2024-09-01", Name: "Completion", CurrentRatio: dec("1"), TotalRatio: dec("1")},
	}}, "")

	// THEN: 409 names the blocking stage
	require.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Code    string `json:"code"`
		Details struct {
			Stages     []commission.UsedStage `json:"stages"`
			UsageCount int                    `json:"usage_count"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body.Code)
	require.Len(t, body.Details.Stages, 1)
	assert.Equal(t, commission.StageID(stages[0].ID), body.Details.Stages[0].ID)
	assert.Equal(t, 1, body.Details.UsageCount)

	rec = s.do(t, http.MethodDelete, stagesPath+"/"+stages[0].ID, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, stagesPath, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[StageListDTO](t, rec)
	assert.True(t, list.Stages[0].Used)
	assert.True(t, list.TotalPaidByDepartment["arch"].Equal(dec("1000")))
}

func TestDistributions_BatchAndPersonal(t *testing.T) {
	s := newTestServer(t, "")
	p := s.allocatedProject(t, "")
	base := "/api/projects/" + p.ID

	rec := s.do(t, http.MethodPut, base+"/departments/arch/distributions", BatchDistributeRequest{
		Distributions: []DistributionRequest{{EmployeeID: "a1", Amount: dec("5000")}},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, base+"/personal-allocations", PersonalAllocationRequest{
		Allocations: []DistributionRequest{
			{EmployeeID: "a1", Amount: dec("6000")},
			{EmployeeID: "s1", Amount: dec("2000")},
		},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, base+"/personal-allocations?department=structure", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	pa := decode[PersonalAllocationsDTO](t, rec)
	require.Len(t, pa.Allocations, 1)
	assert.Equal(t, "Sam", pa.Allocations[0].EmployeeName)

	rec = s.do(t, http.MethodGet, base+"/departments/arch/distributions", nil, "")
	rows := decode[[]DistributionDTO](t, rec)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.Equal(dec("6000")))

	rec = s.do(t, http.MethodDelete, base+"/departments/arch/distributions/a1", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, base+"/departments/arch/distributions/a1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/employees/s1/summary", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayments_SingleAndBatch(t *testing.T) {
	s := newTestServer(t, testSecret)
	finance := s.token(t, Principal{UserID: "fin-1", Role: commission.RoleFinance})
	p := s.allocatedProject(t, finance)

	// A bare object is one payment
	rec := s.do(t, http.MethodPost, "/api/payments", PaymentRequest{
		ProjectID: p.ID, EmployeeID: "a1", Amount: dec("1200"), Date: "2024-03-20", Batch: "Q1",
	}, finance)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	single := decode[[]PaymentDTO](t, rec)
	require.Len(t, single, 1)
	assert.Equal(t, "fin-1", single[0].CreatedBy)

	rec = s.do(t, http.MethodPost, "/api/payments", RecordPaymentsRequest{Payments: []PaymentRequest{
		{ProjectID: p.ID, EmployeeID: "a1", Amount: dec("300"), Date: "2024-04-01", Batch: "Q2"},
		{ProjectID: p.ID, EmployeeID: "s1", Amount: dec("500"), Date: "2024-04-01", Batch: "Q2"},
	}}, finance)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/payments?batch=Q2", nil, finance)
	assert.Len(t, decode[[]PaymentDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/payments?from=2024-04-01&to=2024-04-30", nil, finance)
	assert.Len(t, decode[[]PaymentDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/payments?from=april", nil, finance)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/projects/"+p.ID+"/commission", nil, finance)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[CommissionDetailDTO](t, rec)
	assert.True(t, detail.Paid.Equal(dec("2000")))
	assert.True(t, detail.Remaining.Equal(dec("48000")))

	rec = s.do(t, http.MethodGet, "/api/payments/summary/departments", nil, finance)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/payments/"+single[0].ID, nil, finance)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// =============================================================================
// CONFIGURATION AND SCENARIOS
// =============================================================================

func TestConfig_ReplaceSectionAndReset(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPut, "/api/config/base_rates", map[string]float64{"office": 6, "residential": 4, "other": 4}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	update := decode[ConfigUpdateDTO](t, rec)
	assert.Equal(t, "base_rates", update.Section)

	rec = s.do(t, http.MethodPost, "/api/commission/calculate", AttributesRequest{
		BuildingArea: dec("10000"), BuildingType: "office", Stage: "construction",
	}, "")
	res := decode[commission.Result](t, rec)
	assert.True(t, res.TotalCommission.Equal(dec("60000")), res.TotalCommission.String())

	rec = s.do(t, http.MethodPost, "/api/config/reset", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, decode[ConfigUpdateDTO](t, rec).Version, update.Version)

	rec = s.do(t, http.MethodGet, "/api/config", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[coefficients.Document](t, rec)
	assert.Equal(t, 5.0, doc.BaseRates["office"])
}

func TestScenarios(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil, "")
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))

	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID}, "")

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			out := decode[ScenarioResultDTO](t, rec)
			assert.Equal(t, sc.ID, out.Scenario.ID)
			assert.True(t, out.Project.TotalCommission.IsPositive())
			assert.NotEmpty(t, out.Employees)

			rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil, "")
			assert.Equal(t, sc.ID, decode[ScenarioDTO](t, rec).ID)
		})
	}

	t.Run("locked stage cannot be dropped", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "locked-stage"}, "")
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode[ScenarioResultDTO](t, rec)

		rec = s.do(t, http.MethodPut, "/api/projects/"+out.Project.ID+"/stages", ReplaceStagesRequest{}, "")

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("residential addition is priced against payments", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "residential-addition"}, "")
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode[ScenarioResultDTO](t, rec)

		rec = s.do(t, http.MethodGet, "/api/projects/"+out.Project.ID+"/additions", nil, "")
		adds := decode[[]AdditionDTO](t, rec)
		require.Len(t, adds, 1)
		assert.True(t, adds[0].AlreadyPaid.IsPositive())
	})
}

// =============================================================================
// WORKBOOKS
// =============================================================================

func TestExportAndImportWorkbook(t *testing.T) {
	s := newTestServer(t, "")
	p := s.allocatedProject(t, "")

	rec := s.do(t, http.MethodGet, "/api/projects/"+p.ID+"/export", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workbook.ContentType, rec.Header().Get("Content-Type"))
	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, f.GetSheetList(), "Allocation")
	f.Close()

	// GIVEN: A sheet with a display-name area type
	sheet := excelize.NewFile()
	require.NoError(t, sheet.SetSheetRow("Sheet1", "A1", &[]any{"AC type", "Area"}))
	require.NoError(t, sheet.SetSheetRow("Sheet1", "A2", &[]any{"Central air conditioning", 8000}))
	require.NoError(t, sheet.SetSheetRow("Sheet1", "A3", &[]any{"none", 2000}))
	var buf bytes.Buffer
	require.NoError(t, sheet.Write(&buf))
	sheet.Close()

	// WHEN: Uploading it as the raw body in dry-run mode
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+p.ID+"/area-mix/import?dry_run=true", bytes.NewReader(buf.Bytes()))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	// THEN: Rows are resolved and nothing is saved
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	imported := decode[AreaMixImportDTO](t, rec)
	assert.False(t, imported.Saved)
	require.Len(t, imported.Entries, 2)
	assert.Equal(t, "central_ac", imported.Entries[0].AreaType)

	rec = s.do(t, http.MethodGet, "/api/projects/"+p.ID+"/area-mix", nil, "")
	mix := decode[[]AreaMixDTO](t, rec)
	require.Len(t, mix, 1)
	assert.Equal(t, "none", mix[0].AreaType)
}
