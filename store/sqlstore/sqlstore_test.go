package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/distribution"
	"github.com/niuyj2008/performance-commission-system/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedProject(t *testing.T, st *Store, id commission.ProjectID) commission.Project {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := commission.Project{
		ID:              id,
		Code:            "CODE-" + string(id),
		Name:            "Project " + string(id),
		Stage:           commission.StageConstruction,
		BuildingArea:    dec("12500.5"),
		BuildingType:    commission.TypeHotel,
		Floors:          9,
		Form:            commission.FormComplex,
		PodiumRatio:     dec("0.2"),
		BasementRatio:   dec("0"),
		Flags:           commission.AttributeFlags{HasBasement: true, IsGreenBuilding: true},
		TotalCommission: dec("81253.25"),
		Status:          commission.StatusActive,
		Period:          "2024-03",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, st.SaveProject(context.Background(), p))
	return p
}

func seedEmployee(t *testing.T, st *Store, id commission.EmployeeID, dept commission.DepartmentID) {
	t.Helper()
	require.NoError(t, st.SaveEmployee(context.Background(), commission.Employee{
		ID: id, Name: string(id), DepartmentID: dept, Role: commission.RoleEmployee, CreatedAt: time.Now().UTC(),
	}))
}

// =============================================================================
// RECORDS
// =============================================================================

func TestParseDriver(t *testing.T) {
	for in, want := range map[string]Driver{"": SQLite, "sqlite": SQLite, "postgres": Postgres} {
		got, err := ParseDriver(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDriver("oracle")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: Postgres}
	lite := &Store{driver: SQLite}
	q := "SELECT * FROM t WHERE a = ? AND b = ?"

	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestProjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	want := seedProject(t, st, "p1")

	got, err := st.GetProject(ctx, "p1")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Code, got.Code)
	assert.Equal(t, want.Flags, got.Flags)
	assert.True(t, want.BuildingArea.Equal(got.BuildingArea))
	assert.True(t, want.TotalCommission.Equal(got.TotalCommission))
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	byCode, err := st.GetProjectByCode(ctx, want.Code)
	require.NoError(t, err)
	assert.Equal(t, want.ID, byCode.ID)

	missing, err := st.GetProject(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStageRoundTripAndUsedFlag(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedProject(t, st, "p1")
	stage := commission.PaymentStage{
		ID: "s1", ProjectID: "p1", Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Name: "Scheme",
		PreviousRatio: dec("0"), CurrentRatio: dec("0.3"), TotalRatio: dec("0.3"), Seq: 1,
	}
	require.NoError(t, st.SaveStage(ctx, stage))
	require.NoError(t, st.MarkStageUsed(ctx, "s1"))

	// WHEN: The stage is saved again without the flag
	require.NoError(t, st.SaveStage(ctx, stage))

	// THEN: It stays used and the date survives as a calendar day
	got, err := st.GetStage(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.Equal(t, "2024-05-01", got.DateKey())
	assert.True(t, got.CurrentRatio.Equal(dec("0.3")))

	assert.True(t, commission.IsNotFound(st.MarkStageUsed(ctx, "missing")))
}

func TestDistributionsAndCascade(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedProject(t, st, "p1")
	seedEmployee(t, st, "a1", commission.DeptArch)
	seedEmployee(t, st, "h1", commission.DeptHVAC)

	require.NoError(t, st.SaveDistribution(ctx, commission.Distribution{
		ProjectID: "p1", DepartmentID: commission.DeptArch, EmployeeID: "a1", Amount: dec("100.10"), UpdatedAt: time.Now(),
	}))
	require.NoError(t, st.SaveDistribution(ctx, commission.Distribution{
		ProjectID: "p1", DepartmentID: commission.DeptHVAC, EmployeeID: "h1", Amount: dec("5"), UpdatedAt: time.Now(),
	}))

	rows, err := st.ListDistributions(ctx, commission.DistributionFilter{ProjectID: "p1", DepartmentID: commission.DeptArch})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.Equal(dec("100.1")))
	assert.Empty(t, rows[0].StageID)

	ok, err := st.DeleteDistribution(ctx, "p1", commission.DeptHVAC, "h1")
	require.NoError(t, err)
	assert.True(t, ok)

	// WHEN: The project is deleted, owned rows go with it
	require.NoError(t, st.DeleteProject(ctx, "p1"))
	rows, err = st.ListDistributions(ctx, commission.DistributionFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx commission.Store) error {
		seedProject(t, tx.(*Store), "p1")
		return boom
	})

	assert.ErrorIs(t, err, boom)
	p, err := st.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDocumentBlobs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, ok, err := st.LoadDocument(ctx, "coefficients")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SaveDocument(ctx, "coefficients", []byte(`{"version":1}`)))
	require.NoError(t, st.SaveDocument(ctx, "coefficients", []byte(`{"version":2}`)))

	data, ok, err := st.LoadDocument(ctx, "coefficients")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"version":2}`, string(data))
}

// =============================================================================
// END TO END - Services against SQLite
// =============================================================================

func TestServicesAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	config := coefficients.NewService(coefficients.BlobSource{Store: st, Name: "coefficients"})
	svc := commission.NewService(st, config)
	ledger := payment.NewLedger(st)
	reconciler := distribution.NewReconciler(st, config, svc.Locks)

	// GIVEN: An allocated office project with a payment schedule
	p, err := svc.CreateProject(ctx, commission.Project{
		Code: "P-1", Name: "Office", Stage: commission.StageConstruction,
		BuildingArea: dec("20000"), BuildingType: commission.TypeOffice, Period: "2024-03",
	})
	require.NoError(t, err)
	_, err = svc.ReplaceAreaMix(ctx, p.ID, []commission.AreaMixEntry{{AreaType: "none", Location: "Tower", Area: dec("20000")}})
	require.NoError(t, err)
	alloc, err := svc.AllocateProject(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, alloc.Allocations[commission.DeptArch].Amount.Equal(dec("31620")))

	_, err = svc.CreateEmployee(ctx, commission.Employee{ID: "a1", Name: "Ann", DepartmentID: commission.DeptArch})
	require.NoError(t, err)
	stages, err := ledger.Replace(ctx, p.ID, []payment.StageInput{
		{Date: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), Name: "Scheme", CurrentRatio: dec("0.5"), TotalRatio: dec("0.5")},
		{Date: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), Name: "Final", CurrentRatio: dec("0.5"), TotalRatio: dec("1")},
	})
	require.NoError(t, err)

	// WHEN: Distributing against the first stage
	_, err = reconciler.Upsert(ctx, distribution.UpsertInput{ProjectID: p.ID, EmployeeID: "a1", Amount: dec("15810"), StageID: stages[0].ID})
	require.NoError(t, err)

	// THEN: The stage cap holds and the stage is locked
	_, err = reconciler.Upsert(ctx, distribution.UpsertInput{ProjectID: p.ID, EmployeeID: "a1", Amount: dec("15810.01"), StageID: stages[0].ID})
	assert.Equal(t, "limit_exceeded", commission.Kind(err))

	_, err = ledger.Replace(ctx, p.ID, nil)
	assert.True(t, commission.IsConflict(err))

	list, err := ledger.List(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list.Stages, 2)
	assert.True(t, list.Stages[0].Used)
	assert.Equal(t, 1, list.Stages[0].UsageCount)

	// AND: Additions and payments persist
	_, err = svc.RecordPayments(ctx, "finance", []commission.PaymentInput{{ProjectID: p.ID, EmployeeID: "a1", Amount: dec("40000"), Batch: "2024-Q2"}})
	require.NoError(t, err)
	add, err := svc.RecordAddition(ctx, p.ID, dec("30000"), "")
	require.NoError(t, err)
	assert.True(t, add.IncrementalCommission.Equal(dec("110000")))
	additions, err := svc.Additions(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, additions, 1)

	// AND: The seeded coefficient document lives in the database
	_, ok, err := st.LoadDocument(ctx, "coefficients")
	require.NoError(t, err)
	assert.True(t, ok)
}
