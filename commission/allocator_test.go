package commission_test

import (
	"testing"

	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mix(entries ...commission.AreaMixEntry) []commission.AreaMixEntry { return entries }

func area(areaType, amount string) commission.AreaMixEntry {
	return commission.AreaMixEntry{AreaType: areaType, Area: dec(amount)}
}

func TestAllocate_WorkedExample(t *testing.T) {
	snap := coefficients.MustCompile(coefficients.Default())

	// GIVEN: 100,000 at construction stage, all area without air conditioning
	alloc, err := commission.Allocate(snap, dec("100000"), commission.StageConstruction, mix(area("none", "10000")))

	// THEN: 85% goes to the stage, 7% of that to the chief, the rest by weight
	require.NoError(t, err)
	assertMoney(t, "85000", alloc.StageAmount)
	assertMoney(t, "5950", alloc.ChiefAmount)
	assertMoney(t, "79050", alloc.DepartmentsAmount)
	assertMoney(t, "0", alloc.Unallocated)

	want := map[commission.DepartmentID]string{
		commission.DeptChief:     "5950",
		commission.DeptArch:      "31620",
		commission.DeptStructure: "25296",
		commission.DeptWater:     "9486",
		commission.DeptElectric:  "12648",
		commission.DeptHVAC:      "0",
	}
	require.Len(t, alloc.Allocations, len(want))
	for dept, amount := range want {
		assertMoney(t, amount, alloc.Allocations[dept].Amount)
	}
	assert.Equal(t, "Chief", alloc.Allocations[commission.DeptChief].Name)
	assertMoney(t, "0.4", alloc.Allocations[commission.DeptArch].Share)
}

func TestAllocate_StageRatios(t *testing.T) {
	snap := coefficients.MustCompile(coefficients.Default())

	tests := []struct {
		stage commission.DesignStage
		key   string
		want  string
	}{
		{commission.StageScheme, "scheme", "15000"},
		{commission.StageConstruction, "construction", "85000"},
		{commission.StageCooperation, "construction", "85000"},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			alloc, err := commission.Allocate(snap, dec("100000"), tt.stage, mix(area("none", "1")))

			require.NoError(t, err)
			assertMoney(t, tt.want, alloc.StageAmount)
			assert.Equal(t, tt.key, alloc.Breakdown.StageRatioKey)
		})
	}
}

func TestAllocate_Conservation(t *testing.T) {
	snap := coefficients.MustCompile(coefficients.Default())

	totals := []string{"12345.67", "0.01", "99999.99", "1"}
	for _, total := range totals {
		t.Run(total, func(t *testing.T) {
			alloc, err := commission.Allocate(snap, dec(total), commission.StageConstruction, mix(
				area("central_ac", "7333.3"),
				area("basement_ventilation", "1234.5"),
				area("smoke_only", "17"),
			))
			require.NoError(t, err)

			departments := decimal.Zero
			for dept, share := range alloc.Allocations {
				assert.True(t, share.Amount.Equal(commission.RoundMoney(share.Amount)), "%s not rounded to cents", dept)
				assert.False(t, share.Amount.IsNegative())
				if !dept.IsChief() {
					departments = departments.Add(share.Amount)
				}
			}
			assert.True(t, departments.Equal(alloc.DepartmentsAmount), "departments %s != pool %s", departments, alloc.DepartmentsAmount)
			assert.True(t, alloc.ChiefAmount.Add(alloc.DepartmentsAmount).Equal(alloc.StageAmount))
		})
	}
}

func TestAllocate_WeightsFollowAreaShare(t *testing.T) {
	snap := coefficients.MustCompile(coefficients.Default())

	// GIVEN: Half the floor area is centrally air-conditioned
	alloc, err := commission.Allocate(snap, dec("100000"), commission.StageConstruction, mix(
		area("none", "500"),
		area("central_ac", "500"),
	))

	// THEN: HVAC only earns from the air-conditioned half
	require.NoError(t, err)
	assert.True(t, alloc.Allocations[commission.DeptHVAC].Weight.Equal(dec("0.3")))
	assert.True(t, alloc.Allocations[commission.DeptHVAC].Amount.IsPositive())
	assert.True(t, alloc.Allocations[commission.DeptArch].Amount.GreaterThan(alloc.Allocations[commission.DeptHVAC].Amount))
	require.Len(t, alloc.Breakdown.Entries, 2)
	assertMoney(t, "50", alloc.Breakdown.Entries[0].AreaPercent)
}

func TestAllocate_UnknownAreaTypesLeavePoolUnallocated(t *testing.T) {
	snap := coefficients.MustCompile(coefficients.Default())

	alloc, err := commission.Allocate(snap, dec("100000"), commission.StageConstruction, mix(
		area("greenhouse", "100"),
		area("greenhouse", "50"),
	))

	require.NoError(t, err)
	assertMoney(t, "79050", alloc.Unallocated)
	assertMoney(t, "5950", alloc.Allocations[commission.DeptChief].Amount)
	assertMoney(t, "0", alloc.Allocations[commission.DeptArch].Amount)
	assert.Equal(t, []string{"greenhouse"}, alloc.Breakdown.UnknownAreaTypes)
	assert.False(t, alloc.Breakdown.Entries[0].Recognized)
}

func TestAllocate_RejectsMissingData(t *testing.T) {
	snap := coefficients.MustCompile(coefficients.Default())

	t.Run("empty table", func(t *testing.T) {
		_, err := commission.Allocate(snap, dec("100"), commission.StageScheme, nil)
		assert.Equal(t, "missing_data", commission.Kind(err))
	})

	t.Run("zero total area", func(t *testing.T) {
		_, err := commission.Allocate(snap, dec("100"), commission.StageScheme, mix(area("none", "0")))
		assert.Equal(t, "missing_data", commission.Kind(err))
	})

	t.Run("negative total", func(t *testing.T) {
		_, err := commission.Allocate(snap, dec("-1"), commission.StageScheme, mix(area("none", "1")))
		assert.Equal(t, "invalid_input", commission.Kind(err))
	})
}

func TestAllocation_RowsPutChiefFirst(t *testing.T) {
	snap := coefficients.MustCompile(coefficients.Default())
	alloc, err := commission.Allocate(snap, dec("100000"), commission.StageConstruction, mix(area("none", "1")))
	require.NoError(t, err)

	rows := alloc.Rows("p1", fixedNow)

	require.Len(t, rows, 6)
	assert.Equal(t, commission.DeptChief, rows[0].DepartmentID)
	assert.Equal(t, commission.DeptArch, rows[1].DepartmentID)
	for _, r := range rows {
		assert.Equal(t, commission.ProjectID("p1"), r.ProjectID)
	}
}
