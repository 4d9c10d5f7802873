package commission_test

import (
	"testing"

	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %s, got %s", want, got)
}

func newTestCalculator(t *testing.T, mutate func(*coefficients.Document)) *commission.Calculator {
	t.Helper()
	doc := coefficients.Default()
	if mutate != nil {
		mutate(doc)
	}
	snap, err := coefficients.Compile(doc)
	require.NoError(t, err)
	return commission.NewCalculator(snap)
}

func office(area string, stage commission.DesignStage) commission.Attributes {
	return commission.Attributes{Area: dec(area), Type: commission.TypeOffice, Stage: stage}
}

// =============================================================================
// SIMPLE MODE
// =============================================================================

func TestCalculate_SimpleMode(t *testing.T) {
	calc := newTestCalculator(t, nil)

	tests := []struct {
		name  string
		attrs commission.Attributes
		want  string
	}{
		{"office construction", office("10000", commission.StageConstruction), "50000"},
		{"twice the area", office("20000", commission.StageConstruction), "100000"},
		{"scheme stage", office("10000", commission.StageScheme), "30000"},
		{"cooperation stage", office("10000", commission.StageCooperation), "20000"},
		{"unknown type uses the other rate", commission.Attributes{Area: dec("1000"), Type: "observatory", Stage: commission.StageConstruction}, "4000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := calc.Calculate(tt.attrs)

			require.NoError(t, err)
			assertMoney(t, tt.want, res.TotalCommission)
			assert.Equal(t, coefficients.ModeSimple, res.Breakdown.Mode)
		})
	}
}

func TestCalculate_StageOrdering(t *testing.T) {
	calc := newTestCalculator(t, nil)

	scheme, err := calc.Calculate(office("10000", commission.StageScheme))
	require.NoError(t, err)
	construction, err := calc.Calculate(office("10000", commission.StageConstruction))
	require.NoError(t, err)
	cooperation, err := calc.Calculate(office("10000", commission.StageCooperation))
	require.NoError(t, err)

	assert.True(t, cooperation.TotalCommission.LessThan(scheme.TotalCommission))
	assert.True(t, scheme.TotalCommission.LessThan(construction.TotalCommission))
}

func TestCalculate_Bonuses(t *testing.T) {
	calc := newTestCalculator(t, nil)

	// GIVEN: An office with a basement
	attrs := office("10000", commission.StageConstruction)
	attrs.Flags.HasBasement = true

	// WHEN: Calculating
	res, err := calc.Calculate(attrs)

	// THEN: The 15% bonus is applied once, after the base commission
	require.NoError(t, err)
	assertMoney(t, "57500", res.TotalCommission)
	assertMoney(t, "50000", res.Breakdown.BaseCommission)
	require.Len(t, res.Breakdown.Bonuses, 1)
	assert.Equal(t, commission.AttrHasBasement, res.Breakdown.Bonuses[0].Key)
	assertMoney(t, "0.15", res.Breakdown.BonusSum)
}

func TestCalculate_BonusesStack(t *testing.T) {
	calc := newTestCalculator(t, nil)
	attrs := office("10000", commission.StageConstruction)
	attrs.Flags = commission.AttributeFlags{HasBasement: true, IsGreenBuilding: true}

	res, err := calc.Calculate(attrs)

	require.NoError(t, err)
	assertMoney(t, "60000", res.TotalCommission)
	assert.Len(t, res.Breakdown.Bonuses, 2)
}

func TestCalculate_RejectsInvalidAttributes(t *testing.T) {
	calc := newTestCalculator(t, nil)

	tests := []struct {
		name  string
		attrs commission.Attributes
		field string
	}{
		{"zero area", office("0", commission.StageConstruction), "building_area"},
		{"negative area", office("-5", commission.StageConstruction), "building_area"},
		{"negative floors", commission.Attributes{Area: dec("100"), Floors: -1}, "floors"},
		{"podium ratio above one", commission.Attributes{Area: dec("100"), PodiumRatio: dec("1.5")}, "podium_ratio"},
		{"negative basement ratio", commission.Attributes{Area: dec("100"), BasementRatio: dec("-0.1")}, "basement_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.Calculate(tt.attrs)

			var ie *commission.InvalidInputError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.field, ie.Field)
			assert.Equal(t, "invalid_input", commission.Kind(err))
		})
	}
}

func TestCalculate_Deterministic(t *testing.T) {
	calc := newTestCalculator(t, nil)
	attrs := commission.Attributes{
		Area:   dec("12345.67"),
		Type:   commission.TypeHotel,
		Stage:  commission.StageScheme,
		Floors: 12,
		Flags:  commission.AttributeFlags{IsPrefabricated: true},
	}

	first, err := calc.Calculate(attrs)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := calc.Calculate(attrs)
		require.NoError(t, err)
		assert.True(t, first.TotalCommission.Equal(again.TotalCommission))
	}
	assert.True(t, first.TotalCommission.Equal(commission.RoundMoney(first.TotalCommission)))
}

// =============================================================================
// FULL AND EXPRESSION MODES
// =============================================================================

func TestCalculate_FullMode(t *testing.T) {
	calc := newTestCalculator(t, func(d *coefficients.Document) {
		d.Formula.Mode = coefficients.ModeFull
	})

	t.Run("neutral factors reproduce the base price", func(t *testing.T) {
		res, err := calc.Calculate(office("10000", commission.StageConstruction))

		require.NoError(t, err)
		assertMoney(t, "50000", res.TotalCommission)
		assert.Len(t, res.Breakdown.Factors, 7)
		require.NotNil(t, res.Breakdown.BasePrice)
		assertMoney(t, "50", *res.Breakdown.BasePrice)
	})

	t.Run("height and form multiply in", func(t *testing.T) {
		attrs := office("10000", commission.StageConstruction)
		attrs.Floors = 20
		attrs.Form = commission.FormComplex

		res, err := calc.Calculate(attrs)

		require.NoError(t, err)
		assertMoney(t, "69000", res.TotalCommission)
	})
}

func TestCalculate_ExpressionMode(t *testing.T) {
	calc := newTestCalculator(t, func(d *coefficients.Document) {
		d.Formula = coefficients.Formula{Mode: coefficients.ModeExpression, Expression: "base_rate * stage"}
	})

	res, err := calc.Calculate(office("10000", commission.StageScheme))

	require.NoError(t, err)
	assertMoney(t, "30000", res.TotalCommission)
	assert.Equal(t, "base_rate * stage", res.Breakdown.Expression)
}

// =============================================================================
// ADDITIONS
// =============================================================================

func TestCalculateAddition(t *testing.T) {
	calc := newTestCalculator(t, nil)
	attrs := office("10000", commission.StageConstruction)

	t.Run("increment is the new total minus what was paid", func(t *testing.T) {
		res, err := calc.CalculateAddition(attrs, dec("20000"), dec("30000"))

		require.NoError(t, err)
		assertMoney(t, "100000", res.NewTotalCommission)
		assertMoney(t, "30000", res.AlreadyPaid)
		assertMoney(t, "70000", res.IncrementalCommission)
	})

	t.Run("overpayment gives a negative increment", func(t *testing.T) {
		res, err := calc.CalculateAddition(attrs, dec("5000"), dec("30000"))

		require.NoError(t, err)
		assertMoney(t, "-5000", res.IncrementalCommission)
	})

	t.Run("negative paid amount is rejected", func(t *testing.T) {
		_, err := calc.CalculateAddition(attrs, dec("5000"), dec("-1"))
		assert.Equal(t, "invalid_input", commission.Kind(err))
	})

	t.Run("new area must be positive", func(t *testing.T) {
		_, err := calc.CalculateAddition(attrs, dec("0"), dec("0"))
		assert.Equal(t, "invalid_input", commission.Kind(err))
	})
}
