/*
calculator.go - Total commission formula

PURPOSE:
  Prices a project. Given building attributes and a coefficient snapshot,
  returns the total commission and an itemized breakdown that explains
  every coefficient that went into it.

FORMULA MODES (coefficients.FormulaMode):
  simple:     unitPrice = baseRate[type] × stage
  full:       unitPrice = basePrice × commissionRatio × scale × type × stage
                          × height × form × podium × basement
  expression: unitPrice = configured expression over the same factors

  In every mode:
    baseCommission = unitPrice × area
    total          = round2(baseCommission × (1 + Σ enabled bonuses))

LOOKUP FALLBACK:
  A key or range that matches nothing resolves to 1.0 labelled "unknown".
  The only hard failures are invalid attributes (area ≤ 0, floors < 1,
  ratios outside [0, 1]).

DETERMINISM:
  Exact decimal arithmetic end to end, one rounding step at the end. The
  same attributes and snapshot always produce identical results.

SEE ALSO:
  - allocator.go: Splits the total across stages and departments
  - coefficients/snapshot.go: Lookup tables
*/
package commission

import (
	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// AppliedBonus is one enabled special attribute.
type AppliedBonus struct {
	Key   string          `json:"key"`
	Name  string          `json:"name"`
	Bonus decimal.Decimal `json:"bonus"`
}

// Breakdown itemizes a calculation.
type Breakdown struct {
	Mode            coefficients.FormulaMode `json:"mode"`
	ConfigVersion   int                      `json:"config_version"`
	Area            decimal.Decimal          `json:"area"`
	BasePrice       *decimal.Decimal         `json:"base_price,omitempty"`
	CommissionRatio *decimal.Decimal         `json:"commission_ratio,omitempty"`
	Expression      string                   `json:"expression,omitempty"`
	Factors         []coefficients.Factor    `json:"factors"`
	UnitPrice       decimal.Decimal          `json:"unit_price"`
	BaseCommission  decimal.Decimal          `json:"base_commission"`
	Bonuses         []AppliedBonus           `json:"bonuses"`
	BonusSum        decimal.Decimal          `json:"bonus_sum"`
}

// Result is the output of Calculate.
type Result struct {
	TotalCommission decimal.Decimal `json:"total_commission"`
	Breakdown       Breakdown       `json:"breakdown"`
}

// AdditionResult is the output of CalculateAddition.
type AdditionResult struct {
	NewTotalCommission    decimal.Decimal `json:"new_total_commission"`
	AlreadyPaid           decimal.Decimal `json:"already_paid"`
	IncrementalCommission decimal.Decimal `json:"incremental_commission"`
	Breakdown             Breakdown       `json:"breakdown"`
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator prices projects against one configuration snapshot.
type Calculator struct {
	Config *coefficients.Snapshot
}

func NewCalculator(config *coefficients.Snapshot) *Calculator {
	return &Calculator{Config: config}
}

// Calculate returns the total commission for attrs.
func (c *Calculator) Calculate(attrs Attributes) (Result, error) {
	attrs = attrs.WithDefaults()
	if err := attrs.Validate(); err != nil {
		return Result{}, err
	}

	bd := Breakdown{
		Mode:          c.Config.Mode(),
		ConfigVersion: c.Config.Version(),
		Area:          attrs.Area,
	}

	unitPrice, err := c.unitPrice(attrs, &bd)
	if err != nil {
		return Result{}, err
	}

	base := unitPrice.Mul(attrs.Area)
	bonusSum, bonuses := c.bonuses(attrs.Flags)
	total := RoundMoney(base.Mul(decimal.NewFromInt(1).Add(bonusSum)))

	bd.UnitPrice = unitPrice.Round(UnitPricePlaces)
	bd.BaseCommission = RoundMoney(base)
	bd.Bonuses = bonuses
	bd.BonusSum = bonusSum

	return Result{TotalCommission: total, Breakdown: bd}, nil
}

// CalculateAddition reprices the project at newArea and compares the new
// total against what has already been paid. The increment is negative when
// more was paid than the repriced total.
func (c *Calculator) CalculateAddition(attrs Attributes, newArea, alreadyPaid decimal.Decimal) (AdditionResult, error) {
	if alreadyPaid.IsNegative() {
		return AdditionResult{}, &InvalidInputError{Field: "already_paid", Reason: "must not be negative"}
	}
	attrs.Area = newArea
	res, err := c.Calculate(attrs)
	if err != nil {
		return AdditionResult{}, err
	}
	paid := RoundMoney(alreadyPaid)
	return AdditionResult{
		NewTotalCommission:    res.TotalCommission,
		AlreadyPaid:           paid,
		IncrementalCommission: res.TotalCommission.Sub(paid),
		Breakdown:             res.Breakdown,
	}, nil
}

func (c *Calculator) unitPrice(attrs Attributes, bd *Breakdown) (decimal.Decimal, error) {
	cfg := c.Config
	stage := cfg.Stage(string(attrs.Stage))

	if cfg.Mode() == coefficients.ModeSimple {
		rate := cfg.BaseRate(string(attrs.Type))
		bd.Factors = []coefficients.Factor{rate, stage}
		return rate.Coefficient.Mul(stage.Coefficient), nil
	}

	factors := []coefficients.Factor{
		cfg.Scale(attrs.Area),
		cfg.BuildingType(string(attrs.Type)),
		stage,
		cfg.Height(attrs.Floors),
		cfg.Form(string(attrs.Form)),
		cfg.PodiumRatio(attrs.PodiumRatio),
		cfg.BasementRatio(attrs.BasementRatio),
	}
	bd.Factors = factors
	basePrice, ratio := cfg.BasePrice(), cfg.CommissionRatio()
	bd.BasePrice, bd.CommissionRatio = &basePrice, &ratio

	if cfg.Mode() == coefficients.ModeExpression {
		bd.Expression = cfg.Expression()
		rate := cfg.BaseRate(string(attrs.Type))
		params := map[string]float64{
			"area":             attrs.Area.InexactFloat64(),
			"floors":           float64(attrs.Floors),
			"base_price":       basePrice.InexactFloat64(),
			"commission_ratio": ratio.InexactFloat64(),
			"base_rate":        rate.Coefficient.InexactFloat64(),
		}
		for _, f := range factors {
			params[expressionName(f.Dimension)] = f.Coefficient.InexactFloat64()
		}
		return cfg.EvaluateUnitPrice(params)
	}

	unit := basePrice.Mul(ratio)
	for _, f := range factors {
		unit = unit.Mul(f.Coefficient)
	}
	return unit, nil
}

// expressionName maps a factor dimension to its expression variable.
func expressionName(dimension string) string {
	switch dimension {
	case "building_type":
		return "type"
	case "podium_ratio":
		return "podium"
	case "basement_ratio":
		return "basement"
	}
	return dimension
}

func (c *Calculator) bonuses(flags AttributeFlags) (decimal.Decimal, []AppliedBonus) {
	sum := decimal.Zero
	applied := []AppliedBonus{}
	for _, key := range flags.Enabled() {
		b, ok := c.Config.SpecialAttribute(key)
		if !ok || b.Bonus <= 0 {
			continue
		}
		bonus := decimal.NewFromFloat(b.Bonus)
		sum = sum.Add(bonus)
		applied = append(applied, AppliedBonus{Key: key, Name: b.Name, Bonus: bonus})
	}
	return sum, applied
}
