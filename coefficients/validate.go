package coefficients

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidDocument is returned when a document fails validation.
var ErrInvalidDocument = errors.New("invalid configuration document")

// ValidationError names the failing section.
type ValidationError struct {
	Section string `json:"section"`
	Reason  string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration section %s: %s", e.Section, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDocument }

const ratioTolerance = 1e-4

// Validate checks the structural rules every snapshot relies on.
func Validate(doc *Document) error {
	fail := func(s Section, format string, args ...any) error {
		return &ValidationError{Section: string(s), Reason: fmt.Sprintf(format, args...)}
	}

	switch doc.Formula.Mode {
	case ModeSimple, ModeFull:
	case ModeExpression:
		if doc.Formula.Expression == "" {
			return fail(SectionFormula, "expression mode requires an expression")
		}
	default:
		return fail(SectionFormula, "unknown mode %q", doc.Formula.Mode)
	}
	if doc.Formula.Expression != "" {
		if _, err := compileExpression(doc.Formula.Expression); err != nil {
			return fail(SectionFormula, "%v", err)
		}
	}

	if doc.BaseParameters.BasePrice < 0 {
		return fail(SectionBaseParameters, "base_price must not be negative")
	}
	if !unit(doc.BaseParameters.CommissionRatio) {
		return fail(SectionBaseParameters, "commission_ratio must be within [0, 1]")
	}

	for key, rate := range doc.BaseRates {
		if rate < 0 {
			return fail(SectionBaseRates, "%s: rate must not be negative", key)
		}
	}

	ranges := map[Section][]Range{
		SectionScaleCoefficients:         doc.ScaleCoefficients,
		SectionHeightCoefficients:        doc.HeightCoefficients,
		SectionPodiumRatioCoefficients:   doc.PodiumRatioCoefficients,
		SectionBasementRatioCoefficients: doc.BasementRatioCoefficients,
	}
	for _, s := range Sections {
		for i, r := range ranges[s] {
			if r.Min > r.Max {
				return fail(s, "range %d (%s): min %v greater than max %v", i, r.Name, r.Min, r.Max)
			}
			if r.Coefficient < 0 {
				return fail(s, "range %d (%s): coefficient must not be negative", i, r.Name)
			}
		}
	}

	named := map[Section]map[string]NamedCoefficient{
		SectionBuildingTypeCoefficients: doc.BuildingTypeCoefficients,
		SectionStageCoefficients:        doc.StageCoefficients,
		SectionFormCoefficients:         doc.FormCoefficients,
	}
	for _, s := range Sections {
		for key, c := range named[s] {
			if c.Coefficient < 0 {
				return fail(s, "%s: coefficient must not be negative", key)
			}
		}
	}

	for key, b := range doc.SpecialAttributes {
		if b.Bonus < 0 {
			return fail(SectionSpecialAttributes, "%s: bonus must not be negative", key)
		}
	}

	scheme, okScheme := doc.StageAllocation["scheme"]
	construction, okConstruction := doc.StageAllocation["construction"]
	if !okScheme || !okConstruction {
		return fail(SectionStageAllocation, "scheme and construction ratios are required")
	}
	for key, r := range doc.StageAllocation {
		if !unit(r) {
			return fail(SectionStageAllocation, "%s: ratio must be within [0, 1]", key)
		}
	}
	if math.Abs(scheme+construction-1) > ratioTolerance {
		return fail(SectionStageAllocation, "scheme + construction must equal 1, got %v", scheme+construction)
	}

	chief := doc.ChiefAllocation
	if !unit(chief.Chief) || !unit(chief.Departments) {
		return fail(SectionChiefAllocation, "ratios must be within [0, 1]")
	}
	if math.Abs(chief.Chief+chief.Departments-1) > ratioTolerance {
		return fail(SectionChiefAllocation, "chief + departments must equal 1, got %v", chief.Chief+chief.Departments)
	}

	if len(doc.Departments) == 0 {
		return fail(SectionDepartments, "at least one department is required")
	}
	known := make(map[string]bool, len(doc.Departments))
	for _, d := range doc.Departments {
		switch {
		case d.ID == "":
			return fail(SectionDepartments, "department id is required")
		case d.ID == "chief":
			return fail(SectionDepartments, "chief is reserved")
		case known[d.ID]:
			return fail(SectionDepartments, "duplicate department %s", d.ID)
		}
		known[d.ID] = true
	}

	keys := make([]string, 0, len(doc.AreaTypes))
	for k := range doc.AreaTypes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for dept, c := range doc.AreaTypes[k].Coefficients {
			if !known[dept] {
				return fail(SectionAreaTypes, "%s: unknown department %s", k, dept)
			}
			if c < 0 {
				return fail(SectionAreaTypes, "%s: coefficient for %s must not be negative", k, dept)
			}
		}
	}

	return nil
}

func unit(f float64) bool { return f >= 0 && f <= 1 }
