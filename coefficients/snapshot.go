package coefficients

import (
	"fmt"
	"math"
	"sort"

	"github.com/Knetic/govaluate"
	"github.com/shopspring/decimal"
)

// UnknownLabel marks a lookup that matched nothing and resolved to 1.0.
const UnknownLabel = "unknown"

// Factor is the result of one coefficient lookup.
type Factor struct {
	Dimension   string          `json:"dimension"`
	Key         string          `json:"key"`
	Label       string          `json:"label"`
	Coefficient decimal.Decimal `json:"coefficient"`
	Matched     bool            `json:"matched"`
}

func neutral(dimension, key string) Factor {
	return Factor{Dimension: dimension, Key: key, Label: UnknownLabel, Coefficient: decimal.NewFromInt(1)}
}

// ExpressionVariables are the names an expression-mode formula may use.
var ExpressionVariables = []string{
	"area", "floors", "base_price", "commission_ratio", "base_rate",
	"scale", "type", "stage", "height", "form", "podium", "basement",
}

// =============================================================================
// SNAPSHOT - Validated, read-only view of a document
// =============================================================================

// Snapshot is a compiled document. It is immutable and safe for concurrent use.
type Snapshot struct {
	doc        *Document
	expression *govaluate.EvaluableExpression
	areaTypes  map[string]map[string]decimal.Decimal
}

// Compile validates doc and builds its lookups. doc is copied.
func Compile(doc *Document) (*Snapshot, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	s := &Snapshot{doc: doc.Clone(), areaTypes: make(map[string]map[string]decimal.Decimal)}
	if doc.Formula.Expression != "" {
		expr, err := compileExpression(doc.Formula.Expression)
		if err != nil {
			return nil, &ValidationError{Section: string(SectionFormula), Reason: err.Error()}
		}
		s.expression = expr
	}
	for key, at := range s.doc.AreaTypes {
		weights := make(map[string]decimal.Decimal, len(at.Coefficients))
		for dept, c := range at.Coefficients {
			weights[dept] = decimal.NewFromFloat(c)
		}
		s.areaTypes[key] = weights
	}
	return s, nil
}

// MustCompile is Compile for documents known to be valid, such as Default().
func MustCompile(doc *Document) *Snapshot {
	s, err := Compile(doc)
	if err != nil {
		panic(err)
	}
	return s
}

func compileExpression(src string) (*govaluate.EvaluableExpression, error) {
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, fmt.Errorf("expression: %w", err)
	}
	allowed := make(map[string]bool, len(ExpressionVariables))
	for _, v := range ExpressionVariables {
		allowed[v] = true
	}
	for _, v := range expr.Vars() {
		if !allowed[v] {
			return nil, fmt.Errorf("expression: unknown variable %q", v)
		}
	}
	return expr, nil
}

// Document returns a copy of the underlying document.
func (s *Snapshot) Document() *Document { return s.doc.Clone() }

func (s *Snapshot) Version() int       { return s.doc.Version }
func (s *Snapshot) Mode() FormulaMode  { return s.doc.Formula.Mode }
func (s *Snapshot) Expression() string { return s.doc.Formula.Expression }

func (s *Snapshot) BasePrice() decimal.Decimal {
	return decimal.NewFromFloat(s.doc.BaseParameters.BasePrice)
}

func (s *Snapshot) CommissionRatio() decimal.Decimal {
	return decimal.NewFromFloat(s.doc.BaseParameters.CommissionRatio)
}

// =============================================================================
// LOOKUPS
// =============================================================================

// BaseRate is the simple-mode rate per m². Unknown types use "other".
func (s *Snapshot) BaseRate(buildingType string) Factor {
	if rate, ok := s.doc.BaseRates[buildingType]; ok {
		return Factor{Dimension: "base_rate", Key: buildingType, Label: buildingType, Coefficient: decimal.NewFromFloat(rate), Matched: true}
	}
	if rate, ok := s.doc.BaseRates["other"]; ok {
		return Factor{Dimension: "base_rate", Key: "other", Label: "other", Coefficient: decimal.NewFromFloat(rate), Matched: true}
	}
	return neutral("base_rate", buildingType)
}

func (s *Snapshot) Scale(area decimal.Decimal) Factor {
	return matchRange("scale", s.doc.ScaleCoefficients, area)
}

func (s *Snapshot) BuildingType(t string) Factor {
	return matchNamed("building_type", s.doc.BuildingTypeCoefficients, t)
}

func (s *Snapshot) Stage(stage string) Factor {
	return matchNamed("stage", s.doc.StageCoefficients, stage)
}

func (s *Snapshot) Height(floors int) Factor {
	return matchRange("height", s.doc.HeightCoefficients, decimal.NewFromInt(int64(floors)))
}

func (s *Snapshot) Form(form string) Factor {
	return matchNamed("form", s.doc.FormCoefficients, form)
}

func (s *Snapshot) PodiumRatio(r decimal.Decimal) Factor {
	return matchRange("podium_ratio", s.doc.PodiumRatioCoefficients, r)
}

func (s *Snapshot) BasementRatio(r decimal.Decimal) Factor {
	return matchRange("basement_ratio", s.doc.BasementRatioCoefficients, r)
}

func matchNamed(dimension string, table map[string]NamedCoefficient, key string) Factor {
	c, ok := table[key]
	if !ok {
		return neutral(dimension, key)
	}
	label := c.Name
	if label == "" {
		label = key
	}
	return Factor{Dimension: dimension, Key: key, Label: label, Coefficient: decimal.NewFromFloat(c.Coefficient), Matched: true}
}

func matchRange(dimension string, ranges []Range, v decimal.Decimal) Factor {
	for _, r := range ranges {
		if v.LessThan(decimal.NewFromFloat(r.Min)) || v.GreaterThan(decimal.NewFromFloat(r.Max)) {
			continue
		}
		return Factor{Dimension: dimension, Key: v.String(), Label: r.Name, Coefficient: decimal.NewFromFloat(r.Coefficient), Matched: true}
	}
	return neutral(dimension, v.String())
}

// SpecialAttribute returns the bonus fraction configured for key.
func (s *Snapshot) SpecialAttribute(key string) (Bonus, bool) {
	b, ok := s.doc.SpecialAttributes[key]
	return b, ok
}

// StageRatio is the share of the total commission allocated to stage.
// Stages without a configured ratio use the construction ratio.
func (s *Snapshot) StageRatio(stage string) (ratio decimal.Decimal, appliedKey string) {
	if r, ok := s.doc.StageAllocation[stage]; ok {
		return decimal.NewFromFloat(r), stage
	}
	return decimal.NewFromFloat(s.doc.StageAllocation["construction"]), "construction"
}

func (s *Snapshot) ChiefRatio() decimal.Decimal {
	return decimal.NewFromFloat(s.doc.ChiefAllocation.Chief)
}

// Departments lists the configured departments in document order.
func (s *Snapshot) Departments() []Department {
	return append([]Department(nil), s.doc.Departments...)
}

// DepartmentName returns the display name, or id when unknown.
func (s *Snapshot) DepartmentName(id string) string {
	if id == "chief" {
		return "Chief"
	}
	for _, d := range s.doc.Departments {
		if d.ID == id {
			return d.Name
		}
	}
	return id
}

// HasDepartment reports whether id is a configured department.
func (s *Snapshot) HasDepartment(id string) bool {
	for _, d := range s.doc.Departments {
		if d.ID == id {
			return true
		}
	}
	return false
}

// AreaTypeWeights returns the per-department weights of an area type.
func (s *Snapshot) AreaTypeWeights(areaType string) (map[string]decimal.Decimal, bool) {
	w, ok := s.areaTypes[areaType]
	return w, ok
}

// AreaTypeName returns the display name of an area type, or the key itself.
func (s *Snapshot) AreaTypeName(areaType string) string {
	if at, ok := s.doc.AreaTypes[areaType]; ok && at.Name != "" {
		return at.Name
	}
	return areaType
}

// ResolveAreaType maps a key or display name to the area type key.
func (s *Snapshot) ResolveAreaType(label string) (string, bool) {
	if _, ok := s.doc.AreaTypes[label]; ok {
		return label, true
	}
	keys := make([]string, 0, len(s.doc.AreaTypes))
	for k := range s.doc.AreaTypes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s.doc.AreaTypes[k].Name == label {
			return k, true
		}
	}
	return label, false
}

// EvaluateUnitPrice runs the expression-mode formula.
func (s *Snapshot) EvaluateUnitPrice(params map[string]float64) (decimal.Decimal, error) {
	if s.expression == nil {
		return decimal.Zero, &ValidationError{Section: string(SectionFormula), Reason: "no expression configured"}
	}
	args := make(map[string]interface{}, len(params))
	for k, v := range params {
		args[k] = v
	}
	out, err := s.expression.Evaluate(args)
	if err != nil {
		return decimal.Zero, &ValidationError{Section: string(SectionFormula), Reason: err.Error()}
	}
	f, ok := out.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, &ValidationError{Section: string(SectionFormula), Reason: fmt.Sprintf("expression produced %v, want a finite number", out)}
	}
	return decimal.NewFromFloat(f), nil
}
