/*
Package coefficients holds the commission coefficient configuration.

PURPOSE:
  Pricing and apportionment are driven by lookup tables that finance staff
  tune without code changes. This package defines the document those tables
  live in, its built-in defaults, validation, a compiled read-only Snapshot
  with lookup functions, and the Service that caches the snapshot and swaps
  it when a section is replaced.

DOCUMENT SCHEMA (YAML or JSON, same keys):
  version: 3
  formula:            {mode: simple|full|expression, expression: "..."}
  base_parameters:    {base_price: 50, commission_ratio: 0.1}
  base_rates:         {office: 5.0, residential: 4.0, ...}
  scale_coefficients: [{name, min, max, coefficient}]        # m²
  building_type_coefficients: {office: {name, coefficient}}
  stage_coefficients: {scheme: {name, coefficient: 0.6}, ...}
  height_coefficients: [{name, min, max, coefficient}]       # floors
  form_coefficients:  {single: {...}, complex: {...}}
  podium_ratio_coefficients:   [{name, min, max, coefficient}]
  basement_ratio_coefficients: [{name, min, max, coefficient}]
  special_attributes: {has_basement: {name, bonus: 0.15}, ...}
  stage_allocation:   {scheme: 0.15, construction: 0.85}
  chief_allocation:   {chief: 0.07, departments: 0.93}
  departments:        [{id: arch, name: Architecture}, ...]
  area_types:         {central_ac: {name, coefficients: {arch: 1.0, hvac: 0.6}}}

RANGES:
  Inclusive on both ends, first match wins. Values outside every range
  resolve to a neutral coefficient of 1.0 labelled "unknown".

SEE ALSO:
  - snapshot.go: Compiled lookups
  - service.go: Cache with explicit Invalidate/Reload
  - source.go: File, database and Redis backed document sources
*/
package coefficients

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is the full coefficient configuration.
type Document struct {
	Version     int       `json:"version" yaml:"version"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`

	Formula        Formula            `json:"formula" yaml:"formula"`
	BaseParameters BaseParameters     `json:"base_parameters" yaml:"base_parameters"`
	BaseRates      map[string]float64 `json:"base_rates" yaml:"base_rates"`

	ScaleCoefficients         []Range                     `json:"scale_coefficients" yaml:"scale_coefficients"`
	BuildingTypeCoefficients  map[string]NamedCoefficient `json:"building_type_coefficients" yaml:"building_type_coefficients"`
	StageCoefficients         map[string]NamedCoefficient `json:"stage_coefficients" yaml:"stage_coefficients"`
	HeightCoefficients        []Range                     `json:"height_coefficients" yaml:"height_coefficients"`
	FormCoefficients          map[string]NamedCoefficient `json:"form_coefficients" yaml:"form_coefficients"`
	PodiumRatioCoefficients   []Range                     `json:"podium_ratio_coefficients" yaml:"podium_ratio_coefficients"`
	BasementRatioCoefficients []Range                     `json:"basement_ratio_coefficients" yaml:"basement_ratio_coefficients"`

	SpecialAttributes map[string]Bonus `json:"special_attributes" yaml:"special_attributes"`

	StageAllocation map[string]float64  `json:"stage_allocation" yaml:"stage_allocation"`
	ChiefAllocation ChiefAllocation     `json:"chief_allocation" yaml:"chief_allocation"`
	Departments     []Department        `json:"departments" yaml:"departments"`
	AreaTypes       map[string]AreaType `json:"area_types" yaml:"area_types"`
}

// FormulaMode selects how the unit price is computed.
type FormulaMode string

const (
	// ModeSimple prices by base rate per building type times stage coefficient.
	ModeSimple FormulaMode = "simple"
	// ModeFull multiplies base price, commission ratio and seven coefficients.
	ModeFull FormulaMode = "full"
	// ModeExpression evaluates a configured arithmetic expression.
	ModeExpression FormulaMode = "expression"
)

type Formula struct {
	Mode       FormulaMode `json:"mode" yaml:"mode"`
	Expression string      `json:"expression,omitempty" yaml:"expression,omitempty"`
}

type BaseParameters struct {
	BasePrice       float64 `json:"base_price" yaml:"base_price"`
	CommissionRatio float64 `json:"commission_ratio" yaml:"commission_ratio"`
}

type NamedCoefficient struct {
	Name        string  `json:"name" yaml:"name"`
	Coefficient float64 `json:"coefficient" yaml:"coefficient"`
}

// Range maps [Min, Max] to a coefficient.
type Range struct {
	Name        string  `json:"name" yaml:"name"`
	Min         float64 `json:"min" yaml:"min"`
	Max         float64 `json:"max" yaml:"max"`
	Coefficient float64 `json:"coefficient" yaml:"coefficient"`
}

type Bonus struct {
	Name  string  `json:"name" yaml:"name"`
	Bonus float64 `json:"bonus" yaml:"bonus"`
}

type ChiefAllocation struct {
	Chief       float64 `json:"chief" yaml:"chief"`
	Departments float64 `json:"departments" yaml:"departments"`
}

type Department struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// AreaType weights one installation type across departments.
type AreaType struct {
	Name         string             `json:"name" yaml:"name"`
	Coefficients map[string]float64 `json:"coefficients" yaml:"coefficients"`
}

// =============================================================================
// SECTIONS
// =============================================================================

// Section names a replaceable part of the document.
type Section string

const (
	SectionFormula                   Section = "formula"
	SectionBaseParameters            Section = "base_parameters"
	SectionBaseRates                 Section = "base_rates"
	SectionScaleCoefficients         Section = "scale_coefficients"
	SectionBuildingTypeCoefficients  Section = "building_type_coefficients"
	SectionStageCoefficients         Section = "stage_coefficients"
	SectionHeightCoefficients        Section = "height_coefficients"
	SectionFormCoefficients          Section = "form_coefficients"
	SectionPodiumRatioCoefficients   Section = "podium_ratio_coefficients"
	SectionBasementRatioCoefficients Section = "basement_ratio_coefficients"
	SectionSpecialAttributes         Section = "special_attributes"
	SectionStageAllocation           Section = "stage_allocation"
	SectionChiefAllocation           Section = "chief_allocation"
	SectionDepartments               Section = "departments"
	SectionAreaTypes                 Section = "area_types"
)

// Sections lists every replaceable section in document order.
var Sections = []Section{
	SectionFormula, SectionBaseParameters, SectionBaseRates,
	SectionScaleCoefficients, SectionBuildingTypeCoefficients, SectionStageCoefficients,
	SectionHeightCoefficients, SectionFormCoefficients, SectionPodiumRatioCoefficients,
	SectionBasementRatioCoefficients, SectionSpecialAttributes, SectionStageAllocation,
	SectionChiefAllocation, SectionDepartments, SectionAreaTypes,
}

// ReplaceSection overwrites one section with the JSON in raw. The previous
// content of the section is discarded, not merged.
func (d *Document) ReplaceSection(section Section, raw []byte) error {
	var target any
	switch section {
	case SectionFormula:
		d.Formula = Formula{}
		target = &d.Formula
	case SectionBaseParameters:
		d.BaseParameters = BaseParameters{}
		target = &d.BaseParameters
	case SectionBaseRates:
		d.BaseRates = nil
		target = &d.BaseRates
	case SectionScaleCoefficients:
		d.ScaleCoefficients = nil
		target = &d.ScaleCoefficients
	case SectionBuildingTypeCoefficients:
		d.BuildingTypeCoefficients = nil
		target = &d.BuildingTypeCoefficients
	case SectionStageCoefficients:
		d.StageCoefficients = nil
		target = &d.StageCoefficients
	case SectionHeightCoefficients:
		d.HeightCoefficients = nil
		target = &d.HeightCoefficients
	case SectionFormCoefficients:
		d.FormCoefficients = nil
		target = &d.FormCoefficients
	case SectionPodiumRatioCoefficients:
		d.PodiumRatioCoefficients = nil
		target = &d.PodiumRatioCoefficients
	case SectionBasementRatioCoefficients:
		d.BasementRatioCoefficients = nil
		target = &d.BasementRatioCoefficients
	case SectionSpecialAttributes:
		d.SpecialAttributes = nil
		target = &d.SpecialAttributes
	case SectionStageAllocation:
		d.StageAllocation = nil
		target = &d.StageAllocation
	case SectionChiefAllocation:
		d.ChiefAllocation = ChiefAllocation{}
		target = &d.ChiefAllocation
	case SectionDepartments:
		d.Departments = nil
		target = &d.Departments
	case SectionAreaTypes:
		d.AreaTypes = nil
		target = &d.AreaTypes
	default:
		return &ValidationError{Section: string(section), Reason: "unknown section"}
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return &ValidationError{Section: string(section), Reason: "malformed section: " + err.Error()}
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	data, err := json.Marshal(d)
	if err != nil {
		// Every field is plain data; marshalling cannot fail.
		panic(fmt.Sprintf("coefficients: clone: %v", err))
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("coefficients: clone: %v", err))
	}
	return &out
}

// =============================================================================
// ENCODING
// =============================================================================

// Format is a document serialization.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks a format from a file name; anything but .json is YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Decode parses a document.
func Decode(data []byte, format Format) (*Document, error) {
	var doc Document
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidDocument, format, err)
	}
	return &doc, nil
}

// Encode serializes a document.
func Encode(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	default:
		return yaml.Marshal(doc)
	}
}
