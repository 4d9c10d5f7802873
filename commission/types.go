/*
Package commission provides the core commission allocation engine.

PURPOSE:
  This package turns a project's building attributes into a total
  commission, apportions that total across design stages, the chief and
  the engineering departments, and defines the records the payment ledger
  and the distribution reconciler operate on.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal amounts with a single rounding law
  - Identifiers: ProjectID, DepartmentID, EmployeeID, StageID
  - Attributes: everything the calculator needs to price a project
  - Records: Project, AreaMixEntry, DepartmentAllocation, PaymentStage,
    Distribution, PaymentRecord, Addition, Employee

ROUNDING LAW:
  All intermediate arithmetic is exact decimal. Final monetary outputs are
  rounded to 2 places, half away from zero (decimal.Round). Unit prices are
  reported rounded to 6 places for display only.

DEPARTMENTS:
  DepartmentID is the one identifier used everywhere, from the coefficient
  document to the database rows. "chief" is a pseudo-department holding the
  project lead's share of a stage.

SEE ALSO:
  - calculator.go: Total commission formula
  - allocator.go: Stage/department apportionment
  - store.go: Persistence interfaces
  - payment/ledger.go, distribution/reconciler.go: consumers of these records
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

const (
	// MoneyPlaces is the number of decimal places kept on monetary outputs.
	MoneyPlaces = 2

	// UnitPricePlaces is the display precision of per-m² unit prices.
	UnitPricePlaces = 6
)

// RatioTolerance bounds comparisons between ratios (1e-4).
var RatioTolerance = decimal.New(1, -4)

// RoundMoney applies the rounding law: 2 places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// RatioEqual reports whether two ratios are equal within RatioTolerance.
func RatioEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(RatioTolerance)
}

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MaxZero returns d, or zero when d is negative.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProjectID string
type EmployeeID string
type StageID string
type PaymentID string

// DepartmentID is the canonical department key.
type DepartmentID string

const (
	DeptArch      DepartmentID = "arch"
	DeptStructure DepartmentID = "structure"
	DeptWater     DepartmentID = "water"
	DeptElectric  DepartmentID = "electric"
	DeptHVAC      DepartmentID = "hvac"

	// DeptChief holds the chief's share of a stage. It never receives
	// area-weighted amounts.
	DeptChief DepartmentID = "chief"
)

// IsChief reports whether d is the chief pseudo-department.
func (d DepartmentID) IsChief() bool { return d == DeptChief }

// =============================================================================
// ENUMERATIONS
// =============================================================================

// DesignStage is the phase a project is priced and allocated for.
type DesignStage string

const (
	StageScheme       DesignStage = "scheme"
	StageConstruction DesignStage = "construction"
	StageCooperation  DesignStage = "cooperation"
)

func (s DesignStage) Valid() bool {
	switch s {
	case StageScheme, StageConstruction, StageCooperation:
		return true
	}
	return false
}

// BuildingType is an open set; unknown types price with neutral coefficients.
type BuildingType string

const (
	TypeOffice      BuildingType = "office"
	TypeResidential BuildingType = "residential"
	TypeCommercial  BuildingType = "commercial"
	TypeHotel       BuildingType = "hotel"
	TypeSchool      BuildingType = "school"
	TypeHospital    BuildingType = "hospital"
	TypeIndustrial  BuildingType = "industrial"
	TypeOther       BuildingType = "other"
)

type BuildingForm string

const (
	FormSingle  BuildingForm = "single"
	FormComplex BuildingForm = "complex"
)

type ProjectStatus string

const (
	StatusActive    ProjectStatus = "active"
	StatusCompleted ProjectStatus = "completed"
	StatusArchived  ProjectStatus = "archived"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleFinance  Role = "finance"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// =============================================================================
// ATTRIBUTES - Calculator input
// =============================================================================

// Special attribute keys, as used in the coefficient document.
const (
	AttrHasBasement        = "has_basement"
	AttrHasCivilDefense    = "has_civil_defense"
	AttrIsGreenBuilding    = "is_green_building"
	AttrIsPrefabricated    = "is_prefabricated"
	AttrIsReportingProject = "is_reporting_project"
	AttrIsReviewProject    = "is_review_project"
)

// AttributeFlags is the boolean attribute set of a project.
type AttributeFlags struct {
	HasBasement        bool `json:"has_basement"`
	HasCivilDefense    bool `json:"has_civil_defense"`
	IsGreenBuilding    bool `json:"is_green_building"`
	IsPrefabricated    bool `json:"is_prefabricated"`
	IsReportingProject bool `json:"is_reporting_project"`
	IsReviewProject    bool `json:"is_review_project"`
}

// Enabled returns the keys of the set flags in a fixed order.
func (f AttributeFlags) Enabled() []string {
	var keys []string
	add := func(on bool, key string) {
		if on {
			keys = append(keys, key)
		}
	}
	add(f.HasBasement, AttrHasBasement)
	add(f.HasCivilDefense, AttrHasCivilDefense)
	add(f.IsGreenBuilding, AttrIsGreenBuilding)
	add(f.IsPrefabricated, AttrIsPrefabricated)
	add(f.IsReportingProject, AttrIsReportingProject)
	add(f.IsReviewProject, AttrIsReviewProject)
	return keys
}

// Attributes is everything the calculator needs to price a project.
type Attributes struct {
	Area          decimal.Decimal
	Type          BuildingType
	Stage         DesignStage
	Floors        int
	Form          BuildingForm
	PodiumRatio   decimal.Decimal
	BasementRatio decimal.Decimal
	Flags         AttributeFlags
}

// WithDefaults fills omitted fields: floors 1, form single, type other.
func (a Attributes) WithDefaults() Attributes {
	if a.Floors == 0 {
		a.Floors = 1
	}
	if a.Form == "" {
		a.Form = FormSingle
	}
	if a.Type == "" {
		a.Type = TypeOther
	}
	return a
}

// Validate rejects inputs no formula can price.
func (a Attributes) Validate() error {
	if !a.Area.IsPositive() {
		return &InvalidInputError{Field: "building_area", Reason: "must be greater than zero"}
	}
	if a.Floors < 1 {
		return &InvalidInputError{Field: "floors", Reason: "must be at least 1"}
	}
	if !inUnitInterval(a.PodiumRatio) {
		return &InvalidInputError{Field: "podium_ratio", Reason: "must be within [0, 1]"}
	}
	if !inUnitInterval(a.BasementRatio) {
		return &InvalidInputError{Field: "basement_ratio", Reason: "must be within [0, 1]"}
	}
	return nil
}

func inUnitInterval(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}

// =============================================================================
// RECORDS
// =============================================================================

// Project is the priced unit of work. TotalCommission is a cache of the
// calculator's output and is refreshed whenever the project is recalculated.
type Project struct {
	ID              ProjectID
	Code            string
	Name            string
	Stage           DesignStage
	BuildingArea    decimal.Decimal
	BuildingType    BuildingType
	Floors          int
	Form            BuildingForm
	PodiumRatio     decimal.Decimal
	BasementRatio   decimal.Decimal
	Flags           AttributeFlags
	TotalCommission decimal.Decimal
	Status          ProjectStatus
	Period          string
	HasAddition     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Attributes extracts the calculator input of the project.
func (p Project) Attributes() Attributes {
	return Attributes{
		Area:          p.BuildingArea,
		Type:          p.BuildingType,
		Stage:         p.Stage,
		Floors:        p.Floors,
		Form:          p.Form,
		PodiumRatio:   p.PodiumRatio,
		BasementRatio: p.BasementRatio,
		Flags:         p.Flags,
	}.WithDefaults()
}

// AreaMixEntry is one row of a project's area-mix table.
type AreaMixEntry struct {
	ID        string
	ProjectID ProjectID
	AreaType  string
	Location  string
	Area      decimal.Decimal
	Notes     string
}

// DepartmentAllocation is a department's cap for a project. Weight is the
// department's share of the departments pool (the chief row carries the
// chief ratio instead).
type DepartmentAllocation struct {
	ProjectID       ProjectID
	DepartmentID    DepartmentID
	AllocatedAmount decimal.Decimal
	Weight          decimal.Decimal
	UpdatedAt       time.Time
}

// PaymentStage is a dated disbursement milestone.
// PreviousRatio + CurrentRatio == TotalRatio within RatioTolerance.
type PaymentStage struct {
	ID            StageID
	ProjectID     ProjectID
	Date          time.Time
	Name          string
	PreviousRatio decimal.Decimal
	CurrentRatio  decimal.Decimal
	TotalRatio    decimal.Decimal
	Notes         string
	Seq           int

	// Used flips to true when the first distribution referencing the stage
	// is committed and never flips back.
	Used bool
}

// DateKey is the calendar date in YYYY-MM-DD form.
func (s PaymentStage) DateKey() string { return s.Date.Format(DateLayout) }

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Distribution is the amount assigned to one employee within one department
// of a project, optionally tagged to a payment stage.
type Distribution struct {
	ProjectID    ProjectID
	DepartmentID DepartmentID
	EmployeeID   EmployeeID
	Amount       decimal.Decimal
	StageID      StageID
	Notes        string
	UpdatedAt    time.Time
}

// PaymentRecord is money actually paid out. Insert/delete only.
type PaymentRecord struct {
	ID         PaymentID
	ProjectID  ProjectID
	EmployeeID EmployeeID
	Amount     decimal.Decimal
	Date       time.Time
	Batch      string
	Notes      string
	CreatedBy  string
	CreatedAt  time.Time
}

// Addition records a building-area change and the repriced commission.
type Addition struct {
	ID                    string
	ProjectID             ProjectID
	Seq                   int
	PreviousArea          decimal.Decimal
	NewArea               decimal.Decimal
	AreaChange            decimal.Decimal
	NewTotalCommission    decimal.Decimal
	AlreadyPaid           decimal.Decimal
	IncrementalCommission decimal.Decimal
	Notes                 string
	CreatedAt             time.Time
}

// Employee is a person who can receive distributions. DepartmentID is the
// home department used to route personal allocations.
type Employee struct {
	ID           EmployeeID
	Name         string
	DepartmentID DepartmentID
	Role         Role
	CreatedAt    time.Time
}
