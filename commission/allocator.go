/*
allocator.go - Stage and department apportionment

PURPOSE:
  Splits a project's total commission into the share of one design stage,
  then splits that stage amount between the chief and the departments
  pool, and finally apportions the pool across departments weighted by the
  project's area-mix table.

ALGORITHM:
  1. stageAmount       = round2(total × stageRatio[stage])
  2. chiefAmount       = round2(stageAmount × chiefRatio)
     departmentsAmount = stageAmount − chiefAmount
  3. totalArea = Σ area; empty table or zero total → MissingData
  4. weight[dept] += (area / totalArea) × areaTypeWeight[type][dept]
  5. amount[dept] = weight[dept] / Σ weight × departmentsAmount

CONSERVATION:
  Department amounts are rounded to cents and the residue goes to the
  department with the largest weight, so Σ amount == departmentsAmount and
  chiefAmount + departmentsAmount == stageAmount exactly. If no area type
  is recognized Σ weight is zero, every department gets 0 and the pool is
  reported as Unallocated.

SEE ALSO:
  - service.go: AllocateProject persists the result atomically
*/
package commission

import (
	"sort"
	"time"

	"github.com/niuyj2008/performance-commission-system/coefficients"
	"github.com/shopspring/decimal"
)

// DepartmentShare is one department's slice of the departments pool.
type DepartmentShare struct {
	Name   string          `json:"name"`
	Weight decimal.Decimal `json:"weight"`
	Share  decimal.Decimal `json:"share"`
	Amount decimal.Decimal `json:"amount"`
}

// AreaShare explains one area-mix entry's contribution.
type AreaShare struct {
	AreaType     string          `json:"area_type"`
	AreaTypeName string          `json:"area_type_name"`
	Location     string          `json:"location,omitempty"`
	Area         decimal.Decimal `json:"area"`
	AreaPercent  decimal.Decimal `json:"area_percent"`
	Recognized   bool            `json:"recognized"`
}

type AllocationBreakdown struct {
	StageRatio       decimal.Decimal `json:"stage_ratio"`
	StageRatioKey    string          `json:"stage_ratio_key"`
	ChiefRatio       decimal.Decimal `json:"chief_ratio"`
	TotalArea        decimal.Decimal `json:"total_area"`
	TotalWeight      decimal.Decimal `json:"total_weight"`
	Entries          []AreaShare     `json:"entries"`
	UnknownAreaTypes []string        `json:"unknown_area_types,omitempty"`
}

// Allocation is the allocator's output.
type Allocation struct {
	TotalCommission   decimal.Decimal                  `json:"total_commission"`
	Stage             DesignStage                      `json:"stage"`
	StageAmount       decimal.Decimal                  `json:"stage_amount"`
	ChiefAmount       decimal.Decimal                  `json:"chief_amount"`
	DepartmentsAmount decimal.Decimal                  `json:"departments_amount"`
	Unallocated       decimal.Decimal                  `json:"unallocated"`
	Allocations       map[DepartmentID]DepartmentShare `json:"allocations"`
	Breakdown         AllocationBreakdown              `json:"breakdown"`
}

// Rows converts the allocation into the rows persisted for a project,
// chief first, then departments by identifier.
func (a Allocation) Rows(projectID ProjectID, now time.Time) []DepartmentAllocation {
	ids := make([]DepartmentID, 0, len(a.Allocations))
	for id := range a.Allocations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].IsChief() != ids[j].IsChief() {
			return ids[i].IsChief()
		}
		return ids[i] < ids[j]
	})

	rows := make([]DepartmentAllocation, 0, len(ids))
	for _, id := range ids {
		share := a.Allocations[id]
		rows = append(rows, DepartmentAllocation{
			ProjectID:       projectID,
			DepartmentID:    id,
			AllocatedAmount: share.Amount,
			Weight:          share.Share,
			UpdatedAt:       now,
		})
	}
	return rows
}

// Allocate apportions total for stage across the configured departments.
func Allocate(cfg *coefficients.Snapshot, total decimal.Decimal, stage DesignStage, mix []AreaMixEntry) (Allocation, error) {
	if total.IsNegative() {
		return Allocation{}, &InvalidInputError{Field: "total_commission", Reason: "must not be negative"}
	}

	stageRatio, stageKey := cfg.StageRatio(string(stage))
	chiefRatio := cfg.ChiefRatio()
	stageAmount := RoundMoney(total.Mul(stageRatio))
	chiefAmount := RoundMoney(stageAmount.Mul(chiefRatio))
	departmentsAmount := stageAmount.Sub(chiefAmount)

	if len(mix) == 0 {
		return Allocation{}, &MissingDataError{Reason: "area-mix table is empty"}
	}
	totalArea := decimal.Zero
	for _, e := range mix {
		if e.Area.IsNegative() {
			return Allocation{}, &InvalidInputError{Field: "area", Reason: "area-mix entries must not be negative"}
		}
		totalArea = totalArea.Add(e.Area)
	}
	if totalArea.IsZero() {
		return Allocation{}, &MissingDataError{Reason: "area-mix table sums to zero"}
	}

	departments := cfg.Departments()
	weights := make(map[DepartmentID]decimal.Decimal, len(departments))
	for _, d := range departments {
		weights[DepartmentID(d.ID)] = decimal.Zero
	}

	bd := AllocationBreakdown{
		StageRatio:    stageRatio,
		StageRatioKey: stageKey,
		ChiefRatio:    chiefRatio,
		TotalArea:     totalArea,
	}
	unknown := map[string]bool{}
	hundred := decimal.NewFromInt(100)

	for _, e := range mix {
		share := e.Area.Div(totalArea)
		typeWeights, ok := cfg.AreaTypeWeights(e.AreaType)
		bd.Entries = append(bd.Entries, AreaShare{
			AreaType:     e.AreaType,
			AreaTypeName: cfg.AreaTypeName(e.AreaType),
			Location:     e.Location,
			Area:         e.Area,
			AreaPercent:  share.Mul(hundred).Round(2),
			Recognized:   ok,
		})
		if !ok {
			if !unknown[e.AreaType] {
				unknown[e.AreaType] = true
				bd.UnknownAreaTypes = append(bd.UnknownAreaTypes, e.AreaType)
			}
			continue
		}
		for _, d := range departments {
			id := DepartmentID(d.ID)
			if c, ok := typeWeights[d.ID]; ok {
				weights[id] = weights[id].Add(share.Mul(c))
			}
		}
	}

	totalWeight := decimal.Zero
	for _, w := range weights {
		totalWeight = totalWeight.Add(w)
	}
	bd.TotalWeight = totalWeight

	out := Allocation{
		TotalCommission:   total,
		Stage:             stage,
		StageAmount:       stageAmount,
		ChiefAmount:       chiefAmount,
		DepartmentsAmount: departmentsAmount,
		Unallocated:       decimal.Zero,
		Allocations:       make(map[DepartmentID]DepartmentShare, len(departments)+1),
		Breakdown:         bd,
	}
	out.Allocations[DeptChief] = DepartmentShare{
		Name:   cfg.DepartmentName(string(DeptChief)),
		Weight: chiefRatio,
		Share:  chiefRatio,
		Amount: chiefAmount,
	}

	if totalWeight.IsZero() {
		for _, d := range departments {
			out.Allocations[DepartmentID(d.ID)] = DepartmentShare{Name: d.Name, Weight: decimal.Zero, Share: decimal.Zero, Amount: decimal.Zero}
		}
		out.Unallocated = departmentsAmount
		return out, nil
	}

	distributed := decimal.Zero
	var largest DepartmentID
	for _, d := range departments {
		id := DepartmentID(d.ID)
		share := weights[id].Div(totalWeight)
		amount := RoundMoney(share.Mul(departmentsAmount))
		distributed = distributed.Add(amount)
		out.Allocations[id] = DepartmentShare{
			Name:   d.Name,
			Weight: weights[id].Round(6),
			Share:  share.Round(6),
			Amount: amount,
		}
		if largest == "" || weights[id].GreaterThan(weights[largest]) {
			largest = id
		}
	}

	if residue := departmentsAmount.Sub(distributed); !residue.IsZero() {
		s := out.Allocations[largest]
		s.Amount = s.Amount.Add(residue)
		out.Allocations[largest] = s
	}
	return out, nil
}
