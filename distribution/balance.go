package distribution

import (
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/shopspring/decimal"
)

// Balance is a department's running balance within one project.
type Balance struct {
	ProjectID      commission.ProjectID    `json:"project_id"`
	DepartmentID   commission.DepartmentID `json:"department_id"`
	DepartmentName string                  `json:"department_name"`
	Allocated      decimal.Decimal         `json:"allocated"`
	Distributed    decimal.Decimal         `json:"distributed"`
	Remaining      decimal.Decimal         `json:"remaining"`
	Employees      int                     `json:"employees"`
}

func newBalance(alloc commission.DepartmentAllocation, name string, rows []commission.Distribution) Balance {
	distributed := sum(rows, nil)
	return Balance{
		ProjectID:      alloc.ProjectID,
		DepartmentID:   alloc.DepartmentID,
		DepartmentName: name,
		Allocated:      alloc.AllocatedAmount,
		Distributed:    distributed,
		Remaining:      alloc.AllocatedAmount.Sub(distributed),
		Employees:      len(rows),
	}
}

// sum adds the amounts of rows that pass keep; nil keeps everything.
func sum(rows []commission.Distribution, keep func(commission.Distribution) bool) decimal.Decimal {
	total := decimal.Zero
	for _, d := range rows {
		if keep == nil || keep(d) {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// StageCap is the amount a department may distribute against a stage.
func StageCap(allocated decimal.Decimal, stage commission.PaymentStage) decimal.Decimal {
	return commission.RoundMoney(allocated.Mul(stage.CurrentRatio))
}
