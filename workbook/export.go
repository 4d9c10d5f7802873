/*
Package workbook reads and writes Excel workbooks for projects.

PURPOSE:
  ExportProject renders a project's commission, allocation, payment stages
  and distributions into one .xlsx file. ImportAreaMix reads an area-mix
  table from the first sheet of an uploaded workbook.

SEE ALSO:
  - api/handlers.go: /export and /area-mix/import routes
*/
package workbook

import (
	"fmt"
	"io"

	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/distribution"
	"github.com/niuyj2008/performance-commission-system/payment"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the files this package writes.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ProjectReport is everything ExportProject renders.
type ProjectReport struct {
	Detail        commission.CommissionDetail
	AreaMix       []commission.AreaMixEntry
	Balances      []distribution.Balance
	Stages        *payment.StageList
	Distributions []distribution.DistributionView
}

const (
	sheetSummary       = "Summary"
	sheetAreaMix       = "Area Mix"
	sheetAllocation    = "Allocation"
	sheetStages        = "Payment Stages"
	sheetDistributions = "Distributions"
)

// ExportProject writes the report as an .xlsx workbook to w.
func ExportProject(w io.Writer, r ProjectReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return err
	}
	for _, name := range []string{sheetAreaMix, sheetAllocation, sheetStages, sheetDistributions} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	sw := sheetWriter{f: f, header: header}

	p := r.Detail.Project
	sw.rows(sheetSummary, []string{"Field", "Value"}, [][]any{
		{"Code", p.Code},
		{"Name", p.Name},
		{"Stage", string(p.Stage)},
		{"Building type", string(p.BuildingType)},
		{"Building area (m²)", p.BuildingArea.InexactFloat64()},
		{"Floors", p.Floors},
		{"Status", string(p.Status)},
		{"Period", p.Period},
		{"Total commission", r.Detail.Total.InexactFloat64()},
		{"Paid", r.Detail.Paid.InexactFloat64()},
		{"Remaining", r.Detail.Remaining.InexactFloat64()},
	})

	mix := make([][]any, len(r.AreaMix))
	for i, e := range r.AreaMix {
		mix[i] = []any{e.AreaType, e.Location, e.Area.InexactFloat64(), e.Notes}
	}
	sw.rows(sheetAreaMix, []string{"Area type", "Location", "Area (m²)", "Notes"}, mix)

	balances := make([][]any, len(r.Balances))
	for i, b := range r.Balances {
		balances[i] = []any{string(b.DepartmentID), b.DepartmentName, b.Allocated.InexactFloat64(),
			b.Distributed.InexactFloat64(), b.Remaining.InexactFloat64(), b.Employees}
	}
	sw.rows(sheetAllocation, []string{"Department", "Name", "Allocated", "Distributed", "Remaining", "Employees"}, balances)

	var stages [][]any
	if r.Stages != nil {
		for _, s := range r.Stages.Stages {
			stages = append(stages, []any{s.DateKey(), s.Name, s.PreviousRatio.InexactFloat64(),
				s.CurrentRatio.InexactFloat64(), s.TotalRatio.InexactFloat64(), s.UsageCount, s.PaidAmount.InexactFloat64(), s.Notes})
		}
	}
	sw.rows(sheetStages, []string{"Date", "Name", "Previous ratio", "Current ratio", "Total ratio", "Distributions", "Paid", "Notes"}, stages)

	dists := make([][]any, len(r.Distributions))
	for i, d := range r.Distributions {
		dists[i] = []any{d.DepartmentName, string(d.EmployeeID), d.EmployeeName, d.Amount.InexactFloat64(), d.StageName, d.Notes}
	}
	sw.rows(sheetDistributions, []string{"Department", "Employee ID", "Employee", "Amount", "Payment stage", "Notes"}, dists)

	if sw.err != nil {
		return sw.err
	}
	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// sheetWriter keeps the first error of a run of cell writes.
type sheetWriter struct {
	f      *excelize.File
	header int
	err    error
}

func (sw *sheetWriter) rows(sheet string, headers []string, rows [][]any) {
	if sw.err != nil {
		return
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if sw.err = sw.f.SetCellValue(sheet, cell, h); sw.err != nil {
			return
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if sw.err = sw.f.SetCellStyle(sheet, "A1", last, sw.header); sw.err != nil {
		return
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if sw.err = sw.f.SetCellValue(sheet, cell, v); sw.err != nil {
				return
			}
		}
	}
}
