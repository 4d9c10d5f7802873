package workbook

import (
	"fmt"
	"io"
	"strings"

	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ResolveFunc maps a cell label to an area-type key.
type ResolveFunc func(label string) (key string, ok bool)

// ImportResult is the parsed area-mix table.
type ImportResult struct {
	Entries []commission.AreaMixEntry
	// Unresolved lists labels kept verbatim because no area type matched.
	Unresolved []string
}

// Header names accepted for each column, compared case-insensitively.
var columnAliases = map[string][]string{
	"area_type": {"area type", "area_type", "type", "ac type", "ac_type"},
	"location":  {"location"},
	"area":      {"area", "area (m²)", "area (m2)"},
	"notes":     {"notes", "note"},
}

// ImportAreaMix reads the first sheet of an .xlsx workbook. The first row is
// a header naming at least the area type and area columns. Empty rows are
// skipped.
func ImportAreaMix(r io.Reader, resolve ResolveFunc) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &commission.InvalidInputError{Field: "file", Reason: "is not a readable .xlsx workbook"}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &commission.InvalidInputError{Field: "file", Reason: "has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, &commission.MissingDataError{Reason: "area-mix sheet is empty"}
	}

	cols := headerColumns(rows[0])
	if _, ok := cols["area_type"]; !ok {
		return nil, &commission.InvalidInputError{Field: "file", Reason: "header has no area type column"}
	}
	if _, ok := cols["area"]; !ok {
		return nil, &commission.InvalidInputError{Field: "file", Reason: "header has no area column"}
	}

	out := &ImportResult{Entries: []commission.AreaMixEntry{}}
	seen := map[string]bool{}
	for i, row := range rows[1:] {
		label := cell(row, cols, "area_type")
		if label == "" {
			continue
		}
		area, err := decimal.NewFromString(cell(row, cols, "area"))
		if err != nil {
			return nil, &commission.InvalidInputError{Field: fmt.Sprintf("row %d area", i+2), Reason: "is not a number"}
		}
		if area.IsNegative() {
			return nil, &commission.InvalidInputError{Field: fmt.Sprintf("row %d area", i+2), Reason: "must not be negative"}
		}

		key, ok := resolve(label)
		if !ok {
			key = label
			if !seen[label] {
				seen[label] = true
				out.Unresolved = append(out.Unresolved, label)
			}
		}
		out.Entries = append(out.Entries, commission.AreaMixEntry{
			AreaType: key,
			Location: cell(row, cols, "location"),
			Area:     area,
			Notes:    cell(row, cols, "notes"),
		})
	}
	if len(out.Entries) == 0 {
		return nil, &commission.MissingDataError{Reason: "area-mix sheet has no rows"}
	}
	return out, nil
}

func headerColumns(header []string) map[string]int {
	cols := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for name, aliases := range columnAliases {
			for _, a := range aliases {
				if h == a {
					if _, taken := cols[name]; !taken {
						cols[name] = i
					}
				}
			}
		}
	}
	return cols
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
