// Package grid opens a supplier's spreadsheet or PDF, picks the sheet most
// likely to hold the price list, and renders it as a normalized grid:
// forward-filled merged cells, a fixed column count, and a stable header.
package grid

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	core "github.com/supplyetl/core"
)

// Candidate is one raw sheet (xlsx) or page-table (PDF) before scoring and
// merged-cell resolution.
type Candidate struct {
	Name         string
	Rows         [][]string // includes header as Rows[0]
	MergedRanges []MergedRange
}

// MergedRange is a merged-cell region reported by the source format.
// StartRow/EndRow/StartCol/EndCol are 0-indexed, inclusive.
type MergedRange struct {
	StartRow, EndRow, StartCol, EndCol int
	Value                              string
}

// priceSynonyms is the configured header synonym list used by select_sheet
// (spec §4.2).
var priceSynonyms = []string{"price", "cost", "retail", "wholesale", "msrp", "unit price"}

// sheetNameBlacklist skips obviously non-catalog sheets unless they are the
// only candidate (spec §4.2).
var sheetNameBlacklist = []string{"legend", "readme", "contacts", "instructions", "notes"}

const minViableRows = 5

// Open reads path according to kind and returns one Candidate per sheet
// (xlsx/csv) or per extracted table (pdf). Declared kind mismatches against
// file magic are not second-guessed here — Courier is responsible for
// classifying file_kind before handoff (spec §4.1).
func Open(ctx context.Context, path string, kind core.SourceKind) ([]Candidate, error) {
	switch kind {
	case core.SourceSpreadsheet, core.SourceSheetExport:
		return openXLSX(path)
	case core.SourceCSV:
		return openCSV(path)
	case core.SourcePDF:
		return openPDF(path)
	default:
		return nil, core.WrapKind(core.KindUnsupportedKind, fmt.Errorf("%w: %s", core.ErrUnsupportedKind, kind))
	}
}

func openXLSX(path string) ([]Candidate, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, core.WrapKind(core.KindUnreadable, fmt.Errorf("%w: %v", core.ErrUnreadable, err))
	}
	defer f.Close()

	var candidates []Candidate
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		merges, _ := f.GetMergeCells(sheet)
		var ranges []MergedRange
		for _, m := range merges {
			sr, sc, er, ec, ok := parseMergeRange(m)
			if ok {
				ranges = append(ranges, MergedRange{StartRow: sr, EndRow: er, StartCol: sc, EndCol: ec, Value: m.GetCellValue()})
			}
		}

		candidates = append(candidates, Candidate{Name: sheet, Rows: rows, MergedRanges: ranges})
	}
	if len(candidates) == 0 {
		return nil, core.WrapKind(core.KindUnreadable, fmt.Errorf("%w: no sheets in workbook", core.ErrUnreadable))
	}
	return candidates, nil
}

// parseMergeRange converts excelize's [start,end] cell-reference pair into
// 0-indexed row/col bounds.
func parseMergeRange(m excelize.MergeCell) (sr, sc, er, ec int, ok bool) {
	c1, r1, err1 := excelize.CellNameToCoordinates(m.GetStartAxis())
	c2, r2, err2 := excelize.CellNameToCoordinates(m.GetEndAxis())
	if err1 != nil || err2 != nil {
		return 0, 0, 0, 0, false
	}
	return r1 - 1, c1 - 1, r2 - 1, c2 - 1, true
}

// SelectSheet implements spec §4.2's select_sheet scoring: price-like
// headers, numeric cell density in price-shaped columns, and a minimum row
// count, with deterministic lowest-index tie-break.
func SelectSheet(candidates []Candidate) (Candidate, error) {
	type scored struct {
		idx   int
		score float64
		cand  Candidate
	}
	var eligible []scored

	for i, c := range candidates {
		if isBlacklisted(c.Name) && len(candidates) > 1 {
			continue
		}
		if len(c.Rows) < minViableRows {
			continue
		}
		eligible = append(eligible, scored{idx: i, score: scoreSheet(c), cand: c})
	}

	if len(eligible) == 0 {
		if len(candidates) == 1 {
			// Only candidate: use it even if blacklisted/short, per spec's
			// "unless they are the only candidate" carve-out.
			return candidates[0], nil
		}
		return Candidate{}, core.WrapKind(core.KindNoSuitableSheet, core.ErrNoSuitableSheet)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return eligible[i].idx < eligible[j].idx
	})

	if eligible[0].score <= 0 {
		return Candidate{}, core.WrapKind(core.KindNoSuitableSheet, core.ErrNoSuitableSheet)
	}

	return eligible[0].cand, nil
}

func isBlacklisted(name string) bool {
	lower := strings.ToLower(name)
	for _, b := range sheetNameBlacklist {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}

// scoreSheet combines header-synonym presence, numeric density in
// price-shaped columns, and row count into one score.
func scoreSheet(c Candidate) float64 {
	if len(c.Rows) == 0 {
		return 0
	}
	header := c.Rows[0]

	var priceCols []int
	for col, h := range header {
		hl := strings.ToLower(strings.TrimSpace(h))
		for _, syn := range priceSynonyms {
			if strings.Contains(hl, syn) {
				priceCols = append(priceCols, col)
				break
			}
		}
	}

	headerScore := float64(len(priceCols)) * 10
	rowScore := float64(len(c.Rows) - 1)

	var numericScore float64
	if len(priceCols) > 0 {
		dataRows := c.Rows[1:]
		for _, col := range priceCols {
			for _, row := range dataRows {
				if col < len(row) && looksNumeric(row[col]) {
					numericScore++
				}
			}
		}
	}

	return headerScore + numericScore + rowScore*0.1
}

func looksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
