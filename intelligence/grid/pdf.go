package grid

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	core "github.com/supplyetl/core"
)

// openPDF extracts a table from each page by clustering the page's text
// elements into visual rows (by Y proximity, same tolerance idea the
// teacher's line-grouping uses) and then into columns (by X gaps), instead
// of treating the page as prose. Non-tabular pages come back with at most a
// single column and are skipped; the remaining page tables are merged into
// one Candidate.
func openPDF(path string) ([]Candidate, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, core.WrapKind(core.KindUnreadable, fmt.Errorf("%w: %v", core.ErrUnreadable, err))
	}
	defer f.Close()

	var candidates []Candidate
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows := extractPageTable(page)
		if len(rows) == 0 || len(rows[0]) < 2 {
			continue
		}
		candidates = append(candidates, Candidate{Name: fmt.Sprintf("page_%d", i), Rows: rows})
	}

	if len(candidates) == 0 {
		return nil, core.WrapKind(core.KindUnreadable, fmt.Errorf("%w: no extractable tables in PDF", core.ErrUnreadable))
	}

	// "tables are extracted into the same (header+rows) shape... concatenated
	// in document order with the first table's header used; subsequent
	// header-like rows are skipped" (spec §4.3).
	merged := candidates[0]
	header := merged.Rows[0]
	for _, c := range candidates[1:] {
		for _, row := range c.Rows {
			if rowEqualsHeader(row, header) {
				continue
			}
			merged.Rows = append(merged.Rows, row)
		}
	}
	return []Candidate{merged}, nil
}

func rowEqualsHeader(row, header []string) bool {
	if len(row) != len(header) {
		return false
	}
	for i := range row {
		if strings.TrimSpace(strings.ToLower(row[i])) != strings.TrimSpace(strings.ToLower(header[i])) {
			return false
		}
	}
	return true
}

const yLineTolerance = 3.0
const xColumnGap = 8.0 // minimum horizontal gap, in PDF points, that separates two columns

type textRun struct {
	x, y float64
	s    string
}

// extractPageTable groups a page's text elements into visual rows by Y
// proximity, then splits each row into columns wherever the horizontal gap
// between consecutive runs exceeds xColumnGap. Column boundaries are
// unified across rows by clustering column start positions globally, so
// every row ends up with the same column count.
func extractPageTable(page pdf.Page) [][]string {
	content := page.Content()
	if len(content.Text) == 0 {
		return nil
	}

	var runs []textRun
	for _, t := range content.Text {
		runs = append(runs, textRun{x: t.X, y: t.Y, s: t.S})
	}

	type visualRow struct {
		y    float64
		runs []textRun
	}
	var lines []*visualRow
	var cur *visualRow
	for _, r := range runs {
		if cur == nil || math.Abs(r.y-cur.y) > yLineTolerance {
			lines = append(lines, &visualRow{y: r.y})
			cur = lines[len(lines)-1]
		}
		cur.runs = append(cur.runs, r)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	// Collect every column boundary (start-of-run X after a gap) across all
	// lines to build a single global set of column edges.
	var edges []float64
	for _, l := range lines {
		sort.SliceStable(l.runs, func(i, j int) bool { return l.runs[i].x < l.runs[j].x })
		edges = append(edges, l.runs[0].x)
		for i := 1; i < len(l.runs); i++ {
			if l.runs[i].x-l.runs[i-1].x > xColumnGap {
				edges = append(edges, l.runs[i].x)
			}
		}
	}
	edges = clusterEdges(edges)
	if len(edges) == 0 {
		return nil
	}

	var rows [][]string
	for _, l := range lines {
		row := make([]string, len(edges))
		var cellBuf strings.Builder
		col := 0
		for i, r := range l.runs {
			if i > 0 && r.x-l.runs[i-1].x > xColumnGap {
				row[col] = strings.TrimSpace(cellBuf.String())
				cellBuf.Reset()
				col = columnFor(r.x, edges, col)
			}
			cellBuf.WriteString(r.s)
		}
		if cellBuf.Len() > 0 && col < len(row) {
			row[col] = strings.TrimSpace(cellBuf.String())
		}
		if !isBlankRow(row) {
			rows = append(rows, row)
		}
	}
	return rows
}

func clusterEdges(edges []float64) []float64 {
	if len(edges) == 0 {
		return nil
	}
	sort.Float64s(edges)
	clustered := []float64{edges[0]}
	for _, e := range edges[1:] {
		if e-clustered[len(clustered)-1] > xColumnGap {
			clustered = append(clustered, e)
		}
	}
	return clustered
}

func columnFor(x float64, edges []float64, minCol int) int {
	col := minCol
	for i, e := range edges {
		if x >= e-1 {
			col = i
		}
	}
	return col
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
