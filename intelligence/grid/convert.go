package grid

import (
	"strings"

	core "github.com/supplyetl/core"
)

// Normalize implements the Grid Converter (spec §4.3): forward-fills
// merged-cell regions, fixes the column count to the header's width,
// drops rows that are empty in every column, and renders empty cells as
// empty strings rather than any literal placeholder.
func Normalize(c Candidate) core.NormalizedGrid {
	rows := applyMergedFill(c.Rows, c.MergedRanges)
	if len(rows) == 0 {
		return core.NormalizedGrid{}
	}

	header := fitWidth(rows[0], len(rows[0]))
	width := len(header)

	var out [][]string
	for _, r := range rows[1:] {
		fitted := fitWidth(r, width)
		if isBlankRow(fitted) {
			continue
		}
		out = append(out, fitted)
	}

	return core.NormalizedGrid{Header: header, Rows: out}
}

// fitWidth truncates extra cells and right-pads short rows to width.
func fitWidth(row []string, width int) []string {
	out := make([]string, width)
	for i := 0; i < width; i++ {
		if i < len(row) {
			out[i] = row[i]
		}
	}
	return out
}

// applyMergedFill forward-fills every merged region's value across the
// rows/cols it spans, so e.g. A5:A12 merged as "X" shows "X" in every one
// of rows 5-12's column A.
func applyMergedFill(rows [][]string, merges []MergedRange) [][]string {
	if len(merges) == 0 {
		return rows
	}

	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}

	for _, m := range merges {
		for r := m.StartRow; r <= m.EndRow && r < len(out); r++ {
			for col := m.StartCol; col <= m.EndCol; col++ {
				for len(out[r]) <= col {
					out[r] = append(out[r], "")
				}
				out[r][col] = m.Value
			}
		}
	}
	return out
}

// RenderMarkdown renders a NormalizedGrid as a stable Markdown pipe-table
// (spec §4.3), used for prompt construction in the LLM Extractor.
func RenderMarkdown(g core.NormalizedGrid) string {
	var b strings.Builder
	writeRow(&b, g.Header)
	b.WriteString("| " + strings.Repeat("--- | ", len(g.Header)) + "\n")
	for _, row := range g.Rows {
		writeRow(&b, row)
	}
	return b.String()
}

func writeRow(b *strings.Builder, row []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(row, " | "))
	b.WriteString(" |\n")
}
