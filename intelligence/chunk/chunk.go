// Package chunk slices a NormalizedGrid into overlapping row-windows for
// the LLM Extractor, the way the teacher's chunker slices document
// sections into token-windows — generalized here from a token budget to a
// fixed row count with a fixed row overlap.
package chunk

import core "github.com/supplyetl/core"

// Config controls window size and overlap (spec §4.4, §6.4 defaults
// chunk_size_rows=250, chunk_overlap_rows=40).
type Config struct {
	SizeRows    int
	OverlapRows int
}

// Split slices g into windows of cfg.SizeRows data rows with
// cfg.OverlapRows rows of overlap between consecutive windows. The header
// row is prepended to every chunk. Chunks are numbered from 0; the last
// chunk may be short.
//
// Contract held for every i >= 1: chunk[i].Start = chunk[i-1].End -
// OverlapRows, and chunk[i].End - chunk[i].Start <= SizeRows. The union of
// [Start, End) ranges covers every row in g.Rows exactly once beyond the
// overlap, and the intersection of adjacent ranges has size OverlapRows.
func Split(g core.NormalizedGrid, cfg Config) []core.Chunk {
	total := len(g.Rows)
	if total == 0 {
		return nil
	}

	size := cfg.SizeRows
	if size <= 0 {
		size = 250
	}
	overlap := cfg.OverlapRows
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []core.Chunk
	start := 0
	id := 0
	for start < total {
		end := start + size
		if end > total {
			end = total
		}

		chunks = append(chunks, core.Chunk{
			ID:     id,
			Start:  start,
			End:    end,
			Header: g.Header,
			Rows:   g.Rows[start:end],
		})

		if end >= total {
			break
		}
		start = end - overlap
		id++
	}

	return chunks
}
