package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"

	core "github.com/supplyetl/core"
)

func gridOf(n int) core.NormalizedGrid {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{"item", "1.00"}
	}
	return core.NormalizedGrid{Header: []string{"name", "price"}, Rows: rows}
}

func TestSplit_CoversAllRowsWithOverlap(t *testing.T) {
	g := gridOf(600)
	chunks := Split(g, Config{SizeRows: 250, OverlapRows: 40})
	require.Len(t, chunks, 3)

	require.Equal(t, 0, chunks[0].Start)
	require.Equal(t, 250, chunks[0].End)

	for i := 1; i < len(chunks); i++ {
		require.Equal(t, chunks[i-1].End-40, chunks[i].Start, "chunk %d should start OverlapRows before the previous end", i)
		require.LessOrEqual(t, chunks[i].End-chunks[i].Start, 250)
	}

	require.Equal(t, 600, chunks[len(chunks)-1].End)
}

func TestSplit_EmptyGrid(t *testing.T) {
	g := core.NormalizedGrid{Header: []string{"a"}}
	require.Nil(t, Split(g, Config{SizeRows: 250, OverlapRows: 40}))
}

func TestSplit_SingleShortChunk(t *testing.T) {
	g := gridOf(10)
	chunks := Split(g, Config{SizeRows: 250, OverlapRows: 40})
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].Start)
	require.Equal(t, 10, chunks[0].End)
}

func TestSplit_DefaultsAppliedForZeroConfig(t *testing.T) {
	g := gridOf(10)
	chunks := Split(g, Config{})
	require.Len(t, chunks, 1)
}

func TestSplit_OverlapEqualToSizeIgnored(t *testing.T) {
	g := gridOf(20)
	chunks := Split(g, Config{SizeRows: 5, OverlapRows: 5})
	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		require.Greater(t, chunks[i].Start, chunks[i-1].Start)
	}
}
