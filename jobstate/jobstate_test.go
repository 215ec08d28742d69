package jobstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	core "github.com/supplyetl/core"
)

func ptr[T any](v T) *T { return &v }

func TestMemory_CreateAndGet(t *testing.T) {
	m := NewMemory()
	id, err := m.Create(context.Background(), core.Job{SupplierID: 1, Phase: core.PhaseDownloading})
	require.NoError(t, err)

	job, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, core.PhaseDownloading, job.Phase)
	require.NotNil(t, job.ErrorsByKind)
}

func TestMemory_Update_RejectsPhaseRegression(t *testing.T) {
	m := NewMemory()
	id, _ := m.Create(context.Background(), core.Job{Phase: core.PhaseAnalyzing})

	err := m.Update(context.Background(), id, core.JobPatch{Phase: ptr(core.PhaseDownloading)})
	require.ErrorIs(t, err, core.ErrStale)
}

func TestMemory_Update_AccumulatesErrorDelta(t *testing.T) {
	m := NewMemory()
	id, _ := m.Create(context.Background(), core.Job{Phase: core.PhaseAnalyzing})

	require.NoError(t, m.Update(context.Background(), id, core.JobPatch{
		ErrorDelta: core.ErrorCounts{core.KindRowPriceInvalid: 2},
	}))
	require.NoError(t, m.Update(context.Background(), id, core.JobPatch{
		ErrorDelta: core.ErrorCounts{core.KindRowPriceInvalid: 3},
	}))

	job, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 5, job.ErrorsByKind[core.KindRowPriceInvalid])
}

func TestMemory_Update_TerminalPhaseSetsCompletedAt(t *testing.T) {
	m := NewMemory()
	id, _ := m.Create(context.Background(), core.Job{Phase: core.PhaseAnalyzing})

	require.NoError(t, m.Update(context.Background(), id, core.JobPatch{Phase: ptr(core.PhaseFailed)}))

	job, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job.CompletedAt)
}

func TestMemory_Update_UnknownJob(t *testing.T) {
	m := NewMemory()
	err := m.Update(context.Background(), 999, core.JobPatch{})
	require.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestMemory_Update_PatchesFilePathIndependentlyOfSourceDescriptor(t *testing.T) {
	m := NewMemory()
	id, _ := m.Create(context.Background(), core.Job{
		Phase:            core.PhaseDownloading,
		SourceDescriptor: "https://example.com/prices.xlsx",
	})

	require.NoError(t, m.Update(context.Background(), id, core.JobPatch{FilePath: ptr("/staged/prices.xlsx")}))

	job, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "/staged/prices.xlsx", job.FilePath)
	require.Equal(t, "https://example.com/prices.xlsx", job.SourceDescriptor, "retry needs this to re-fetch")
}

func TestMemory_ListTerminalBefore(t *testing.T) {
	m := NewMemory()
	id, _ := m.Create(context.Background(), core.Job{Phase: core.PhaseAnalyzing})
	require.NoError(t, m.Update(context.Background(), id, core.JobPatch{Phase: ptr(core.PhaseFailed)}))

	before := (*jobOf(m, id, t)).CompletedAt.Add(1)
	jobs, err := m.ListTerminalBefore(context.Background(), before)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func jobOf(m *Memory, id int64, t *testing.T) *core.Job {
	t.Helper()
	j, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	return &j
}
