package courier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	core "github.com/supplyetl/core"
)

type fakeJobAccessor struct {
	jobs map[int64]core.Job
}

func newFakeJobAccessor(jobs ...core.Job) *fakeJobAccessor {
	f := &fakeJobAccessor{jobs: map[int64]core.Job{}}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobAccessor) Get(ctx context.Context, jobID int64) (core.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return core.Job{}, core.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeJobAccessor) Update(ctx context.Context, jobID int64, patch core.JobPatch) error {
	j, ok := f.jobs[jobID]
	if !ok {
		return core.ErrJobNotFound
	}
	// Mirror the real Job State Stores' monotonic phase-order CAS (see
	// store/store.go and jobstate/jobstate.go) so this fake can't mask a
	// retry path that the production stores would reject.
	if patch.Phase != nil {
		if patch.Phase.Order() < j.Phase.Order() && !patch.ResetForRetry {
			return core.ErrStale
		}
		j.Phase = *patch.Phase
	}
	if patch.RetryCount != nil {
		j.RetryCount = *patch.RetryCount
	}
	if patch.FilePath != nil {
		j.FilePath = *patch.FilePath
	}
	if patch.IntelligenceSubJob != nil {
		j.IntelligenceSubJob = *patch.IntelligenceSubJob
	}
	f.jobs[jobID] = j
	return nil
}

func TestRetrier_PrepareRetry_RejectsNonFailedJob(t *testing.T) {
	jobs := newFakeJobAccessor(core.Job{ID: 1, Phase: core.PhaseAnalyzing})
	r := NewRetrier(jobs, 3)

	_, err := r.PrepareRetry(context.Background(), 1)
	require.ErrorIs(t, err, core.ErrJobNotTerminal)
}

func TestRetrier_PrepareRetry_RejectsExhaustedRetries(t *testing.T) {
	jobs := newFakeJobAccessor(core.Job{ID: 1, Phase: core.PhaseFailed, RetryCount: 3})
	r := NewRetrier(jobs, 3)

	_, err := r.PrepareRetry(context.Background(), 1)
	require.ErrorIs(t, err, core.ErrRetriesExhausted)
}

func TestRetrier_PrepareRetry_BumpsCountAndRewindsPhase(t *testing.T) {
	jobs := newFakeJobAccessor(core.Job{ID: 1, Phase: core.PhaseFailed, RetryCount: 1})
	r := NewRetrier(jobs, 3)

	delay, err := r.PrepareRetry(context.Background(), 1)
	require.NoError(t, err)
	require.Positive(t, delay)

	job, err := jobs.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, core.PhaseDownloading, job.Phase)
	require.Equal(t, 2, job.RetryCount)
}

func TestRetrier_PrepareRetry_DelayGrowsWithAttempt(t *testing.T) {
	jobsA := newFakeJobAccessor(core.Job{ID: 1, Phase: core.PhaseFailed, RetryCount: 0})
	jobsB := newFakeJobAccessor(core.Job{ID: 1, Phase: core.PhaseFailed, RetryCount: 2})
	r := NewRetrier(jobsA, 5)

	firstDelay, err := r.PrepareRetry(context.Background(), 1)
	require.NoError(t, err)

	r.Jobs = jobsB
	laterDelay, err := r.PrepareRetry(context.Background(), 1)
	require.NoError(t, err)

	require.Greater(t, laterDelay, firstDelay)
}
