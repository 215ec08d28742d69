package courier

import (
	"context"
	"fmt"
	"time"

	core "github.com/supplyetl/core"
)

// JobAccessor is the subset of jobstate.Store the download worker needs.
type JobAccessor interface {
	Get(ctx context.Context, jobID int64) (core.Job, error)
	Update(ctx context.Context, jobID int64, patch core.JobPatch) error
}

// Worker implements download_and_trigger (spec §4.1): stage the file,
// then hand it to Intelligence.
type Worker struct {
	Jobs         JobAccessor
	Acquirer     *Acquirer
	Intelligence *IntelligenceClient
	Pending      *PendingDepth
}

func NewWorker(jobs JobAccessor, acquirer *Acquirer, client *IntelligenceClient, pending *PendingDepth) *Worker {
	return &Worker{Jobs: jobs, Acquirer: acquirer, Intelligence: client, Pending: pending}
}

// DownloadAndTrigger fetches sourceDescriptor, stages it under shared_root,
// and calls POST /analyze/file. On any failure it flips the job to failed
// with the classified kind, per spec §4.1's failure semantics.
func (w *Worker) DownloadAndTrigger(ctx context.Context, jobID, supplierID int64, sourceDescriptor string, kind core.SourceKind) error {
	job, err := w.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	staged, err := w.Acquirer.Stage(ctx, job, supplierID, sourceDescriptor, string(kind))
	if err != nil {
		w.failJob(ctx, jobID, core.Kind(err))
		return err
	}

	filePath := staged.Path
	if err := w.Jobs.Update(ctx, jobID, core.JobPatch{FilePath: &filePath}); err != nil {
		return err
	}

	analysisID, err := w.Intelligence.AnalyzeFile(ctx, job, supplierID, staged.Path, kind)
	if err != nil {
		w.failJob(ctx, jobID, core.KindAnalysisUnreachable)
		return err
	}

	analyzing := core.PhaseAnalyzing
	if err := w.Jobs.Update(ctx, jobID, core.JobPatch{
		Phase:              &analyzing,
		IntelligenceSubJob: &analysisID,
	}); err != nil {
		return err
	}

	if w.Pending != nil {
		if err := w.Pending.Remove(ctx, jobID); err != nil {
			return fmt.Errorf("removing job from pending set: %w", err)
		}
	}
	return nil
}

func (w *Worker) failJob(ctx context.Context, jobID int64, kind core.ErrorKind) {
	failed := core.PhaseFailed
	_ = w.Jobs.Update(ctx, jobID, core.JobPatch{
		Phase:      &failed,
		ErrorDelta: core.ErrorCounts{kind: 1},
	})
	if w.Pending != nil {
		_ = w.Pending.Remove(ctx, jobID)
	}
}

// Retrier implements retry(job_id) (spec §4.1): only a failed job under
// max_retries is eligible, and the caller is expected to wait
// Policy.Delay(job.RetryCount+1) before calling DownloadAndTrigger again.
type Retrier struct {
	Jobs       JobAccessor
	MaxRetries int
	Policy     BackoffPolicy
}

func NewRetrier(jobs JobAccessor, maxRetries int) *Retrier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Retrier{Jobs: jobs, MaxRetries: maxRetries, Policy: DefaultRetryPolicy()}
}

// PrepareRetry validates eligibility, bumps retry_count and phase back to
// downloading, and returns the delay the caller should wait before
// re-running DownloadAndTrigger.
func (r *Retrier) PrepareRetry(ctx context.Context, jobID int64) (delay time.Duration, err error) {
	job, err := r.Jobs.Get(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job.Phase != core.PhaseFailed {
		return 0, core.ErrJobNotTerminal
	}
	if job.RetryCount >= r.MaxRetries {
		return 0, core.ErrRetriesExhausted
	}

	nextCount := job.RetryCount + 1
	downloading := core.PhaseDownloading
	if err := r.Jobs.Update(ctx, jobID, core.JobPatch{
		Phase:         &downloading,
		RetryCount:    &nextCount,
		ResetForRetry: true,
	}); err != nil {
		return 0, err
	}

	return r.Policy.Delay(nextCount), nil
}
