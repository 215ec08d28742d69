package courier

import (
	"context"
	"log/slog"
	"time"

	core "github.com/supplyetl/core"
)

// JobUpdater is the subset of jobstate.Store the poller needs.
type JobUpdater interface {
	Get(ctx context.Context, jobID int64) (core.Job, error)
	Update(ctx context.Context, jobID int64, patch core.JobPatch) error
}

// Poller implements poll_status (spec §4.1): copies phase/progress/counters
// from the Intelligence sub-job into the Job, and fails stalled jobs.
type Poller struct {
	Jobs         JobUpdater
	Intelligence *IntelligenceClient
	StallTimeout time.Duration

	lastProgress map[int64]progressMark
}

type progressMark struct {
	progress int
	seenAt   time.Time
}

func NewPoller(jobs JobUpdater, client *IntelligenceClient, stallTimeout time.Duration) *Poller {
	if stallTimeout <= 0 {
		stallTimeout = 30 * time.Minute
	}
	return &Poller{Jobs: jobs, Intelligence: client, StallTimeout: stallTimeout, lastProgress: map[int64]progressMark{}}
}

// Poll reads the Intelligence sub-job for jobID and mirrors its status.
func (p *Poller) Poll(ctx context.Context, jobID int64, analysisID string) error {
	job, err := p.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Phase.IsTerminal() {
		return nil
	}

	status, err := p.Intelligence.PollStatus(ctx, analysisID)
	if err != nil {
		failed := core.PhaseFailed
		return p.Jobs.Update(ctx, jobID, core.JobPatch{
			Phase:      &failed,
			ErrorDelta: core.ErrorCounts{core.KindAnalysisUnreachable: 1},
		})
	}

	mark, known := p.lastProgress[jobID]
	now := time.Now()
	if !known || status.Progress != mark.progress {
		p.lastProgress[jobID] = progressMark{progress: status.Progress, seenAt: now}
	} else if now.Sub(mark.seenAt) > p.StallTimeout {
		failed := core.PhaseFailed
		slog.Warn("courier: job stalled", "job_id", jobID, "analysis_id", analysisID, "progress", status.Progress)
		return p.Jobs.Update(ctx, jobID, core.JobPatch{
			Phase:      &failed,
			ErrorDelta: core.ErrorCounts{core.KindStalled: 1},
		})
	}

	progress := status.Progress
	rowsSeen := status.Counters.RowsSeen
	rowsExtracted := status.Counters.RowsExtracted
	rowsPersisted := status.Counters.RowsPersisted

	return p.Jobs.Update(ctx, jobID, core.JobPatch{
		Phase:         &status.Phase,
		Progress:      &progress,
		RowsSeen:      &rowsSeen,
		RowsExtracted: &rowsExtracted,
		RowsPersisted: &rowsPersisted,
	})
}
