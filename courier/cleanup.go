package courier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	core "github.com/supplyetl/core"
)

// TerminalJobLister is the subset of jobstate.Store cleanup needs.
type TerminalJobLister interface {
	ListTerminalBefore(ctx context.Context, ts time.Time) ([]core.Job, error)
}

// Cleaner implements cleanup(now) (spec §4.1): deletes staged files (and
// their sidecars) whose job terminated more than retention ago. It never
// touches a file whose job is non-terminal, since ListTerminalBefore only
// ever returns terminal jobs.
type Cleaner struct {
	Jobs      TerminalJobLister
	Retention time.Duration
}

func NewCleaner(jobs TerminalJobLister, retention time.Duration) *Cleaner {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Cleaner{Jobs: jobs, Retention: retention}
}

// Sweep runs one cleanup pass.
func (c *Cleaner) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-c.Retention)
	jobs, err := c.Jobs.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing terminal jobs: %w", err)
	}

	removed := 0
	for _, j := range jobs {
		if j.FilePath == "" {
			continue
		}
		if err := os.Remove(j.FilePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("courier: cleanup failed to remove file", "job_id", j.ID, "path", j.FilePath, "error", err)
			continue
		}
		_ = os.Remove(j.FilePath + ".meta.json")
		removed++
	}
	return removed, nil
}
