package main

import (
	"context"
	"log/slog"
	"time"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/courier"
)

// downloadTask is one unit of work for the download_and_trigger worker
// pool, queued by /enqueue and by a successful retry.
type downloadTask struct {
	JobID            int64
	SupplierID       int64
	SourceDescriptor string
	Kind             core.SourceKind
}

const downloadWorkerCount = 4

// runDownloadWorkers drains downloadQueue with a small fixed pool, holding
// the per-(supplier,descriptor) advisory lock for the duration of each
// task so two jobs never race over the same source (spec §5 "Ordering").
func runDownloadWorkers(ctx context.Context, worker *courier.Worker, queue <-chan downloadTask, lock *courier.JobLock) {
	for i := 0; i < downloadWorkerCount-1; i++ {
		go downloadWorkerLoop(ctx, worker, queue, lock)
	}
	downloadWorkerLoop(ctx, worker, queue, lock) // last worker runs on this goroutine
}

func downloadWorkerLoop(ctx context.Context, worker *courier.Worker, queue <-chan downloadTask, lock *courier.JobLock) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-queue:
			if !ok {
				return
			}
			processDownloadTask(ctx, worker, lock, task)
		}
	}
}

func processDownloadTask(ctx context.Context, worker *courier.Worker, lock *courier.JobLock, task downloadTask) {
	key := courier.LockKey(task.SupplierID, task.SourceDescriptor)
	ok, err := lock.Acquire(ctx, key, 10*time.Minute)
	if err != nil {
		slog.Warn("courier: lock acquire failed", "job_id", task.JobID, "error", err)
		return
	}
	if !ok {
		slog.Info("courier: source already in flight, skipping", "job_id", task.JobID, "key", key)
		return
	}
	defer func() {
		if err := lock.Release(ctx, key); err != nil {
			slog.Warn("courier: lock release failed", "job_id", task.JobID, "error", err)
		}
	}()

	if err := worker.DownloadAndTrigger(ctx, task.JobID, task.SupplierID, task.SourceDescriptor, task.Kind); err != nil {
		slog.Warn("courier: download_and_trigger failed", "job_id", task.JobID, "error", err)
	}
}

// JobLister is the subset of *store.Store the poll loop needs to discover
// jobs currently in analyzing (the only phase poll_status acts on).
type JobLister interface {
	ListAnalyzing(ctx context.Context) ([]core.Job, error)
}

func runPollLoop(ctx context.Context, jobs JobLister, poller *courier.Poller, interval time.Duration) {
	if interval <= 0 {
		interval = 7 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active, err := jobs.ListAnalyzing(ctx)
			if err != nil {
				slog.Warn("courier: listing analyzing jobs failed", "error", err)
				continue
			}
			for _, job := range active {
				if err := poller.Poll(ctx, job.ID, job.IntelligenceSubJob); err != nil {
					slog.Warn("courier: poll failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}
}

func runCleanupLoop(ctx context.Context, cleaner *courier.Cleaner, interval time.Duration) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := cleaner.Sweep(ctx, time.Now())
			if err != nil {
				slog.Warn("courier: cleanup sweep failed", "error", err)
				continue
			}
			slog.Info("courier: cleanup swept files", "removed", removed)
		}
	}
}
