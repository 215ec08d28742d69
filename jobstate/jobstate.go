// Package jobstate defines the Job State Store contract (spec §4.9): a
// key/value store keyed by job id, updated via atomic merge-patch with a
// compare-and-set on phase order (a backward phase move is rejected).
package jobstate

import (
	"context"
	"sync"
	"time"

	core "github.com/supplyetl/core"
)

// Store is implemented by both the sqlite-backed production store and an
// in-memory fake used in tests.
type Store interface {
	Create(ctx context.Context, job core.Job) (int64, error)
	Update(ctx context.Context, jobID int64, patch core.JobPatch) error
	Get(ctx context.Context, jobID int64) (core.Job, error)
	ListTerminalBefore(ctx context.Context, ts time.Time) ([]core.Job, error)
}

// SQLStore is the subset of *store.Store's API the sqlite-backed adapter
// needs; kept as an interface so jobstate doesn't import database/sql
// directly.
type SQLStore interface {
	CreateJob(ctx context.Context, job core.Job) (int64, error)
	UpdateJob(ctx context.Context, jobID int64, patch core.JobPatch) error
	GetJob(ctx context.Context, id int64) (core.Job, error)
	ListTerminalBefore(ctx context.Context, ts time.Time) ([]core.Job, error)
}

type sqlAdapter struct{ db SQLStore }

// NewSQL wraps a SQLStore (typically *store.Store) as a jobstate.Store.
func NewSQL(db SQLStore) Store { return &sqlAdapter{db: db} }

func (a *sqlAdapter) Create(ctx context.Context, job core.Job) (int64, error) {
	return a.db.CreateJob(ctx, job)
}

func (a *sqlAdapter) Update(ctx context.Context, jobID int64, patch core.JobPatch) error {
	return a.db.UpdateJob(ctx, jobID, patch)
}

func (a *sqlAdapter) Get(ctx context.Context, jobID int64) (core.Job, error) {
	return a.db.GetJob(ctx, jobID)
}

func (a *sqlAdapter) ListTerminalBefore(ctx context.Context, ts time.Time) ([]core.Job, error) {
	return a.db.ListTerminalBefore(ctx, ts)
}

// Memory is an in-process Store for tests, enforcing the same
// phase-monotonicity compare-and-set rule as the sqlite-backed store.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]core.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: map[int64]core.Job{}}
}

func (m *Memory) Create(ctx context.Context, job core.Job) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	job.ID = m.nextID
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	if job.ErrorsByKind == nil {
		job.ErrorsByKind = core.ErrorCounts{}
	}
	m.jobs[job.ID] = job
	return job.ID, nil
}

func (m *Memory) Update(ctx context.Context, jobID int64, patch core.JobPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return core.ErrJobNotFound
	}

	if patch.Phase != nil {
		if patch.Phase.Order() < job.Phase.Order() && !patch.ResetForRetry {
			return core.ErrStale
		}
		job.Phase = *patch.Phase
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.RowsSeen != nil {
		job.RowsSeen = *patch.RowsSeen
	}
	if patch.RowsExtracted != nil {
		job.RowsExtracted = *patch.RowsExtracted
	}
	if patch.RowsDeduped != nil {
		job.RowsDeduped = *patch.RowsDeduped
	}
	if patch.RowsPersisted != nil {
		job.RowsPersisted = *patch.RowsPersisted
	}
	if patch.DuplicatesRemoved != nil {
		job.DuplicatesRemoved = *patch.DuplicatesRemoved
	}
	if patch.RetryCount != nil {
		job.RetryCount = *patch.RetryCount
	}
	if patch.IntelligenceSubJob != nil {
		job.IntelligenceSubJob = *patch.IntelligenceSubJob
	}
	if patch.FilePath != nil {
		job.FilePath = *patch.FilePath
	}
	for k, v := range patch.ErrorDelta {
		job.ErrorsByKind[k] += v
	}

	if job.Phase.IsTerminal() {
		if job.CompletedAt == nil {
			now := time.Now()
			job.CompletedAt = &now
		}
	} else {
		job.CompletedAt = nil
	}
	job.UpdatedAt = time.Now()

	m.jobs[jobID] = job
	return nil
}

func (m *Memory) Get(ctx context.Context, jobID int64) (core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return core.Job{}, core.ErrJobNotFound
	}
	return job, nil
}

func (m *Memory) ListTerminalBefore(ctx context.Context, ts time.Time) ([]core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Job
	for _, j := range m.jobs {
		if j.CompletedAt != nil && j.CompletedAt.Before(ts) {
			out = append(out, j)
		}
	}
	return out, nil
}
