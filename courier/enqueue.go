package courier

import (
	"context"
	"fmt"

	core "github.com/supplyetl/core"
)

// SupplierLookup resolves a Supplier by id for enqueue's validation step.
type SupplierLookup interface {
	GetSupplier(ctx context.Context, id int64) (core.Supplier, error)
}

// JobCreator is the subset of jobstate.Store enqueue needs.
type JobCreator interface {
	Create(ctx context.Context, job core.Job) (int64, error)
}

// Courier ties together job creation, staging, the Intelligence client,
// the advisory lock, and back-pressure tracking.
type Courier struct {
	Suppliers SupplierLookup
	Jobs      JobCreator
	Lock      *JobLock
	Pending   *PendingDepth

	MaxPendingJobs int
	LockTTL        int // seconds
}

// Enqueue implements spec §4.1's enqueue(supplier_id, source_descriptor).
func (c *Courier) Enqueue(ctx context.Context, supplierID int64, sourceDescriptor string) (int64, error) {
	supplier, err := c.Suppliers.GetSupplier(ctx, supplierID)
	if err != nil {
		return 0, core.WrapKind(core.KindInvalidSource, fmt.Errorf("%w: %v", core.ErrInvalidSource, err))
	}
	if !supplier.SemanticETL {
		return 0, core.WrapKind(core.KindSupplierDisabled, core.ErrSupplierDisabled)
	}
	if sourceDescriptor == "" {
		return 0, core.WrapKind(core.KindInvalidSource, core.ErrInvalidSource)
	}

	jobID, err := c.Jobs.Create(ctx, core.Job{
		SupplierID:       supplierID,
		Phase:            core.PhaseDownloading,
		SourceDescriptor: sourceDescriptor,
	})
	if err != nil {
		return 0, fmt.Errorf("creating job: %w", err)
	}

	if c.Pending != nil {
		maxPending := c.MaxPendingJobs
		if maxPending <= 0 {
			maxPending = 200
		}
		if err := c.Pending.TryAdd(ctx, jobID, maxPending); err != nil {
			return jobID, err
		}
	}

	return jobID, nil
}
