// Package persist implements the Persister stage: it batches deduplicated
// products into upserts, writes price history on change, records parsing
// logs in independent transactions, and computes a job's terminal phase
// (spec §4.8).
package persist

import (
	"context"
	"database/sql"
	"fmt"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/intelligence/dedup"
)

const defaultBatchSize = 100

// Store is the subset of store.Store the Persister needs.
type Store interface {
	RunBatch(ctx context.Context, fn func(*sql.Tx) error) error
	UpsertSupplierItem(ctx context.Context, tx *sql.Tx, item core.SupplierItem) (id int64, changedPrices bool, err error)
	InsertPriceHistory(ctx context.Context, tx *sql.Tx, ph core.PriceHistory) error
	InsertParsingLog(ctx context.Context, log core.ParsingLog) error
	InsertCategoryReview(ctx context.Context, r core.CategoryReview) (int64, error)
}

// Config holds the batch size and partial-success ratio (spec §6.4, §4.8).
// New fills their defaults, but no Persister method reads them: PersistBatch
// writes every item it is given, and Finalize takes its ratio as an
// argument (the Engine passes 0.80).
type Config struct {
	BatchSize           int
	PartialSuccessRatio float64
}

type Persister struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Persister {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PartialSuccessRatio <= 0 {
		cfg.PartialSuccessRatio = 0.80
	}
	return &Persister{store: store, cfg: cfg}
}

// Item is one deduplicated group ready for persistence.
type Item struct {
	Group      dedup.Group
	SupplierID int64
}

// Outcome reports what happened to one persisted item.
type Outcome struct {
	ItemID         int64
	ChangedPrices  bool
	DuplicatesAdded int
}

// PersistBatch writes all of items inside one transaction, per spec §4.8's
// "inside one transaction per batch"; the caller sizes the batch. Each batch is
// independent: a failure in one batch does not roll back a previously
// committed batch.
func (p *Persister) PersistBatch(ctx context.Context, items []Item) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(items))

	err := p.store.RunBatch(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			si := core.SupplierItem{
				SupplierID:     it.SupplierID,
				Name:           it.Group.Product.Name,
				Description:    it.Group.Product.Description,
				WholesalePrice: it.Group.Product.WholesalePrice,
				RetailPrice:    it.Group.Product.RetailPrice,
				CategoryID:     it.Group.CategoryID,
				Fingerprint:    it.Group.Fingerprint,
			}

			id, changed, err := p.store.UpsertSupplierItem(ctx, tx, si)
			if err != nil {
				return fmt.Errorf("upserting supplier item: %w", err)
			}

			if changed {
				if err := p.store.InsertPriceHistory(ctx, tx, core.PriceHistory{
					SupplierItemID: id,
					WholesalePrice: si.WholesalePrice,
					RetailPrice:    si.RetailPrice,
				}); err != nil {
					return fmt.Errorf("inserting price history: %w", err)
				}
			}

			outcomes = append(outcomes, Outcome{ItemID: id, ChangedPrices: changed, DuplicatesAdded: it.Group.DuplicatesRemoved})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// RecordLog writes one ParsingLog in its own autocommit transaction, never
// rolling back the batch that's in flight (spec §4.8).
func (p *Persister) RecordLog(ctx context.Context, log core.ParsingLog) error {
	return p.store.InsertParsingLog(ctx, log)
}

// RecordReview persists a pending category decision (spec §4.6 step 4).
func (p *Persister) RecordReview(ctx context.Context, review core.CategoryReview) (int64, error) {
	return p.store.InsertCategoryReview(ctx, review)
}

// Finalize computes the terminal phase for a job given its final counters
// (spec §4.8's finalize rule).
func Finalize(rowsSeen, rowsPersisted int, errs core.ErrorCounts, ratio float64) core.Phase {
	errCount := errs.Total()

	if errCount == 0 && rowsPersisted > 0 {
		return core.PhaseComplete
	}
	if rowsSeen > 0 && float64(rowsPersisted)/float64(rowsSeen) >= ratio && errCount > 0 {
		return core.PhaseCompletedWithErrors
	}
	return core.PhaseFailed
}
