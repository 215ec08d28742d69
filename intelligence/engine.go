// Package intelligence wires the Grid Converter, Chunker, LLM Extractor,
// Category Normalizer, Deduplicator, Persister, and Matcher stages into a
// single pipeline run per file, and tracks each run under an analysis id
// the wire protocol (SPEC_FULL.md §6.1) can poll.
package intelligence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/intelligence/category"
	"github.com/supplyetl/core/intelligence/chunk"
	"github.com/supplyetl/core/intelligence/dedup"
	"github.com/supplyetl/core/intelligence/extract"
	"github.com/supplyetl/core/intelligence/grid"
	"github.com/supplyetl/core/intelligence/match"
	"github.com/supplyetl/core/intelligence/persist"
)

// Store is the full surface *store.Store exposes that a pipeline run
// needs, beyond what persist.Store already names.
type Store interface {
	persist.Store
	UpsertItemEmbedding(ctx context.Context, itemID int64, vec []float32) error
	InsertMatchReview(ctx context.Context, r core.MatchReview) (int64, error)
	LinkCanonicalProduct(ctx context.Context, supplierItemID, productID int64) error
	InsertAuditEvent(ctx context.Context, e core.AuditEvent) error
}

// Request is one file handed over by Courier's analyze/file call.
type Request struct {
	JobID      int64
	SupplierID int64
	FilePath   string
	Kind       core.SourceKind
}

// Counters mirrors a Job's row/error tallies (spec §6.1).
type Counters struct {
	RowsSeen      int
	RowsExtracted int
	RowsPersisted int
	ErrorsByKind  core.ErrorCounts
}

// Result is populated once a run reaches a terminal phase.
type Result struct {
	SupplierItemIDs []int64 `json:"supplier_item_ids"`
	ReviewIDs       []int64 `json:"review_ids"`
}

// Status is the snapshot returned by GET /analyze/status/{id}.
type Status struct {
	Phase    core.Phase
	Progress int
	Counters Counters
	Result   *Result
}

type run struct {
	mu     sync.Mutex
	status Status
}

func (r *run) snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *run) set(phase core.Phase, progress int) {
	r.mu.Lock()
	r.status.Phase = phase
	r.status.Progress = progress
	r.mu.Unlock()
}

func (r *run) addError(kind core.ErrorKind) {
	r.mu.Lock()
	if r.status.Counters.ErrorsByKind == nil {
		r.status.Counters.ErrorsByKind = core.ErrorCounts{}
	}
	r.status.Counters.ErrorsByKind[kind]++
	r.mu.Unlock()
}

// Engine runs the full pipeline for one request at a time per analysis id,
// concurrently across ids.
type Engine struct {
	Store       Store
	Chunk       chunk.Config
	Extractor   *extract.Extractor
	Category    *category.Normalizer
	Persister   *persist.Persister
	Matcher     *match.Matcher // nil disables the optional Matcher stage
	ErrorRateCeiling float64   // chunk abandonment ceiling, spec §4.5/§7

	mu   sync.Mutex
	runs map[string]*run
}

func New(s Store, extractor *extract.Extractor, cat *category.Normalizer, persister *persist.Persister, matcher *match.Matcher, chunkCfg chunk.Config, errorRateCeiling float64) *Engine {
	if errorRateCeiling <= 0 {
		errorRateCeiling = 0.5
	}
	return &Engine{
		Store: s, Chunk: chunkCfg, Extractor: extractor, Category: cat,
		Persister: persister, Matcher: matcher, ErrorRateCeiling: errorRateCeiling,
		runs: map[string]*run{},
	}
}

func newAnalysisID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Start launches a pipeline run in the background and returns its id
// immediately (spec §4.1's "returns immediately" contract for analyze/file).
func (e *Engine) Start(ctx context.Context, req Request) string {
	id := newAnalysisID()
	r := &run{status: Status{Phase: core.PhaseAnalyzing}}

	e.mu.Lock()
	e.runs[id] = r
	e.mu.Unlock()

	go e.execute(context.WithoutCancel(ctx), id, r, req)
	return id
}

// Status returns the current snapshot for id, and false if unknown.
func (e *Engine) Status(id string) (Status, bool) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return r.snapshot(), true
}

func (e *Engine) execute(ctx context.Context, id string, r *run, req Request) {
	candidates, err := grid.Open(ctx, req.FilePath, req.Kind)
	if err != nil {
		e.fail(r, core.Kind(err))
		return
	}

	candidate, err := grid.SelectSheet(candidates)
	if err != nil {
		e.fail(r, core.KindNoSuitableSheet)
		return
	}

	normalized := grid.Normalize(candidate)
	rowsSeen := len(normalized.Rows)
	r.mu.Lock()
	r.status.Counters.RowsSeen = rowsSeen
	r.mu.Unlock()

	chunks := chunk.Split(normalized, e.Chunk)
	r.set(core.PhaseExtracting, 10)

	results := e.Extractor.ExtractAll(ctx, req.JobID, chunks)

	var products []core.ExtractedProduct
	errCounts := core.ErrorCounts{}
	failedChunks := 0
	for _, res := range results {
		for _, log := range res.Logs {
			log.JobID = req.JobID
			if err := e.Persister.RecordLog(ctx, log); err != nil {
				slog.Warn("intelligence: failed to record parsing log", "job_id", req.JobID, "error", err)
			}
			errCounts[log.Kind]++
		}
		if res.Err != nil {
			errCounts[core.Kind(res.Err)]++
			failedChunks++
			continue
		}
		products = append(products, res.Products...)
	}

	r.mu.Lock()
	r.status.Counters.RowsExtracted = len(products)
	for k, v := range errCounts {
		if r.status.Counters.ErrorsByKind == nil {
			r.status.Counters.ErrorsByKind = core.ErrorCounts{}
		}
		r.status.Counters.ErrorsByKind[k] += v
	}
	r.mu.Unlock()

	if len(chunks) > 0 && float64(failedChunks)/float64(len(chunks)) > e.ErrorRateCeiling {
		e.fail(r, core.KindExtractionMalformed)
		return
	}

	r.set(core.PhaseNormalizing, 50)

	categoryIDs := make([]*int64, len(products))
	var reviewIDs []int64
	for i, p := range products {
		if len(p.CategoryPath) == 0 {
			continue
		}
		res, err := e.Category.Resolve(ctx, req.SupplierID, p.CategoryPath)
		if err != nil {
			r.addError(core.KindCategoryUnresolved)
			continue
		}
		if res.CategoryID != nil {
			categoryIDs[i] = res.CategoryID
			continue
		}
		if res.Review != nil {
			res.Review.JobID = req.JobID
			reviewID, err := e.Persister.RecordReview(ctx, *res.Review)
			if err == nil {
				reviewIDs = append(reviewIDs, reviewID)
			}
			r.addError(core.KindCategoryUnresolved)
		}
	}

	groups := dedup.Dedupe(products, categoryIDs)
	duplicatesRemoved := 0
	for _, g := range groups {
		duplicatesRemoved += g.DuplicatesRemoved
	}

	items := make([]persist.Item, len(groups))
	for i, g := range groups {
		items[i] = persist.Item{Group: g, SupplierID: req.SupplierID}
	}

	var supplierItemIDs []int64
	rowsPersisted := 0
	const batchSize = 100
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		outcomes, err := e.Persister.PersistBatch(ctx, items[start:end])
		if err != nil {
			r.addError(core.KindPersistConflict)
			continue
		}
		for _, o := range outcomes {
			supplierItemIDs = append(supplierItemIDs, o.ItemID)
			rowsPersisted++
		}
	}

	r.mu.Lock()
	r.status.Counters.RowsPersisted = rowsPersisted
	r.mu.Unlock()

	if e.Matcher != nil && len(supplierItemIDs) > 0 {
		r.set(core.PhaseMatching, 85)
		e.runMatching(ctx, groups, supplierItemIDs)
	}

	finalErrs := r.snapshot().Counters.ErrorsByKind
	phase := persist.Finalize(rowsSeen, rowsPersisted, finalErrs, 0.80)

	r.mu.Lock()
	r.status.Phase = phase
	r.status.Progress = 100
	r.status.Result = &Result{SupplierItemIDs: supplierItemIDs, ReviewIDs: reviewIDs}
	r.mu.Unlock()
}

// runMatching links each persisted item to a canonical product via the
// Matcher. The Matcher embeds the item only to run its KNN lookup; the
// item's vector is not written to vec_supplier_items (UpsertItemEmbedding
// is not called here).
func (e *Engine) runMatching(ctx context.Context, groups []dedup.Group, itemIDs []int64) {
	for i, g := range groups {
		if i >= len(itemIDs) {
			break
		}
		itemID := itemIDs[i]
		leaf := ""
		if len(g.Product.CategoryPath) > 0 {
			leaf = g.Product.CategoryPath[len(g.Product.CategoryPath)-1]
		}

		outcome, err := e.Matcher.Match(ctx, g.Product.Name, g.Product.Description, leaf)
		if err != nil {
			slog.Warn("intelligence: matcher failed", "item_id", itemID, "error", err)
			continue
		}

		switch outcome.Route {
		case match.RouteAutoLink:
			if err := e.Store.LinkCanonicalProduct(ctx, itemID, outcome.ProductID); err != nil {
				slog.Warn("intelligence: linking canonical product failed", "item_id", itemID, "error", err)
			}
			_ = e.Store.InsertAuditEvent(ctx, core.AuditEvent{
				EntityKind: "supplier_item", EntityID: itemID, Action: "auto_link", Actor: "matcher",
			})
		case match.RouteReview:
			_, _ = e.Store.InsertMatchReview(ctx, core.MatchReview{
				SupplierItemID:     itemID,
				CandidateProductID: outcome.ProductID,
				Confidence:         outcome.Confidence,
				Status:             core.ReviewPending,
			})
		case match.RouteReject:
			// < 0.70 confidence, or no KNN candidates at all: no link, but
			// the rejection itself is still recorded (spec §4.10 step 4).
			if err := e.Store.InsertAuditEvent(ctx, core.AuditEvent{
				EntityKind: "supplier_item", EntityID: itemID, Action: "match_reject", Actor: "matcher",
			}); err != nil {
				slog.Warn("intelligence: recording match rejection failed", "item_id", itemID, "error", err)
			}
		}
	}
}

func (e *Engine) fail(r *run, kind core.ErrorKind) {
	r.mu.Lock()
	r.status.Phase = core.PhaseFailed
	r.status.Progress = 100
	if r.status.Counters.ErrorsByKind == nil {
		r.status.Counters.ErrorsByKind = core.ErrorCounts{}
	}
	r.status.Counters.ErrorsByKind[kind]++
	r.mu.Unlock()
}
