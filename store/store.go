// Package store is the relational persistence layer backing the Job State
// Store, the Persister, the Category Normalizer's taxonomy reads, and the
// Matcher's vector index. It wraps one *sql.DB (sqlite with the sqlite-vec
// extension loaded) the way the teacher's store.Store wraps its document
// store, including the same inTx transaction helper and upsert-with-
// fallback pattern.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	core "github.com/supplyetl/core"
)

func init() {
	sqlite_vec.Auto()
}

// Store wraps the sqlite connection pool and embedding dimension.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (and migrates) the sqlite database at cfg.DBPath, mirroring
// the teacher's connection-pool tuning (WAL, foreign keys, busy_timeout,
// bounded pool size).
func New(cfg core.Config) (*Store, error) {
	dsn := cfg.DBPath
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	dim := cfg.EmbeddingDim
	if dim == 0 {
		dim = 768
	}

	s := &Store{db: db, embeddingDim: dim}

	if _, err := db.Exec(schemaSQL(dim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying *sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// EmbeddingDim returns the configured vector dimension.
func (s *Store) EmbeddingDim() int { return s.embeddingDim }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// inTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RunBatch exposes inTx to callers (the Persister's per-batch transaction,
// spec §4.8).
func (s *Store) RunBatch(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.inTx(ctx, fn)
}

func serializeFloat32(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func repeatPlaceholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ", ")
}

// --- Suppliers ---

func (s *Store) CreateSupplier(ctx context.Context, sup core.Supplier) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO suppliers (name, source_location, source_kind, semantic_etl) VALUES (?, ?, ?, ?)`,
		sup.Name, sup.SourceLocation, sup.SourceKind, boolToInt(sup.SemanticETL))
	if err != nil {
		return 0, fmt.Errorf("creating supplier: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetSupplier(ctx context.Context, id int64) (core.Supplier, error) {
	var sup core.Supplier
	var semantic int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, source_location, source_kind, semantic_etl FROM suppliers WHERE id = ?`, id,
	).Scan(&sup.ID, &sup.Name, &sup.SourceLocation, &sup.SourceKind, &semantic)
	if err == sql.ErrNoRows {
		return sup, core.ErrJobNotFound
	}
	if err != nil {
		return sup, fmt.Errorf("reading supplier %d: %w", id, err)
	}
	sup.SemanticETL = semantic != 0
	return sup, nil
}

// --- Jobs (Job State Store, spec §4.9) ---

func (s *Store) CreateJob(ctx context.Context, job core.Job) (int64, error) {
	errsJSON, _ := json.Marshal(job.ErrorsByKind)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (supplier_id, phase, progress, errors_json, source_descriptor, file_path, intelligence_sub_job)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.SupplierID, job.Phase, job.Progress, string(errsJSON), job.SourceDescriptor, job.FilePath, job.IntelligenceSubJob)
	if err != nil {
		return 0, fmt.Errorf("creating job: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetJob(ctx context.Context, id int64) (core.Job, error) {
	return s.scanJob(s.db.QueryRowContext(ctx, jobSelectCols+` WHERE id = ?`, id))
}

const jobSelectCols = `SELECT id, supplier_id, phase, progress, rows_seen, rows_extracted,
	rows_deduped, rows_persisted, duplicates_removed, errors_json, created_at, updated_at,
	completed_at, retry_count, source_descriptor, file_path, intelligence_sub_job FROM jobs`

func (s *Store) scanJob(row *sql.Row) (core.Job, error) {
	var j core.Job
	var errsJSON string
	var completedAt sql.NullTime
	err := row.Scan(&j.ID, &j.SupplierID, &j.Phase, &j.Progress, &j.RowsSeen, &j.RowsExtracted,
		&j.RowsDeduped, &j.RowsPersisted, &j.DuplicatesRemoved, &errsJSON, &j.CreatedAt, &j.UpdatedAt,
		&completedAt, &j.RetryCount, &j.SourceDescriptor, &j.FilePath, &j.IntelligenceSubJob)
	if err == sql.ErrNoRows {
		return j, core.ErrJobNotFound
	}
	if err != nil {
		return j, fmt.Errorf("scanning job: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	j.ErrorsByKind = core.ErrorCounts{}
	_ = json.Unmarshal([]byte(errsJSON), &j.ErrorsByKind)
	return j, nil
}

// UpdateJob applies patch to job_id with compare-and-set on phase: the new
// phase (if set) must have an order ≥ the current phase's order, per the
// phase-monotonicity invariant (spec §4.9, §8). Counter deltas in
// patch.ErrorDelta are added to the existing counts, never replaced.
func (s *Store) UpdateJob(ctx context.Context, jobID int64, patch core.JobPatch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.scanJobTx(tx, jobID)
		if err != nil {
			return err
		}

		next := current
		if patch.Phase != nil {
			if patch.Phase.Order() < current.Phase.Order() && !patch.ResetForRetry {
				return core.ErrStale
			}
			next.Phase = *patch.Phase
		}
		if patch.Progress != nil {
			next.Progress = *patch.Progress
		}
		if patch.RowsSeen != nil {
			next.RowsSeen = *patch.RowsSeen
		}
		if patch.RowsExtracted != nil {
			next.RowsExtracted = *patch.RowsExtracted
		}
		if patch.RowsDeduped != nil {
			next.RowsDeduped = *patch.RowsDeduped
		}
		if patch.RowsPersisted != nil {
			next.RowsPersisted = *patch.RowsPersisted
		}
		if patch.DuplicatesRemoved != nil {
			next.DuplicatesRemoved = *patch.DuplicatesRemoved
		}
		if patch.RetryCount != nil {
			next.RetryCount = *patch.RetryCount
		}
		if patch.IntelligenceSubJob != nil {
			next.IntelligenceSubJob = *patch.IntelligenceSubJob
		}
		if patch.FilePath != nil {
			next.FilePath = *patch.FilePath
		}
		if len(patch.ErrorDelta) > 0 {
			if next.ErrorsByKind == nil {
				next.ErrorsByKind = core.ErrorCounts{}
			}
			for k, v := range patch.ErrorDelta {
				next.ErrorsByKind[k] += v
			}
		}

		errsJSON, _ := json.Marshal(next.ErrorsByKind)
		var completedAt interface{}
		if next.Phase.IsTerminal() {
			if current.CompletedAt != nil {
				completedAt = *current.CompletedAt
			} else {
				completedAt = time.Now().UTC()
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET phase=?, progress=?, rows_seen=?, rows_extracted=?, rows_deduped=?,
				rows_persisted=?, duplicates_removed=?, errors_json=?, retry_count=?,
				intelligence_sub_job=?, file_path=?, updated_at=CURRENT_TIMESTAMP, completed_at=?
			WHERE id=?`,
			next.Phase, next.Progress, next.RowsSeen, next.RowsExtracted, next.RowsDeduped,
			next.RowsPersisted, next.DuplicatesRemoved, string(errsJSON), next.RetryCount,
			next.IntelligenceSubJob, next.FilePath, completedAt, jobID)
		return err
	})
}

func (s *Store) scanJobTx(tx *sql.Tx, jobID int64) (core.Job, error) {
	row := tx.QueryRow(jobSelectCols+` WHERE id = ?`, jobID)
	var j core.Job
	var errsJSON string
	var completedAt sql.NullTime
	err := row.Scan(&j.ID, &j.SupplierID, &j.Phase, &j.Progress, &j.RowsSeen, &j.RowsExtracted,
		&j.RowsDeduped, &j.RowsPersisted, &j.DuplicatesRemoved, &errsJSON, &j.CreatedAt, &j.UpdatedAt,
		&completedAt, &j.RetryCount, &j.SourceDescriptor, &j.FilePath, &j.IntelligenceSubJob)
	if err == sql.ErrNoRows {
		return j, core.ErrJobNotFound
	}
	if err != nil {
		return j, fmt.Errorf("scanning job: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	j.ErrorsByKind = core.ErrorCounts{}
	_ = json.Unmarshal([]byte(errsJSON), &j.ErrorsByKind)
	return j, nil
}

// ListTerminalBefore returns jobs that reached a terminal phase before ts,
// for Courier's cleanup sweep (spec §4.1, §4.9).
func (s *Store) ListTerminalBefore(ctx context.Context, ts time.Time) ([]core.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		jobSelectCols+` WHERE completed_at IS NOT NULL AND completed_at < ?`, ts)
	if err != nil {
		return nil, fmt.Errorf("listing terminal jobs: %w", err)
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// ListAnalyzing returns jobs currently in phase analyzing, for Courier's
// poll_status loop (spec §4.1).
func (s *Store) ListAnalyzing(ctx context.Context) ([]core.Job, error) {
	rows, err := s.db.QueryContext(ctx, jobSelectCols+` WHERE phase = ?`, core.PhaseAnalyzing)
	if err != nil {
		return nil, fmt.Errorf("listing analyzing jobs: %w", err)
	}
	defer rows.Close()
	return scanJobRows(rows)
}

func scanJobRows(rows *sql.Rows) ([]core.Job, error) {
	var out []core.Job
	for rows.Next() {
		var j core.Job
		var errsJSON string
		var completedAt sql.NullTime
		if err := rows.Scan(&j.ID, &j.SupplierID, &j.Phase, &j.Progress, &j.RowsSeen, &j.RowsExtracted,
			&j.RowsDeduped, &j.RowsPersisted, &j.DuplicatesRemoved, &errsJSON, &j.CreatedAt, &j.UpdatedAt,
			&completedAt, &j.RetryCount, &j.SourceDescriptor, &j.FilePath, &j.IntelligenceSubJob); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t := completedAt.Time
			j.CompletedAt = &t
		}
		j.ErrorsByKind = core.ErrorCounts{}
		_ = json.Unmarshal([]byte(errsJSON), &j.ErrorsByKind)
		out = append(out, j)
	}
	return out, rows.Err()
}

// --- Categories (Category Normalizer, spec §4.6) ---

// ListActiveCategories returns active categories visible to supplierID:
// supplier-specific rows first, then global (supplier_id IS NULL) rows,
// matching the normalizer's "supplier-specific first, global fallback"
// scoping rule.
func (s *Store) ListActiveCategories(ctx context.Context, supplierID int64) ([]core.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, parent_id, supplier_id, needs_review, is_active
		FROM categories
		WHERE is_active = 1 AND (supplier_id = ? OR supplier_id IS NULL)
		ORDER BY (supplier_id IS NULL), id ASC`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		var parentID, catSupplierID sql.NullInt64
		var needsReview, isActive int
		if err := rows.Scan(&c.ID, &c.Name, &parentID, &catSupplierID, &needsReview, &isActive); err != nil {
			return nil, err
		}
		if parentID.Valid {
			v := parentID.Int64
			c.ParentID = &v
		}
		if catSupplierID.Valid {
			v := catSupplierID.Int64
			c.SupplierID = &v
		}
		c.NeedsReview = needsReview != 0
		c.IsActive = isActive != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCategory(ctx context.Context, c core.Category) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (name, parent_id, supplier_id, needs_review, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name, parent_id, supplier_id) DO UPDATE SET
			needs_review = excluded.needs_review, is_active = excluded.is_active`,
		c.Name, c.ParentID, c.SupplierID, boolToInt(c.NeedsReview), boolToInt(c.IsActive))
	if err != nil {
		return 0, fmt.Errorf("upserting category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		var existing int64
		row := s.db.QueryRowContext(ctx,
			`SELECT id FROM categories WHERE name = ? AND parent_id IS ? AND supplier_id IS ?`,
			c.Name, c.ParentID, c.SupplierID)
		if serr := row.Scan(&existing); serr != nil {
			return 0, fmt.Errorf("resolving upserted category id: %w", serr)
		}
		return existing, nil
	}
	return id, nil
}

// --- Supplier items & price history (Persister, spec §4.8) ---

// UpsertSupplierItem implements spec §4.8's upsert_supplier_item. It must
// run inside the caller's batch transaction (tx). changedPrices reports
// whether retail/wholesale moved outside the 1% bucket tolerance, in
// which case the caller should also write a PriceHistory row.
func (s *Store) UpsertSupplierItem(ctx context.Context, tx *sql.Tx, item core.SupplierItem) (id int64, changedPrices bool, err error) {
	var existingID int64
	var existingRetail int64
	var existingWholesale sql.NullInt64
	row := tx.QueryRowContext(ctx,
		`SELECT id, retail_price, wholesale_price FROM supplier_items WHERE supplier_id = ? AND fingerprint = ?`,
		item.SupplierID, int64(item.Fingerprint))
	scanErr := row.Scan(&existingID, &existingRetail, &existingWholesale)

	switch scanErr {
	case sql.ErrNoRows:
		res, ierr := tx.ExecContext(ctx, `
			INSERT INTO supplier_items (supplier_id, name, description, wholesale_price, retail_price, category_id, fingerprint)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.SupplierID, item.Name, item.Description, nullableDecimal(item.WholesalePrice), int64(item.RetailPrice),
			item.CategoryID, int64(item.Fingerprint))
		if ierr != nil {
			return 0, false, fmt.Errorf("inserting supplier item: %w", ierr)
		}
		newID, ierr := res.LastInsertId()
		return newID, false, ierr
	case nil:
		changedPrices = priceChanged(existingRetail, existingWholesale, item)
		_, uerr := tx.ExecContext(ctx, `
			UPDATE supplier_items SET name=?, description=?, wholesale_price=?, retail_price=?,
				category_id=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
			item.Name, item.Description, nullableDecimal(item.WholesalePrice), int64(item.RetailPrice), item.CategoryID, existingID)
		if uerr != nil {
			return 0, false, fmt.Errorf("updating supplier item: %w", uerr)
		}
		return existingID, changedPrices, nil
	default:
		return 0, false, fmt.Errorf("reading existing supplier item: %w", scanErr)
	}
}

func priceChanged(existingRetail int64, existingWholesale sql.NullInt64, item core.SupplierItem) bool {
	if !withinOnePercent(float64(existingRetail), float64(item.RetailPrice)) {
		return true
	}
	var existingW int64
	if existingWholesale.Valid {
		existingW = existingWholesale.Int64
	}
	var newW int64
	if item.WholesalePrice != nil {
		newW = int64(*item.WholesalePrice)
	}
	if (existingWholesale.Valid) != (item.WholesalePrice != nil) {
		return true
	}
	if existingWholesale.Valid && item.WholesalePrice != nil && !withinOnePercent(float64(existingW), float64(newW)) {
		return true
	}
	return false
}

func withinOnePercent(a, b float64) bool {
	if a == 0 && b == 0 {
		return true
	}
	max := a
	if b > max {
		max = b
	}
	if max == 0 {
		return true
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff/max <= 0.01
}

func (s *Store) InsertPriceHistory(ctx context.Context, tx *sql.Tx, ph core.PriceHistory) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO price_history (supplier_item_id, wholesale_price, retail_price) VALUES (?, ?, ?)`,
		ph.SupplierItemID, nullableDecimal(ph.WholesalePrice), int64(ph.RetailPrice))
	return err
}

// GetSupplierItem supports the roundtrip-persistence testable property
// (spec §8).
func (s *Store) GetSupplierItem(ctx context.Context, id int64) (core.SupplierItem, error) {
	var it core.SupplierItem
	var wholesale sql.NullInt64
	var categoryID, canonicalID sql.NullInt64
	var fingerprint int64
	row := s.db.QueryRowContext(ctx, `
		SELECT id, supplier_id, name, description, wholesale_price, retail_price, category_id,
			fingerprint, canonical_product_id, created_at, updated_at
		FROM supplier_items WHERE id = ?`, id)
	err := row.Scan(&it.ID, &it.SupplierID, &it.Name, &it.Description, &wholesale, &it.RetailPrice,
		&categoryID, &fingerprint, &canonicalID, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, core.ErrJobNotFound
	}
	if err != nil {
		return it, fmt.Errorf("reading supplier item %d: %w", id, err)
	}
	if wholesale.Valid {
		v := core.Decimal(wholesale.Int64)
		it.WholesalePrice = &v
	}
	if categoryID.Valid {
		v := categoryID.Int64
		it.CategoryID = &v
	}
	if canonicalID.Valid {
		v := canonicalID.Int64
		it.CanonicalProductID = &v
	}
	it.Fingerprint = uint64(fingerprint)
	return it, nil
}

// --- Parsing logs (independent autocommit transactions, spec §4.8) ---

func (s *Store) InsertParsingLog(ctx context.Context, log core.ParsingLog) error {
	rawJSON, _ := json.Marshal(log.RawRow)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parsing_logs (job_id, chunk_id, row_number, kind, message, raw_row_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		log.JobID, log.ChunkID, log.RowNumber, log.Kind, log.Message, string(rawJSON))
	return err
}

// RecentParsingLogs returns up to limit latest logs per error kind for a
// job, for the status endpoint (spec §7 "up to N latest parsing log
// messages per error kind").
func (s *Store) RecentParsingLogs(ctx context.Context, jobID int64, limitPerKind int) ([]core.ParsingLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, chunk_id, row_number, kind, message, raw_row_json, created_at
		FROM parsing_logs WHERE job_id = ? ORDER BY created_at DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing parsing logs: %w", err)
	}
	defer rows.Close()

	perKind := map[core.ErrorKind]int{}
	var out []core.ParsingLog
	for rows.Next() {
		var l core.ParsingLog
		var rawJSON string
		if err := rows.Scan(&l.ID, &l.JobID, &l.ChunkID, &l.RowNumber, &l.Kind, &l.Message, &rawJSON, &l.CreatedAt); err != nil {
			return nil, err
		}
		if perKind[l.Kind] >= limitPerKind {
			continue
		}
		perKind[l.Kind]++
		_ = json.Unmarshal([]byte(rawJSON), &l.RawRow)
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Category reviews ---

func (s *Store) InsertCategoryReview(ctx context.Context, r core.CategoryReview) (int64, error) {
	pathJSON, _ := json.Marshal(r.ProposedPath)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO category_reviews (job_id, proposed_path_json, best_match_category_id, best_match_score, status)
		VALUES (?, ?, ?, ?, ?)`,
		r.JobID, string(pathJSON), r.BestMatchCategoryID, r.BestMatchScore, core.ReviewPending)
	if err != nil {
		return 0, fmt.Errorf("inserting category review: %w", err)
	}
	return res.LastInsertId()
}

// --- Match review queue ---

func (s *Store) InsertMatchReview(ctx context.Context, r core.MatchReview) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO match_review_queue (job_id, supplier_item_id, candidate_product_id, confidence, status)
		VALUES (?, ?, ?, ?, ?)`,
		r.JobID, r.SupplierItemID, r.CandidateProductID, r.Confidence, core.ReviewPending)
	if err != nil {
		return 0, fmt.Errorf("inserting match review: %w", err)
	}
	return res.LastInsertId()
}

// --- Audit events ---

func (s *Store) InsertAuditEvent(ctx context.Context, e core.AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (entity_kind, entity_id, action, actor) VALUES (?, ?, ?, ?)`,
		e.EntityKind, e.EntityID, e.Action, e.Actor)
	return err
}

// --- Embeddings & KNN (Matcher, spec §4.10) ---

func (s *Store) UpsertItemEmbedding(ctx context.Context, itemID int64, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_supplier_items (item_id, embedding) VALUES (?, ?)`,
		itemID, serializeFloat32(vec))
	return err
}

func (s *Store) UpsertProductEmbedding(ctx context.Context, productID int64, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_products (product_id, embedding) VALUES (?, ?)`,
		productID, serializeFloat32(vec))
	return err
}

// KNNProducts returns the k nearest canonical products to vec by cosine
// distance (spec §4.10 step 2).
func (s *Store) KNNProducts(ctx context.Context, vec []float32, k int) ([]core.MatchCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.category, v.distance
		FROM vec_products v
		JOIN canonical_products p ON p.id = v.product_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		serializeFloat32(vec), k)
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	defer rows.Close()

	var out []core.MatchCandidate
	for rows.Next() {
		var c core.MatchCandidate
		var distance float64
		if err := rows.Scan(&c.ProductID, &c.Name, &c.Description, &c.Category, &distance); err != nil {
			return nil, err
		}
		c.Score = 1.0 - distance
		out = append(out, c)
	}
	return out, rows.Err()
}

// LinkCanonicalProduct records the Matcher's auto-link decision (spec
// §4.10 step 4, confidence ≥ match_auto_threshold).
func (s *Store) LinkCanonicalProduct(ctx context.Context, supplierItemID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE supplier_items SET canonical_product_id = ? WHERE id = ?`, productID, supplierItemID)
	return err
}

// nullableDecimal converts a possibly-nil *core.Decimal into a value the
// sqlite driver accepts directly (it only understands driver.Value types,
// not arbitrary named pointer types).
func nullableDecimal(d *core.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return int64(*d)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
