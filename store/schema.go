package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension (spec §6.3).
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS suppliers (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    source_location TEXT NOT NULL,
    source_kind TEXT NOT NULL,
    semantic_etl INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY,
    supplier_id INTEGER NOT NULL REFERENCES suppliers(id),
    phase TEXT NOT NULL,
    progress INTEGER NOT NULL DEFAULT 0,
    rows_seen INTEGER NOT NULL DEFAULT 0,
    rows_extracted INTEGER NOT NULL DEFAULT 0,
    rows_deduped INTEGER NOT NULL DEFAULT 0,
    rows_persisted INTEGER NOT NULL DEFAULT 0,
    duplicates_removed INTEGER NOT NULL DEFAULT 0,
    errors_json TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    retry_count INTEGER NOT NULL DEFAULT 0,
    source_descriptor TEXT,
    file_path TEXT,
    intelligence_sub_job TEXT
);

CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    parent_id INTEGER REFERENCES categories(id),
    supplier_id INTEGER REFERENCES suppliers(id),
    needs_review INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    UNIQUE(name, parent_id, supplier_id)
);

CREATE TABLE IF NOT EXISTS supplier_items (
    id INTEGER PRIMARY KEY,
    supplier_id INTEGER NOT NULL REFERENCES suppliers(id),
    name TEXT NOT NULL,
    description TEXT,
    wholesale_price INTEGER,
    retail_price INTEGER NOT NULL,
    category_id INTEGER REFERENCES categories(id),
    fingerprint INTEGER NOT NULL,
    canonical_product_id INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(supplier_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS price_history (
    id INTEGER PRIMARY KEY,
    supplier_item_id INTEGER NOT NULL REFERENCES supplier_items(id) ON DELETE CASCADE,
    wholesale_price INTEGER,
    retail_price INTEGER NOT NULL,
    captured_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS parsing_logs (
    id INTEGER PRIMARY KEY,
    job_id INTEGER NOT NULL REFERENCES jobs(id),
    chunk_id INTEGER NOT NULL,
    row_number INTEGER NOT NULL,
    kind TEXT NOT NULL,
    message TEXT,
    raw_row_json TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS category_reviews (
    id INTEGER PRIMARY KEY,
    job_id INTEGER NOT NULL REFERENCES jobs(id),
    proposed_path_json TEXT NOT NULL,
    best_match_category_id INTEGER REFERENCES categories(id),
    best_match_score REAL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS match_review_queue (
    id INTEGER PRIMARY KEY,
    job_id INTEGER NOT NULL REFERENCES jobs(id),
    supplier_item_id INTEGER NOT NULL REFERENCES supplier_items(id),
    candidate_product_id INTEGER NOT NULL,
    confidence REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_events (
    id INTEGER PRIMARY KEY,
    entity_kind TEXT NOT NULL,
    entity_id INTEGER NOT NULL,
    action TEXT NOT NULL,
    actor TEXT NOT NULL,
    at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Minimal local mirror of the canonical product catalog the Matcher
-- compares against. The authoritative catalog lives outside this core
-- (spec §1 "public product catalog" is out of scope); this table only
-- holds what KNN + adjudication need to run against a local index.
CREATE TABLE IF NOT EXISTS canonical_products (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    category TEXT
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_supplier_items USING vec0(
    item_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_products USING vec0(
    product_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

CREATE INDEX IF NOT EXISTS idx_jobs_supplier ON jobs(supplier_id);
CREATE INDEX IF NOT EXISTS idx_jobs_phase ON jobs(phase);
CREATE INDEX IF NOT EXISTS idx_supplier_items_supplier ON supplier_items(supplier_id);
CREATE INDEX IF NOT EXISTS idx_supplier_items_fingerprint ON supplier_items(fingerprint);
CREATE INDEX IF NOT EXISTS idx_categories_parent ON categories(parent_id);
CREATE INDEX IF NOT EXISTS idx_categories_supplier ON categories(supplier_id);
CREATE INDEX IF NOT EXISTS idx_parsing_logs_job ON parsing_logs(job_id);
CREATE INDEX IF NOT EXISTS idx_parsing_logs_kind ON parsing_logs(kind);
CREATE INDEX IF NOT EXISTS idx_category_reviews_job ON category_reviews(job_id);
CREATE INDEX IF NOT EXISTS idx_match_review_job ON match_review_queue(job_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_entity ON audit_events(entity_kind, entity_id);
`, embeddingDim, embeddingDim)
}
