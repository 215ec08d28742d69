package core

import "time"

// Phase is a Job's position in the ordered pipeline (spec §3). Phases move
// monotonically until a terminal phase is reached.
type Phase string

const (
	PhaseDownloading         Phase = "downloading"
	PhaseAnalyzing           Phase = "analyzing"
	PhaseExtracting          Phase = "extracting"
	PhaseNormalizing         Phase = "normalizing"
	PhaseMatching            Phase = "matching"
	PhaseComplete            Phase = "complete"
	PhaseCompletedWithErrors Phase = "completed_with_errors"
	PhaseFailed              Phase = "failed"
)

// phaseOrder gives the total order used by the phase-monotonicity
// invariant (spec §8). Terminal phases share the highest order value since
// a job may land on any one of them from the same prior phase.
var phaseOrder = map[Phase]int{
	PhaseDownloading:         0,
	PhaseAnalyzing:           1,
	PhaseExtracting:          2,
	PhaseNormalizing:         3,
	PhaseMatching:            4,
	PhaseComplete:            5,
	PhaseCompletedWithErrors: 5,
	PhaseFailed:              5,
}

// Order returns the phase's position for monotonicity checks. Unknown
// phases sort before everything.
func (p Phase) Order() int {
	o, ok := phaseOrder[p]
	if !ok {
		return -1
	}
	return o
}

// IsTerminal reports whether p is one of the three terminal phases.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseCompletedWithErrors || p == PhaseFailed
}

// SourceKind enumerates the file kinds a Supplier's descriptor may declare.
type SourceKind string

const (
	SourceSpreadsheet SourceKind = "spreadsheet"
	SourceCSV         SourceKind = "csv"
	SourcePDF         SourceKind = "pdf"
	SourceSheetExport SourceKind = "sheet-export"
)

// Supplier is the identity of an upstream data source (spec §3).
type Supplier struct {
	ID               int64
	Name             string
	SourceLocation   string
	SourceKind       SourceKind
	SemanticETL      bool
}

// ErrorCounts tallies ParsingLog rows by kind for a single job.
type ErrorCounts map[ErrorKind]int

// Total sums every counted kind.
func (c ErrorCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Job is one attempt to ingest one file for one supplier (spec §3).
type Job struct {
	ID                 int64
	SupplierID         int64
	Phase              Phase
	Progress           int
	RowsSeen           int
	RowsExtracted      int
	RowsDeduped        int
	RowsPersisted      int
	DuplicatesRemoved  int
	ErrorsByKind       ErrorCounts
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
	RetryCount         int
	SourceDescriptor   string // external descriptor passed to enqueue, re-used by retry
	FilePath           string // local staged path, set once download_and_trigger succeeds
	IntelligenceSubJob string
}

// JobPatch is a partial update merged into a Job by the Job State Store's
// update() operation (spec §4.9). Nil fields are left unchanged.
type JobPatch struct {
	Phase              *Phase
	Progress           *int
	RowsSeen           *int
	RowsExtracted      *int
	RowsDeduped        *int
	RowsPersisted      *int
	DuplicatesRemoved  *int
	ErrorDelta         ErrorCounts // added to existing counts, not replaced
	RetryCount         *int
	IntelligenceSubJob *string
	FilePath           *string

	// ResetForRetry bypasses the Job State Stores' monotonic phase-order check for this
	// one update, for retry(job_id)'s failed->downloading rewind (spec
	// §4.1). Every other caller relies on the Order() compare-and-set.
	ResetForRetry bool
}

// StagedFile is the file handed to Intelligence (spec §3, §6.2).
type StagedFile struct {
	Path         string
	Kind         SourceKind
	SizeBytes    int64
	SHA256       string
	SupplierID   int64
	JobID        int64
	AcquiredAt   time.Time
}

// NormalizedGrid is one sheet rendered as a header row plus data rows, with
// merged-cell values forward-filled (spec §3, §4.3). Ephemeral per job.
type NormalizedGrid struct {
	Header []string
	Rows   [][]string
}

// Chunk is a contiguous window of a NormalizedGrid (spec §3, §4.4).
type Chunk struct {
	ID     int
	Start  int // inclusive row index into the grid's Rows
	End    int // exclusive
	Header []string
	Rows   [][]string
}

// Decimal is represented as an int64 of hundredths to make price-equality
// and price-bucket comparisons exact (spec §8's "prices compared with
// decimal equality, not float"). The LLM Extractor's parseDecimal converts
// the LLM's literal decimal strings into it.
type Decimal int64 // hundredths of a unit; 1999 == 19.99

// ExtractedProduct is one product candidate produced by the LLM Extractor
// (spec §3, §4.5).
type ExtractedProduct struct {
	Name            string
	Description     string
	WholesalePrice  *Decimal
	RetailPrice     Decimal
	CategoryPath    []string // root -> leaf
	RawSource       map[string]string
	ChunkID         int
	RowIndexInChunk int
}

// Category is a node in the taxonomy forest (spec §3, §4.6).
type Category struct {
	ID           int64
	Name         string
	ParentID     *int64
	SupplierID   *int64 // nil = global scope
	NeedsReview  bool
	IsActive     bool
}

// SupplierItem is the persisted row resulting from an ExtractedProduct
// (spec §3, §4.8).
type SupplierItem struct {
	ID                  int64
	SupplierID          int64
	Name                string
	Description         string
	WholesalePrice      *Decimal
	RetailPrice         Decimal
	CategoryID          *int64
	Fingerprint         uint64
	CanonicalProductID  *int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PriceHistory is an append-only record written whenever a persist would
// change prices for an existing (supplier, fingerprint) (spec §3, §4.8).
type PriceHistory struct {
	ID             int64
	SupplierItemID int64
	WholesalePrice *Decimal
	RetailPrice    Decimal
	CapturedAt     time.Time
}

// ParsingLog is one structured error (spec §3, §7).
type ParsingLog struct {
	ID        int64
	JobID     int64
	ChunkID   int
	RowNumber int
	Kind      ErrorKind
	Message   string
	RawRow    map[string]string
	CreatedAt time.Time
}

// ReviewStatus is the shared status enum for CategoryReview and MatchReview.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewRenamed  ReviewStatus = "renamed" // CategoryReview only
)

// CategoryReview is a pending taxonomy decision (spec §3, §4.6).
type CategoryReview struct {
	ID                  int64
	JobID               int64
	ProposedPath        []string
	BestMatchCategoryID *int64
	BestMatchScore      float64
	Status              ReviewStatus
	CreatedAt           time.Time
}

// MatchReview is a pending Matcher decision awaiting human action
// (SPEC_FULL.md §3 added; mirrors CategoryReview's shape for the Matcher's
// 0.70-0.90 confidence band, spec §4.10 step 4).
type MatchReview struct {
	ID                 int64
	JobID              int64
	SupplierItemID      int64
	CandidateProductID int64
	Confidence         float64
	Status             ReviewStatus
	CreatedAt          time.Time
}

// OwnerKind distinguishes what an Embedding belongs to.
type OwnerKind string

const (
	OwnerSupplierItem     OwnerKind = "supplier_item"
	OwnerCanonicalProduct OwnerKind = "canonical_product"
)

// Embedding is a fixed-dimensional vector associated with a supplier item
// or canonical product (spec §3, §4.10).
type Embedding struct {
	OwnerID   int64
	OwnerKind OwnerKind
	Model     string
	Vector    []float32
}

// MatchCandidate is one KNN result from the Matcher's vector search
// (spec §4.10 step 2).
type MatchCandidate struct {
	ProductID  int64
	Name       string
	Description string
	Category   string
	Score      float64 // cosine similarity, higher is better
}

// AuditEvent is an append-only trail entry (SPEC_FULL.md §3 added).
type AuditEvent struct {
	ID         int64
	EntityKind string
	EntityID   int64
	Action     string
	Actor      string
	At         time.Time
}
