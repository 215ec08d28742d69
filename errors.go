package core

import "errors"

// ErrorKind is the closed set of error kinds tracked in job counters and
// written to ParsingLog.ErrorKind. See spec §7.
type ErrorKind string

const (
	KindInvalidSource      ErrorKind = "InvalidSource"
	KindSupplierDisabled   ErrorKind = "SupplierDisabled"
	KindFileTooLarge       ErrorKind = "FileTooLarge"
	KindUnreadable         ErrorKind = "Unreadable"
	KindUnsupportedKind    ErrorKind = "UnsupportedKind"
	KindNoSuitableSheet    ErrorKind = "NoSuitableSheet"
	KindExtractionMalformed ErrorKind = "ExtractionMalformed"
	KindExtractionTimeout  ErrorKind = "ExtractionTimeout"
	KindRowSchemaInvalid   ErrorKind = "RowSchemaInvalid"
	KindRowPriceInvalid    ErrorKind = "RowPriceInvalid"
	KindRowNameMissing     ErrorKind = "RowNameMissing"
	KindCategoryUnresolved ErrorKind = "CategoryUnresolved"
	KindDuplicateCollapsed ErrorKind = "DuplicateCollapsed"
	KindPersistConflict    ErrorKind = "PersistConflict"
	KindAnalysisUnreachable ErrorKind = "AnalysisUnreachable"
	KindStalled            ErrorKind = "Stalled"
	KindCancelled           ErrorKind = "Cancelled"
	KindEmbeddingFailed     ErrorKind = "EmbeddingFailed"
	KindAdjudicationFailed  ErrorKind = "AdjudicationFailed"
	KindUnexpected          ErrorKind = "Unexpected"
)

// rowErrorKinds is the subset of ErrorKind that count against the row
// conservation invariant (spec §8): rows_seen = rows_persisted +
// duplicates_removed + sum(errors_by_kind where kind in this set).
var rowErrorKinds = map[ErrorKind]bool{
	KindRowSchemaInvalid: true,
	KindRowPriceInvalid:  true,
	KindRowNameMissing:   true,
}

// IsRowError reports whether kind counts as a per-row extraction error for
// the row conservation invariant.
func IsRowError(kind ErrorKind) bool {
	return rowErrorKinds[kind]
}

// KindedError pairs a closed ErrorKind with an underlying cause, so stage
// boundaries can log the original kind instead of demoting everything to
// Unexpected.
type KindedError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *KindedError) Unwrap() error { return e.Err }

// Kind extracts the ErrorKind from err if it (or something it wraps) is a
// *KindedError; otherwise returns KindUnexpected. Used at every stage
// boundary per spec §7's "no exception is allowed to kill the worker
// process" rule.
func Kind(err error) ErrorKind {
	var ke *KindedError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnexpected
}

// WrapKind wraps err with an explicit ErrorKind.
func WrapKind(kind ErrorKind, err error) error {
	return &KindedError{Kind: kind, Err: err}
}

// Sentinel errors used for flow control internal to a stage, before being
// classified into a KindedError at the stage boundary.
var (
	ErrInvalidSource       = errors.New("invalid source descriptor")
	ErrSupplierDisabled    = errors.New("supplier has semantic ETL disabled")
	ErrFileTooLarge        = errors.New("file exceeds max_file_size")
	ErrUnreadable          = errors.New("file could not be opened or parsed")
	ErrUnsupportedKind     = errors.New("unsupported file kind")
	ErrNoSuitableSheet     = errors.New("no sheet reached minimum viability score")
	ErrJobNotFound         = errors.New("job not found")
	ErrJobNotTerminal      = errors.New("job is not in a terminal phase")
	ErrRetriesExhausted    = errors.New("max retries exhausted")
	ErrBackpressured       = errors.New("pending job queue depth exceeded")
	ErrStale               = errors.New("stale compare-and-set: phase regression")
)
