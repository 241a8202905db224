// Package types defines shared value types for batch ingestion.
//
// Leaf package: no internal dependencies. Everything here is either the
// identity of a batch or the outcome of one.
package types

import "time"

// MetadataDir is the reserved archive directory for batch directives.
// Entries directly under it are never treated as envelopes.
const MetadataDir = "metadata"

// Reserved base names under MetadataDir.
const (
	// ConfigEntryName declares the batch configuration (content ID base).
	ConfigEntryName = "config.json"
	// KeepEntryName lists content IDs to preserve during reconciliation.
	KeepEntryName = "keep.json"
)

// BatchMeta is the identity of a single batch request.
// Assigned by the request boundary when the archive stream arrives.
type BatchMeta struct {
	// BatchID is a unique identifier for this batch, used in logs and the journal.
	BatchID string
	// Principal is the caller identity label. Diagnostics only, never authorization.
	Principal string
}

// BatchResult is the final accounting for one batch.
// Produced exactly once per request, on the success path only.
type BatchResult struct {
	// BatchID is the identifier assigned at the request boundary.
	BatchID string
	// Principal is the caller identity label.
	Principal string
	// EnvelopeCount is the number of envelopes successfully stored.
	EnvelopeCount int64
	// FailureCount is the number of envelope entries that failed to parse or store.
	FailureCount int64
	// DeletionCount is the number of content IDs removed by reconciliation.
	DeletionCount int64
	// ContentIDBase is the reconciliation base, empty when none was declared.
	ContentIDBase string
	// ReconciliationSkipped reports whether reconciliation ran.
	ReconciliationSkipped bool
	// Duration is the wall-clock time from first archive byte to completion.
	Duration time.Duration
}
