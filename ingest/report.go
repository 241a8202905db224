package ingest

import (
	"encoding/json"
	"io"

	"github.com/cairnstack/cairn/metrics"
	"github.com/cairnstack/cairn/types"
)

// BatchReport is the structured completion report for one batch.
// Serialized into logs and CLI output; the journal persists its own
// compact binary record separately.
type BatchReport struct {
	BatchID               string            `json:"batch_id"`
	Principal             string            `json:"principal"`
	EnvelopeCount         int64             `json:"envelope_count"`
	FailureCount          int64             `json:"failure_count"`
	DeletionCount         int64             `json:"deletion_count"`
	ContentIDBase         string            `json:"content_id_base,omitempty"`
	ReconciliationSkipped bool              `json:"reconciliation_skipped"`
	DurationMs            int64             `json:"duration_ms"`
	Metrics               *metrics.Snapshot `json:"metrics,omitempty"`
}

// BuildBatchReport composes a BatchReport from a batch result and an
// optional process-level metrics snapshot.
func BuildBatchReport(result *types.BatchResult, snap *metrics.Snapshot) *BatchReport {
	return &BatchReport{
		BatchID:               result.BatchID,
		Principal:             result.Principal,
		EnvelopeCount:         result.EnvelopeCount,
		FailureCount:          result.FailureCount,
		DeletionCount:         result.DeletionCount,
		ContentIDBase:         result.ContentIDBase,
		ReconciliationSkipped: result.ReconciliationSkipped,
		DurationMs:            result.Duration.Milliseconds(),
		Metrics:               snap,
	}
}

// Write serializes the report as indented JSON.
func (r *BatchReport) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
