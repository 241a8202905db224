// Package adapter defines the batch-completion notification boundary.
//
// Adapters publish batch completion events to downstream systems once the
// success path has run. Publishing is write-only and best-effort: no
// component depends on its outcome, and a publish failure never changes
// the batch response.
package adapter

import (
	"context"
	"time"

	"github.com/cairnstack/cairn/types"
)

// BatchCompletedEvent is the payload published when a batch finishes.
type BatchCompletedEvent struct {
	Version               string `json:"version"`
	EventType             string `json:"event_type"` // always "batch_completed"
	BatchID               string `json:"batch_id"`
	Principal             string `json:"principal"`
	EnvelopeCount         int64  `json:"envelope_count"`
	FailureCount          int64  `json:"failure_count"`
	DeletionCount         int64  `json:"deletion_count"`
	ContentIDBase         string `json:"content_id_base,omitempty"`
	ReconciliationSkipped bool   `json:"reconciliation_skipped"`
	DurationMs            int64  `json:"duration_ms"`
	Timestamp             string `json:"timestamp"` // ISO 8601
}

// FromResult builds the completion event for a batch result.
func FromResult(result *types.BatchResult, completedAt time.Time) *BatchCompletedEvent {
	return &BatchCompletedEvent{
		Version:               types.Version,
		EventType:             "batch_completed",
		BatchID:               result.BatchID,
		Principal:             result.Principal,
		EnvelopeCount:         result.EnvelopeCount,
		FailureCount:          result.FailureCount,
		DeletionCount:         result.DeletionCount,
		ContentIDBase:         result.ContentIDBase,
		ReconciliationSkipped: result.ReconciliationSkipped,
		DurationMs:            result.Duration.Milliseconds(),
		Timestamp:             completedAt.UTC().Format(time.RFC3339),
	}
}

// Adapter publishes batch completion events to a downstream system.
type Adapter interface {
	// Publish sends a batch completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *BatchCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
