// Package journal persists a compact record of each batch outcome.
//
// The record is written to the content store as a raw msgpack blob under
// <base>/.cairn/journal. It lives outside the envelope keyspace (no .json
// suffix) so reconciliation can never see or delete it. Journal writes are
// best-effort: a failure is logged by the caller and never affects the
// batch response.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cairnstack/cairn/store"
	"github.com/cairnstack/cairn/types"
)

// Key returns the journal blob key for a content ID base.
func Key(base string) string {
	if base == "" {
		return ".cairn/journal"
	}
	if base[len(base)-1] == '/' {
		return base + ".cairn/journal"
	}
	return base + "/.cairn/journal"
}

// Record is the persisted batch outcome.
// Fields use msgpack tags to keep the wire format stable across renames.
type Record struct {
	Version               string `msgpack:"version"`
	BatchID               string `msgpack:"batch_id"`
	Principal             string `msgpack:"principal"`
	EnvelopeCount         int64  `msgpack:"envelope_count"`
	FailureCount          int64  `msgpack:"failure_count"`
	DeletionCount         int64  `msgpack:"deletion_count"`
	ReconciliationSkipped bool   `msgpack:"reconciliation_skipped"`
	DurationMs            int64  `msgpack:"duration_ms"`
	CompletedAt           string `msgpack:"completed_at"` // ISO 8601 UTC
}

// FromResult builds a Record from a batch result.
func FromResult(result *types.BatchResult, completedAt time.Time) *Record {
	return &Record{
		Version:               types.Version,
		BatchID:               result.BatchID,
		Principal:             result.Principal,
		EnvelopeCount:         result.EnvelopeCount,
		FailureCount:          result.FailureCount,
		DeletionCount:         result.DeletionCount,
		ReconciliationSkipped: result.ReconciliationSkipped,
		DurationMs:            result.Duration.Milliseconds(),
		CompletedAt:           completedAt.UTC().Format(time.RFC3339),
	}
}

// Write encodes the record and stores it under the base's journal key.
func Write(ctx context.Context, blobs store.BlobStore, base string, record *Record) error {
	data, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}
	if err := blobs.PutBlob(ctx, Key(base), data); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	return nil
}

// Read fetches and decodes the journal record for a base.
func Read(ctx context.Context, blobs store.BlobStore, base string) (*Record, error) {
	data, err := blobs.GetBlob(ctx, Key(base))
	if err != nil {
		return nil, fmt.Errorf("read journal record: %w", err)
	}
	var record Record
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode journal record: %w", err)
	}
	return &record, nil
}
