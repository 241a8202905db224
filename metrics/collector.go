// Package metrics provides process-level metrics collection.
//
// The Collector accumulates counters across batches. It is a leaf package
// with no internal dependencies. Per-batch counts live in the batch result;
// the collector aggregates them at completion rather than recording live,
// avoiding double-counting between the pool and the coordinator.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Batch lifecycle
	BatchesStarted   int64
	BatchesCompleted int64
	BatchesFailed    int64

	// Ingestion
	EnvelopesStored  int64
	EnvelopeFailures int64
	Deletions        int64

	// Error surface
	DecodeErrors int64
	StoreErrors  int64

	// Dimensions (informational, set at construction)
	StorageBackend string
}

// Collector accumulates metrics across batches.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	batchesStarted   int64
	batchesCompleted int64
	batchesFailed    int64

	envelopesStored  int64
	envelopeFailures int64
	deletions        int64

	decodeErrors int64
	storeErrors  int64

	storageBackend string
}

// NewCollector creates a Collector with the storage backend dimension label.
func NewCollector(storageBackend string) *Collector {
	return &Collector{storageBackend: storageBackend}
}

// IncBatchStarted records a batch request arrival.
func (c *Collector) IncBatchStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesStarted++
	c.mu.Unlock()
}

// IncBatchCompleted records a batch that reached the success path.
func (c *Collector) IncBatchCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesCompleted++
	c.mu.Unlock()
}

// IncBatchFailed records a batch that ended on a fatal error path.
func (c *Collector) IncBatchFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesFailed++
	c.mu.Unlock()
}

// IncDecodeErrors records a corrupt archive stream.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// IncStoreErrors records a fatal reconciliation-stage storage failure.
func (c *Collector) IncStoreErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storeErrors++
	c.mu.Unlock()
}

// AbsorbBatch folds a finished batch's counts into the collector.
// Called once per batch on the success path.
func (c *Collector) AbsorbBatch(stored, failed, deleted int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.envelopesStored += stored
	c.envelopeFailures += failed
	c.deletions += deleted
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		BatchesStarted:   c.batchesStarted,
		BatchesCompleted: c.batchesCompleted,
		BatchesFailed:    c.batchesFailed,
		EnvelopesStored:  c.envelopesStored,
		EnvelopeFailures: c.envelopeFailures,
		Deletions:        c.deletions,
		DecodeErrors:     c.decodeErrors,
		StoreErrors:      c.storeErrors,
		StorageBackend:   c.storageBackend,
	}
}
