package ingest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cairnstack/cairn/log"
	"github.com/cairnstack/cairn/store"
)

// DefaultConcurrency is the default bound on concurrent storage puts.
const DefaultConcurrency = 10

// Task is the unit of work submitted to the ingestion pool:
// one envelope to persist under one content ID.
type Task struct {
	ContentID string
	Envelope  any
}

// Pool persists envelopes into the content store under a fixed concurrency
// bound. Tasks are consumed in arrival order among workers; per-worker FIFO
// holds, global ordering across workers does not.
//
// Lifecycle: NewPool, Start, any number of Submit calls from a single
// producer, Close once the input is exhausted, then Drain to join.
// An ingestion failure never aborts the batch or sibling tasks; it is
// logged and counted.
type Pool struct {
	store       store.ContentStore
	logger      *log.Logger
	concurrency int

	tasks chan Task
	done  chan struct{}

	stored atomic.Int64
	failed atomic.Int64
}

// NewPool creates an ingestion pool. Concurrency values < 1 fall back to
// DefaultConcurrency.
func NewPool(st store.ContentStore, logger *log.Logger, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Pool{
		store:       st,
		logger:      logger,
		concurrency: concurrency,
		// Small buffer so the coordinator can classify ahead of slow puts;
		// a full queue blocks Submit, which bounds memory for large batches.
		tasks: make(chan Task, concurrency*2),
		done:  make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
}

func (p *Pool) worker(ctx context.Context) {
	for task := range p.tasks {
		if err := p.store.Put(ctx, task.ContentID, task.Envelope); err != nil {
			p.failed.Add(1)
			p.logger.Warn("envelope put failed", map[string]any{
				"content_id": task.ContentID,
				"error":      err.Error(),
			})
			continue
		}
		p.stored.Add(1)
	}
}

// Submit queues a task. Blocks when the queue is full. Must not be called
// after Close; the single-producer coordinator enforces this.
func (p *Pool) Submit(task Task) {
	p.tasks <- task
}

// Close signals that no more tasks will be submitted.
func (p *Pool) Close() {
	close(p.tasks)
}

// Drain blocks until pending plus in-flight reaches zero after Close.
// If the pool is already idle at Close, Drain returns immediately.
// The returned error is non-nil only when ctx expires first; workers
// observe the same ctx through their storage calls and unwind on their own.
func (p *Pool) Drain(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stored returns the number of envelopes persisted so far.
// Stable once Drain has returned.
func (p *Pool) Stored() int64 {
	return p.stored.Load()
}

// Failed returns the number of failed put operations so far.
// Stable once Drain has returned.
func (p *Pool) Failed() int64 {
	return p.failed.Load()
}
