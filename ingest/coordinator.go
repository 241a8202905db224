package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cairnstack/cairn/archive"
	"github.com/cairnstack/cairn/log"
	"github.com/cairnstack/cairn/metrics"
	"github.com/cairnstack/cairn/store"
	"github.com/cairnstack/cairn/types"
)

// Directive keys inside metadata/config.json and metadata/keep.json.
const (
	configBaseKey = "contentIDBase"
	keepListKey   = "keep"
)

// Config configures the batch coordinator.
type Config struct {
	// Concurrency bounds simultaneous storage puts. Values < 1 use
	// DefaultConcurrency.
	Concurrency int
}

// Coordinator drives a single batch: it consumes the archive stream entry
// by entry, dispatches by classification, feeds envelope tasks to the
// ingestion pool, and runs the reconciliation pass once the stream and the
// pool have both settled.
//
// Batch state (content ID base, keep-set, parse-failure count) is owned
// exclusively by the coordinator goroutine. Workers report their counts
// through the pool's counters; the strict close-then-drain ordering gives
// a happens-before edge between every keep-set write and the moment
// reconciliation reads it.
type Coordinator struct {
	store     store.ContentStore
	logger    *log.Logger
	collector *metrics.Collector
	config    Config
}

// NewCoordinator creates a batch coordinator. The collector may be nil.
func NewCoordinator(st store.ContentStore, logger *log.Logger, collector *metrics.Collector, cfg Config) *Coordinator {
	return &Coordinator{
		store:     st,
		logger:    logger,
		collector: collector,
		config:    cfg,
	}
}

// batchState is the per-request mutable state.
// Mutated only on the coordinator goroutine.
type batchState struct {
	contentIDBase string
	baseSet       bool
	parseFailures int64
	toKeep        map[string]struct{}
}

// Run processes one batch to completion.
//
// Returns the final accounting on the success path, or a *BatchError on
// the fatal paths (corrupt archive, reconciliation storage failure,
// cancellation). Exactly one of the two outcomes occurs; non-fatal
// entry-level failures only show up in the result counts.
func (c *Coordinator) Run(ctx context.Context, dec archive.Decoder, meta *types.BatchMeta) (*types.BatchResult, error) {
	start := time.Now()
	logger := c.logger.WithBatch(meta)

	state := &batchState{toKeep: make(map[string]struct{})}
	pool := NewPool(c.store, logger, c.config.Concurrency)
	pool.Start(ctx)

	consumeErr := c.consume(ctx, dec, state, pool, logger)

	// The stream is done either way; wait for every in-flight put to
	// settle before deciding anything else.
	pool.Close()
	drainErr := pool.Drain(ctx)

	if consumeErr != nil {
		if IsDecodeError(consumeErr) {
			c.collector.IncDecodeErrors()
		}
		return nil, consumeErr
	}
	if drainErr != nil {
		return nil, &BatchError{Kind: BatchErrorCanceled, Err: drainErr}
	}

	var deletions int64
	skipped := true
	if state.baseSet {
		skipped = false
		n, err := c.reconcile(ctx, state.contentIDBase, state.toKeep, logger)
		if err != nil {
			if IsStoreError(err) {
				c.collector.IncStoreErrors()
			}
			return nil, err
		}
		deletions = n
	} else {
		logger.Info("reconciliation skipped: no content ID base declared", nil)
	}

	result := &types.BatchResult{
		BatchID:               meta.BatchID,
		Principal:             meta.Principal,
		EnvelopeCount:         pool.Stored(),
		FailureCount:          state.parseFailures + pool.Failed(),
		DeletionCount:         deletions,
		ContentIDBase:         state.contentIDBase,
		ReconciliationSkipped: skipped,
		Duration:              time.Since(start),
	}

	c.collector.AbsorbBatch(result.EnvelopeCount, result.FailureCount, result.DeletionCount)
	logger.Info("batch complete", map[string]any{
		"envelopes":              result.EnvelopeCount,
		"failures":               result.FailureCount,
		"deletions":              result.DeletionCount,
		"reconciliation_skipped": result.ReconciliationSkipped,
		"duration_ms":            result.Duration.Milliseconds(),
	})
	return result, nil
}

// consume drives the archive stream until EOF or a fatal decode error.
func (c *Coordinator) consume(ctx context.Context, dec archive.Decoder, state *batchState, pool *Pool, logger *log.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return &BatchError{Kind: BatchErrorCanceled, Err: ctx.Err()}
		default:
		}

		entry, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Error("archive decode failed", map[string]any{
				"error": err.Error(),
			})
			return &BatchError{
				Kind: BatchErrorDecode,
				Err:  fmt.Errorf("archive decode failed: %w", err),
			}
		}

		if entry.Kind == archive.KindDir {
			continue
		}

		switch cls := Classify(entry.Path); cls.Class {
		case ClassConfig:
			c.handleConfig(entry, state, logger)
		case ClassKeep:
			c.handleKeep(entry, state, logger)
		case ClassEnvelope:
			// The keep decision reflects presence in the batch, not
			// storage success: record the ID before materialization so
			// a parse or put failure never exposes it to deletion.
			state.toKeep[cls.ContentID] = struct{}{}

			envelope, err := Materialize(entry.Path, entry.Reader)
			if err != nil {
				state.parseFailures++
				logger.Warn("envelope parse failed", map[string]any{
					"path":       entry.Path,
					"content_id": cls.ContentID,
					"error":      err.Error(),
				})
				continue
			}
			pool.Submit(Task{ContentID: cls.ContentID, Envelope: envelope})
		default:
			logger.Debug("ignoring unrecognized entry", map[string]any{
				"path": entry.Path,
			})
		}
	}
}

// handleConfig parses metadata/config.json. Failures here are logged but
// not counted, unlike envelope parse failures, and leave the content ID
// base unset, which downgrades reconciliation to a no-op.
func (c *Coordinator) handleConfig(entry *archive.Entry, state *batchState, logger *log.Logger) {
	value, err := Materialize(entry.Path, entry.Reader)
	if err != nil {
		logger.Warn("config parse failed", map[string]any{
			"path":  entry.Path,
			"error": err.Error(),
		})
		return
	}

	obj, _ := value.(map[string]any)
	base, _ := obj[configBaseKey].(string)
	if base == "" {
		logger.Warn("config missing contentIDBase", map[string]any{
			"path": entry.Path,
		})
		return
	}

	if state.baseSet && state.contentIDBase != base {
		logger.Warn("duplicate config entry, later one wins", map[string]any{
			"previous": state.contentIDBase,
			"current":  base,
		})
	}
	state.contentIDBase = base
	state.baseSet = true
}

// handleKeep parses metadata/keep.json and merges the listed IDs into the
// keep-set. Failures are logged only, like config failures.
func (c *Coordinator) handleKeep(entry *archive.Entry, state *batchState, logger *log.Logger) {
	value, err := Materialize(entry.Path, entry.Reader)
	if err != nil {
		logger.Warn("keep directive parse failed", map[string]any{
			"path":  entry.Path,
			"error": err.Error(),
		})
		return
	}

	obj, _ := value.(map[string]any)
	list, ok := obj[keepListKey].([]any)
	if !ok {
		logger.Warn("keep directive missing keep list", map[string]any{
			"path": entry.Path,
		})
		return
	}

	merged := 0
	for _, item := range list {
		if id, ok := item.(string); ok && id != "" {
			state.toKeep[id] = struct{}{}
			merged++
		}
	}
	logger.Debug("keep directive merged", map[string]any{
		"path": entry.Path,
		"ids":  merged,
	})
}
