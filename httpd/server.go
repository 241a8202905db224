// Package httpd exposes the ingestion pipeline over HTTP.
//
// One route does the work: POST /v1/batches accepts a gzip tar archive,
// runs it through the batch coordinator, and answers with the batch
// report. GET /healthz serves load balancer checks.
package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cairnstack/cairn/adapter"
	"github.com/cairnstack/cairn/archive"
	"github.com/cairnstack/cairn/ingest"
	"github.com/cairnstack/cairn/journal"
	"github.com/cairnstack/cairn/log"
	"github.com/cairnstack/cairn/metrics"
	"github.com/cairnstack/cairn/store"
	"github.com/cairnstack/cairn/types"
)

// PrincipalHeader carries the caller identity label. Diagnostics only,
// not authentication.
const PrincipalHeader = "X-Cairn-Principal"

// DefaultPrincipal is used when the principal header is absent.
const DefaultPrincipal = "anonymous"

// DefaultMaxBodyBytes caps the request body at 512 MiB.
const DefaultMaxBodyBytes = 512 << 20

// DefaultListen is the default bind address.
const DefaultListen = ":8640"

// Config configures the HTTP server.
type Config struct {
	// Listen is the bind address (default ":8640").
	Listen string
	// MaxBodyBytes caps the archive upload size (default 512 MiB).
	MaxBodyBytes int64
	// Concurrency bounds simultaneous storage puts per batch.
	Concurrency int
}

// Server ties the coordinator, store, journal, and completion adapters
// to the HTTP boundary.
type Server struct {
	config      Config
	coordinator *ingest.Coordinator
	blobs       store.BlobStore
	adapters    []adapter.Adapter
	logger      *log.Logger
	collector   *metrics.Collector

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates the server. blobs may be nil to disable the batch
// journal; adapters may be empty. The collector may be nil.
func NewServer(cfg Config, st store.ContentStore, blobs store.BlobStore, adapters []adapter.Adapter, logger *log.Logger, collector *metrics.Collector) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		config:      cfg,
		coordinator: ingest.NewCoordinator(st, logger, collector, ingest.Config{Concurrency: cfg.Concurrency}),
		blobs:       blobs,
		adapters:    adapters,
		logger:      logger,
		collector:   collector,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/batches", s.handleBatches)
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Handler: mux,
		// Uploads can be large and slow; only the header read is bounded.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the route mux, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens on the configured address and serves until ctx is
// canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	s.listener = listener

	s.logger.Info("server listening", map[string]any{
		"address": listener.Addr().String(),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// Addr returns the bound address, useful when Listen used port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": types.Version,
	})
}

// handleBatches runs one batch end to end. Exactly one response is
// written: the report on success, a single error body otherwise.
func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	principal := r.Header.Get(PrincipalHeader)
	if principal == "" {
		principal = DefaultPrincipal
	}
	meta := &types.BatchMeta{
		BatchID:   uuid.NewString(),
		Principal: principal,
	}
	logger := s.logger.WithBatch(meta)

	s.collector.IncBatchStarted()
	logger.Info("batch started", map[string]any{
		"content_length": r.ContentLength,
	})

	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	dec, err := archive.NewTarDecoder(body)
	if err != nil {
		s.collector.IncDecodeErrors()
		s.collector.IncBatchFailed()
		logger.Error("archive open failed", map[string]any{"error": err.Error()})
		s.writeError(w, http.StatusBadRequest, "invalid archive stream", err.Error())
		return
	}
	defer dec.Close()

	result, err := s.coordinator.Run(r.Context(), dec, meta)
	if err != nil {
		s.collector.IncBatchFailed()
		s.writeBatchError(w, logger, err)
		return
	}
	s.collector.IncBatchCompleted()

	// Journal and adapters are best effort and must not delay or fail
	// the response once the batch itself has succeeded. Detach from the
	// request context so a client disconnect cannot interrupt them.
	s.settle(context.WithoutCancel(r.Context()), result, logger)

	s.writeJSON(w, http.StatusOK, ingest.BuildBatchReport(result, nil))
}

// settle persists the journal record and notifies completion adapters.
func (s *Server) settle(ctx context.Context, result *types.BatchResult, logger *log.Logger) {
	completedAt := time.Now()

	if s.blobs != nil && !result.ReconciliationSkipped {
		record := journal.FromResult(result, completedAt)
		if err := journal.Write(ctx, s.blobs, result.ContentIDBase, record); err != nil {
			logger.Warn("journal write failed", map[string]any{"error": err.Error()})
		}
	}

	if len(s.adapters) == 0 {
		return
	}
	event := adapter.FromResult(result, completedAt)
	for _, a := range s.adapters {
		if err := a.Publish(ctx, event); err != nil {
			logger.Warn("completion adapter publish failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// writeBatchError maps a fatal batch error to a status code and writes
// the single error response.
func (s *Server) writeBatchError(w http.ResponseWriter, logger *log.Logger, err error) {
	status := http.StatusInternalServerError
	message := "batch failed"
	switch {
	case ingest.IsDecodeError(err):
		status = http.StatusBadRequest
		message = "invalid archive stream"
	case ingest.IsStoreError(err):
		status = http.StatusBadGateway
		message = "storage backend failure"
	case ingest.IsCanceledError(err):
		message = "batch canceled"
	}
	logger.Error("batch failed", map[string]any{
		"status": status,
		"error":  err.Error(),
	})
	s.writeError(w, status, message, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", map[string]any{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, cause string) {
	body := map[string]string{"message": message}
	if cause != "" {
		body["cause"] = cause
	}
	s.writeJSON(w, status, body)
}
