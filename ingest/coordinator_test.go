package ingest

import (
	"archive/tar"
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cairnstack/cairn/archive"
	"github.com/cairnstack/cairn/log"
	"github.com/cairnstack/cairn/metrics"
	"github.com/cairnstack/cairn/store"
	"github.com/cairnstack/cairn/types"
)

type batchEntry struct {
	path    string
	content string
	dir     bool
}

// buildBatch assembles a gzip tar archive and returns a decoder over it.
func buildBatch(t *testing.T, entries []batchEntry) archive.Decoder {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.path, Mode: 0o644}
		if e.dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.content))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", e.path, err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.content)); err != nil {
				t.Fatalf("write content %s: %v", e.path, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}

	dec, err := archive.NewTarDecoder(&buf)
	if err != nil {
		t.Fatalf("NewTarDecoder: %v", err)
	}
	t.Cleanup(func() { _ = dec.Close() })
	return dec
}

func testMeta() *types.BatchMeta {
	return &types.BatchMeta{BatchID: "batch-test", Principal: "tester"}
}

func runBatch(t *testing.T, st store.ContentStore, entries []batchEntry) (*types.BatchResult, error) {
	t.Helper()
	coord := NewCoordinator(st, log.NewNop(), nil, Config{Concurrency: 4})
	return coord.Run(context.Background(), buildBatch(t, entries), testMeta())
}

func TestCoordinator_EnvelopesOnly_SkipsReconciliation(t *testing.T) {
	mem := store.NewMemoryStore()
	result, err := runBatch(t, mem, []batchEntry{
		{path: "a.json", content: `{"n":1}`},
		{path: "b.json", content: `{"n":2}`},
		{path: "c.json", content: `{"n":3}`},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.EnvelopeCount != 3 {
		t.Errorf("EnvelopeCount = %d, want 3", result.EnvelopeCount)
	}
	if result.DeletionCount != 0 {
		t.Errorf("DeletionCount = %d, want 0", result.DeletionCount)
	}
	if !result.ReconciliationSkipped {
		t.Error("reconciliation should be skipped without a config entry")
	}
	if mem.Len() != 3 {
		t.Errorf("store has %d envelopes, want 3", mem.Len())
	}
}

func TestCoordinator_PutFailureStillKeepsID(t *testing.T) {
	// X exists from an earlier batch. Re-uploading it in this batch with a
	// failing put must not expose it to reconciliation: the keep decision
	// is about presence in the batch, not storage success.
	mem := store.NewMemoryStore()
	if err := mem.Put(context.Background(), "docs/x", map[string]any{"v": 1}); err != nil {
		t.Fatal(err)
	}
	fs := &failingStore{MemoryStore: mem, failIDs: map[string]bool{"docs/x": true}}

	result, err := runBatch(t, fs, []batchEntry{
		{path: "metadata/config.json", content: `{"contentIDBase":"docs/"}`},
		{path: "docs%2Fx.json", content: `{"v":2}`},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", result.FailureCount)
	}
	if result.DeletionCount != 0 {
		t.Errorf("DeletionCount = %d, want 0", result.DeletionCount)
	}
	if _, ok := mem.Get("docs/x"); !ok {
		t.Error("docs/x must survive reconciliation despite the failed put")
	}
}

func TestCoordinator_ParseFailureStillKeepsID(t *testing.T) {
	mem := store.NewMemoryStore()
	if err := mem.Put(context.Background(), "docs/x", map[string]any{"v": 1}); err != nil {
		t.Fatal(err)
	}

	result, err := runBatch(t, mem, []batchEntry{
		{path: "metadata/config.json", content: `{"contentIDBase":"docs/"}`},
		{path: "docs%2Fx.json", content: `{"broken":`},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", result.FailureCount)
	}
	if _, ok := mem.Get("docs/x"); !ok {
		t.Error("docs/x must survive reconciliation despite the parse failure")
	}
	if result.DeletionCount != 0 {
		t.Errorf("DeletionCount = %d, want 0", result.DeletionCount)
	}
}

func TestCoordinator_ReconciliationCorrectness(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"docs/a", "docs/b", "docs/c"} {
		if err := mem.Put(ctx, id, map[string]any{"old": true}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := runBatch(t, mem, []batchEntry{
		{path: "metadata/", dir: true},
		{path: "metadata/config.json", content: `{"contentIDBase":"docs/"}`},
		{path: "metadata/keep.json", content: `{"keep":["docs/c"]}`},
		{path: "docs%2Fb.json", content: `{"fresh":true}`},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.DeletionCount != 1 {
		t.Errorf("DeletionCount = %d, want 1", result.DeletionCount)
	}
	if _, ok := mem.Get("docs/a"); ok {
		t.Error("docs/a should be deleted")
	}
	if _, ok := mem.Get("docs/b"); !ok {
		t.Error("docs/b should remain")
	}
	if _, ok := mem.Get("docs/c"); !ok {
		t.Error("docs/c should remain (keep directive)")
	}
	if env, _ := mem.Get("docs/b"); env.(map[string]any)["fresh"] != true {
		t.Error("docs/b should hold the re-uploaded envelope")
	}
}

func TestCoordinator_Idempotence(t *testing.T) {
	mem := store.NewMemoryStore()
	entries := []batchEntry{
		{path: "metadata/config.json", content: `{"contentIDBase":"docs/"}`},
		{path: "docs%2Fa.json", content: `{"n":1}`},
		{path: "docs%2Fb.json", content: `{"n":2}`},
	}

	first, err := runBatch(t, mem, entries)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	idsAfterFirst := mem.IDs()

	second, err := runBatch(t, mem, entries)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.DeletionCount != 0 {
		t.Errorf("second run DeletionCount = %d, want 0", second.DeletionCount)
	}
	if second.EnvelopeCount != first.EnvelopeCount {
		t.Errorf("envelope counts differ: %d vs %d", first.EnvelopeCount, second.EnvelopeCount)
	}
	idsAfterSecond := mem.IDs()
	if len(idsAfterFirst) != len(idsAfterSecond) {
		t.Fatalf("store state changed: %v vs %v", idsAfterFirst, idsAfterSecond)
	}
	for i := range idsAfterFirst {
		if idsAfterFirst[i] != idsAfterSecond[i] {
			t.Fatalf("store state changed: %v vs %v", idsAfterFirst, idsAfterSecond)
		}
	}
}

func TestCoordinator_MalformedArchive(t *testing.T) {
	mem := store.NewMemoryStore()
	collector := metrics.NewCollector("memory")
	coord := NewCoordinator(mem, log.NewNop(), collector, Config{})

	// Valid gzip wrapping garbage tar bytes: the gzip header parses, the
	// first tar header read fails.
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte("this is not a tar stream, not even close............")); err != nil {
		t.Fatal(err)
	}
	_ = gz.Close()
	dec, err := archive.NewTarDecoder(&buf)
	if err != nil {
		t.Fatalf("NewTarDecoder: %v", err)
	}
	defer func() { _ = dec.Close() }()

	result, err := coord.Run(context.Background(), dec, testMeta())
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !IsDecodeError(err) {
		t.Fatalf("expected decode-class error, got %v", err)
	}
	if result != nil {
		t.Error("no result on the fatal path")
	}
	if mem.Len() != 0 {
		t.Errorf("store mutated by corrupt archive: %d envelopes", mem.Len())
	}
	if collector.Snapshot().DecodeErrors != 1 {
		t.Error("decode error not counted")
	}
}

func TestCoordinator_ConfigMissingBase(t *testing.T) {
	mem := store.NewMemoryStore()
	if err := mem.Put(context.Background(), "docs/old", map[string]any{}); err != nil {
		t.Fatal(err)
	}

	result, err := runBatch(t, mem, []batchEntry{
		{path: "metadata/config.json", content: `{"something":"else"}`},
		{path: "docs%2Fnew.json", content: `{"n":1}`},
	})
	if err != nil {
		t.Fatalf("missing contentIDBase must be non-fatal, got %v", err)
	}

	if !result.ReconciliationSkipped {
		t.Error("reconciliation must be skipped without contentIDBase")
	}
	// Config errors are logged, not counted.
	if result.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0", result.FailureCount)
	}
	if _, ok := mem.Get("docs/old"); !ok {
		t.Error("docs/old must survive: nothing was reconciled")
	}
	if result.EnvelopeCount != 1 {
		t.Errorf("EnvelopeCount = %d, want 1", result.EnvelopeCount)
	}
}

func TestCoordinator_DirectiveParseFailuresNotCounted(t *testing.T) {
	// Envelope parse failures increment FailureCount; config/keep parse
	// failures are logged only. The asymmetry is contract behavior.
	mem := store.NewMemoryStore()
	result, err := runBatch(t, mem, []batchEntry{
		{path: "metadata/config.json", content: `not json at all`},
		{path: "metadata/keep.json", content: `{"keep":"not-a-list"}`},
		{path: "good.json", content: `{"n":1}`},
		{path: "bad.json", content: `{{{`},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1 (envelope only)", result.FailureCount)
	}
	if result.EnvelopeCount != 1 {
		t.Errorf("EnvelopeCount = %d, want 1", result.EnvelopeCount)
	}
	if !result.ReconciliationSkipped {
		t.Error("unparsable config leaves the base unset")
	}
}

func TestCoordinator_DuplicateConfigLastWins(t *testing.T) {
	mem := store.NewMemoryStore()
	if err := mem.Put(context.Background(), "second/old", map[string]any{}); err != nil {
		t.Fatal(err)
	}

	result, err := runBatch(t, mem, []batchEntry{
		{path: "metadata/config.json", content: `{"contentIDBase":"first/"}`},
		{path: "batch/metadata/config.json", content: `{"contentIDBase":"second/"}`},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.ContentIDBase != "second/" {
		t.Errorf("ContentIDBase = %q, want second/", result.ContentIDBase)
	}
	if result.DeletionCount != 1 {
		t.Errorf("DeletionCount = %d, want 1", result.DeletionCount)
	}
}

func TestCoordinator_IgnoredEntries(t *testing.T) {
	mem := store.NewMemoryStore()
	result, err := runBatch(t, mem, []batchEntry{
		{path: "assets/", dir: true},
		{path: "assets/logo.png", content: "\x89PNG..."},
		{path: "metadata/notes.txt", content: "operator scribbles"},
		{path: "a.json", content: `{"n":1}`},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.EnvelopeCount != 1 {
		t.Errorf("EnvelopeCount = %d, want 1", result.EnvelopeCount)
	}
	if result.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0", result.FailureCount)
	}
}

// listAfterDrainStore records whether the delayed put had settled by the
// time the reconciliation listing was requested.
type listAfterDrainStore struct {
	*store.MemoryStore
	putSettled     atomic.Bool
	listSawSettled atomic.Bool
}

func (s *listAfterDrainStore) Put(ctx context.Context, contentID string, envelope any) error {
	time.Sleep(50 * time.Millisecond)
	err := s.MemoryStore.Put(ctx, contentID, envelope)
	s.putSettled.Store(true)
	return err
}

func (s *listAfterDrainStore) List(ctx context.Context, base string) store.Pager {
	s.listSawSettled.Store(s.putSettled.Load())
	return s.MemoryStore.List(ctx, base)
}

func TestCoordinator_ReconciliationAfterDrain(t *testing.T) {
	ls := &listAfterDrainStore{MemoryStore: store.NewMemoryStore()}
	_, err := runBatch(t, ls, []batchEntry{
		{path: "metadata/config.json", content: `{"contentIDBase":"docs/"}`},
		{path: "docs%2Fslow.json", content: `{"n":1}`},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !ls.listSawSettled.Load() {
		t.Error("reconciliation listing ran before the delayed put resolved")
	}
}

func TestCoordinator_CanceledContext(t *testing.T) {
	mem := store.NewMemoryStore()
	coord := NewCoordinator(mem, log.NewNop(), nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec := buildBatch(t, []batchEntry{{path: "a.json", content: `{}`}})
	_, err := coord.Run(ctx, dec, testMeta())
	if !IsCanceledError(err) {
		t.Errorf("expected canceled-class error, got %v", err)
	}
}
