package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cairnstack/cairn/log"
	"github.com/cairnstack/cairn/store"
)

// trackingStore wraps a MemoryStore and records the maximum number of
// concurrent Put calls observed.
type trackingStore struct {
	*store.MemoryStore
	inflight    atomic.Int64
	maxInflight atomic.Int64
	putDelay    time.Duration
}

func (s *trackingStore) Put(ctx context.Context, contentID string, envelope any) error {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		cur := s.maxInflight.Load()
		if n <= cur || s.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if s.putDelay > 0 {
		time.Sleep(s.putDelay)
	}
	return s.MemoryStore.Put(ctx, contentID, envelope)
}

// failingStore fails puts for selected content IDs.
type failingStore struct {
	*store.MemoryStore
	failIDs map[string]bool
}

func (s *failingStore) Put(ctx context.Context, contentID string, envelope any) error {
	if s.failIDs[contentID] {
		return errors.New("injected put failure")
	}
	return s.MemoryStore.Put(ctx, contentID, envelope)
}

// blockingStore holds every Put until released.
type blockingStore struct {
	*store.MemoryStore
	gate chan struct{}
}

func (s *blockingStore) Put(ctx context.Context, contentID string, envelope any) error {
	<-s.gate
	return s.MemoryStore.Put(ctx, contentID, envelope)
}

func TestPool_ConcurrencyBound(t *testing.T) {
	ts := &trackingStore{MemoryStore: store.NewMemoryStore(), putDelay: 5 * time.Millisecond}
	pool := NewPool(ts, log.NewNop(), 2)
	pool.Start(context.Background())

	for i := 0; i < 10; i++ {
		pool.Submit(Task{ContentID: string(rune('a' + i)), Envelope: map[string]any{}})
	}
	pool.Close()
	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if got := ts.maxInflight.Load(); got > 2 {
		t.Errorf("observed %d concurrent puts, bound is 2", got)
	}
	if pool.Stored() != 10 {
		t.Errorf("stored = %d, want 10", pool.Stored())
	}
}

func TestPool_FailureIsolation(t *testing.T) {
	fs := &failingStore{MemoryStore: store.NewMemoryStore(), failIDs: map[string]bool{"bad": true}}
	pool := NewPool(fs, log.NewNop(), 4)
	pool.Start(context.Background())

	for _, id := range []string{"good-1", "bad", "good-2"} {
		pool.Submit(Task{ContentID: id, Envelope: map[string]any{}})
	}
	pool.Close()
	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if pool.Stored() != 2 {
		t.Errorf("stored = %d, want 2", pool.Stored())
	}
	if pool.Failed() != 1 {
		t.Errorf("failed = %d, want 1", pool.Failed())
	}
	if fs.Len() != 2 {
		t.Errorf("store has %d envelopes, want 2", fs.Len())
	}
}

func TestPool_DrainWaitsForInFlight(t *testing.T) {
	bs := &blockingStore{MemoryStore: store.NewMemoryStore(), gate: make(chan struct{})}
	pool := NewPool(bs, log.NewNop(), 2)
	pool.Start(context.Background())

	pool.Submit(Task{ContentID: "held", Envelope: map[string]any{}})
	pool.Close()

	drained := make(chan struct{})
	go func() {
		_ = pool.Drain(context.Background())
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("drain fired while a put was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(bs.gate)

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("drain did not fire after the put resolved")
	}
	if pool.Stored() != 1 {
		t.Errorf("stored = %d, want 1", pool.Stored())
	}
}

func TestPool_DrainImmediateWhenIdle(t *testing.T) {
	pool := NewPool(store.NewMemoryStore(), log.NewNop(), 2)
	pool.Start(context.Background())
	pool.Close()

	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain on idle pool: %v", err)
	}
	if pool.Stored() != 0 || pool.Failed() != 0 {
		t.Error("idle pool should report zero counts")
	}
}

func TestPool_DrainHonorsContext(t *testing.T) {
	bs := &blockingStore{MemoryStore: store.NewMemoryStore(), gate: make(chan struct{})}
	pool := NewPool(bs, log.NewNop(), 1)
	pool.Start(context.Background())

	pool.Submit(Task{ContentID: "held", Envelope: map[string]any{}})
	pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}

	// Release the worker so the test leaves no goroutine behind.
	close(bs.gate)
	_ = pool.Drain(context.Background())
}

func TestPool_SubmitBlocksWhenFull(t *testing.T) {
	bs := &blockingStore{MemoryStore: store.NewMemoryStore(), gate: make(chan struct{})}
	pool := NewPool(bs, log.NewNop(), 1)
	pool.Start(context.Background())

	// 1 in flight + 2 buffered; the next Submit must block.
	for i := 0; i < 3; i++ {
		pool.Submit(Task{ContentID: "x", Envelope: map[string]any{}})
	}

	submitted := make(chan struct{})
	go func() {
		pool.Submit(Task{ContentID: "y", Envelope: map[string]any{}})
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("submit should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	close(bs.gate)
	<-submitted
	pool.Close()
	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
}
