package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// defaultPageSize is the page size for memory store listings.
// Small enough that tests exercise multi-page pagination without
// thousands of fixtures.
const defaultPageSize = 100

// MemoryStore is an in-memory ContentStore for tests and local mode.
// Safe for concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	envelopes map[string]any
	blobs     map[string][]byte

	// PageSize overrides the listing page size when > 0.
	PageSize int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		envelopes: make(map[string]any),
		blobs:     make(map[string][]byte),
	}
}

// Put stores an envelope under a content ID.
func (m *MemoryStore) Put(ctx context.Context, contentID string, envelope any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes[contentID] = envelope
	return nil
}

// Get returns the stored envelope for a content ID, if present.
func (m *MemoryStore) Get(contentID string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[contentID]
	return env, ok
}

// Len returns the number of stored envelopes.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.envelopes)
}

// IDs returns all stored content IDs, sorted.
func (m *MemoryStore) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.envelopes))
	for id := range m.envelopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns a pager over content IDs with the given prefix.
// The snapshot is taken when List is called, matching object-store
// listing semantics where concurrent writes may or may not appear.
func (m *MemoryStore) List(ctx context.Context, base string) Pager {
	m.mu.Lock()
	ids := make([]string, 0, len(m.envelopes))
	for id := range m.envelopes {
		if strings.HasPrefix(id, base) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	size := m.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	return &memoryPager{ids: ids, pageSize: size}
}

type memoryPager struct {
	ids      []string
	pageSize int
	offset   int
}

func (p *memoryPager) Next(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.offset >= len(p.ids) {
		return nil, nil
	}
	end := min(p.offset+p.pageSize, len(p.ids))
	page := p.ids[p.offset:end]
	p.offset = end
	return page, nil
}

// Delete removes the given content IDs. Missing IDs are ignored.
func (m *MemoryStore) Delete(ctx context.Context, contentIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range contentIDs {
		delete(m.envelopes, id)
	}
	return nil
}

// PutBlob stores a raw blob under a key.
func (m *MemoryStore) PutBlob(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

// GetBlob returns the blob stored under a key.
func (m *MemoryStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, NewStorageError(ErrNotFound, "get", key, nil)
	}
	return append([]byte(nil), data...), nil
}

// Verify MemoryStore implements the store interfaces.
var (
	_ ContentStore = (*MemoryStore)(nil)
	_ BlobStore    = (*MemoryStore)(nil)
)
