// Package store defines the content-metadata store boundary.
//
// The core pipeline consumes the store through the narrow ContentStore
// interface; implementations back it with S3-compatible object storage or
// an in-memory map. The store is the only durable boundary in the system.
package store

import "context"

// ContentStore is the contract the ingestion pipeline requires of a
// content-metadata store.
type ContentStore interface {
	// Put stores an envelope under a content ID. The envelope is an opaque
	// JSON-serializable value; no fields are interpreted. Overwrite
	// semantics are idempotent: putting the same ID twice leaves the last
	// envelope.
	Put(ctx context.Context, contentID string, envelope any) error

	// List returns a pager over content IDs scoped under base.
	// The pager yields pages until a page with zero IDs, which terminates
	// pagination.
	List(ctx context.Context, base string) Pager

	// Delete removes the given content IDs. Missing IDs are not an error.
	Delete(ctx context.Context, contentIDs []string) error
}

// Pager is a paginated content ID producer.
type Pager interface {
	// Next returns the next page of content IDs. An empty page means
	// pagination is complete.
	Next(ctx context.Context) ([]string, error)
}

// BlobStore is the raw byte-blob surface used for non-envelope records
// (the batch journal). Kept separate from ContentStore so the pipeline
// itself never sees raw blobs.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, error)
}
