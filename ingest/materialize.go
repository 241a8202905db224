package ingest

import (
	"encoding/json"
	"fmt"
	"io"
)

// EntryError is a non-fatal per-entry failure. It carries the offending
// archive path for diagnostics; it is logged and counted, never surfaced
// to the caller individually.
type EntryError struct {
	// Path is the archive path of the failing entry.
	Path string
	// Err is the underlying decode or I/O error.
	Err error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %s: %v", e.Path, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Materialize drains an entry's content stream and parses it as JSON.
// Envelopes are opaque: any JSON value is accepted, not just objects.
//
// The reader is consumed to completion; the archive layer guarantees it
// delivers exactly the declared entry size or errors, so there is no
// silent truncation. Failures are wrapped in *EntryError with the entry
// path attached.
func Materialize(entryPath string, r io.Reader) (any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &EntryError{Path: entryPath, Err: fmt.Errorf("read content: %w", err)}
	}

	var envelope any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &EntryError{Path: entryPath, Err: fmt.Errorf("parse JSON: %w", err)}
	}
	return envelope, nil
}
