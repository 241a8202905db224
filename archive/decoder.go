// Package archive implements streaming batch archive decoding.
//
// A batch archive is a gzip-compressed tar stream. The decoder yields one
// entry at a time so the pipeline never materializes the whole archive;
// memory use is bounded by the largest single entry a consumer chooses to
// read, not by batch size.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// EntryKind discriminates archive entry types.
type EntryKind int

const (
	// KindFile is a regular file entry with content.
	KindFile EntryKind = iota
	// KindDir is a directory entry. Directories carry no content and are
	// skipped by the pipeline before classification.
	KindDir
)

// Entry is a single archive member.
//
// Reader is owned by the decoder and is only valid until the next call to
// Next or Close. Consumers that need the content must drain it first.
type Entry struct {
	// Path is the slash-separated path within the archive.
	Path string
	// Kind is the entry type.
	Kind EntryKind
	// Size is the declared content size in bytes. The Reader delivers
	// exactly this many bytes or fails; there is no silent truncation.
	Size int64
	// Reader streams the entry content.
	Reader io.Reader
}

// DecodeError represents a corrupt or malformed archive stream.
// Always fatal for the batch: there is no resync after a bad header or a
// failed checksum.
type DecodeError struct {
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError returns true if the error is an archive decode error.
func IsDecodeError(err error) bool {
	var decErr *DecodeError
	return errors.As(err, &decErr)
}

// Decoder produces a sequence of archive entries.
//
// Next returns io.EOF when the stream ends cleanly and a *DecodeError for
// a corrupt stream. Implementations must deliver entries incrementally.
type Decoder interface {
	Next() (*Entry, error)
	Close() error
}

// TarDecoder decodes gzip-compressed tar streams.
type TarDecoder struct {
	gz *gzip.Reader
	tr *tar.Reader
}

// NewTarDecoder creates a decoder over a raw archive byte stream.
// Fails with *DecodeError if the stream does not start with a gzip header.
func NewTarDecoder(r io.Reader) (*TarDecoder, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, &DecodeError{Msg: "invalid gzip stream", Err: err}
	}
	return &TarDecoder{gz: gz, tr: tar.NewReader(gz)}, nil
}

// Next returns the next archive entry.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more entries)
//   - *DecodeError: corrupt tar or gzip data (fatal, no resync)
func (d *TarDecoder) Next() (*Entry, error) {
	for {
		hdr, err := d.tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, &DecodeError{Msg: "corrupt archive stream", Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
			return &Entry{
				Path:   hdr.Name,
				Kind:   KindFile,
				Size:   hdr.Size,
				Reader: d.tr,
			}, nil
		case tar.TypeDir:
			return &Entry{Path: hdr.Name, Kind: KindDir}, nil
		default:
			// Symlinks, devices, and other exotic members carry no
			// envelope content. Skip them like directories.
			continue
		}
	}
}

// Close releases the decompressor. It does not close the underlying stream.
func (d *TarDecoder) Close() error {
	return d.gz.Close()
}
