package ingest

import "errors"

// BatchError classifies fatal batch errors for response determination.
// Non-fatal entry-level errors never become a BatchError; they are logged
// and counted where they occur.
type BatchError struct {
	// Kind indicates whether this is a decode error or a store error.
	Kind BatchErrorKind
	// Err is the underlying error.
	Err error
}

// BatchErrorKind classifies fatal batch errors.
type BatchErrorKind int

const (
	// BatchErrorDecode indicates a corrupt archive stream (client-class).
	BatchErrorDecode BatchErrorKind = iota
	// BatchErrorStore indicates a reconciliation-stage storage failure (server-class).
	BatchErrorStore
	// BatchErrorCanceled indicates context cancellation.
	BatchErrorCanceled
)

func (e *BatchError) Error() string {
	return e.Err.Error()
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsDecodeError returns true if the error is a corrupt-archive failure.
func IsDecodeError(err error) bool {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Kind == BatchErrorDecode
	}
	return false
}

// IsStoreError returns true if the error is a reconciliation storage failure.
func IsStoreError(err error) bool {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Kind == BatchErrorStore
	}
	return false
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Kind == BatchErrorCanceled
	}
	return false
}
