// Package store provides storage error classification.
//
// This file defines sentinel errors and error wrappers for classifying
// storage failures. These enable callers to use errors.Is/errors.As
// for typed assertions rather than string matching.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Sentinel errors for storage failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the target key/resource does not exist (404).
	ErrNotFound = errors.New("not found")

	// ErrThrottled indicates rate limiting (429, SlowDown).
	ErrThrottled = errors.New("rate limited")

	// ErrAuth indicates authentication failure (no credentials, expired token).
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied indicates authorization failure (valid creds but no permission).
	ErrAccessDenied = errors.New("access denied")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrNetwork indicates a network-level failure (connection refused, DNS).
	ErrNetwork = errors.New("network error")
)

// StorageError wraps an underlying error with storage classification.
// It preserves the original error in the chain for inspection via errors.As.
type StorageError struct {
	// Kind is the sentinel error for classification (e.g., ErrAccessDenied).
	Kind error
	// Op is the operation that failed ("put", "list", "delete", "get").
	Op string
	// Key is the content ID or object key involved, if any.
	Key string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewStorageError creates a classified storage error.
func NewStorageError(kind error, op, key string, err error) *StorageError {
	return &StorageError{
		Kind: kind,
		Op:   op,
		Key:  key,
		Err:  err,
	}
}

// classifyS3 maps an AWS SDK error to a classified StorageError.
// Unrecognized errors keep ErrNetwork as kind: for reconciliation purposes
// every unclassified S3 failure is treated as a transport fault.
func classifyS3(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewStorageError(ErrTimeout, op, key, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return NewStorageError(ErrNotFound, op, key, err)
		case "SlowDown", "TooManyRequests", "Throttling", "ThrottlingException":
			return NewStorageError(ErrThrottled, op, key, err)
		case "AccessDenied":
			return NewStorageError(ErrAccessDenied, op, key, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return NewStorageError(ErrAuth, op, key, err)
		case "RequestTimeout":
			return NewStorageError(ErrTimeout, op, key, err)
		}
	}
	return NewStorageError(ErrNetwork, op, key, err)
}
