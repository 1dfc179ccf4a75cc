// Package errors provides structured error handling for normrag.
//
// Every error carries a Kind that drives propagation policy: Transient
// errors are eligible for backoff retry, Upstream errors trigger the next
// weaker strategy on the retrieval path, InputInvalid errors are terminal
// on the indexing path, and Fatal errors bubble up after pool recreation.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	// KindInputInvalid indicates unsupported file type, empty content,
	// or a duplicate document hash. Terminal; never retried.
	KindInputInvalid Kind = "INPUT_INVALID"

	// KindTransient indicates transport failures, timeouts, and
	// connection resets. Eligible for retry with backoff.
	KindTransient Kind = "TRANSIENT"

	// KindUpstream indicates the embedding/LLM/vector-store returned a
	// malformed or empty result. Retrieval falls back to a weaker strategy.
	KindUpstream Kind = "UPSTREAM"

	// KindCorrupt indicates a database constraint or schema violation.
	// Non-retryable.
	KindCorrupt Kind = "CORRUPT"

	// KindNotFound indicates an unknown document or chunk.
	KindNotFound Kind = "NOT_FOUND"

	// KindOverload indicates a full queue or exhausted pool. Callers
	// receive a deferred or rejected response.
	KindOverload Kind = "OVERLOAD"

	// KindFatal indicates an unrecoverable failure after pool recreation
	// and retries.
	KindFatal Kind = "FATAL"
)

// Error is the structured error type for normrag.
type Error struct {
	// Kind is the error classification.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Details contains additional context as key-value pairs.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is with kind sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a kind and message.
// Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Duplicate creates the InputInvalid error raised when a document with an
// already-known content hash is re-ingested.
func Duplicate(hash string) *Error {
	return New(KindInputInvalid, "document already exists").WithDetail("document_hash", hash)
}

// IsDuplicate reports whether err is a duplicate-ingest rejection.
func IsDuplicate(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind != KindInputInvalid {
		return false
	}
	_, ok := e.Details["document_hash"]
	return ok
}

// KindOf extracts the kind from an error chain.
// Unclassified errors report KindFatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsRetryable reports whether the error is eligible for backoff retry.
// Only Transient errors are retried; everything else propagates.
func IsRetryable(err error) bool {
	return IsKind(err, KindTransient)
}

// IsFatal reports whether the error is unrecoverable.
func IsFatal(err error) bool {
	return IsKind(err, KindFatal)
}
