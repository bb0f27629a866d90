// Package fsfs implements the transactional commit engine of a file-backed
// versioned storage repository: transaction lifecycle, representation
// writing and deduplication, change-set folding, and final revision
// assembly.
package fsfs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can branch on failure category
// without string-matching messages.
type Kind string

const (
	// KindTxnOutOfDate is returned by Commit when the transaction's base
	// revision no longer equals the repository head.
	KindTxnOutOfDate Kind = "txn_out_of_date"

	// KindRepBeingWritten is returned when a proto-rev file is already
	// locked, either by this process (in-process registry) or another.
	KindRepBeingWritten Kind = "rep_being_written"

	// KindCorrupt marks any invariant violation detected on read or at
	// commit time.
	KindCorrupt Kind = "corrupt"

	// KindNoSuchTransaction names a missing txn directory. No function in
	// this package currently returns it.
	KindNoSuchTransaction Kind = "no_such_transaction"

	// KindUniqueNamesExhausted is returned by the legacy txn-id allocator
	// when all 99999 numeric suffixes are in use.
	KindUniqueNamesExhausted Kind = "unique_names_exhausted"
)

// Error is the error type surfaced across package fsfs. It carries a Kind
// for programmatic dispatch and may chain an underlying Cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, fsfs.ErrCorrupt) style sentinel comparisons by
// matching on Kind rather than identity.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return e.Kind == o.Kind
	}
	return false
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Sentinel errors for errors.Is comparisons against a bare Kind.
var (
	ErrTxnOutOfDate         = &Error{Kind: KindTxnOutOfDate}
	ErrRepBeingWritten      = &Error{Kind: KindRepBeingWritten}
	ErrCorrupt              = &Error{Kind: KindCorrupt}
	ErrNoSuchTransaction    = &Error{Kind: KindNoSuchTransaction}
	ErrUniqueNamesExhausted = &Error{Kind: KindUniqueNamesExhausted}
)

// KindOf returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
