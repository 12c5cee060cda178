package textgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/textgo/internal/engine"
	"github.com/hupe1980/textgo/model"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed DB.
	ErrClosed = engine.ErrClosed

	// ErrNotFound is returned when a document is not visible.
	ErrNotFound = engine.ErrNotFound

	// ErrTxDone is returned when a finished transaction is used.
	ErrTxDone = engine.ErrTxDone

	// ErrInvalidArgument is returned for nil documents and bad options.
	ErrInvalidArgument = engine.ErrInvalidArgument

	ErrIO           = engine.ErrIO
	ErrConflict     = engine.ErrConflict
	ErrCorrupt      = engine.ErrCorrupt
	ErrInvalidQuery = engine.ErrInvalidQuery
	ErrCapacity     = engine.ErrCapacity
)

// IOError reports a failed read or write of durable storage.
//
// The original underlying error can be accessed via errors.Unwrap.
type IOError struct {
	cause error
}

func (e *IOError) Error() string { return e.cause.Error() }

func (e *IOError) Unwrap() error { return e.cause }

// ConflictError reports that a commit lost an optimistic concurrency race
// on DocID. Retrying the transaction is safe.
type ConflictError struct {
	DocID model.DocID
	cause error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on document %d", e.DocID)
}

func (e *ConflictError) Unwrap() error { return e.cause }

// CorruptionError reports a checksum or format failure in persisted data.
type CorruptionError struct {
	cause error
}

func (e *CorruptionError) Error() string { return e.cause.Error() }

func (e *CorruptionError) Unwrap() error { return e.cause }

// InvalidQueryError reports a malformed or unanchored query.
type InvalidQueryError struct {
	Query string
	cause error
}

func (e *InvalidQueryError) Error() string {
	if e.Query == "" {
		return e.cause.Error()
	}
	return fmt.Sprintf("%v (query %q)", e.cause, e.Query)
}

func (e *InvalidQueryError) Unwrap() error { return e.cause }

// CapacityError reports that the write buffer was full and could not be
// flushed to make room.
type CapacityError struct {
	cause error
}

func (e *CapacityError) Error() string { return e.cause.Error() }

func (e *CapacityError) Unwrap() error { return e.cause }

func translateError(err error) error {
	return translateQueryError(err, "")
}

// typedError marks the public error types so translation is idempotent.
type typedError interface{ typed() }

func (*IOError) typed()           {}
func (*ConflictError) typed()     {}
func (*CorruptionError) typed()   {}
func (*InvalidQueryError) typed() {}
func (*CapacityError) typed()     {}

func translateQueryError(err error, q string) error {
	if err == nil {
		return nil
	}
	var te typedError
	if errors.As(err, &te) {
		return err
	}

	var ce *engine.ConflictError
	switch {
	case errors.As(err, &ce):
		return &ConflictError{DocID: ce.DocID, cause: err}
	case errors.Is(err, engine.ErrConflict):
		return &ConflictError{cause: err}
	case errors.Is(err, engine.ErrCorrupt):
		return &CorruptionError{cause: err}
	case errors.Is(err, engine.ErrInvalidQuery):
		return &InvalidQueryError{Query: q, cause: err}
	case errors.Is(err, engine.ErrCapacity):
		return &CapacityError{cause: err}
	case errors.Is(err, engine.ErrIO):
		return &IOError{cause: err}
	}
	return err
}
