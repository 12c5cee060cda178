package engine

import (
	"errors"
	"fmt"

	"github.com/hupe1980/textgo/model"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrInvalidArgument is returned when an argument is invalid (nil document, bad option).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a requested DocID is not visible.
	ErrNotFound = errors.New("not found")

	// ErrTxDone is returned when a committed or rolled back transaction is used.
	ErrTxDone = errors.New("transaction already finished")

	// ErrIO is returned when durable storage could not be read or written.
	ErrIO = errors.New("i/o error")

	// ErrConflict is returned when a transaction lost an optimistic commit race.
	ErrConflict = errors.New("write conflict")

	// ErrCorrupt is returned when data corruption is detected (checksum mismatch, etc.).
	ErrCorrupt = errors.New("data corruption detected")

	// ErrInvalidQuery is returned for malformed or unanchored queries.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrCapacity is returned when the write buffer is full and a forced flush failed.
	ErrCapacity = errors.New("capacity exceeded")
)

// ConflictError reports the DocID whose concurrent modification aborted a commit.
type ConflictError struct {
	DocID model.DocID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on document %d", e.DocID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIO) || errors.Is(err, ErrCorrupt) || errors.Is(err, ErrClosed) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
