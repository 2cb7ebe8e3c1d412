package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an expected absence, e.g. an unscored wallet.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a record with the same id is already stored.
	ErrDuplicate = errors.New("duplicate")

	// ErrUnavailable is returned by oracles that cannot answer right now.
	ErrUnavailable = errors.New("unavailable")

	// ErrLookup matches any *LookupError via errors.Is.
	ErrLookup = errors.New("lookup failed")

	// ErrInvalidRecord matches any *DataError via errors.Is.
	ErrInvalidRecord = errors.New("invalid swap record")
)

// LookupError wraps a failure of an external collaborator (store query,
// reputation lookup, oracle). It is transient: the current event is
// abandoned, the pipeline keeps running.
type LookupError struct {
	Op  string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s: %v", e.Op, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrLookup) match without unwrapping.
func (e *LookupError) Is(target error) bool { return target == ErrLookup }

// NewLookupError wraps err unless it already is a LookupError.
func NewLookupError(op string, err error) error {
	var le *LookupError
	if errors.As(err, &le) {
		return err
	}
	return &LookupError{Op: op, Err: err}
}

// DataError reports a SwapRecord that violates the record invariants.
type DataError struct {
	Field  string
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("invalid swap record: %s %s", e.Field, e.Reason)
}

func (e *DataError) Is(target error) bool { return target == ErrInvalidRecord }
