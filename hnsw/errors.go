package hnsw

import "errors"

// Error kinds a caller can match with errors.Is. Every public operation in
// this package either succeeds outright or returns one of these wrapped
// with additional context via fmt.Errorf's %w, never a partial result.
var (
	// ErrInvalidConfiguration covers inconsistent M/dimension, efC < M, or
	// a PQ M that does not divide the vector dimension.
	ErrInvalidConfiguration = errors.New("hnsw: invalid configuration")
	// ErrInvalidState covers search before train, loading a mismatched
	// hnsw_t tag, or an unknown persisted version.
	ErrInvalidState = errors.New("hnsw: invalid state")
	// ErrIoError covers file open/read/write/short-read failures.
	ErrIoError = errors.New("hnsw: io error")
	// ErrInternal covers graph invariant violations other than degree
	// overflow and self-edge attempts, which panic instead (see
	// Index.addLink). These indicate a bug in this package, never bad
	// user input, and callers should treat them as fatal.
	ErrInternal = errors.New("hnsw: internal invariant violated")
)
