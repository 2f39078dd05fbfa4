package lsm

import "errors"

// A missing key is reported to callers as a (value, false, nil) result from
// Get rather than an error value — absence is an ordinary outcome, not a
// failure.
var (
	// ErrCorruptRecord is returned when a decoder rejects malformed or
	// trailing bytes in a record whose boundary is already known.
	ErrCorruptRecord = errors.New("lsm: corrupt record")

	// ErrInvariantViolation marks a condition the engine refuses to recover
	// from automatically, e.g. more than two WAL files found at startup.
	ErrInvariantViolation = errors.New("lsm: invariant violation")

	// ErrEngineClosed is returned by any operation attempted after Close.
	ErrEngineClosed = errors.New("lsm: engine is closed")

	// ErrKeyEmpty is returned by Set when given an empty key.
	ErrKeyEmpty = errors.New("lsm: key cannot be empty")
)
