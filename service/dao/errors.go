package dao

import "errors"

// Common, reusable DAO errors. Callers detect them with errors.Is.
var (
	// ErrNotFound is returned when the requested entity does not exist in the
	// underlying storage.
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID indicates that the supplied ID/key is empty or otherwise
	// invalid.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when the caller attempts to persist a nil
	// pointer.
	ErrNilEntity = errors.New("dao: nil entity")

	// ErrDuplicate is returned when a Requested instance already exists for
	// the transaction.
	ErrDuplicate = errors.New("dao: active instance exists")

	// ErrVersionMismatch is returned when a conditional instance write lost
	// against a concurrent writer.
	ErrVersionMismatch = errors.New("dao: version mismatch")

	// ErrStatusMismatch is returned when a step is no longer in the expected
	// status.
	ErrStatusMismatch = errors.New("dao: step status mismatch")
)
