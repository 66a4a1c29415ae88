package storage

import "errors"

var (
	// ErrNotFound means the run, observation or band row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey means the record already exists. Observations are unique per
	// (group_key, timestamp), runs per id, and band rows per run. Nothing is updated in place.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput means a store rejected its arguments before touching the backend.
	ErrInvalidInput = errors.New("invalid storage input")
)
