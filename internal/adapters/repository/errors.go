package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrClosed            = errors.New("store closed")
	ErrConflictExhausted = errors.New("write conflict retries exhausted")
	ErrSnapshotExists    = errors.New("rank snapshot already exists")
	ErrInvalidRange      = errors.New("invalid date range")
	ErrInvalidKey        = errors.New("invalid key")
)
