package service

import "errors"

// Invocation errors. Validation errors are returned before any side effect.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidRange   = errors.New("start date after end date")
	ErrNoData         = errors.New("no metric records to rank")
	ErrNotStarted     = errors.New("service not started")
)
