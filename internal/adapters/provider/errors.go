package provider

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds for provider errors.
var (
	ErrExhausted   = errors.New("provider retries exhausted")
	ErrCircuitOpen = errors.New("provider circuit open")
	ErrNoTerms     = errors.New("no query terms")
	ErrMalformed   = errors.New("malformed provider response")
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	Code       int
	RetryAfter time.Duration
	// Limited is set when the provider reported an exhausted quota on a
	// status other than 429.
	Limited bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Code)
}

// Retryable reports whether another attempt may succeed: throttling and
// server side failures are transient, other client errors are not.
func (e *StatusError) Retryable() bool {
	return e.Limited || e.Code == 429 || e.Code >= 500
}
