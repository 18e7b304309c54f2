package provider

import (
	"net/http"
	"time"

	"github.com/okian/popscore/pkg/logger"
)

// Option applies a configuration option to a Transport.
type Option func(*Transport)

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithMaxInFlight bounds the number of concurrent calls to the provider.
func WithMaxInFlight(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxInFlight = n
		}
	}
}

// WithMinInterval sets the minimum spacing between two calls.
// Zero disables spacing.
func WithMinInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d >= 0 {
			t.minInterval = d
		}
	}
}

// WithMaxRetries bounds the retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(t *Transport) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithBackoff sets the initial retry delay and its cap.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(t *Transport) {
		if initial > 0 {
			t.backoff = initial
		}
		if maxDelay >= initial && maxDelay > 0 {
			t.maxBackoff = maxDelay
		}
	}
}

// WithBreaker configures the circuit breaker: it opens after failures
// consecutive failed calls and probes again after openFor.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(t *Transport) {
		if failures > 0 {
			t.breakerFailures = failures
		}
		if openFor > 0 {
			t.breakerOpenFor = openFor
		}
	}
}

// WithObserver installs the provider specific quota inspector.
func WithObserver(o Observer) Option {
	return func(t *Transport) {
		t.observe = o
	}
}

// WithLogger sets a custom logger for the transport.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}
