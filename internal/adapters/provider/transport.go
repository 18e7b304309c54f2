package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/okian/popscore/pkg/logger"
	"github.com/okian/popscore/pkg/metrics"
)

// Default transport configuration constants.
const (
	defaultMaxInFlight     = 4
	defaultMinInterval     = 200 * time.Millisecond
	defaultMaxRetries      = 3
	defaultBackoff         = 500 * time.Millisecond
	defaultMaxBackoff      = 30 * time.Second
	defaultHTTPTimeout     = 15 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerOpenFor  = time.Minute
	maxBodySize            = 4 << 20
)

// Response is a fully read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestFunc builds one attempt's request. It is called again on retry.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Observer inspects a response for provider reported quota state. A
// returned time after now defers every later call of the transport until
// that instant.
type Observer func(resp *Response, now time.Time) time.Time

// Transport is the shared call path of one provider: bounded in-flight
// calls, spaced requests, retries with exponential backoff, quota reset
// waits and a circuit breaker.
type Transport struct {
	provider string
	client   *http.Client

	maxInFlight     int
	minInterval     time.Duration
	maxRetries      int
	backoff         time.Duration
	maxBackoff      time.Duration
	breakerFailures uint32
	breakerOpenFor  time.Duration
	observe         Observer

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Response]

	mu      sync.Mutex
	resetAt time.Time

	now func() time.Time
	log logger.Logger
}

// NewTransport creates the transport of a provider.
func NewTransport(provider string, opts ...Option) *Transport {
	t := &Transport{
		provider:        provider,
		client:          &http.Client{Timeout: defaultHTTPTimeout},
		maxInFlight:     defaultMaxInFlight,
		minInterval:     defaultMinInterval,
		maxRetries:      defaultMaxRetries,
		backoff:         defaultBackoff,
		maxBackoff:      defaultMaxBackoff,
		breakerFailures: defaultBreakerFailures,
		breakerOpenFor:  defaultBreakerOpenFor,
		now:             time.Now,
		log:             logger.Get().Named("provider").With(logger.String("provider", provider)),
	}

	// Apply all options
	for _, opt := range opts {
		opt(t)
	}
	if t.maxBackoff < t.backoff {
		t.maxBackoff = t.backoff
	}

	t.sem = semaphore.NewWeighted(int64(t.maxInFlight))
	limit := rate.Inf
	if t.minInterval > 0 {
		limit = rate.Every(t.minInterval)
	}
	t.limiter = rate.NewLimiter(limit, 1)

	metrics.UpdateProviderBreakerState(provider, 0)
	t.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Timeout:     t.breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= t.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Warn(context.Background(), "circuit breaker state change",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			metrics.UpdateProviderBreakerState(name, breakerCode(to))
		},
		IsSuccessful: breakerSuccess,
	})
	return t
}

// breakerSuccess decides what counts against the breaker. Throttling and
// client errors say nothing about provider health.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < 500
	}
	return false
}

func breakerCode(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// Do performs a call, retrying transient failures. Once retries are
// exhausted the error wraps ErrExhausted and the last failure.
func (t *Transport) Do(ctx context.Context, build RequestFunc) (*Response, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%s: acquire call slot: %w", t.provider, err)
	}
	defer t.sem.Release(1)

	backoff := t.backoff
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if err := t.waitTurn(ctx); err != nil {
			return nil, err
		}

		start := t.now()
		resp, err := t.breaker.Execute(func() (*Response, error) {
			return t.roundTrip(ctx, build)
		})
		latency := float64(t.now().Sub(start).Microseconds()) / 1000
		if err == nil {
			metrics.RecordProviderRequest(t.provider, "success", latency)
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordProviderRequest(t.provider, "rejected", latency)
			return nil, fmt.Errorf("%s: %w", t.provider, ErrCircuitOpen)
		}
		if ctx.Err() != nil {
			metrics.RecordProviderRequest(t.provider, "canceled", latency)
			return nil, fmt.Errorf("%s: %w", t.provider, ctx.Err())
		}

		delay := backoff
		var se *StatusError
		if errors.As(err, &se) {
			if !se.Retryable() {
				metrics.RecordProviderRequest(t.provider, "error", latency)
				return nil, err
			}
			if se.RetryAfter > delay {
				delay = se.RetryAfter
			}
		}
		metrics.RecordProviderRequest(t.provider, "retry", latency)
		lastErr = err

		if attempt == t.maxRetries {
			break
		}
		t.log.Warn(ctx, "provider call failed, retrying",
			logger.Int("attempt", attempt+1),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%s: %w", t.provider, err)
		}
		backoff = min(backoff*2, t.maxBackoff)
	}
	return nil, fmt.Errorf("%s after %d attempts: %w: %w", t.provider, t.maxRetries+1, ErrExhausted, lastErr)
}

// DeferUntil blocks every later call until at. Earlier instants than the
// current deferral are ignored.
func (t *Transport) DeferUntil(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.resetAt) {
		t.resetAt = at
	}
}

// waitTurn blocks until the provider quota has reset and the spacing
// limiter admits the call.
func (t *Transport) waitTurn(ctx context.Context) error {
	start := t.now()
	t.mu.Lock()
	until := t.resetAt
	t.mu.Unlock()

	if d := until.Sub(start); d > 0 {
		t.log.Info(ctx, "waiting for provider quota reset", logger.Duration("wait", d))
		if err := sleep(ctx, d); err != nil {
			return fmt.Errorf("%s: wait for quota reset: %w", t.provider, err)
		}
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", t.provider, err)
	}
	if waited := t.now().Sub(start); waited > time.Millisecond {
		metrics.RecordProviderRateWait(t.provider, float64(waited.Microseconds())/1000)
	}
	return nil
}

func (t *Transport) roundTrip(ctx context.Context, build RequestFunc) (*Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", t.provider, err)
	}
	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: execute request: %w", t.provider, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", t.provider, err)
	}
	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}

	now := t.now()
	var reset time.Time
	if t.observe != nil {
		reset = t.observe(resp, now)
		t.DeferUntil(reset)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RecordProviderRateLimited(t.provider)
		return nil, &StatusError{Provider: t.provider, Code: resp.StatusCode, RetryAfter: retryAfter(resp.Header, now)}
	case resp.StatusCode == http.StatusForbidden && reset.After(now):
		metrics.RecordProviderRateLimited(t.provider)
		return nil, &StatusError{Provider: t.provider, Code: resp.StatusCode, Limited: true}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &StatusError{Provider: t.provider, Code: resp.StatusCode, RetryAfter: retryAfter(resp.Header, now)}
	}
	return resp, nil
}

// retryAfter parses a Retry-After header given in seconds or as an
// HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
