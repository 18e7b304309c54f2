package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/popscore/internal/domain/model"
)

const defaultStackExchangeBaseURL = "https://api.stackexchange.com"

// StackOverflow counts questions matching each term through the Stack
// Exchange search API.
type StackOverflow struct {
	t       *Transport
	baseURL string
	key     string
	now     func() time.Time
}

// NewStackOverflow creates the Stack Overflow client. The transport
// honours the backoff and quota_remaining fields of every response.
func NewStackOverflow(baseURL, key string, opts ...Option) *StackOverflow {
	if baseURL == "" {
		baseURL = defaultStackExchangeBaseURL
	}
	opts = append(opts, WithObserver(stackExchangeQuota))
	return &StackOverflow{
		t:       NewTransport(string(model.StackOverflow), opts...),
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		now:     time.Now,
	}
}

type stackExchangeResponse struct {
	Total          *float64 `json:"total"`
	Backoff        int      `json:"backoff"`
	QuotaRemaining *int     `json:"quota_remaining"`
	ErrorID        int      `json:"error_id"`
	ErrorName      string   `json:"error_name"`
}

// stackExchangeQuota reads the throttling fields of the response body.
// The daily quota resets at midnight UTC.
func stackExchangeQuota(resp *Response, now time.Time) time.Time {
	var body stackExchangeResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return time.Time{}
	}
	var until time.Time
	if body.Backoff > 0 {
		until = now.Add(time.Duration(body.Backoff) * time.Second)
	}
	if body.QuotaRemaining != nil && *body.QuotaRemaining <= 0 {
		utc := now.UTC()
		until = time.Date(utc.Year(), utc.Month(), utc.Day()+1, 0, 0, 0, 0, time.UTC)
	}
	return until
}

// ID implements Client.
func (s *StackOverflow) ID() model.ProviderID { return model.StackOverflow }

// Fetch implements Client.
func (s *StackOverflow) Fetch(ctx context.Context, terms []string) (model.Payload, error) {
	return fetchTerms(ctx, model.StackOverflow, terms, s.now, s.count)
}

func (s *StackOverflow) count(ctx context.Context, term string) (float64, string, error) {
	q := url.Values{}
	q.Set("q", term)
	q.Set("site", "stackoverflow")
	q.Set("filter", "total")
	if s.key != "" {
		q.Set("key", s.key)
	}
	endpoint := s.baseURL + "/2.3/search/advanced?" + q.Encode()

	resp, err := s.t.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	})
	if err != nil {
		return 0, "", err
	}

	var body stackExchangeResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if body.ErrorID != 0 {
		return 0, "", fmt.Errorf("%w: error %d %s", ErrMalformed, body.ErrorID, body.ErrorName)
	}
	if body.Total == nil {
		return 0, "", fmt.Errorf("%w: missing total", ErrMalformed)
	}
	return *body.Total, excerpt(resp.Body), nil
}
