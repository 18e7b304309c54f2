// Package provider implements the clients of the external popularity
// signal sources. Every client shares the same Transport behaviour and
// degrades to a fallback payload instead of failing the caller's batch.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/pkg/logger"
)

const rawExcerptSize = 512

// Client fetches the raw popularity payload of a set of query terms.
//
// On failure Fetch returns the provider's fallback payload together with
// the error; the error wraps ErrExhausted when retries ran out.
type Client interface {
	ID() model.ProviderID
	Fetch(ctx context.Context, terms []string) (model.Payload, error)
}

// termCounter returns the magnitude observed for a single term and a raw
// excerpt of the response it came from.
type termCounter func(ctx context.Context, term string) (float64, string, error)

// fetchTerms runs count for every term and sums the magnitudes.
func fetchTerms(ctx context.Context, id model.ProviderID, terms []string, now func() time.Time, count termCounter) (model.Payload, error) {
	if len(terms) == 0 {
		return model.FallbackPayload(id, terms, now()), fmt.Errorf("%s: %w", id, ErrNoTerms)
	}
	var total float64
	raw := ""
	for _, term := range terms {
		n, excerpt, err := count(ctx, term)
		if err != nil {
			return model.FallbackPayload(id, terms, now()), fmt.Errorf("%s %q: %w", id, term, err)
		}
		total += n
		if raw == "" {
			raw = excerpt
		}
	}
	return model.Payload{
		Provider:  id,
		Terms:     append([]string(nil), terms...),
		Count:     total,
		Raw:       raw,
		FetchedAt: now(),
	}, nil
}

func excerpt(body []byte) string {
	if len(body) > rawExcerptSize {
		return string(body[:rawExcerptSize])
	}
	return string(body)
}

// Registry maps provider ids to clients.
type Registry struct {
	clients map[model.ProviderID]Client
}

// NewRegistry returns a registry holding clients.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[model.ProviderID]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.ID()] = c
	}
	return r
}

// Get returns the client of a provider.
func (r *Registry) Get(id model.ProviderID) (Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownProvider, id)
	}
	return c, nil
}

// IDs returns the registered providers in sorted order.
func (r *Registry) IDs() []model.ProviderID {
	out := make([]model.ProviderID, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Settings configures the default registry.
type Settings struct {
	HTTPTimeout time.Duration
	MinInterval time.Duration
	MaxInFlight int
	MaxRetries  int
	Backoff     time.Duration

	GoogleAPIKey  string
	GoogleCX      string
	GoogleBaseURL string

	BingBaseURL string

	GitHubToken   string
	GitHubBaseURL string

	StackExchangeKey     string
	StackExchangeBaseURL string

	Logger logger.Logger
}

func (s Settings) transportOptions() []Option {
	opts := []Option{
		WithMaxInFlight(s.MaxInFlight),
		WithMinInterval(s.MinInterval),
		WithMaxRetries(s.MaxRetries),
		WithBackoff(s.Backoff, defaultMaxBackoff),
		WithLogger(s.Logger),
	}
	if s.HTTPTimeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: s.HTTPTimeout}))
	}
	return opts
}

// NewDefaultRegistry builds the four provider clients, each with its own
// transport.
func NewDefaultRegistry(s Settings) *Registry {
	base := s.transportOptions()
	return NewRegistry(
		NewGoogle(s.GoogleBaseURL, s.GoogleAPIKey, s.GoogleCX, base...),
		NewBing(s.BingBaseURL, base...),
		NewGitHub(s.GitHubBaseURL, s.GitHubToken, base...),
		NewStackOverflow(s.StackExchangeBaseURL, s.StackExchangeKey, base...),
	)
}
