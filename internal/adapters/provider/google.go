package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/popscore/internal/domain/model"
)

const defaultGoogleBaseURL = "https://www.googleapis.com"

// Google counts results through the Custom Search JSON API.
type Google struct {
	t       *Transport
	baseURL string
	apiKey  string
	cx      string
	now     func() time.Time
}

// NewGoogle creates the Google client.
func NewGoogle(baseURL, apiKey, cx string, opts ...Option) *Google {
	if baseURL == "" {
		baseURL = defaultGoogleBaseURL
	}
	return &Google{
		t:       NewTransport(string(model.Google), opts...),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		cx:      cx,
		now:     time.Now,
	}
}

// ID implements Client.
func (g *Google) ID() model.ProviderID { return model.Google }

type googleResponse struct {
	SearchInformation struct {
		TotalResults string `json:"totalResults"`
	} `json:"searchInformation"`
}

// Fetch implements Client. The magnitude is the estimated total result
// count of each quoted term.
func (g *Google) Fetch(ctx context.Context, terms []string) (model.Payload, error) {
	return fetchTerms(ctx, model.Google, terms, g.now, g.count)
}

func (g *Google) count(ctx context.Context, term string) (float64, string, error) {
	q := url.Values{}
	q.Set("key", g.apiKey)
	q.Set("cx", g.cx)
	q.Set("q", strconv.Quote(term))
	endpoint := g.baseURL + "/customsearch/v1?" + q.Encode()

	resp, err := g.t.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	})
	if err != nil {
		return 0, "", err
	}

	var body googleResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	total := body.SearchInformation.TotalResults
	if total == "" {
		return 0, excerpt(resp.Body), nil
	}
	n, err := strconv.ParseFloat(total, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: totalResults %q", ErrMalformed, total)
	}
	return n, excerpt(resp.Body), nil
}
