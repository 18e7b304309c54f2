package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"

	"github.com/okian/popscore/internal/domain/model"
)

const (
	defaultGitHubBaseURL = "https://api.github.com"
	githubPerPage        = 10
)

// GitHub sums the stars of the top repositories matching each term.
// Repositories matched by more than one term count once.
type GitHub struct {
	t       *Transport
	baseURL string
	token   string
	now     func() time.Time
}

// NewGitHub creates the GitHub client. The transport honours the
// X-RateLimit-Remaining and X-RateLimit-Reset headers.
func NewGitHub(baseURL, token string, opts ...Option) *GitHub {
	if baseURL == "" {
		baseURL = defaultGitHubBaseURL
	}
	opts = append(opts, WithObserver(githubQuota))
	return &GitHub{
		t:       NewTransport(string(model.GitHub), opts...),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		now:     time.Now,
	}
}

// githubQuota defers calls until X-RateLimit-Reset once the remaining
// quota reaches zero.
func githubQuota(resp *Response, _ time.Time) time.Time {
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return time.Time{}
	}
	reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(reset, 0)
}

// ID implements Client.
func (g *GitHub) ID() model.ProviderID { return model.GitHub }

type githubSearch struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		FullName        string  `json:"full_name"`
		StargazersCount float64 `json:"stargazers_count"`
	} `json:"items"`
}

// Fetch implements Client.
func (g *GitHub) Fetch(ctx context.Context, terms []string) (model.Payload, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	return fetchTerms(ctx, model.GitHub, terms, g.now, func(ctx context.Context, term string) (float64, string, error) {
		return g.count(ctx, term, seen)
	})
}

func (g *GitHub) count(ctx context.Context, term string, seen mapset.Set[string]) (float64, string, error) {
	q := url.Values{}
	q.Set("q", term)
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(githubPerPage))
	endpoint := g.baseURL + "/search/repositories?" + q.Encode()

	resp, err := g.t.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if g.token != "" {
			req.Header.Set("Authorization", "Bearer "+g.token)
		}
		return req, nil
	})
	if err != nil {
		return 0, "", err
	}

	var body githubSearch
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var stars float64
	for _, item := range body.Items {
		if seen.Add(item.FullName) {
			stars += item.StargazersCount
		}
	}
	return stars, excerpt(resp.Body), nil
}
