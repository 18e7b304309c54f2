package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/okian/popscore/internal/domain/model"
)

const (
	defaultBingBaseURL = "https://www.bing.com"
	bingUserAgent      = "Mozilla/5.0 (compatible; popscore/1.0)"
)

// Bing scrapes the result count from the public results page.
type Bing struct {
	t       *Transport
	baseURL string
	now     func() time.Time
}

// NewBing creates the Bing client.
func NewBing(baseURL string, opts ...Option) *Bing {
	if baseURL == "" {
		baseURL = defaultBingBaseURL
	}
	return &Bing{
		t:       NewTransport(string(model.Bing), opts...),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// ID implements Client.
func (b *Bing) ID() model.ProviderID { return model.Bing }

// Fetch implements Client.
func (b *Bing) Fetch(ctx context.Context, terms []string) (model.Payload, error) {
	return fetchTerms(ctx, model.Bing, terms, b.now, b.count)
}

func (b *Bing) count(ctx context.Context, term string) (float64, string, error) {
	q := url.Values{}
	q.Set("q", strconv.Quote(term))
	q.Set("setlang", "en")
	endpoint := b.baseURL + "/search?" + q.Encode()

	resp, err := b.t.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", bingUserAgent)
		req.Header.Set("Accept-Language", "en-US")
		return req, nil
	})
	if err != nil {
		return 0, "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return 0, "", fmt.Errorf("%w: parse html: %w", ErrMalformed, err)
	}
	text := strings.TrimSpace(doc.Find(".sb_count").First().Text())
	if text == "" {
		// no result counter means no results
		return 0, "", nil
	}
	n, ok := parseResultCount(text)
	if !ok {
		return 0, "", fmt.Errorf("%w: result count %q", ErrMalformed, text)
	}
	return n, text, nil
}

// parseResultCount extracts the first number of a counter such as
// "About 1,230,000 results" or "1.230.000 Ergebnisse".
func parseResultCount(s string) (float64, bool) {
	var digits strings.Builder
	started := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
			started = true
		case started && (r == ',' || r == '.' || r == ' ' || r == '\u00a0'):
			// group separators inside the number
		case started:
			n, err := strconv.ParseFloat(digits.String(), 64)
			return n, err == nil
		}
	}
	if !started {
		return 0, false
	}
	n, err := strconv.ParseFloat(digits.String(), 64)
	return n, err == nil
}
