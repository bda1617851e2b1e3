package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pders01/fitlist/internal/config"
)

const maxBodyBytes = 8 << 20

// Page is one fetched workout page.
type Page struct {
	RequestedURL string
	FinalURL     string // after redirects
	Status       int
	ContentType  string
	Body         []byte
	FetchedAt    time.Time
}

type Fetcher struct {
	client            *http.Client
	userAgent         string
	defaultRetryAfter time.Duration
}

func NewFetcher(cfg *config.Config) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Scraper.HTTPTimeout,
		},
		userAgent:         cfg.Scraper.UserAgent,
		defaultRetryAfter: cfg.Scraper.DefaultRetryAfter,
	}
}

// Fetch GETs url with browser-like headers, following redirects. 404 and 410
// map to KindNotFound; 429 and 503 to KindRateLimited with the server's
// Retry-After; any other failure is KindNetwork.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: url, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: url, Err: fmt.Errorf("fetching page: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &Error{Kind: KindNotFound, URL: url, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, &Error{Kind: KindRateLimited, URL: url, Status: resp.StatusCode, RetryAfter: f.GetRetryAfter(resp)}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: KindNetwork, URL: url, Status: resp.StatusCode, Err: fmt.Errorf("HTTP error: %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: url, Status: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	return &Page{
		RequestedURL: url,
		FinalURL:     resp.Request.URL.String(),
		Status:       resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		Body:         body,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// GetRetryAfter reads Retry-After as seconds or an HTTP date, falling back
// to the configured default.
func (f *Fetcher) GetRetryAfter(resp *http.Response) time.Duration {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		if at, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
			return 0
		}
	}
	return f.defaultRetryAfter
}
